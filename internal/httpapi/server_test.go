package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lottery_engine/internal/config"
	"lottery_engine/internal/logbus"
	"lottery_engine/internal/model"
	"lottery_engine/internal/notify"
	"lottery_engine/internal/store/sqlite"
)

type fakeEngine struct {
	started  int
	stopped  int
	startErr error
	notify   model.NotifySettings
}

func (e *fakeEngine) StartAll(context.Context) error {
	e.started++
	return e.startErr
}

func (e *fakeEngine) StopAll(context.Context) error {
	e.stopped++
	return nil
}

func (e *fakeEngine) State() model.EngineState {
	return model.EngineState{Running: e.started > e.stopped, Accounts: []model.AccountState{}}
}

func (e *fakeEngine) NotifySettings(context.Context) (model.NotifySettings, error) {
	return e.notify, nil
}

func (e *fakeEngine) SetNotifySettings(_ context.Context, v model.NotifySettings) (model.NotifySettings, error) {
	e.notify = v
	return v, nil
}

type testServer struct {
	store  *sqlite.Store
	engine *fakeEngine
	sent   []model.EmailSettings
	h      http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ts := &testServer{store: store, engine: &fakeEngine{}}
	cfg := config.Default()
	cfg.Server.Cors.AllowOrigins = []string{"http://ui.test"}
	ts.h = New(Options{
		Cfg:    cfg,
		Bus:    logbus.New(10),
		Store:  store,
		Engine: ts.engine,
		SendEmail: func(_ context.Context, settings model.EmailSettings, events []notify.RunFinishedEvent) error {
			if settings.Email == "" {
				return errors.New("email is required")
			}
			ts.sent = append(ts.sent, settings)
			return nil
		},
	}).Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Data
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestAccountsLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/accounts", map[string]any{
		"email": "a@example.com", "password": "secret", "numbers": []int{2, 1, 2},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeData[model.Account](t, rec)
	assert.Equal(t, masked, created.Password)
	assert.Equal(t, []int{1, 2}, created.Numbers)
	assert.True(t, created.Enabled)

	// The masked placeholder keeps the stored password.
	rec = ts.do(t, http.MethodPost, "/api/v1/accounts", map[string]any{
		"id": created.ID, "email": "a@example.com", "password": masked, "enabled": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored, err := ts.store.GetAccount(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", stored.Password)
	assert.False(t, stored.Enabled)
	assert.Equal(t, []int{1, 2}, stored.Numbers)

	rec = ts.do(t, http.MethodGet, "/api/v1/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeData[[]model.Account](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, masked, list[0].Password)

	rec = ts.do(t, http.MethodPatch, "/api/v1/accounts/"+created.ID, map[string]any{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeData[model.Account](t, rec).Enabled)

	rec = ts.do(t, http.MethodPatch, "/api/v1/accounts/missing", map[string]any{"enabled": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/accounts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/accounts/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountsValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/accounts", map[string]any{"email": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/accounts", map[string]any{"email": "a@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "new account needs a password")

	rec = ts.do(t, http.MethodPost, "/api/v1/accounts", map[string]any{"email": "a@example.com", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	run, err := ts.store.SaveRun(ctx, model.RunRecord{
		Email:       "a@example.com",
		Numbers:     []int{1},
		FinalStatus: model.FinalSuccess,
		Message:     "成功",
		Results:     []model.LotteryResult{{Number: 1, Status: model.ResultSuccess}},
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/v1/runs?email=a@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeData[[]model.RunRecord](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[model.RunRecord](t, rec)
	assert.Len(t, got.Results, 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/runs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEngineEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/engine/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/engine/state", nil)
	assert.True(t, decodeData[model.EngineState](t, rec).Running)

	rec = ts.do(t, http.MethodPost, "/api/v1/engine/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.engine.stopped)

	ts.engine.startErr = errors.New("no enabled accounts in storage")
	rec = ts.do(t, http.MethodPost, "/api/v1/engine/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/engine/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEmailSettingsMasksAuthCode(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/settings/email", map[string]any{
		"enabled": true, "email": "me@qq.com", "authCode": "abcd",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, masked, decodeData[model.EmailSettings](t, rec).AuthCode)

	rec = ts.do(t, http.MethodPost, "/api/v1/settings/email", map[string]any{"authCode": masked, "to": "ops@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	stored, _, err := ts.store.GetEmailSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abcd", stored.AuthCode)
	assert.Equal(t, "ops@example.com", stored.To)

	rec = ts.do(t, http.MethodPost, "/api/v1/settings/email/test", map[string]any{"to": "other@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, ts.sent, 1)
	assert.Equal(t, "abcd", ts.sent[0].AuthCode)
	assert.Equal(t, "other@example.com", ts.sent[0].To)
}

func TestNotifySettingsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/v1/settings/notify", model.NotifySettings{FailuresOnly: true, SummaryWindowSeconds: 30})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/settings/notify", nil)
	got := decodeData[model.NotifySettings](t, rec)
	assert.True(t, got.FailuresOnly)
	assert.Equal(t, 30, got.SummaryWindowSeconds)
}

func TestCorsPreflight(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/accounts", nil)
	req.Header.Set("Origin", "http://ui.test")
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://ui.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
