package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lottery_engine/internal/config"
	"lottery_engine/internal/engine"
	"lottery_engine/internal/logbus"
	"lottery_engine/internal/model"
	"lottery_engine/internal/notify"
	"lottery_engine/internal/store/sqlite"
	"lottery_engine/internal/ws"
)

// masked stands in for secrets in responses. Posting it back keeps the stored value.
const masked = "******"

type Store interface {
	ListAccounts(ctx context.Context) ([]model.Account, error)
	GetAccount(ctx context.Context, id string) (model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (model.Account, error)
	UpsertAccount(ctx context.Context, acc model.Account) (model.Account, error)
	SetAccountEnabled(ctx context.Context, id string, enabled bool) error
	DeleteAccount(ctx context.Context, id string) error
	ListRuns(ctx context.Context, f sqlite.RunFilter) ([]model.RunRecord, error)
	GetRun(ctx context.Context, id string) (model.RunRecord, error)
	GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error)
	UpsertEmailSettings(ctx context.Context, v model.EmailSettings) (model.EmailSettings, error)
}

type Engine interface {
	StartAll(ctx context.Context) error
	StopAll(ctx context.Context) error
	State() model.EngineState
	NotifySettings(ctx context.Context) (model.NotifySettings, error)
	SetNotifySettings(ctx context.Context, next model.NotifySettings) (model.NotifySettings, error)
}

type Options struct {
	Cfg    config.Config
	Bus    *logbus.Bus
	Store  Store
	Engine Engine
	// SendEmail defaults to notify.SendRunSummaryEmail.
	SendEmail notify.SendFunc
}

type Server struct {
	cfg       config.Config
	bus       *logbus.Bus
	store     Store
	engine    Engine
	sendEmail notify.SendFunc
	ws        *ws.Handler
}

func New(opts Options) *Server {
	send := opts.SendEmail
	if send == nil {
		send = notify.SendRunSummaryEmail
	}
	return &Server{
		cfg:       opts.Cfg,
		bus:       opts.Bus,
		store:     opts.Store,
		engine:    opts.Engine,
		sendEmail: send,
		ws:        ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/accounts", s.handleAccounts)
	api.HandleFunc("/api/v1/accounts/{id}", s.handleAccount)
	api.HandleFunc("/api/v1/runs", s.handleRuns)
	api.HandleFunc("/api/v1/runs/{id}", s.handleRun)
	api.HandleFunc("/api/v1/engine/start", s.handleEngineStart)
	api.HandleFunc("/api/v1/engine/stop", s.handleEngineStop)
	api.HandleFunc("/api/v1/engine/state", s.handleEngineState)
	api.HandleFunc("/api/v1/settings/email", s.handleEmailSettings)
	api.HandleFunc("/api/v1/settings/email/test", s.handleEmailTest)
	api.HandleFunc("/api/v1/settings/notify", s.handleNotifySettings)
	api.Handle("/api/v1/ws", s.ws)

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type accountPayload struct {
	ID       string  `json:"id,omitempty"`
	Email    string  `json:"email"`
	Password *string `json:"password,omitempty"`
	Numbers  []int   `json:"numbers,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
	Note     *string `json:"note,omitempty"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		accounts, err := s.store.ListAccounts(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for i := range accounts {
			accounts[i] = maskAccount(accounts[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": accounts})
	case http.MethodPost:
		var body accountPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		email := strings.TrimSpace(body.Email)
		if email == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "email is required"})
			return
		}

		current := model.Account{Enabled: true}
		if id := strings.TrimSpace(body.ID); id != "" {
			found, err := s.store.GetAccount(r.Context(), id)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			if !strings.EqualFold(found.Email, email) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "email cannot be changed"})
				return
			}
			current = found
		} else if found, err := s.store.GetAccountByEmail(r.Context(), email); err == nil {
			current = found
		}

		next := current
		next.Email = email
		if body.Password != nil && *body.Password != masked {
			next.Password = *body.Password
		}
		if body.Numbers != nil {
			next.Numbers = model.NormalizeNumbers(body.Numbers)
		}
		if body.Enabled != nil {
			next.Enabled = *body.Enabled
		}
		if body.Note != nil {
			next.Note = strings.TrimSpace(*body.Note)
		}
		if next.ID == "" && next.Password == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "password is required"})
			return
		}

		acc, err := s.store.UpsertAccount(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": maskAccount(acc)})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		acc, err := s.store.GetAccount(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": maskAccount(acc)})
	case http.MethodPatch:
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if body.Enabled == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "enabled is required"})
			return
		}
		if err := s.store.SetAccountEnabled(r.Context(), id, *body.Enabled); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		acc, err := s.store.GetAccount(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": maskAccount(acc)})
	case http.MethodDelete:
		if err := s.store.DeleteAccount(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit, err := parseInt(q.Get("limit"), 50)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
		return
	}
	runs, err := s.store.ListRuns(r.Context(), sqlite.RunFilter{
		AccountID: strings.TrimSpace(q.Get("accountId")),
		Email:     strings.TrimSpace(q.Get("email")),
		Limit:     limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": run})
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.engine.StartAll(ctx); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// A batch stops at its next wait, which can take a while in a slow page load.
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	if err := s.engine.StopAll(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEngineState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.State()})
}

type emailSettingsPayload struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Email    *string `json:"email,omitempty"`
	AuthCode *string `json:"authCode,omitempty"`
	To       *string `json:"to,omitempty"`
}

func (s *Server) handleEmailSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, _, err := s.store.GetEmailSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": maskEmailSettings(val)})
	case http.MethodPost, http.MethodPut:
		var body emailSettingsPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		current, _, err := s.store.GetEmailSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		next := current
		if body.Enabled != nil {
			next.Enabled = *body.Enabled
		}
		if body.Email != nil {
			next.Email = strings.TrimSpace(*body.Email)
		}
		if body.To != nil {
			next.To = strings.TrimSpace(*body.To)
		}
		if body.AuthCode != nil {
			if ac := strings.TrimSpace(*body.AuthCode); ac != masked {
				next.AuthCode = ac
			}
		}

		saved, err := s.store.UpsertEmailSettings(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": maskEmailSettings(saved)})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type emailTestPayload struct {
	Email    string `json:"email,omitempty"`
	AuthCode string `json:"authCode,omitempty"`
	To       string `json:"to,omitempty"`
}

// handleEmailTest sends a sample run summary with the stored settings, or
// with the overrides in the body.
func (s *Server) handleEmailTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body emailTestPayload
	if r.ContentLength != 0 {
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	val, _, err := s.store.GetEmailSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if v := strings.TrimSpace(body.Email); v != "" {
		val.Email = v
	}
	if v := strings.TrimSpace(body.AuthCode); v != "" && v != masked {
		val.AuthCode = v
	}
	if v := strings.TrimSpace(body.To); v != "" {
		val.To = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	sample := notify.RunFinishedEvent{
		At:          time.Now().UnixMilli(),
		RunID:       "TEST-RUN-" + strconv.FormatInt(time.Now().Unix(), 10),
		Email:       "test@example.com",
		FinalStatus: model.FinalSuccess,
		Message:     "成功",
		Results:     []model.LotteryResult{{Number: 1, Status: model.ResultSuccess}},
	}
	if err := s.sendEmail(ctx, val, []notify.RunFinishedEvent{sample}); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleNotifySettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, err := s.engine.NotifySettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": val})
	case http.MethodPut, http.MethodPost:
		var body model.NotifySettings
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		saved, err := s.engine.SetNotifySettings(r.Context(), body)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func maskAccount(acc model.Account) model.Account {
	if acc.Password != "" {
		acc.Password = masked
	}
	return acc
}

func maskEmailSettings(v model.EmailSettings) model.EmailSettings {
	if v.AuthCode != "" {
		v.AuthCode = masked
	}
	return v
}

func statusFor(err error) int {
	if errors.Is(err, sqlite.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func parseInt(v string, def int) (int, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	return strconv.Atoi(strings.TrimSpace(v))
}

var (
	_ Store  = (*sqlite.Store)(nil)
	_ Engine = (*engine.Engine)(nil)
)
