package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lottery_engine/internal/browser"
	"lottery_engine/internal/config"
	"lottery_engine/internal/interrupt"
	"lottery_engine/internal/model"
	"lottery_engine/internal/notify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memStore struct {
	mu       sync.Mutex
	accounts []model.Account
	runs     []model.RunRecord
	notify   *model.NotifySettings
}

func (s *memStore) ListEnabledAccounts(context.Context) ([]model.Account, error) {
	var out []model.Account
	for _, a := range s.accounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) GetAccount(_ context.Context, id string) (model.Account, error) {
	for _, a := range s.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return model.Account{}, errors.New("not found")
}

func (s *memStore) SaveRun(_ context.Context, run model.RunRecord) (model.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = run.Email + "-run"
	s.runs = append(s.runs, run)
	return run, nil
}

func (s *memStore) GetNotifySettings(context.Context) (model.NotifySettings, bool, error) {
	if s.notify == nil {
		return model.NotifySettings{}, false, nil
	}
	return *s.notify, true, nil
}

func (s *memStore) UpsertNotifySettings(_ context.Context, v model.NotifySettings) (model.NotifySettings, error) {
	s.notify = &v
	return v, nil
}

func (s *memStore) savedRuns() []model.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RunRecord(nil), s.runs...)
}

type nopSession struct {
	browser.Session
	closed bool
}

func (s *nopSession) Close() error {
	s.closed = true
	return nil
}

type sessions struct {
	err  error
	mu   sync.Mutex
	made []*nopSession
}

func (f *sessions) NewSession(context.Context) (browser.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &nopSession{}
	f.mu.Lock()
	f.made = append(f.made, s)
	f.mu.Unlock()
	return s, nil
}

type runnerFunc func(tok interrupt.Token, s browser.Session, cred model.Credential, numbers []int) model.SessionOutcome

func (f runnerFunc) RunBatch(tok interrupt.Token, s browser.Session, cred model.Credential, numbers []int) model.SessionOutcome {
	return f(tok, s, cred, numbers)
}

func succeed(_ interrupt.Token, _ browser.Session, _ model.Credential, numbers []int) model.SessionOutcome {
	results := make([]model.LotteryResult, 0, len(numbers))
	for _, n := range numbers {
		results = append(results, model.LotteryResult{Number: n, Status: model.ResultSuccess})
	}
	return model.SessionOutcome{Results: results, FinalStatus: model.FinalSuccess, Message: "成功"}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.RunFinishedEvent
}

func (r *recordingNotifier) NotifyRunFinished(_ context.Context, evt notify.RunFinishedEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestEngine(store *memStore, sess *sessions, runner BatchRunner, n notify.Notifier) *Engine {
	return New(Options{
		Store:    store,
		Sessions: sess,
		Runner:   runner,
		Notifier: n,
		Limits:   config.LimitsConfig{AccountGapMs: 1},
		Numbers:  []int{1},
	})
}

func TestRunOnceRecordsOutcome(t *testing.T) {
	store := &memStore{}
	sess := &sessions{}
	notifier := &recordingNotifier{}
	e := newTestEngine(store, sess, runnerFunc(succeed), notifier)

	run, err := e.RunOnce(context.Background(), model.Credential{Email: "a@example.com", Password: "pw"}, []int{3, 2})
	require.NoError(t, err)
	assert.Equal(t, model.FinalSuccess, run.FinalStatus)
	assert.Equal(t, []int{2, 3}, run.Numbers)
	assert.Len(t, run.Results, 2)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	require.Len(t, store.savedRuns(), 1)
	assert.Equal(t, 1, notifier.count())
	require.Len(t, sess.made, 1)
	assert.True(t, sess.made[0].closed)

	st := e.State()
	require.Len(t, st.Accounts, 1)
	assert.Equal(t, model.FinalSuccess, st.Accounts[0].LastStatus)
	assert.Equal(t, "a@example.com-run", st.Accounts[0].LastRunID)
}

func TestRunOnceUsesDefaultNumbers(t *testing.T) {
	var got []int
	e := newTestEngine(&memStore{}, &sessions{}, runnerFunc(func(tok interrupt.Token, s browser.Session, cred model.Credential, numbers []int) model.SessionOutcome {
		got = numbers
		return succeed(tok, s, cred, numbers)
	}), nil)

	_, err := e.RunOnce(context.Background(), model.Credential{Email: "a@example.com", Password: "pw"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)
}

func TestRunOnceSessionFailure(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(store, &sessions{err: errors.New("no chrome")}, runnerFunc(succeed), nil)

	run, err := e.RunOnce(context.Background(), model.Credential{Email: "a@example.com", Password: "pw"}, []int{1})
	require.NoError(t, err)
	assert.Equal(t, model.FinalFailure, run.FinalStatus)
	assert.Contains(t, run.Message, "no chrome")
	assert.Empty(t, run.Results)
	assert.Len(t, store.savedRuns(), 1)
}

func TestRunOnceRejectsBusyAccount(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	e := newTestEngine(&memStore{}, &sessions{}, runnerFunc(func(tok interrupt.Token, s browser.Session, cred model.Credential, numbers []int) model.SessionOutcome {
		close(started)
		<-release
		return succeed(tok, s, cred, numbers)
	}), nil)
	cred := model.Credential{Email: "a@example.com", Password: "pw"}

	done := make(chan error, 1)
	go func() {
		_, err := e.RunOnce(context.Background(), cred, []int{1})
		done <- err
	}()
	<-started

	_, err := e.RunOnce(context.Background(), cred, []int{1})
	assert.ErrorIs(t, err, ErrAccountBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestStartAllRunsEnabledAccountsInOrder(t *testing.T) {
	store := &memStore{accounts: []model.Account{
		{ID: "1", Email: "a@example.com", Password: "x", Enabled: true, Numbers: []int{1}},
		{ID: "2", Email: "b@example.com", Password: "x", Enabled: false},
		{ID: "3", Email: "c@example.com", Password: "x", Enabled: true, Numbers: []int{2}},
	}}
	e := newTestEngine(store, &sessions{}, runnerFunc(succeed), nil)

	require.NoError(t, e.StartAll(context.Background()))
	require.Eventually(t, func() bool { return !e.Running() && len(store.savedRuns()) == 2 }, 2*time.Second, 5*time.Millisecond)

	runs := store.savedRuns()
	assert.Equal(t, "a@example.com", runs[0].Email)
	assert.Equal(t, "c@example.com", runs[1].Email)
	assert.Equal(t, []int{2}, runs[1].Numbers)
	require.NoError(t, e.StopAll(context.Background()))
}

func TestStartAllWithoutAccounts(t *testing.T) {
	e := newTestEngine(&memStore{}, &sessions{}, runnerFunc(succeed), nil)
	assert.ErrorIs(t, e.StartAll(context.Background()), ErrNoAccounts)
	assert.False(t, e.Running())
}

func TestStopAllRecordsInterruptedOutcome(t *testing.T) {
	store := &memStore{accounts: []model.Account{
		{ID: "1", Email: "a@example.com", Password: "x", Enabled: true},
		{ID: "2", Email: "b@example.com", Password: "x", Enabled: true},
	}}
	started := make(chan struct{}, 2)
	e := newTestEngine(store, &sessions{}, runnerFunc(func(tok interrupt.Token, _ browser.Session, _ model.Credential, _ []int) model.SessionOutcome {
		started <- struct{}{}
		<-tok.Context().Done()
		return model.SessionOutcome{
			Results:     []model.LotteryResult{{Number: 1, Status: model.ResultInterrupted}},
			FinalStatus: model.FinalInterrupted,
			Message:     "中断: 抽選1中断",
		}
	}), nil)

	require.NoError(t, e.StartAll(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.StopAll(ctx))

	runs := store.savedRuns()
	require.Len(t, runs, 1, "the second account never starts")
	assert.Equal(t, model.FinalInterrupted, runs[0].FinalStatus)
	assert.False(t, e.Running())
}

func TestRestartAfterTimedOutStopKeepsNewBatch(t *testing.T) {
	store := &memStore{accounts: []model.Account{
		{ID: "a", Email: "a@example.com", Password: "x", Enabled: true},
	}}
	aStarted := make(chan struct{})
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	e := newTestEngine(store, &sessions{}, runnerFunc(func(tok interrupt.Token, s browser.Session, cred model.Credential, numbers []int) model.SessionOutcome {
		if cred.Email == "a@example.com" {
			close(aStarted)
			<-releaseA
			return succeed(tok, s, cred, numbers)
		}
		<-releaseB
		if tok.Err() != nil {
			return model.SessionOutcome{Results: []model.LotteryResult{}, FinalStatus: model.FinalInterrupted}
		}
		return succeed(tok, s, cred, numbers)
	}), nil)

	require.NoError(t, e.StartAll(context.Background()))
	e.mu.Lock()
	oldDone := e.done
	e.mu.Unlock()
	<-aStarted

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.StopAll(ctx), context.DeadlineExceeded)
	assert.False(t, e.Running())

	store.accounts = []model.Account{{ID: "b", Email: "b@example.com", Password: "x", Enabled: true}}
	require.NoError(t, e.StartAll(context.Background()))
	require.True(t, e.Running())

	close(releaseA)
	<-oldDone
	assert.True(t, e.Running(), "the stale batch leaves the new one running")

	close(releaseB)
	require.Eventually(t, func() bool { return !e.Running() }, 2*time.Second, 5*time.Millisecond)

	runs := store.savedRuns()
	require.Len(t, runs, 2)
	assert.Equal(t, "b@example.com", runs[1].Email)
	assert.Equal(t, model.FinalSuccess, runs[1].FinalStatus)
	require.NoError(t, e.StopAll(context.Background()))
}

func TestNotifySettingsNormalized(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(store, &sessions{}, runnerFunc(succeed), nil)

	got, err := e.NotifySettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultNotifySettings(), got)

	saved, err := e.SetNotifySettings(context.Background(), model.NotifySettings{FailuresOnly: true, SummaryWindowSeconds: 9999})
	require.NoError(t, err)
	assert.Equal(t, 600, saved.SummaryWindowSeconds)

	saved, err = e.SetNotifySettings(context.Background(), model.NotifySettings{SummaryWindowSeconds: -30})
	require.NoError(t, err)
	assert.Equal(t, -1, saved.SummaryWindowSeconds)
}
