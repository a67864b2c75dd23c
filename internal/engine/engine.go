package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lottery_engine/internal/browser"
	"lottery_engine/internal/config"
	"lottery_engine/internal/interrupt"
	"lottery_engine/internal/logbus"
	"lottery_engine/internal/model"
	"lottery_engine/internal/notify"
	"lottery_engine/internal/store/sqlite"
)

var (
	ErrNoAccounts  = errors.New("no enabled accounts in storage")
	ErrAccountBusy = errors.New("account batch already running")
)

// Store is the part of the sqlite store the engine works with.
type Store interface {
	ListEnabledAccounts(ctx context.Context) ([]model.Account, error)
	GetAccount(ctx context.Context, id string) (model.Account, error)
	SaveRun(ctx context.Context, run model.RunRecord) (model.RunRecord, error)
	GetNotifySettings(ctx context.Context) (model.NotifySettings, bool, error)
	UpsertNotifySettings(ctx context.Context, v model.NotifySettings) (model.NotifySettings, error)
}

type SessionFactory interface {
	NewSession(ctx context.Context) (browser.Session, error)
}

// BatchRunner runs one login plus lottery batch on a session. flow.Runner
// implements it.
type BatchRunner interface {
	RunBatch(tok interrupt.Token, s browser.Session, cred model.Credential, numbers []int) model.SessionOutcome
}

type Options struct {
	Store    Store
	Sessions SessionFactory
	Runner   BatchRunner
	Bus      *logbus.Bus
	Notifier notify.Notifier
	Limits   config.LimitsConfig
	// Numbers is used for accounts that store no numbers of their own.
	Numbers []int
}

// Engine works stored accounts one batch at a time.
type Engine struct {
	store    Store
	sessions SessionFactory
	runner   BatchRunner
	bus      *logbus.Bus
	notifier notify.Notifier

	limits  config.LimitsConfig
	numbers []int

	mu      sync.Mutex
	running bool
	// gen numbers StartAll calls so a stale batch cannot clear a newer one.
	gen     uint64
	cancel  context.CancelFunc
	// done closes when the current StartAll batch returns.
	done    chan struct{}
	states  map[string]*model.AccountState

	// gap paces consecutive batches so the site does not see a burst of logins.
	gap          *rate.Limiter
	accountLocks map[string]chan struct{}
}

func New(opts Options) *Engine {
	return &Engine{
		store:        opts.Store,
		sessions:     opts.Sessions,
		runner:       opts.Runner,
		bus:          opts.Bus,
		notifier:     opts.Notifier,
		limits:       opts.Limits,
		numbers:      model.NormalizeNumbers(opts.Numbers),
		states:       make(map[string]*model.AccountState),
		gap:          rate.NewLimiter(rate.Every(opts.Limits.AccountGap()), 1),
		accountLocks: make(map[string]chan struct{}),
	}
}

// StartAll runs every enabled account in the background, one after another.
// It returns once the work list is loaded.
func (e *Engine) StartAll(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.gen++
	gen := e.gen
	e.running = true
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	done := make(chan struct{})
	e.done = done
	e.mu.Unlock()

	accounts, err := e.store.ListEnabledAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = ErrNoAccounts
	}
	if err != nil {
		e.finish(gen, cancel)
		close(done)
		return err
	}

	e.bus.Log("info", "engine started", map[string]any{"accounts": len(accounts)})

	e.mu.Lock()
	for _, acc := range accounts {
		st := e.stateLocked(acc)
		st.Phase = "queued"
		e.publishStateLocked(*st)
	}
	e.mu.Unlock()

	go func() {
		defer close(done)
		for _, acc := range accounts {
			if runCtx.Err() != nil {
				e.setPhase(acc, "skipped")
				continue
			}
			if _, err := e.runAccount(runCtx, acc); err != nil && !errors.Is(err, context.Canceled) {
				e.bus.Log("warn", "account batch not run", map[string]any{"email": acc.Email, "error": err.Error()})
			}
		}
		e.finish(gen, cancel)
		e.bus.Log("info", "all accounts processed", nil)
	}()
	return nil
}

// finish releases run gen. The running flag is only cleared while no later
// StartAll has replaced it.
func (e *Engine) finish(gen uint64, cancel context.CancelFunc) {
	cancel()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return
	}
	e.running = false
	e.cancel = nil
	e.done = nil
}

// StopAll cancels the running batches and waits for them to record their
// interrupted outcome.
func (e *Engine) StopAll(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.running = false
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done == nil {
		return nil
	}

	select {
	case <-done:
		e.bus.Log("info", "engine stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) State() model.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := model.EngineState{Running: e.running, Accounts: []model.AccountState{}}
	for _, st := range e.states {
		out.Accounts = append(out.Accounts, *st)
	}
	sortStates(out.Accounts)
	return out
}

// RunAccount runs one batch for a stored account and waits for its outcome.
func (e *Engine) RunAccount(ctx context.Context, accountID string) (model.RunRecord, error) {
	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return model.RunRecord{}, err
	}
	return e.runAccount(ctx, acc)
}

// RunOnce runs one batch for a credential that need not be stored.
func (e *Engine) RunOnce(ctx context.Context, cred model.Credential, numbers []int) (model.RunRecord, error) {
	if !cred.Valid() {
		return model.RunRecord{}, errors.New("email and password are required")
	}
	return e.runAccount(ctx, model.Account{Email: cred.Email, Password: cred.Password, Numbers: numbers})
}

func (e *Engine) runAccount(ctx context.Context, acc model.Account) (model.RunRecord, error) {
	key := acc.ID
	if key == "" {
		key = acc.Email
	}
	if !e.tryAcquireAccount(key) {
		return model.RunRecord{}, ErrAccountBusy
	}
	defer e.releaseAccount(key)

	if err := e.gap.Wait(ctx); err != nil {
		return model.RunRecord{}, err
	}

	numbers := model.NormalizeNumbers(acc.Numbers)
	if len(numbers) == 0 {
		numbers = e.numbers
	}
	run := model.RunRecord{
		AccountID: acc.ID,
		Email:     acc.Email,
		Numbers:   numbers,
		StartedAt: time.Now(),
	}
	e.setPhase(acc, "running")
	e.bus.Log("info", "account batch started", map[string]any{"email": acc.Email, "numbers": numbers})

	outcome := e.execute(ctx, acc.Credential(), numbers)
	run.FinalStatus = outcome.FinalStatus
	run.Message = outcome.Message
	run.Results = outcome.Results
	run.FinishedAt = time.Now()

	// The run context may already be cancelled; the outcome is still recorded.
	saveCtx := context.WithoutCancel(ctx)
	saved, err := e.store.SaveRun(saveCtx, run)
	if err != nil {
		e.bus.Log("error", "saving run record failed", map[string]any{"email": acc.Email, "error": err.Error()})
		saved = run
	}

	e.finishAccount(acc, saved)
	e.bus.Publish("run_result", saved)
	e.bus.Log("info", "account batch finished", map[string]any{
		"email":       acc.Email,
		"finalStatus": string(saved.FinalStatus),
		"message":     saved.Message,
	})
	if e.notifier != nil {
		e.notifier.NotifyRunFinished(saveCtx, notify.EventFromRun(saved))
	}
	return saved, nil
}

// execute owns the browser session for one batch. A session that cannot be
// opened fails the batch without item results.
func (e *Engine) execute(ctx context.Context, cred model.Credential, numbers []int) model.SessionOutcome {
	tok := interrupt.New(ctx, nil)
	if err := tok.Err(); err != nil {
		return model.SessionOutcome{Results: []model.LotteryResult{}, FinalStatus: model.FinalInterrupted, Message: "ユーザーによって中断されました"}
	}
	s, err := e.sessions.NewSession(ctx)
	if err != nil {
		return model.SessionOutcome{
			Results:     []model.LotteryResult{},
			FinalStatus: model.FinalFailure,
			Message:     fmt.Sprintf("ブラウザエラー: %v", err),
		}
	}
	defer func() {
		if err := s.Close(); err != nil {
			e.bus.Log("debug", "closing browser page failed", map[string]any{"error": err.Error()})
		}
	}()
	return e.runner.RunBatch(tok, s, cred, numbers)
}

func (e *Engine) stateLocked(acc model.Account) *model.AccountState {
	key := acc.ID
	if key == "" {
		key = acc.Email
	}
	st := e.states[key]
	if st == nil {
		st = &model.AccountState{AccountID: acc.ID, Email: acc.Email}
		e.states[key] = st
	}
	return st
}

func (e *Engine) setPhase(acc model.Account, phase string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stateLocked(acc)
	st.Running = phase == "running"
	st.Phase = phase
	st.UpdatedMs = time.Now().UnixMilli()
	e.publishStateLocked(*st)
}

func (e *Engine) finishAccount(acc model.Account, run model.RunRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stateLocked(acc)
	st.Running = false
	st.Phase = "done"
	st.LastStatus = run.FinalStatus
	st.LastMessage = run.Message
	st.LastRunID = run.ID
	st.UpdatedMs = time.Now().UnixMilli()
	e.publishStateLocked(*st)
}

func (e *Engine) tryAcquireAccount(key string) bool {
	e.mu.Lock()
	lock := e.accountLocks[key]
	if lock == nil {
		lock = make(chan struct{}, 1)
		e.accountLocks[key] = lock
	}
	e.mu.Unlock()
	select {
	case lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *Engine) releaseAccount(key string) {
	e.mu.Lock()
	lock := e.accountLocks[key]
	e.mu.Unlock()
	if lock == nil {
		return
	}
	select {
	case <-lock:
	default:
	}
}

func (e *Engine) publishStateLocked(st model.AccountState) {
	e.bus.Publish("run_state", st)
}

var _ Store = (*sqlite.Store)(nil)
