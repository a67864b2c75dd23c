package interrupt

import (
	"context"
	"errors"
	"time"
)

// ErrInterrupted is returned by every blocking step once the run was asked to stop.
var ErrInterrupted = errors.New("interrupted by user")

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Token carries the caller's stop signal through one batch run. The predicate
// returns false when the caller wants the run to stop now.
type Token struct {
	ctx   context.Context
	keep  func() bool
	sleep SleepFunc
}

type Option func(*Token)

// WithSleep replaces the blocking sleep, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(t *Token) {
		if fn != nil {
			t.sleep = fn
		}
	}
}

func New(ctx context.Context, keep func() bool, opts ...Option) Token {
	if ctx == nil {
		ctx = context.Background()
	}
	t := Token{ctx: ctx, keep: keep, sleep: sleepCtx}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

func (t Token) Context() context.Context {
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

// Err reports ErrInterrupted when the context is done or the predicate says stop.
func (t Token) Err() error {
	if t.ctx != nil && t.ctx.Err() != nil {
		return ErrInterrupted
	}
	if t.keep != nil && !t.keep() {
		return ErrInterrupted
	}
	return nil
}

// Sleep checks the token, blocks for d, and checks again.
func (t Token) Sleep(d time.Duration) error {
	if err := t.Err(); err != nil {
		return err
	}
	if d > 0 {
		sleep := t.sleep
		if sleep == nil {
			sleep = sleepCtx
		}
		if err := sleep(t.Context(), d); err != nil {
			return ErrInterrupted
		}
	}
	return t.Err()
}

// Wait sleeps n quanta, checking the token between each one.
func (t Token) Wait(n int, quantum time.Duration) error {
	if n <= 0 {
		return t.Err()
	}
	for i := 0; i < n; i++ {
		if err := t.Sleep(quantum); err != nil {
			return err
		}
	}
	return nil
}

// Is reports whether err is (or wraps) ErrInterrupted.
func Is(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
