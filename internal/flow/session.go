package flow

import (
	"errors"

	"lottery_engine/internal/browser"
	"lottery_engine/internal/interrupt"
	"lottery_engine/internal/model"
)

// Runner executes one batch: login, then the lottery passes.
type Runner struct {
	opts    Options
	auth    *Authenticator
	popup   *PopupHandler
	lottery *Orchestrator
}

func NewRunner(opts Options) *Runner {
	popup := NewPopupHandler(opts)
	return &Runner{
		opts:    opts,
		auth:    NewAuthenticator(opts),
		popup:   popup,
		lottery: NewOrchestrator(opts, popup),
	}
}

// RunBatch always returns an outcome. A failed login ends the batch with no
// item results.
func (r *Runner) RunBatch(tok interrupt.Token, s browser.Session, cred model.Credential, numbers []int) model.SessionOutcome {
	r.opts.Bus.Log("info", "batch started", map[string]any{"email": cred.Email, "numbers": numbers})

	if _, err := r.auth.Authenticate(tok, s, cred); err != nil {
		if interrupt.Is(err) {
			return stoppedOutcome()
		}
		reason := err.Error()
		var ae *AuthError
		if errors.As(err, &ae) {
			reason = ae.Reason
		}
		r.opts.Bus.Log("error", "login failed", map[string]any{"email": cred.Email, "error": err.Error()})
		return model.SessionOutcome{
			Results:     []model.LotteryResult{},
			FinalStatus: model.FinalFailure,
			Message:     messageLoginError + truncate(reason, 100),
		}
	}

	if err := r.afterLogin(tok, s); err != nil {
		return stoppedOutcome()
	}
	return r.lottery.Process(tok, s, numbers)
}

// afterLogin moves to the apply page and clears overlays shown after login.
// Only interruption is returned.
func (r *Runner) afterLogin(tok interrupt.Token, s browser.Session) error {
	if !onPage(currentURL(tok, s), r.opts.Site.ApplyPathMarker) {
		if err := s.Navigate(tok.Context(), r.opts.Site.ApplyURL); err != nil {
			if e := tok.Err(); e != nil {
				return e
			}
			r.opts.Bus.Log("warn", "navigate to apply page failed", map[string]any{"error": err.Error()})
		}
	}
	if err := wait(tok, r.opts.Lottery.Settle); err != nil {
		return err
	}

	checks := r.opts.Popup.PostLoginChecks
	if checks <= 0 {
		checks = 5
	}
	for i := 0; i < checks; i++ {
		rec, err := r.popup.CheckAndRecover(tok, s)
		if err != nil {
			return err
		}
		if !rec.Reloaded {
			break
		}
		if err := wait(tok, r.opts.Popup.Stabilize); err != nil {
			return err
		}
	}
	return r.opts.ensureApplyPage(tok, s)
}

func stoppedOutcome() model.SessionOutcome {
	return model.SessionOutcome{
		Results:     []model.LotteryResult{},
		FinalStatus: model.FinalInterrupted,
		Message:     messageUserStopped,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
