package flow

import (
	"errors"
	"fmt"
	"strings"

	"lottery_engine/internal/browser"
	"lottery_engine/internal/captcha"
	"lottery_engine/internal/interrupt"
	"lottery_engine/internal/model"
)

type loginState int

const (
	stateInit loginState = iota
	stateCredentialsEntered
	stateSubmitted
	stateAuthenticated
	stateOtpRequired
	stateLoginFailed
	stateAmbiguous
	stateOtpEntered
	stateOtpSubmitted
	stateOtpFailed
)

func (s loginState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateCredentialsEntered:
		return "credentials_entered"
	case stateSubmitted:
		return "submitted"
	case stateAuthenticated:
		return "authenticated"
	case stateOtpRequired:
		return "otp_required"
	case stateLoginFailed:
		return "login_failed"
	case stateAmbiguous:
		return "ambiguous"
	case stateOtpEntered:
		return "otp_entered"
	case stateOtpSubmitted:
		return "otp_submitted"
	case stateOtpFailed:
		return "otp_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AuthResult is the outcome of one login attempt, or of the whole
// authentication when returned by Authenticate.
type AuthResult struct {
	Success   bool   `json:"success"`
	MustRetry bool   `json:"mustRetry"`
	Reason    string `json:"reason,omitempty"`
	Attempts  int    `json:"attempts"`
}

type Authenticator struct {
	opts Options
}

func NewAuthenticator(opts Options) *Authenticator {
	return &Authenticator{opts: opts}
}

// Authenticate logs cred in on s. It returns an *AuthError once every attempt
// failed, interrupt.ErrInterrupted on stop, and a wrapped captcha.ErrConfig or
// captcha.ErrMalformed immediately.
func (a *Authenticator) Authenticate(tok interrupt.Token, s browser.Session, cred model.Credential) (AuthResult, error) {
	if !cred.Valid() {
		return AuthResult{Reason: "email and password are required"}, &AuthError{Reason: "email and password are required"}
	}
	limit := a.opts.Auth.Attempts
	if limit <= 0 {
		limit = 3
	}

	var last AuthResult
	for n := 1; n <= limit; n++ {
		att := model.AuthAttempt{Number: n}
		res, err := a.attempt(tok, s, cred, &att)
		res.Attempts = n
		if err != nil {
			if interrupt.Is(err) {
				return res, err
			}
			return res, &AuthError{Attempts: n, Reason: err.Error(), cause: err}
		}
		if res.Success {
			a.opts.Bus.Log("info", "login succeeded", map[string]any{"email": cred.Email, "attempt": n})
			return res, nil
		}
		last = res
		a.opts.Bus.Log("warn", "login attempt failed", map[string]any{
			"email":   cred.Email,
			"attempt": n,
			"max":     limit,
			"reason":  res.Reason,
		})
		if !res.MustRetry {
			break
		}
		if n < limit {
			if err := wait(tok, a.opts.Auth.RetryGap); err != nil {
				return res, err
			}
		}
	}
	last.MustRetry = false
	return last, &AuthError{Attempts: last.Attempts, Reason: last.Reason}
}

// attempt runs one pass of the login state machine. Page-level problems end
// the attempt with MustRetry; only interruption and fatal captcha errors are
// returned as errors.
func (a *Authenticator) attempt(tok interrupt.Token, s browser.Session, cred model.Credential, att *model.AuthAttempt) (AuthResult, error) {
	site := a.opts.Site
	ctx := tok.Context()
	state := stateInit
	a.opts.Bus.Log("info", "login attempt", map[string]any{"email": cred.Email, "attempt": att.Number})

	if err := tok.Err(); err != nil {
		return AuthResult{}, err
	}
	if err := s.Navigate(ctx, site.LoginURL); err != nil {
		return retryable(tok, fmt.Sprintf("open login page: %v", err))
	}
	if err := wait(tok, a.opts.Auth.PageLoad); err != nil {
		return AuthResult{}, err
	}

	// The key is read now; the token is requested after typing so it is fresh at submit.
	task, hasChallenge, err := a.opts.detectChallenge(tok, s)
	if err != nil {
		if interrupt.Is(err) {
			return AuthResult{}, err
		}
		a.opts.Bus.Log("warn", "captcha detection failed", map[string]any{"error": err.Error()})
	}

	if err := a.typeInto(tok, s, site.Login.Email, cred.Email); err != nil {
		return retryable(tok, err.Error())
	}
	if err := a.typeInto(tok, s, site.Login.Password, cred.Password); err != nil {
		return retryable(tok, err.Error())
	}
	state = stateCredentialsEntered
	a.logState(cred, att, state)

	if hasChallenge {
		token, err := a.opts.solveChallenge(tok, s, task)
		switch {
		case err == nil:
			att.CaptchaToken = token
		case interrupt.Is(err):
			return AuthResult{}, err
		case errors.Is(err, captcha.ErrConfig), errors.Is(err, captcha.ErrMalformed):
			return AuthResult{Reason: err.Error()}, err
		default:
			att.CaptchaToken = token
			a.opts.Bus.Log("warn", "captcha not solved, submitting without token", map[string]any{"error": err.Error()})
		}
	}

	if att.CaptchaToken != "" {
		if err := a.ensureToken(tok, s, att.CaptchaToken); err != nil {
			return AuthResult{}, err
		}
	}
	if err := clickFirst(tok, s, site.Login.Submit); err != nil {
		if interrupt.Is(err) {
			return AuthResult{}, err
		}
		return retryable(tok, err.Error())
	}
	state = stateSubmitted
	a.logState(cred, att, state)
	if err := wait(tok, a.opts.Auth.AfterLogin); err != nil {
		return AuthResult{}, err
	}

	state, reason := a.classify(tok, s)
	a.logState(cred, att, state)
	switch state {
	case stateAuthenticated:
		return AuthResult{Success: true}, nil
	case stateOtpRequired:
		state, reason = a.passcode(tok, s, cred, att)
		if err := tok.Err(); err != nil {
			return AuthResult{}, err
		}
		if state == stateAuthenticated {
			return AuthResult{Success: true}, nil
		}
		return AuthResult{MustRetry: true, Reason: reason}, nil
	default:
		return AuthResult{MustRetry: true, Reason: reason}, nil
	}
}

// ensureToken re-injects the captcha token when the page lost it.
func (a *Authenticator) ensureToken(tok interrupt.Token, s browser.Session, token string) error {
	if err := tok.Err(); err != nil {
		return err
	}
	ok, err := s.HasToken(tok.Context())
	if err == nil && ok {
		return nil
	}
	a.opts.Bus.Log("debug", "captcha token missing before submit, re-injecting", nil)
	if err := s.InjectToken(tok.Context(), token); err != nil {
		a.opts.Bus.Log("warn", "captcha token re-injection failed", map[string]any{"error": err.Error()})
	}
	return tok.Err()
}

// classify maps the page after the login submit to the next state.
func (a *Authenticator) classify(tok interrupt.Token, s browser.Session) (loginState, string) {
	site := a.opts.Site
	if msg, failed := a.statusMessage(tok, s); failed {
		return stateLoginFailed, msg
	}
	url := currentURL(tok, s)
	if onPage(url, site.OtpPathMarker) {
		return stateOtpRequired, ""
	}
	if html, err := s.PageContent(tok.Context()); err == nil && site.Login.OtpIndicator != "" && strings.Contains(html, site.Login.OtpIndicator) {
		return stateOtpRequired, ""
	}
	if url != "" && !onPage(url, site.LoginPathMarker) {
		return stateAuthenticated, ""
	}
	return stateAmbiguous, ErrAmbiguousLogin.Error()
}

// classifyPasscode maps the page after the passcode submit to the next state.
func (a *Authenticator) classifyPasscode(tok interrupt.Token, s browser.Session) (loginState, string) {
	site := a.opts.Site
	if msg, failed := a.statusMessage(tok, s); failed {
		return stateOtpFailed, msg
	}
	url := currentURL(tok, s)
	if onPage(url, site.OtpPathMarker) {
		return stateOtpFailed, "still on passcode page"
	}
	if url != "" && !onPage(url, site.LoginPathMarker) {
		return stateAuthenticated, ""
	}
	return stateAmbiguous, ErrAmbiguousLogin.Error()
}

// statusMessage reads the login status line. A failure is the configured
// failure text, either in the status line or anywhere on a login page.
func (a *Authenticator) statusMessage(tok interrupt.Token, s browser.Session) (string, bool) {
	site := a.opts.Site
	failure := strings.TrimSpace(site.Login.FailureText)
	if el, err := browser.First(tok.Context(), s, site.Login.Status); err == nil {
		if msg := browser.TrimmedText(el); msg != "" {
			return msg, failure != "" && msg == failure
		}
	}
	if failure == "" {
		return "", false
	}
	url := currentURL(tok, s)
	if !onPage(url, site.LoginPathMarker) && !onPage(url, site.OtpPathMarker) {
		return "", false
	}
	html, err := s.PageContent(tok.Context())
	if err == nil && strings.Contains(html, failure) {
		return failure, true
	}
	return "", false
}

// passcode runs the OTP sub-flow. Exhausting its retries fails the attempt.
func (a *Authenticator) passcode(tok interrupt.Token, s browser.Session, cred model.Credential, att *model.AuthAttempt) (loginState, string) {
	site := a.opts.Site
	limit := a.opts.Auth.OtpRetries
	if limit <= 0 {
		limit = 2
	}
	if a.opts.Otp == nil {
		return stateOtpFailed, "no passcode source configured"
	}

	state, reason := stateOtpRequired, ""
	for retry := 1; retry <= limit; retry++ {
		att.OtpRetries = retry
		if err := wait(tok, a.opts.Auth.OtpArrival); err != nil {
			return stateOtpFailed, err.Error()
		}

		code, err := a.opts.Otp.Fetch(tok, cred.Email)
		if err != nil {
			if interrupt.Is(err) {
				return stateOtpFailed, err.Error()
			}
			state, reason = stateOtpFailed, err.Error()
			a.opts.Bus.Log("warn", "passcode not received", map[string]any{"retry": retry, "error": err.Error()})
			if err := a.betweenPasscodes(tok, retry, limit); err != nil {
				return stateOtpFailed, err.Error()
			}
			continue
		}

		if err := a.typeInto(tok, s, site.Login.OtpInput, code); err != nil {
			state, reason = stateOtpFailed, err.Error()
			if tok.Err() != nil {
				return state, reason
			}
			continue
		}
		state = stateOtpEntered
		if err := clickFirst(tok, s, site.Login.OtpSubmit); err != nil {
			state, reason = stateOtpFailed, err.Error()
			if tok.Err() != nil {
				return state, reason
			}
			continue
		}
		state = stateOtpSubmitted
		a.logState(cred, att, state)
		if err := wait(tok, a.opts.Auth.AfterOtp); err != nil {
			return stateOtpFailed, err.Error()
		}

		state, reason = a.classifyPasscode(tok, s)
		a.logState(cred, att, state)
		if state == stateAuthenticated {
			return state, ""
		}
		if err := a.betweenPasscodes(tok, retry, limit); err != nil {
			return stateOtpFailed, err.Error()
		}
	}
	if reason == "" {
		reason = "passcode step failed"
	}
	return state, reason
}

func (a *Authenticator) betweenPasscodes(tok interrupt.Token, retry, limit int) error {
	if retry >= limit {
		return nil
	}
	return wait(tok, a.opts.Auth.RetryGap)
}

func (a *Authenticator) typeInto(tok interrupt.Token, s browser.Session, selector, text string) error {
	if err := tok.Err(); err != nil {
		return err
	}
	el, err := browser.First(tok.Context(), s, selector)
	if err != nil {
		return fmt.Errorf("%s: %w", selector, err)
	}
	if err := el.Type(text); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return wait(tok, a.opts.Auth.AfterInput)
}

func (a *Authenticator) logState(cred model.Credential, att *model.AuthAttempt, st loginState) {
	a.opts.Bus.Log("debug", "login state", map[string]any{
		"email":      cred.Email,
		"attempt":    att.Number,
		"otpRetries": att.OtpRetries,
		"state":      st.String(),
	})
}

func retryable(tok interrupt.Token, reason string) (AuthResult, error) {
	if err := tok.Err(); err != nil {
		return AuthResult{}, err
	}
	return AuthResult{MustRetry: true, Reason: reason}, nil
}
