// Package flow drives one account through login and the lottery page.
//
// Every step runs on a single browser session, strictly in order, and every
// wait goes through the interrupt token so a stop request unwinds the whole
// flow at the next suspension point.
package flow

import (
	"errors"
	"fmt"
	"strings"

	"lottery_engine/internal/browser"
	"lottery_engine/internal/captcha"
	"lottery_engine/internal/config"
	"lottery_engine/internal/interrupt"
	"lottery_engine/internal/logbus"
)

type CaptchaSolver interface {
	Solve(tok interrupt.Token, task captcha.Task) (string, error)
}

type OtpSource interface {
	Fetch(tok interrupt.Token, recipient string) (string, error)
}

type Options struct {
	Site     config.SiteConfig
	Auth     config.AuthConfig
	Lottery  config.LotteryConfig
	Popup    config.PopupConfig
	MinScore float64

	Solver CaptchaSolver
	Otp    OtpSource
	Bus    *logbus.Bus
}

func OptionsFrom(cfg config.Config, solver CaptchaSolver, otp OtpSource, bus *logbus.Bus) Options {
	return Options{
		Site:     cfg.Site,
		Auth:     cfg.Auth,
		Lottery:  cfg.Lottery,
		Popup:    cfg.Popup,
		MinScore: cfg.Captcha.MinScore,
		Solver:   solver,
		Otp:      otp,
		Bus:      bus,
	}
}

func wait(tok interrupt.Token, p config.Pace) error {
	return tok.Wait(p.Count, p.Quantum())
}

func currentURL(tok interrupt.Token, s browser.Session) string {
	u, err := s.CurrentURL(tok.Context())
	if err != nil {
		return ""
	}
	return u
}

func onPage(url, marker string) bool {
	return marker != "" && strings.Contains(url, marker)
}

func clickFirst(tok interrupt.Token, s browser.Session, selector string) error {
	if err := tok.Err(); err != nil {
		return err
	}
	el, err := browser.First(tok.Context(), s, selector)
	if err != nil {
		return fmt.Errorf("%s: %w", selector, err)
	}
	if err := el.Click(); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// detectChallenge looks for a reCAPTCHA on the current page.
func (o Options) detectChallenge(tok interrupt.Token, s browser.Session) (captcha.Task, bool, error) {
	if err := tok.Err(); err != nil {
		return captcha.Task{}, false, err
	}
	html, err := s.PageContent(tok.Context())
	if err != nil {
		return captcha.Task{}, false, fmt.Errorf("read page: %w", err)
	}
	key := captcha.FindSiteKey(html, o.Site.SiteKey)
	if key == "" {
		return captcha.Task{}, false, nil
	}
	return captcha.Task{
		SiteKey:    key,
		WebsiteURL: o.Site.CaptchaURL,
		MinScore:   o.MinScore,
		PageAction: captcha.FindPageAction(html),
	}, true, nil
}

// solveChallenge obtains a fresh token for task and injects it into the page.
func (o Options) solveChallenge(tok interrupt.Token, s browser.Session, task captcha.Task) (string, error) {
	if o.Solver == nil {
		return "", errors.New("no captcha solver configured")
	}
	token, err := o.Solver.Solve(tok, task)
	if err != nil {
		return "", err
	}
	if err := tok.Err(); err != nil {
		return "", err
	}
	if err := s.InjectToken(tok.Context(), token); err != nil {
		return token, fmt.Errorf("inject token: %w", err)
	}
	return token, nil
}

// checkPageChallenge solves a challenge on the current page when one is
// present. Failures other than interruption are logged and swallowed; the
// page decides whether the following action still goes through.
func (o Options) checkPageChallenge(tok interrupt.Token, s browser.Session, where string) (bool, error) {
	task, found, err := o.detectChallenge(tok, s)
	if err != nil {
		if interrupt.Is(err) {
			return false, err
		}
		o.Bus.Log("warn", "captcha detection failed", map[string]any{"where": where, "error": err.Error()})
		return false, nil
	}
	if !found {
		return false, nil
	}
	o.Bus.Log("info", "captcha challenge on page", map[string]any{"where": where, "action": task.PageAction})
	if _, err := o.solveChallenge(tok, s, task); err != nil {
		if interrupt.Is(err) {
			return false, err
		}
		o.Bus.Log("warn", "captcha not solved", map[string]any{"where": where, "error": err.Error()})
		return false, nil
	}
	return true, nil
}

// ensureApplyPage navigates back to the apply page when the session left it.
func (o Options) ensureApplyPage(tok interrupt.Token, s browser.Session) error {
	if err := tok.Err(); err != nil {
		return err
	}
	if onPage(currentURL(tok, s), o.Site.ApplyPathMarker) {
		return nil
	}
	if err := s.Navigate(tok.Context(), o.Site.ApplyURL); err != nil {
		if e := tok.Err(); e != nil {
			return e
		}
		o.Bus.Log("warn", "navigate to apply page failed", map[string]any{"error": err.Error()})
	}
	return wait(tok, o.Lottery.Settle)
}
