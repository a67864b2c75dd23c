package flow

import (
	"context"
	"errors"
	"time"

	"lottery_engine/internal/browser"
	"lottery_engine/internal/captcha"
	"lottery_engine/internal/config"
	"lottery_engine/internal/interrupt"
)

const (
	loginURL = "https://www.pokemoncenter-online.com/lottery/login.html"
	otpURL   = "https://www.pokemoncenter-online.com/lottery/login-mfa.html"
	applyURL = "https://www.pokemoncenter-online.com/lottery/apply.html"
	mypage   = "https://www.pokemoncenter-online.com/lottery/mypage.html"
)

type fakeElement struct {
	text      string
	hidden    bool
	checkable bool
	checked   bool
	// stuck inputs ignore property writes from scripts.
	stuck    bool
	clickErr error
	children map[string][]*fakeElement
	onClick  func()

	clicks int
	typed  []string
}

func (e *fakeElement) Text() (string, error)  { return e.text, nil }
func (e *fakeElement) Visible() (bool, error) { return !e.hidden, nil }

func (e *fakeElement) Click() error {
	e.clicks++
	if e.clickErr != nil {
		return e.clickErr
	}
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeElement) Type(text string) error {
	e.typed = append(e.typed, text)
	return nil
}

func (e *fakeElement) Eval(fn string, args ...any) (any, error) {
	switch fn {
	case jsIsChecked:
		return e.checked, nil
	case jsCheckAndDispatch, jsCheckAndClick:
		if e.checkable && !e.stuck {
			e.checked = true
		}
		return e.checked, nil
	}
	return e.text, nil
}

func (e *fakeElement) Find(selector string) ([]browser.Element, error) {
	return elements(e.children[selector]), nil
}

func elements(in []*fakeElement) []browser.Element {
	out := make([]browser.Element, 0, len(in))
	for _, e := range in {
		out = append(out, e)
	}
	return out
}

// fakePage is a browser session whose DOM is a map from selector to elements.
type fakePage struct {
	url  string
	html string
	els  map[string][]*fakeElement

	reloadErr error
	// broken makes reload, navigation and scripts all fail.
	broken    bool
	loseToken bool
	hasToken  bool

	onNavigate func(url string)
	onReload   func()
	onFind     func(selector string)

	navigated []string
	reloads   int
	scripts   []string
	injected  []string
}

func newFakePage(url string) *fakePage {
	return &fakePage{url: url, els: make(map[string][]*fakeElement)}
}

func (p *fakePage) set(selector string, els ...*fakeElement) { p.els[selector] = els }
func (p *fakePage) drop(selector string)                     { delete(p.els, selector) }

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if p.broken {
		return errBroken
	}
	p.navigated = append(p.navigated, url)
	p.url = url
	if p.onNavigate != nil {
		p.onNavigate(url)
	}
	return nil
}

func (p *fakePage) Reload(ctx context.Context) error {
	if p.broken {
		return errBroken
	}
	if p.reloadErr != nil {
		return p.reloadErr
	}
	p.reloads++
	if p.onReload != nil {
		p.onReload()
	}
	return nil
}

func (p *fakePage) FindAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if p.onFind != nil {
		p.onFind(selector)
	}
	return elements(p.els[selector]), nil
}

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) { return p.url, nil }
func (p *fakePage) PageContent(ctx context.Context) (string, error) { return p.html, nil }

func (p *fakePage) RunScript(ctx context.Context, fn string, args ...any) (any, error) {
	if p.broken {
		return nil, errBroken
	}
	p.scripts = append(p.scripts, fn)
	if p.onReload != nil {
		p.onReload()
	}
	return true, nil
}

func (p *fakePage) InjectToken(ctx context.Context, token string) error {
	p.injected = append(p.injected, token)
	p.hasToken = true
	return nil
}

func (p *fakePage) HasToken(ctx context.Context) (bool, error) {
	return p.hasToken && !p.loseToken, nil
}

func (p *fakePage) Close() error { return nil }

type fakeSolver struct {
	token string
	err   error
	tasks []captcha.Task
}

func (f *fakeSolver) Solve(tok interrupt.Token, task captcha.Task) (string, error) {
	f.tasks = append(f.tasks, task)
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeOtp struct {
	code  string
	err   error
	calls int
}

func (f *fakeOtp) Fetch(tok interrupt.Token, recipient string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.code, nil
}

var (
	errNoMail = errors.New("no mail")
	errBroken = errors.New("page unreachable")
)

func testOptions() Options {
	cfg := config.Default()
	return OptionsFrom(cfg, &fakeSolver{token: "TOKEN"}, &fakeOtp{code: "123456"}, nil)
}

func instant() interrupt.Token {
	return interrupt.New(context.Background(), nil, interrupt.WithSleep(noSleep))
}

func stoppable(stop *bool) interrupt.Token {
	return interrupt.New(context.Background(), func() bool { return !*stop }, interrupt.WithSleep(noSleep))
}

func noSleep(context.Context, time.Duration) error { return nil }

// lotteryPage builds an apply page with one entry per label.
type lotteryPage struct {
	*fakePage
	site    config.SiteConfig
	status  map[int]*fakeElement
	toggles map[int]*fakeElement
	inputs  map[int]*fakeElement
	confirm *fakeElement
	current int
	// completes makes the confirm click flip the current item to the completed label.
	completes bool
}

func newLotteryPage(site config.SiteConfig, labels map[int]string) *lotteryPage {
	lp := &lotteryPage{
		fakePage:  newFakePage(applyURL),
		site:      site,
		status:    make(map[int]*fakeElement),
		toggles:   make(map[int]*fakeElement),
		inputs:    make(map[int]*fakeElement),
		completes: true,
	}
	items := site.Items
	lp.set(items.List, &fakeElement{})
	for n, text := range labels {
		st := &fakeElement{text: text}
		lp.status[n] = st
		lp.set(items.StatusOf(n), st)

		toggle := &fakeElement{onClick: func() { lp.current = n }}
		lp.toggles[n] = toggle
		lp.set(items.ToggleOf(n), toggle)

		input := &fakeElement{checkable: true}
		lp.inputs[n] = input
		lbl := &fakeElement{onClick: func() { input.checked = true }}
		span := &fakeElement{onClick: func() { input.checked = true }}
		lp.set(items.OptionOf(n), &fakeElement{children: map[string][]*fakeElement{
			items.OptionInput: {input},
			items.OptionLabel: {lbl},
			items.OptionSpan:  {span},
		}})
		lp.set(items.FormOf(n), &fakeElement{children: map[string][]*fakeElement{
			items.FormRadio: {input},
		}})
		lp.set(items.ConsentOf(n), &fakeElement{})
		lp.set(items.SubmitOf(n), &fakeElement{})
	}
	lp.confirm = &fakeElement{onClick: func() {
		if lp.completes && lp.current > 0 {
			lp.status[lp.current].text = site.Labels.Completed
		}
	}}
	lp.set(items.ConfirmDialog, &fakeElement{})
	lp.set(items.ConfirmButton, lp.confirm)
	return lp
}

// showOverlay displays overlay id with msg.
func (p *fakePage) showOverlay(o config.OverlaySelectors, id, msg string) *fakeElement {
	closeBtn := &fakeElement{}
	p.set(o.RootOf(id), &fakeElement{})
	p.set(o.MessageOf(id), &fakeElement{text: "  " + msg + "\n"})
	p.set(o.CloseOf(id), closeBtn)
	closeBtn.onClick = func() { p.hideOverlay(o, id) }
	return closeBtn
}

func (p *fakePage) hideOverlay(o config.OverlaySelectors, id string) {
	p.drop(o.RootOf(id))
	p.drop(o.MessageOf(id))
	p.drop(o.CloseOf(id))
}
