package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"lottery_engine/internal/config"
	"lottery_engine/internal/logbus"
)

// Launcher owns one Chrome process and hands out isolated sessions.
type Launcher struct {
	cfg config.BrowserConfig
	bus *logbus.Bus

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func NewLauncher(cfg config.BrowserConfig, bus *logbus.Bus) *Launcher {
	return &Launcher{cfg: cfg, bus: bus}
}

func (l *Launcher) get() (*rod.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browser != nil {
		return l.browser, nil
	}

	ln := launcher.New().Leakless(true).Headless(l.cfg.IsHeadless())
	if l.cfg.Bin != "" {
		ln = ln.Bin(l.cfg.Bin)
	} else if path, ok := launcher.LookPath(); ok {
		ln = ln.Bin(path)
	}
	u, err := ln.Launch()
	if err != nil {
		ln.Kill()
		return nil, err
	}

	b := rod.New().ControlURL(u)
	if d := l.cfg.SlowMotion(); d > 0 {
		b = b.SlowMotion(d)
	}
	if err := b.Connect(); err != nil {
		ln.Kill()
		return nil, err
	}

	l.browser = b
	l.launcher = ln
	l.bus.Log("info", "browser launched", map[string]any{"headless": l.cfg.IsHeadless()})
	return b, nil
}

// NewSession opens a stealth tab in a fresh incognito context.
func (l *Launcher) NewSession(ctx context.Context) (Session, error) {
	b, err := l.get()
	if err != nil {
		return nil, err
	}
	incognito, err := b.Incognito()
	if err != nil {
		return nil, err
	}
	page, err := stealth.Page(incognito)
	if err != nil {
		_ = incognito.Close()
		return nil, err
	}
	if ua := NormalizeUserAgent(l.cfg.UserAgent); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua, AcceptLanguage: "ja-JP,ja;q=0.9"}); err != nil {
			_ = incognito.Close()
			return nil, err
		}
	}
	return &RodSession{page: page, incognito: incognito, timeout: l.cfg.PageTimeout()}, nil
}

func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.browser != nil {
		if err := l.browser.Close(); err != nil {
			firstErr = err
		}
		l.browser = nil
	}
	if l.launcher != nil {
		l.launcher.Kill()
		l.launcher = nil
	}
	return firstErr
}

type RodSession struct {
	page      *rod.Page
	incognito *rod.Browser
	timeout   time.Duration
}

func (s *RodSession) p(ctx context.Context) *rod.Page {
	return s.page.Context(ctx)
}

func (s *RodSession) Navigate(ctx context.Context, url string) error {
	p := s.p(ctx).Timeout(s.timeout)
	defer p.CancelTimeout()
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *RodSession) Reload(ctx context.Context) error {
	p := s.p(ctx).Timeout(s.timeout)
	defer p.CancelTimeout()
	if err := p.Reload(); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *RodSession) FindAll(ctx context.Context, selector string) ([]Element, error) {
	var (
		els rod.Elements
		err error
	)
	if IsXPath(selector) {
		els, err = s.p(ctx).ElementsX(selector)
	} else {
		els, err = s.p(ctx).Elements(selector)
	}
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (s *RodSession) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.p(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (s *RodSession) PageContent(ctx context.Context) (string, error) {
	return s.p(ctx).HTML()
}

func (s *RodSession) RunScript(ctx context.Context, fn string, args ...any) (any, error) {
	res, err := s.p(ctx).Eval(fn, args...)
	if err != nil {
		return nil, err
	}
	return res.Value.Val(), nil
}

func (s *RodSession) InjectToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("empty captcha token")
	}
	_, err := s.p(ctx).Eval(injectTokenJS, token)
	return err
}

func (s *RodSession) HasToken(ctx context.Context) (bool, error) {
	res, err := s.p(ctx).Eval(hasTokenJS)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (s *RodSession) Close() error {
	if s.incognito == nil {
		return nil
	}
	_ = s.page.Close()
	return s.incognito.Close()
}

type rodElement struct {
	el *rod.Element
}

func wrapElements(els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, rodElement{el: el})
	}
	return out
}

func (e rodElement) Text() (string, error)  { return e.el.Text() }
func (e rodElement) Visible() (bool, error) { return e.el.Visible() }

func (e rodElement) Click() error {
	_ = e.el.ScrollIntoView()
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

func (e rodElement) Type(text string) error {
	_ = e.el.ScrollIntoView()
	if err := e.el.SelectAllText(); err != nil {
		return err
	}
	return e.el.Input(text)
}

func (e rodElement) Eval(fn string, args ...any) (any, error) {
	res, err := e.el.Eval(fn, args...)
	if err != nil {
		return nil, err
	}
	return res.Value.Val(), nil
}

func (e rodElement) Find(selector string) ([]Element, error) {
	var (
		els rod.Elements
		err error
	)
	if IsXPath(selector) {
		els, err = e.el.ElementsX(selector)
	} else {
		els, err = e.el.Elements(selector)
	}
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}
