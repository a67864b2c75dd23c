package browser

import (
	"context"
	"errors"
	"strings"
)

var ErrNoElement = errors.New("element not found")

// Element is one node on the live page.
type Element interface {
	Text() (string, error)
	Visible() (bool, error)
	Click() error
	Type(text string) error
	// Eval runs fn with `this` bound to the element, e.g. `() => this.checked`.
	Eval(fn string, args ...any) (any, error)
	// Find resolves selector relative to the element.
	Find(selector string) ([]Element, error)
}

// Session is one browser tab driven strictly sequentially.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	FindAll(ctx context.Context, selector string) ([]Element, error)
	CurrentURL(ctx context.Context) (string, error)
	PageContent(ctx context.Context) (string, error)
	RunScript(ctx context.Context, fn string, args ...any) (any, error)
	// InjectToken places a captcha token where the page's submit handlers read it.
	// Repeated calls are safe.
	InjectToken(ctx context.Context, token string) error
	HasToken(ctx context.Context) (bool, error)
	Close() error
}

// First returns the first element matching selector.
func First(ctx context.Context, s Session, selector string) (Element, error) {
	els, err := s.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, ErrNoElement
	}
	return els[0], nil
}

// FirstVisible returns the first displayed element matching selector.
func FirstVisible(ctx context.Context, s Session, selector string) (Element, error) {
	els, err := s.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		if ok, err := el.Visible(); err == nil && ok {
			return el, nil
		}
	}
	return nil, ErrNoElement
}

// TrimmedText reads an element's text, falling back to textContent when the
// rendered text is empty (collapsed panels).
func TrimmedText(el Element) string {
	txt, err := el.Text()
	if err == nil {
		if v := strings.TrimSpace(txt); v != "" {
			return v
		}
	}
	raw, err := el.Eval(`() => this.textContent || this.innerText || ""`)
	if err != nil {
		return ""
	}
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}

// IsXPath reports whether selector should be resolved as XPath.
func IsXPath(selector string) bool {
	s := strings.TrimSpace(selector)
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(") || strings.HasPrefix(s, "./")
}
