package browser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubElement struct {
	text    string
	textErr error
	content string
	visible bool
}

func (e stubElement) Text() (string, error)  { return e.text, e.textErr }
func (e stubElement) Visible() (bool, error) { return e.visible, nil }
func (e stubElement) Click() error           { return nil }
func (e stubElement) Type(string) error      { return nil }
func (e stubElement) Eval(string, ...any) (any, error) {
	return e.content, nil
}
func (e stubElement) Find(string) ([]Element, error) { return nil, nil }

func TestTrimmedText(t *testing.T) {
	assert.Equal(t, "受付中", TrimmedText(stubElement{text: "  受付中 \n"}))
	assert.Equal(t, "受付完了", TrimmedText(stubElement{text: "", content: " 受付完了 "}))
	assert.Equal(t, "受付終了", TrimmedText(stubElement{textErr: errors.New("detached"), content: "受付終了"}))
}

func TestIsXPath(t *testing.T) {
	assert.True(t, IsXPath(`//*[@id="main"]`))
	assert.True(t, IsXPath(`.//input`))
	assert.True(t, IsXPath(`(//a)[1]`))
	assert.False(t, IsXPath("#email"))
	assert.False(t, IsXPath("a.loginBtn"))
}

func TestNormalizeUserAgent(t *testing.T) {
	assert.Equal(t, DefaultUserAgent(), NormalizeUserAgent(""))
	assert.Equal(t, DefaultUserAgent(), NormalizeUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 18_7) Mobile/15E148"))
	assert.Equal(t, DefaultUserAgent(), NormalizeUserAgent("Mozilla/5.0 HeadlessChrome/120.0"))
	desktop := "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) Chrome/130.0 Safari/537.36"
	assert.Equal(t, desktop, NormalizeUserAgent(desktop))
}

func TestTokenScriptsShareTokenSlot(t *testing.T) {
	for _, js := range []string{injectTokenJS, hasTokenJS} {
		assert.Contains(t, js, "window.__lotteryCaptchaToken")
		assert.Contains(t, js, `g-recaptcha-response`)
	}
	assert.Contains(t, injectTokenJS, "(token) =>")
	assert.Contains(t, hasTokenJS, "() =>")
}
