package config

import "fmt"

// SiteConfig holds the target site's URLs, selectors and label texts.
// Selectors starting with "/", "(" or "./" are XPath, everything else is CSS.
// Templates take the lottery number (%d) or the overlay id (%s).
type SiteConfig struct {
	LoginURL   string `yaml:"loginURL"`
	ApplyURL   string `yaml:"applyURL"`
	CaptchaURL string `yaml:"captchaURL"`
	SiteKey    string `yaml:"siteKey"`

	LoginPathMarker string `yaml:"loginPathMarker"`
	OtpPathMarker   string `yaml:"otpPathMarker"`
	ApplyPathMarker string `yaml:"applyPathMarker"`

	Login    LoginSelectors   `yaml:"login"`
	Overlays OverlaySelectors `yaml:"overlays"`
	Items    ItemSelectors    `yaml:"items"`
	Labels   StatusLabels     `yaml:"labels"`
}

type LoginSelectors struct {
	Email        string `yaml:"email"`
	Password     string `yaml:"password"`
	Submit       string `yaml:"submit"`
	Status       string `yaml:"status"`
	FailureText  string `yaml:"failureText"`
	OtpIndicator string `yaml:"otpIndicator"`
	OtpInput     string `yaml:"otpInput"`
	OtpSubmit    string `yaml:"otpSubmit"`
}

type OverlaySelectors struct {
	// IDs are checked in order; the timeout overlay comes first.
	IDs           []string `yaml:"ids"`
	Root          string   `yaml:"root"`
	Message       string   `yaml:"message"`
	Close         string   `yaml:"close"`
	ExceptionText string   `yaml:"exceptionText"`
	TimeoutText   string   `yaml:"timeoutText"`
	// ReloadTexts are extra messages handled like the two transient overlays.
	// Any other message is dismissed.
	ReloadTexts []string `yaml:"reloadTexts"`
}

func (o OverlaySelectors) RootOf(id string) string    { return fmt.Sprintf(o.Root, id) }
func (o OverlaySelectors) MessageOf(id string) string { return fmt.Sprintf(o.Message, id) }
func (o OverlaySelectors) CloseOf(id string) string   { return fmt.Sprintf(o.Close, id) }

type ItemSelectors struct {
	List          string `yaml:"list"`
	Status        string `yaml:"status"`
	Toggle        string `yaml:"toggle"`
	Option        string `yaml:"option"`
	OptionInput   string `yaml:"optionInput"`
	OptionLabel   string `yaml:"optionLabel"`
	OptionSpan    string `yaml:"optionSpan"`
	Form          string `yaml:"form"`
	FormRadio     string `yaml:"formRadio"`
	Consent       string `yaml:"consent"`
	Submit        string `yaml:"submit"`
	ConfirmDialog string `yaml:"confirmDialog"`
	ConfirmButton string `yaml:"confirmButton"`
}

func (s ItemSelectors) StatusOf(n int) string  { return fmt.Sprintf(s.Status, n) }
func (s ItemSelectors) ToggleOf(n int) string  { return fmt.Sprintf(s.Toggle, n) }
func (s ItemSelectors) OptionOf(n int) string  { return fmt.Sprintf(s.Option, n) }
func (s ItemSelectors) FormOf(n int) string    { return fmt.Sprintf(s.Form, n) }
func (s ItemSelectors) ConsentOf(n int) string { return fmt.Sprintf(s.Consent, n) }
func (s ItemSelectors) SubmitOf(n int) string  { return fmt.Sprintf(s.Submit, n) }

type StatusLabels struct {
	Open      string `yaml:"open"`
	Closed    string `yaml:"closed"`
	Completed string `yaml:"completed"`
}

func (c *SiteConfig) applyDefaults() {
	if c.LoginURL == "" {
		c.LoginURL = "https://www.pokemoncenter-online.com/lottery/login.html"
	}
	if c.ApplyURL == "" {
		c.ApplyURL = "https://www.pokemoncenter-online.com/lottery/apply.html"
	}
	if c.CaptchaURL == "" {
		c.CaptchaURL = "http://www.pokemoncenter-online.com"
	}
	if c.SiteKey == "" {
		c.SiteKey = "6Le9HlYqAAAAAJQtQcq3V_tdd73twiM4Rm2wUvn9"
	}
	if c.LoginPathMarker == "" {
		c.LoginPathMarker = "login.html"
	}
	if c.OtpPathMarker == "" {
		c.OtpPathMarker = "login-mfa"
	}
	if c.ApplyPathMarker == "" {
		c.ApplyPathMarker = "apply.html"
	}

	l := &c.Login
	setDefault(&l.Email, "#email")
	setDefault(&l.Password, "#password")
	setDefault(&l.Submit, "a.loginBtn")
	setDefault(&l.Status, `//*[@id="main"]/div/div[2]/div/div[1]/p`)
	setDefault(&l.FailureText, "認証に失敗しました。")
	setDefault(&l.OtpIndicator, "パスコード")
	setDefault(&l.OtpInput, "#authCode")
	setDefault(&l.OtpSubmit, "#certify")

	o := &c.Overlays
	if len(o.IDs) == 0 {
		o.IDs = []string{"pop05", "pop04"}
	}
	setDefault(&o.Root, `//*[@id="%s"]`)
	setDefault(&o.Message, `//*[@id="%s"]/div/div[1]/p`)
	setDefault(&o.Close, `//*[@id="%s"]/div/div[1]/ul/li/a`)
	setDefault(&o.ExceptionText, "意図しない例外が発生しました。")
	setDefault(&o.TimeoutText, "一定時間操作していなかったため、OKボタンタップして再度開けてください。")

	const item = `//*[@id="main"]/div[1]/ul/li[%d]/div[2]`
	i := &c.Items
	setDefault(&i.List, `//*[@id="main"]/div[1]/ul`)
	setDefault(&i.Status, item+`/div/span[1]`)
	setDefault(&i.Toggle, item+`/dl/dt`)
	setDefault(&i.Option, item+`/dl/dd/div[3]/form/ul[1]/li/p[@class="radio"]`)
	setDefault(&i.OptionInput, `.//input`)
	setDefault(&i.OptionLabel, `.//label`)
	setDefault(&i.OptionSpan, `.//label//span`)
	setDefault(&i.Form, item+`/dl/dd/div[3]/form`)
	setDefault(&i.FormRadio, `.//input[@type="radio"]`)
	setDefault(&i.Consent, item+`/dl/dd/div[3]/form/div/div`)
	setDefault(&i.Submit, item+`/dl/dd/div[3]/form/ul[2]/li/a`)
	setDefault(&i.ConfirmDialog, "#pop01")
	setDefault(&i.ConfirmButton, "#applyBtn")

	setDefault(&c.Labels.Open, "受付中")
	setDefault(&c.Labels.Closed, "受付終了")
	setDefault(&c.Labels.Completed, "受付完了")
}

func setDefault(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
