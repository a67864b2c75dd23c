package config

import "time"

// Pace is a bounded wait: Count sleeps of one Quantum each.
type Pace struct {
	Count     int `yaml:"count"`
	QuantumMs int `yaml:"quantumMs"`
}

func (p Pace) Quantum() time.Duration {
	return msOr(p.QuantumMs, time.Second)
}

func (p Pace) Total() time.Duration {
	return time.Duration(p.Count) * p.Quantum()
}

func (p *Pace) orDefault(count, quantumMs int) {
	if p.Count <= 0 {
		p.Count = count
	}
	if p.QuantumMs <= 0 {
		p.QuantumMs = quantumMs
	}
}

type CaptchaConfig struct {
	BaseURL        string  `yaml:"baseURL"`
	APIKey         string  `yaml:"apiKey"`
	TimeoutMs      int     `yaml:"timeoutMs"`
	PollIntervalMs int     `yaml:"pollIntervalMs"`
	PollAttempts   int     `yaml:"pollAttempts"`
	MaxRetries     int     `yaml:"maxRetries"`
	RetryWaitMs    int     `yaml:"retryWaitMs"`
	QPS            float64 `yaml:"qps"`
	MinScore       float64 `yaml:"minScore"`
}

func (c CaptchaConfig) Timeout() time.Duration      { return msOr(c.TimeoutMs, 30*time.Second) }
func (c CaptchaConfig) PollInterval() time.Duration { return msOr(c.PollIntervalMs, 5*time.Second) }
func (c CaptchaConfig) RetryWait() time.Duration    { return msOr(c.RetryWaitMs, 3*time.Second) }

func (c *CaptchaConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.2captcha.com"
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 60
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.QPS <= 0 {
		c.QPS = 1
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.9
	}
}

type MailConfig struct {
	Addr                string   `yaml:"addr"`
	Username            string   `yaml:"username"`
	Password            string   `yaml:"password"`
	Mailbox             string   `yaml:"mailbox"`
	Query               string   `yaml:"query"`
	FallbackQueries     []string `yaml:"fallbackQueries"`
	FallbackFromAttempt int      `yaml:"fallbackFromAttempt"`
	Limit               int      `yaml:"limit"`
	PollAttempts        int      `yaml:"pollAttempts"`
	PollIntervalMs      int      `yaml:"pollIntervalMs"`
	TimeoutMs           int      `yaml:"timeoutMs"`
}

func (c MailConfig) PollInterval() time.Duration { return msOr(c.PollIntervalMs, 7*time.Second) }
func (c MailConfig) Timeout() time.Duration      { return msOr(c.TimeoutMs, 20*time.Second) }

func (c *MailConfig) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "imap.gmail.com:993"
	}
	if c.Mailbox == "" {
		c.Mailbox = "INBOX"
	}
	if c.Query == "" {
		c.Query = "ポケモンセンターオンライン ログイン用パスコード"
	}
	if len(c.FallbackQueries) == 0 {
		c.FallbackQueries = []string{"パスコード", "passcode"}
	}
	if c.FallbackFromAttempt <= 0 {
		c.FallbackFromAttempt = 2
	}
	if c.Limit <= 0 {
		c.Limit = 5
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 12
	}
}

type BrowserConfig struct {
	Headless      *bool  `yaml:"headless"`
	Bin           string `yaml:"bin"`
	UserAgent     string `yaml:"userAgent"`
	SlowMotionMs  int    `yaml:"slowMotionMs"`
	PageTimeoutMs int    `yaml:"pageTimeoutMs"`
}

func (c BrowserConfig) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

func (c BrowserConfig) SlowMotion() time.Duration {
	if c.SlowMotionMs <= 0 {
		return 0
	}
	return time.Duration(c.SlowMotionMs) * time.Millisecond
}

func (c BrowserConfig) PageTimeout() time.Duration { return msOr(c.PageTimeoutMs, 30*time.Second) }

func (c *BrowserConfig) applyDefaults() {
	if c.Headless == nil {
		c.Headless = boolPtr(true)
	}
}

type AuthConfig struct {
	Attempts   int  `yaml:"attempts"`
	OtpRetries int  `yaml:"otpRetries"`
	PageLoad   Pace `yaml:"pageLoad"`
	AfterInput Pace `yaml:"afterInput"`
	AfterLogin Pace `yaml:"afterLogin"`
	OtpArrival Pace `yaml:"otpArrival"`
	AfterOtp   Pace `yaml:"afterOtp"`
	RetryGap   Pace `yaml:"retryGap"`
}

func (c *AuthConfig) applyDefaults() {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.OtpRetries <= 0 {
		c.OtpRetries = 2
	}
	c.PageLoad.orDefault(10, 1400)
	c.AfterInput.orDefault(1, 500)
	c.AfterLogin.orDefault(8, 1000)
	c.OtpArrival.orDefault(5, 1500)
	c.AfterOtp.orDefault(10, 1600)
	c.RetryGap.orDefault(3, 1000)
}

type LotteryConfig struct {
	MaxPasses int   `yaml:"maxPasses"`
	Numbers   []int `yaml:"numbers"`
	// Settle is the wait after returning to the apply page.
	Settle  Pace `yaml:"settle"`
	Step    Pace `yaml:"step"`
	Expand  Pace `yaml:"expand"`
	Confirm Pace `yaml:"confirm"`
	// Dialog bounds the wait for the confirmation dialog after submit.
	Dialog  Pace `yaml:"dialog"`
}

func (c *LotteryConfig) applyDefaults() {
	if c.MaxPasses <= 0 {
		c.MaxPasses = 10
	}
	if len(c.Numbers) == 0 {
		c.Numbers = []int{1}
	}
	c.Settle.orDefault(3, 1300)
	c.Step.orDefault(1, 1000)
	c.Expand.orDefault(1, 1300)
	c.Confirm.orDefault(5, 1800)
	c.Dialog.orDefault(20, 500)
}

type PopupConfig struct {
	MaxReloads int `yaml:"maxReloads"`
	// PostLoginChecks is how many overlay checks run on the apply page after login.
	PostLoginChecks int  `yaml:"postLoginChecks"`
	ReloadSettle    Pace `yaml:"reloadSettle"`
	Stabilize       Pace `yaml:"stabilize"`
	AfterClose      Pace `yaml:"afterClose"`
}

func (c *PopupConfig) applyDefaults() {
	if c.MaxReloads <= 0 {
		c.MaxReloads = 5
	}
	if c.PostLoginChecks <= 0 {
		c.PostLoginChecks = 5
	}
	c.ReloadSettle.orDefault(5, 1000)
	c.Stabilize.orDefault(1, 3000)
	c.AfterClose.orDefault(1, 1000)
}
