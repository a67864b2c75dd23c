package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Captcha CaptchaConfig `yaml:"captcha"`
	Mail    MailConfig    `yaml:"mail"`
	Browser BrowserConfig `yaml:"browser"`
	Auth    AuthConfig    `yaml:"auth"`
	Lottery LotteryConfig `yaml:"lottery"`
	Popup   PopupConfig   `yaml:"popup"`
	Site    SiteConfig    `yaml:"site"`
	Limits  LimitsConfig  `yaml:"limits"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"maxSizeMB"`
	MaxBackups  int    `yaml:"maxBackups"`
	MaxAgeDays  int    `yaml:"maxAgeDays"`
	Compress    bool   `yaml:"compress"`
	BusCapacity int    `yaml:"busCapacity"`
}

type LimitsConfig struct {
	// AccountGapMs is the minimum gap between two account batches.
	AccountGapMs int `yaml:"accountGapMs"`
}

func (c LimitsConfig) AccountGap() time.Duration {
	if c.AccountGapMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.AccountGapMs) * time.Millisecond
}

func Load(path string) (Config, error) {
	// .env is optional; secrets may come from the real environment.
	_ = godotenv.Load()

	var cfg Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, err
			}
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a config with every default applied, without reading files or env.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("CAPTCHA_API_KEY")); v != "" {
		c.Captcha.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MAIL_USERNAME")); v != "" {
		c.Mail.Username = v
	}
	if v := os.Getenv("MAIL_PASSWORD"); v != "" {
		c.Mail.Password = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("LOTTERY_HEADLESS"))); v != "" {
		off := v == "0" || v == "false" || v == "no" || v == "off"
		c.Browser.Headless = boolPtr(!off)
	}
	if v := strings.TrimSpace(os.Getenv("LOTTERY_BROWSER_BIN")); v != "" {
		c.Browser.Bin = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/lottery_engine.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.BusCapacity <= 0 {
		c.Log.BusCapacity = 200
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 20
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 14
	}
	c.Captcha.applyDefaults()
	c.Mail.applyDefaults()
	c.Browser.applyDefaults()
	c.Auth.applyDefaults()
	c.Lottery.applyDefaults()
	c.Popup.applyDefaults()
	c.Site.applyDefaults()
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Captcha.BaseURL == "" {
		return errors.New("captcha.baseURL is required")
	}
	if c.Site.LoginURL == "" || c.Site.ApplyURL == "" {
		return errors.New("site.loginURL and site.applyURL are required")
	}
	if len(c.Site.Overlays.IDs) == 0 {
		return errors.New("site.overlays.ids is required")
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }

func msOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
