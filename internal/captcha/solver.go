package captcha

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"lottery_engine/internal/config"
	"lottery_engine/internal/interrupt"
	"lottery_engine/internal/logbus"
)

var (
	ErrConfig    = errors.New("captcha: invalid configuration")
	ErrMalformed = errors.New("captcha: malformed provider response")
	ErrTimeout   = errors.New("captcha: result not ready within poll budget")
	ErrExhausted = errors.New("captcha: retries exhausted")
)

// ProviderError is an error reported by the solving service. It is retried
// with a fresh task.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return "captcha provider: " + e.Code
	}
	return fmt.Sprintf("captcha provider: %s: %s", e.Code, e.Description)
}

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskReady   TaskStatus = "ready"
	TaskError   TaskStatus = "error"
)

// Task describes one reCAPTCHA v3 Enterprise challenge. A task is solved once
// and never reused: tokens go stale within minutes.
type Task struct {
	SiteKey    string
	WebsiteURL string
	MinScore   float64
	PageAction string
	Status     TaskStatus
}

var allowedScores = []float64{0.3, 0.7, 0.9}

const defaultScore = 0.9

// NormalizeScore coerces v into the provider's accepted set, using 0.9 for
// anything else.
func NormalizeScore(v float64) float64 {
	for _, s := range allowedScores {
		if v == s {
			return v
		}
	}
	return defaultScore
}

type Options struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	PollAttempts int
	MaxRetries   int
	RetryWait    time.Duration
	QPS          float64
}

func OptionsFrom(cfg config.CaptchaConfig) Options {
	return Options{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		Timeout:      cfg.Timeout(),
		PollInterval: cfg.PollInterval(),
		PollAttempts: cfg.PollAttempts,
		MaxRetries:   cfg.MaxRetries,
		RetryWait:    cfg.RetryWait(),
		QPS:          cfg.QPS,
	}
}

type Solver struct {
	opts    Options
	client  *resty.Client
	limiter *rate.Limiter
	bus     *logbus.Bus
}

func New(opts Options, bus *logbus.Bus) *Solver {
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 60
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.QPS > 0 {
		limit = rate.Limit(opts.QPS)
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json")
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		bus.Log("debug", "captcha request", map[string]any{
			"method": req.Method,
			"url":    req.URL,
		})
		return nil
	})

	return &Solver{
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(limit, 2),
		bus:     bus,
	}
}

type createTaskReq struct {
	ClientKey string      `json:"clientKey"`
	Task      taskPayload `json:"task"`
}

type taskPayload struct {
	Type         string  `json:"type"`
	WebsiteURL   string  `json:"websiteURL"`
	WebsiteKey   string  `json:"websiteKey"`
	MinScore     float64 `json:"minScore"`
	IsEnterprise bool    `json:"isEnterprise"`
	APIDomain    string  `json:"apiDomain"`
	PageAction   string  `json:"pageAction,omitempty"`
}

type createTaskResp struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           any    `json:"taskId"`
}

type taskResultReq struct {
	ClientKey string `json:"clientKey"`
	TaskID    any    `json:"taskId"`
}

type taskResultResp struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string  `json:"gRecaptchaResponse"`
		Token              string  `json:"token"`
		Score              float64 `json:"score"`
	} `json:"solution"`
}

// Solve submits task and polls until a token is ready. Provider errors,
// unsolvable tasks, network errors and poll timeouts resubmit a fresh task up
// to MaxRetries times; configuration and malformed responses fail at once.
func (s *Solver) Solve(tok interrupt.Token, task Task) (string, error) {
	if strings.TrimSpace(s.opts.APIKey) == "" {
		return "", fmt.Errorf("%w: api key is not set", ErrConfig)
	}
	if len(strings.TrimSpace(task.SiteKey)) < 20 {
		return "", fmt.Errorf("%w: site key %q looks invalid", ErrConfig, task.SiteKey)
	}
	if strings.TrimSpace(task.WebsiteURL) == "" {
		return "", fmt.Errorf("%w: website url is empty", ErrConfig)
	}
	task.MinScore = NormalizeScore(task.MinScore)

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		if err := tok.Err(); err != nil {
			return "", err
		}
		task.Status = TaskPending
		token, err := s.solveOnce(tok, task)
		if err == nil {
			s.bus.Log("info", "captcha solved", map[string]any{"attempt": attempt, "tokenLen": len(token)})
			return token, nil
		}
		task.Status = TaskError
		if fatal(err) {
			return "", err
		}
		lastErr = err
		s.bus.Log("warn", "captcha attempt failed", map[string]any{
			"attempt": attempt,
			"max":     s.opts.MaxRetries,
			"error":   err.Error(),
		})
		if attempt < s.opts.MaxRetries {
			if err := tok.Sleep(s.opts.RetryWait); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %v", ErrExhausted, s.opts.MaxRetries, lastErr)
}

func fatal(err error) bool {
	return interrupt.Is(err) || errors.Is(err, ErrConfig) || errors.Is(err, ErrMalformed)
}

func (s *Solver) solveOnce(tok interrupt.Token, task Task) (string, error) {
	id, err := s.createTask(tok, task)
	if err != nil {
		return "", err
	}
	for i := 0; i < s.opts.PollAttempts; i++ {
		if err := tok.Sleep(s.opts.PollInterval); err != nil {
			return "", err
		}
		token, ready, err := s.taskResult(tok, id)
		if err != nil {
			var perr *ProviderError
			if fatal(err) || errors.As(err, &perr) {
				return "", err
			}
			// network hiccup while polling; the task is still alive
			s.bus.Log("debug", "captcha poll error", map[string]any{"error": err.Error()})
			continue
		}
		if ready {
			return token, nil
		}
	}
	return "", ErrTimeout
}

func (s *Solver) createTask(tok interrupt.Token, task Task) (any, error) {
	if err := s.limiter.Wait(tok.Context()); err != nil {
		return nil, interrupt.ErrInterrupted
	}
	req := createTaskReq{
		ClientKey: s.opts.APIKey,
		Task: taskPayload{
			Type:         "RecaptchaV3TaskProxyless",
			WebsiteURL:   task.WebsiteURL,
			WebsiteKey:   task.SiteKey,
			MinScore:     task.MinScore,
			IsEnterprise: true,
			APIDomain:    "www.google.com",
			PageAction:   task.PageAction,
		},
	}
	resp, err := s.client.R().SetContext(tok.Context()).SetBody(req).Post("/createTask")
	if err != nil {
		if tok.Err() != nil {
			return nil, interrupt.ErrInterrupted
		}
		return nil, fmt.Errorf("create task: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("create task: http %d", resp.StatusCode())
	}

	var out createTaskResp
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%w: create task: %v", ErrMalformed, err)
	}
	if out.ErrorID != 0 {
		return nil, providerErr(out.ErrorCode, out.ErrorDescription)
	}
	if out.TaskID == nil || fmt.Sprint(out.TaskID) == "" {
		return nil, fmt.Errorf("%w: create task: missing taskId", ErrMalformed)
	}
	return out.TaskID, nil
}

func (s *Solver) taskResult(tok interrupt.Token, id any) (string, bool, error) {
	if err := s.limiter.Wait(tok.Context()); err != nil {
		return "", false, interrupt.ErrInterrupted
	}
	resp, err := s.client.R().
		SetContext(tok.Context()).
		SetBody(taskResultReq{ClientKey: s.opts.APIKey, TaskID: id}).
		Post("/getTaskResult")
	if err != nil {
		if tok.Err() != nil {
			return "", false, interrupt.ErrInterrupted
		}
		return "", false, fmt.Errorf("get task result: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return "", false, fmt.Errorf("get task result: http %d", resp.StatusCode())
	}

	var out taskResultResp
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", false, fmt.Errorf("%w: get task result: %v", ErrMalformed, err)
	}
	if out.ErrorID != 0 {
		return "", false, providerErr(out.ErrorCode, out.ErrorDescription)
	}
	switch out.Status {
	case "processing":
		return "", false, nil
	case "ready":
		token := out.Solution.GRecaptchaResponse
		if token == "" {
			token = out.Solution.Token
		}
		if token == "" {
			return "", false, fmt.Errorf("%w: ready without token", ErrMalformed)
		}
		return token, true, nil
	default:
		return "", false, fmt.Errorf("%w: unknown status %q", ErrMalformed, out.Status)
	}
}

func providerErr(code, desc string) error {
	switch code {
	case "ERROR_KEY_DOES_NOT_EXIST", "ERROR_WRONG_USER_KEY":
		return fmt.Errorf("%w: %s", ErrConfig, code)
	}
	return &ProviderError{Code: code, Description: desc}
}
