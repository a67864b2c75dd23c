package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"lottery_engine/internal/logbus"
	"lottery_engine/internal/model"
)

const (
	defaultSummaryWindow = 20 * time.Second
	maxSummaryWindow     = 10 * time.Minute
)

// SettingsStore is the part of the sqlite store the notifier reads.
type SettingsStore interface {
	GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error)
	GetNotifySettings(ctx context.Context) (model.NotifySettings, bool, error)
}

// SendFunc delivers one summary email.
type SendFunc func(ctx context.Context, settings model.EmailSettings, events []RunFinishedEvent) error

type Option func(*EmailNotifier)

func WithSender(fn SendFunc) Option {
	return func(n *EmailNotifier) {
		if fn != nil {
			n.send = fn
		}
	}
}

// WithMaxBatch flushes as soon as limit events are pending.
func WithMaxBatch(limit int) Option {
	return func(n *EmailNotifier) { n.maxBatch = limit }
}

// EmailNotifier batches run outcomes and mails one summary per quiet window.
type EmailNotifier struct {
	store SettingsStore
	bus   *logbus.Bus
	send  SendFunc

	mu     sync.Mutex
	queue  chan RunFinishedEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	maxBatch int
}

func NewEmailNotifier(store SettingsStore, bus *logbus.Bus, opts ...Option) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		store:    store,
		bus:      bus,
		send:     SendRunSummaryEmail,
		queue:    make(chan RunFinishedEvent, 200),
		ctx:      ctx,
		cancel:   cancel,
		maxBatch: 50,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Close flushes pending events and waits for the loop to exit.
func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyRunFinished(_ context.Context, evt RunFinishedEvent) {
	select {
	case n.queue <- evt:
	default:
		n.bus.Log("warn", "email notification dropped, queue full", map[string]any{
			"runId": evt.RunID,
			"email": evt.Email,
		})
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []RunFinishedEvent
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		timer.Stop()
		timer = nil
		timerCh = nil
	}

	flush := func(reason string) {
		stopTimer()
		if len(pending) == 0 {
			return
		}
		events := append([]RunFinishedEvent(nil), pending...)
		pending = pending[:0]
		n.handleBatch(reason, events)
	}

	for {
		select {
		case <-n.ctx.Done():
			// Drain what was queued before the cancel.
		drain:
			for {
				select {
				case evt := <-n.queue:
					pending = append(pending, evt)
				default:
					break drain
				}
			}
			flush("shutdown")
			return
		case evt := <-n.queue:
			pending = append(pending, evt)
			if n.maxBatch > 0 && len(pending) >= n.maxBatch {
				flush("max")
				continue
			}
			window := n.summaryWindow()
			if window <= 0 {
				flush("immediate")
				continue
			}
			stopTimer()
			timer = time.NewTimer(window)
			timerCh = timer.C
		case <-timerCh:
			timer, timerCh = nil, nil
			flush("idle")
		}
	}
}

// summaryWindow reads the stored notify settings. A negative window sends
// every event immediately.
func (n *EmailNotifier) summaryWindow() time.Duration {
	if n.store == nil {
		return defaultSummaryWindow
	}
	ns, ok, err := n.store.GetNotifySettings(n.ctx)
	if err != nil || !ok || ns.SummaryWindowSeconds == 0 {
		return defaultSummaryWindow
	}
	if ns.SummaryWindowSeconds < 0 {
		return 0
	}
	d := time.Duration(ns.SummaryWindowSeconds) * time.Second
	if d > maxSummaryWindow {
		d = maxSummaryWindow
	}
	return d
}

func (n *EmailNotifier) handleBatch(reason string, events []RunFinishedEvent) {
	if n.store == nil {
		return
	}
	// The loop context is already cancelled on shutdown; the last flush still sends.
	ctx := context.WithoutCancel(n.ctx)

	settings, ok, err := n.store.GetEmailSettings(ctx)
	if err != nil {
		n.bus.Log("warn", "reading email settings failed", map[string]any{"error": err.Error()})
		return
	}
	if !ok || !settings.Enabled {
		n.bus.Log("info", "email notification disabled", map[string]any{
			"count":  len(events),
			"reason": reason,
		})
		return
	}
	if ns, ok, err := n.store.GetNotifySettings(ctx); err == nil && ok && ns.FailuresOnly {
		events = failuresOnly(events)
		if len(events) == 0 {
			return
		}
	}

	if err := validateEmailSettings(settings); err != nil {
		n.bus.Log("warn", "email settings invalid", map[string]any{"error": err.Error()})
		return
	}

	if err := n.send(ctx, settings, events); err != nil {
		n.bus.Log("warn", "sending email failed", map[string]any{
			"error":  err.Error(),
			"count":  len(events),
			"reason": reason,
		})
		return
	}

	n.bus.Log("info", "notification email sent", map[string]any{
		"count":  len(events),
		"reason": reason,
		"to":     recipient(settings),
	})
}

func failuresOnly(events []RunFinishedEvent) []RunFinishedEvent {
	out := events[:0:0]
	for _, evt := range events {
		if evt.FinalStatus != model.FinalSuccess {
			out = append(out, evt)
		}
	}
	return out
}

func validateEmailSettings(s model.EmailSettings) error {
	email := strings.TrimSpace(s.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email")
	}
	if to := strings.TrimSpace(s.To); to != "" {
		if _, err := mail.ParseAddress(to); err != nil {
			return errors.New("invalid recipient")
		}
	}
	if strings.TrimSpace(s.AuthCode) == "" {
		return errors.New("authCode is required")
	}
	return nil
}

func recipient(s model.EmailSettings) string {
	if to := strings.TrimSpace(s.To); to != "" {
		return to
	}
	return strings.TrimSpace(s.Email)
}

// SendRunSummaryEmail mails events through the SMTP server of the sender's domain.
func SendRunSummaryEmail(ctx context.Context, settings model.EmailSettings, events []RunFinishedEvent) error {
	if err := validateEmailSettings(settings); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return errors.New("no events")
	}

	email := strings.TrimSpace(settings.Email)
	host, port, useSSL, err := smtpConfigForEmail(email)
	if err != nil {
		return err
	}
	msg, err := buildMessage(settings, events)
	if err != nil {
		return err
	}

	d := gomail.NewDialer(host, port, email, strings.TrimSpace(settings.AuthCode))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

func buildMessage(settings model.EmailSettings, events []RunFinishedEvent) (*gomail.Message, error) {
	htmlBody, textBody, err := buildSummaryEmailBody(events)
	if err != nil {
		return nil, err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(strings.TrimSpace(settings.Email), "抽選助手"))
	msg.SetHeader("To", recipient(settings))
	msg.SetHeader("Subject", buildSummarySubject(events))
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)
	return msg, nil
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))
	is := func(names ...string) bool {
		for _, name := range names {
			if domain == name || strings.HasSuffix(domain, "."+name) {
				return true
			}
		}
		return false
	}

	switch {
	case is("qq.com", "foxmail.com"):
		return "smtp.qq.com", 465, true, nil
	case is("163.com", "126.com", "yeah.net"):
		return "smtp.163.com", 465, true, nil
	case is("gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case is("outlook.com", "hotmail.com", "live.com"):
		return "smtp.office365.com", 587, false, nil
	case is("yahoo.co.jp"):
		return "smtp.mail.yahoo.co.jp", 465, true, nil
	case is("icloud.com", "me.com"):
		return "smtp.mail.me.com", 587, false, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func buildSummarySubject(events []RunFinishedEvent) string {
	ok := 0
	for _, evt := range events {
		if evt.FinalStatus == model.FinalSuccess {
			ok++
		}
	}
	if len(events) == 1 {
		return fmt.Sprintf("抽選结果：%s（%s）", statusLabel(events[0].FinalStatus), events[0].Email)
	}
	return fmt.Sprintf("抽選结果汇总（%d个账号，成功 %d）", len(events), ok)
}

var emailSummaryHTMLTpl = template.Must(template.New("email-summary").Parse(`
<!doctype html>
<html lang="zh-CN">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width" />
    <title>抽選结果汇总</title>
  </head>
  <body style="margin:0;padding:0;background:#f6f8fb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,'Helvetica Neue',Arial,'Hiragino Sans','PingFang SC','Microsoft YaHei',sans-serif;">
    <div style="max-width:720px;margin:0 auto;padding:24px;">
      <div style="background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
        <div style="padding:18px 22px;background:linear-gradient(135deg,#f59e0b,#ef4444);color:#ffffff;">
          <div style="font-size:16px;font-weight:700;">抽選结果汇总</div>
          <div style="margin-top:6px;font-size:12px;opacity:.95;">抽選助手通知</div>
        </div>

        <div style="padding:22px;">
          <div style="font-size:14px;color:#111827;">
            共 <strong>{{ .Total }}</strong> 个批次，时间范围：{{ .Start }} ~ {{ .End }}
          </div>

          <div style="margin-top:12px;border:1px solid #eef0f6;border-radius:12px;overflow:hidden;">
            <table role="presentation" cellspacing="0" cellpadding="0" border="0" style="width:100%;border-collapse:collapse;">
              <thead>
                <tr style="background:#fafbff;">
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">时间</th>
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">账号</th>
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">结果</th>
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">消息</th>
                </tr>
              </thead>
              <tbody>
                {{ range .Rows }}
                <tr>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .At }}</td>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .Email }}</td>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;font-weight:600;">{{ .Status }}</td>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .Message }}</td>
                </tr>
                {{ end }}
              </tbody>
            </table>
          </div>

          <div style="margin-top:14px;color:#9ca3af;font-size:12px;line-height:1.6;">
            此邮件由系统自动发送
          </div>
        </div>
      </div>
    </div>
  </body>
</html>
`))

type summaryRow struct {
	At      string
	Email   string
	Status  string
	Message string
}

func buildSummaryEmailBody(events []RunFinishedEvent) (htmlBody string, textBody string, err error) {
	if len(events) == 0 {
		return "", "", errors.New("no events")
	}

	rows := make([]summaryRow, 0, len(events))
	var minAt, maxAt time.Time
	for i, evt := range events {
		at := time.Now()
		if evt.At > 0 {
			at = time.UnixMilli(evt.At)
		}
		if i == 0 || at.Before(minAt) {
			minAt = at
		}
		if i == 0 || at.After(maxAt) {
			maxAt = at
		}
		rows = append(rows, summaryRow{
			At:      at.Format("2006-01-02 15:04:05"),
			Email:   strings.TrimSpace(evt.Email),
			Status:  statusLabel(evt.FinalStatus),
			Message: evt.Message,
		})
	}

	data := struct {
		Total int
		Start string
		End   string
		Rows  []summaryRow
	}{
		Total: len(events),
		Start: minAt.Format("2006-01-02 15:04:05"),
		End:   maxAt.Format("2006-01-02 15:04:05"),
		Rows:  rows,
	}

	var buf bytes.Buffer
	if err := emailSummaryHTMLTpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	text.WriteString("抽選结果汇总\n")
	fmt.Fprintf(text, "共 %d 个批次，时间范围：%s ~ %s\n", len(events), data.Start, data.End)
	for _, row := range rows {
		fmt.Fprintf(text, "- %s | %s | %s | %s\n", row.At, row.Email, row.Status, row.Message)
	}

	return buf.String(), text.String(), nil
}

func statusLabel(s model.FinalStatus) string {
	switch s {
	case model.FinalSuccess:
		return "成功"
	case model.FinalInterrupted:
		return "中断"
	default:
		return "失败"
	}
}
