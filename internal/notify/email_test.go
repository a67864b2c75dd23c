package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lottery_engine/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSettings struct {
	email    model.EmailSettings
	notify   model.NotifySettings
	hasEmail bool
	err      error
}

func (f *fakeSettings) GetEmailSettings(context.Context) (model.EmailSettings, bool, error) {
	return f.email, f.hasEmail, f.err
}

func (f *fakeSettings) GetNotifySettings(context.Context) (model.NotifySettings, bool, error) {
	return f.notify, true, nil
}

type capture struct {
	mu      sync.Mutex
	batches [][]RunFinishedEvent
	sent    chan struct{}
}

func newCapture() *capture { return &capture{sent: make(chan struct{}, 16)} }

func (c *capture) send(_ context.Context, _ model.EmailSettings, events []RunFinishedEvent) error {
	c.mu.Lock()
	c.batches = append(c.batches, events)
	c.mu.Unlock()
	c.sent <- struct{}{}
	return nil
}

func (c *capture) snapshot() [][]RunFinishedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]RunFinishedEvent(nil), c.batches...)
}

func enabledSettings() *fakeSettings {
	return &fakeSettings{
		email:    model.EmailSettings{Enabled: true, Email: "bot@qq.com", AuthCode: "code"},
		hasEmail: true,
	}
}

func closeNotifier(t *testing.T, n *EmailNotifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))
}

func waitSent(t *testing.T, c *capture) {
	t.Helper()
	select {
	case <-c.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("no email sent")
	}
}

func TestNotifierSendsImmediatelyWithoutWindow(t *testing.T) {
	store := enabledSettings()
	store.notify.SummaryWindowSeconds = -1
	c := newCapture()
	n := NewEmailNotifier(store, nil, WithSender(c.send))

	n.NotifyRunFinished(context.Background(), RunFinishedEvent{RunID: "r1", Email: "a@example.com", FinalStatus: model.FinalSuccess})
	waitSent(t, c)
	closeNotifier(t, n)

	batches := c.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, "r1", batches[0][0].RunID)
}

func TestNotifierFlushesPendingOnClose(t *testing.T) {
	c := newCapture()
	n := NewEmailNotifier(enabledSettings(), nil, WithSender(c.send))

	n.NotifyRunFinished(context.Background(), RunFinishedEvent{RunID: "r1", FinalStatus: model.FinalFailure})
	n.NotifyRunFinished(context.Background(), RunFinishedEvent{RunID: "r2", FinalStatus: model.FinalSuccess})
	closeNotifier(t, n)

	var total int
	for _, b := range c.snapshot() {
		total += len(b)
	}
	assert.Equal(t, 2, total)
}

func TestNotifierMaxBatch(t *testing.T) {
	c := newCapture()
	n := NewEmailNotifier(enabledSettings(), nil, WithSender(c.send), WithMaxBatch(2))

	n.NotifyRunFinished(context.Background(), RunFinishedEvent{RunID: "r1"})
	n.NotifyRunFinished(context.Background(), RunFinishedEvent{RunID: "r2"})
	waitSent(t, c)
	closeNotifier(t, n)

	batches := c.snapshot()
	require.NotEmpty(t, batches)
	assert.Len(t, batches[0], 2)
}

func TestNotifierFailuresOnly(t *testing.T) {
	store := enabledSettings()
	store.notify = model.NotifySettings{FailuresOnly: true, SummaryWindowSeconds: -1}
	c := newCapture()
	n := NewEmailNotifier(store, nil, WithSender(c.send))

	n.NotifyRunFinished(context.Background(), RunFinishedEvent{RunID: "ok", FinalStatus: model.FinalSuccess})
	n.NotifyRunFinished(context.Background(), RunFinishedEvent{RunID: "bad", FinalStatus: model.FinalFailure})
	waitSent(t, c)
	closeNotifier(t, n)

	batches := c.snapshot()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "bad", batches[0][0].RunID)
}

func TestNotifierDisabledSendsNothing(t *testing.T) {
	store := enabledSettings()
	store.email.Enabled = false
	c := newCapture()
	n := NewEmailNotifier(store, nil, WithSender(c.send))

	n.NotifyRunFinished(context.Background(), RunFinishedEvent{RunID: "r1"})
	closeNotifier(t, n)
	assert.Empty(t, c.snapshot())
}

func TestValidateEmailSettings(t *testing.T) {
	assert.NoError(t, validateEmailSettings(model.EmailSettings{Email: "a@qq.com", AuthCode: "x"}))
	assert.Error(t, validateEmailSettings(model.EmailSettings{Email: "a@qq.com"}))
	assert.Error(t, validateEmailSettings(model.EmailSettings{Email: "nope", AuthCode: "x"}))
	assert.Error(t, validateEmailSettings(model.EmailSettings{Email: "a@qq.com", AuthCode: "x", To: "bad"}))
}

func TestSMTPConfigForEmail(t *testing.T) {
	host, port, ssl, err := smtpConfigForEmail("me@vip.qq.com")
	require.NoError(t, err)
	assert.Equal(t, "smtp.qq.com", host)
	assert.Equal(t, 465, port)
	assert.True(t, ssl)

	host, port, ssl, err = smtpConfigForEmail("me@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "smtp.gmail.com", host)
	assert.Equal(t, 587, port)
	assert.False(t, ssl)

	host, _, _, err = smtpConfigForEmail("me@example.org")
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.org", host)

	_, _, _, err = smtpConfigForEmail("broken")
	assert.Error(t, err)
}

func TestSummaryBody(t *testing.T) {
	events := []RunFinishedEvent{
		{At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local).UnixMilli(), Email: "a@example.com", FinalStatus: model.FinalSuccess, Message: "成功"},
		{At: time.Date(2026, 1, 2, 3, 5, 0, 0, time.Local).UnixMilli(), Email: "b@example.com", FinalStatus: model.FinalFailure, Message: "失敗: 抽選1受付終了"},
	}
	html, text, err := buildSummaryEmailBody(events)
	require.NoError(t, err)
	assert.Contains(t, html, "b@example.com")
	assert.Contains(t, text, "2026-01-02 03:04:05 ~ 2026-01-02 03:05:00")
	assert.Equal(t, 4, strings.Count(text, "\n"))
	assert.Equal(t, "抽選结果汇总（2个账号，成功 1）", buildSummarySubject(events))
	assert.Equal(t, "抽選结果：失败（b@example.com）", buildSummarySubject(events[1:]))

	_, _, err = buildSummaryEmailBody(nil)
	assert.Error(t, err)
}

func TestSendRejectsInvalidSettings(t *testing.T) {
	err := SendRunSummaryEmail(context.Background(), model.EmailSettings{}, []RunFinishedEvent{{}})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
