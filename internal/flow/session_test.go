package flow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lottery_engine/internal/model"
)

func TestRunBatchHappyPath(t *testing.T) {
	opts := testOptions()
	o := opts.Site.Overlays
	page := newLotteryPage(opts.Site, map[int]string{1: opts.Site.Labels.Open, 2: opts.Site.Labels.Completed})
	f := withLoginForm(page.fakePage, opts.Site)
	f.submit.onClick = func() { page.url = mypage }
	notice := page.showOverlay(o, "pop04", "お知らせがあります。")

	out := NewRunner(opts).RunBatch(instant(), page, testCred, []int{1, 2})

	assert.Equal(t, model.FinalSuccess, out.FinalStatus)
	assert.Equal(t, "成功", out.Message)
	require.Len(t, out.Results, 2)
	assert.Equal(t, 1, notice.clicks, "informational overlay dismissed after login")
	assert.Equal(t, []string{loginURL, applyURL}, page.navigated)
}

func TestRunBatchLoginFailure(t *testing.T) {
	opts := testOptions()
	page := newLotteryPage(opts.Site, map[int]string{1: opts.Site.Labels.Open})
	f := withLoginForm(page.fakePage, opts.Site)
	f.submit.onClick = func() { f.status.text = opts.Site.Login.FailureText }

	out := NewRunner(opts).RunBatch(instant(), page, testCred, []int{1})

	assert.Equal(t, model.FinalFailure, out.FinalStatus)
	assert.Equal(t, "ログインエラー: "+opts.Site.Login.FailureText, out.Message)
	assert.Empty(t, out.Results)
	assert.Zero(t, page.confirm.clicks)
}

func TestRunBatchStoppedDuringLogin(t *testing.T) {
	opts := testOptions()
	page := newLotteryPage(opts.Site, map[int]string{1: opts.Site.Labels.Open})
	f := withLoginForm(page.fakePage, opts.Site)
	stop := false
	f.submit.onClick = func() { stop = true }

	out := NewRunner(opts).RunBatch(stoppable(&stop), page, testCred, []int{1})

	assert.Equal(t, model.FinalInterrupted, out.FinalStatus)
	assert.Equal(t, "ユーザーによって中断されました", out.Message)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
}

func TestTruncateCountsRunes(t *testing.T) {
	long := strings.Repeat("認", 120)
	assert.Equal(t, strings.Repeat("認", 100), truncate(long, 100))
	assert.Equal(t, "short", truncate("short", 100))
}
