package flow

import (
	"fmt"
	"sort"
	"strings"

	"lottery_engine/internal/model"
)

const (
	messageSuccess     = "成功"
	messageLoginError  = "ログインエラー: "
	messageUserStopped = "ユーザーによって中断されました"
	messageStillOpen   = "失敗: 最終確認時に「受付中」の抽選が残っていました"
	messageNoItems     = "失敗: 対象の抽選がありません"
)

// Results keeps one entry per item number. Recording a number again
// overwrites its previous entry.
type Results struct {
	byNumber map[int]model.LotteryResult
}

func NewResults() *Results {
	return &Results{byNumber: make(map[int]model.LotteryResult)}
}

func (r *Results) Record(n int, status model.ResultStatus, reason string) {
	r.byNumber[n] = model.LotteryResult{Number: n, Status: status, Reason: reason}
}

func (r *Results) Get(n int) (model.LotteryResult, bool) {
	res, ok := r.byNumber[n]
	return res, ok
}

// Demote turns a recorded success for n into a failure.
func (r *Results) Demote(n int, reason string) bool {
	res, ok := r.byNumber[n]
	if !ok || res.Status != model.ResultSuccess {
		return false
	}
	r.Record(n, model.ResultFailure, reason)
	return true
}

// Fill records status for every number in ns that has no entry yet.
func (r *Results) Fill(ns []int, status model.ResultStatus, reason func(int) string) {
	for _, n := range ns {
		if _, ok := r.byNumber[n]; !ok {
			r.Record(n, status, reason(n))
		}
	}
}

// List returns the entries in ascending item order.
func (r *Results) List() []model.LotteryResult {
	out := make([]model.LotteryResult, 0, len(r.byNumber))
	for _, res := range r.byNumber {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (r *Results) Len() int { return len(r.byNumber) }

// Verdict derives the batch status and message from the results alone.
func Verdict(results []model.LotteryResult) (model.FinalStatus, string) {
	if len(results) == 0 {
		return model.FinalFailure, messageNoItems
	}
	var interrupted, failed bool
	allDone := true
	for _, res := range results {
		switch res.Status {
		case model.ResultInterrupted:
			interrupted = true
		case model.ResultFailure, model.ResultSkippedClosed, model.ResultNotExist:
			failed = true
		}
		if res.Status != model.ResultSuccess && res.Status != model.ResultSkippedCompleted {
			allDone = false
		}
	}
	switch {
	case interrupted:
		return model.FinalInterrupted, "中断: " + phrases(results)
	case failed:
		return model.FinalFailure, "失敗: " + phrases(results)
	case allDone:
		return model.FinalSuccess, messageSuccess
	default:
		return model.FinalFailure, "失敗: " + phrases(results)
	}
}

func phrases(results []model.LotteryResult) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, res.Status.Phrase(res.Number))
	}
	return strings.Join(parts, "、")
}

// Outcome builds the session outcome from the current results.
func (r *Results) Outcome() model.SessionOutcome {
	list := r.List()
	status, msg := Verdict(list)
	return model.SessionOutcome{Results: list, FinalStatus: status, Message: msg}
}

func reasonNotExist(n int) string    { return fmt.Sprintf("抽選%dは存在しません", n) }
func reasonClosed(n int) string      { return fmt.Sprintf("抽選%dは受付終了しています", n) }
func reasonCompleted(n int) string   { return fmt.Sprintf("抽選%dは受付完了しています", n) }
func reasonSucceeded(n int) string   { return fmt.Sprintf("抽選%dの処理が成功しました", n) }
func reasonInterrupted(n int) string { return fmt.Sprintf("抽選%dの処理中に中断されました", n) }
func reasonNotReached(n int) string  { return fmt.Sprintf("抽選%dは確認できませんでした", n) }
func reasonStillOpen(n int) string   { return fmt.Sprintf("抽選%dは再確認時に「受付中」でした", n) }
func reasonUnknown(n int, label string) string {
	return fmt.Sprintf("抽選%dのステータスが不明です: %s", n, label)
}

func reasonFailed(n int, err error) string {
	if err == nil {
		return fmt.Sprintf("抽選%dの処理が失敗しました", n)
	}
	return fmt.Sprintf("抽選%dの処理が失敗しました: %v", n, err)
}
