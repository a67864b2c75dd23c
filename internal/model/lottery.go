package model

import (
	"fmt"
	"sort"
)

type ItemStatus string

const (
	ItemUnknown   ItemStatus = "unknown"
	ItemOpen      ItemStatus = "open"
	ItemClosed    ItemStatus = "closed"
	ItemCompleted ItemStatus = "completed"
	ItemNotExist  ItemStatus = "not_exist"
)

type LotteryItem struct {
	Number int        `json:"number"`
	Status ItemStatus `json:"status"`
	Label  string     `json:"label,omitempty"`
}

type ResultStatus string

const (
	ResultSuccess          ResultStatus = "success"
	ResultFailure          ResultStatus = "failure"
	ResultSkippedClosed    ResultStatus = "skipped_closed"
	ResultSkippedCompleted ResultStatus = "skipped_completed"
	ResultNotExist         ResultStatus = "not_exist"
	ResultUnknown          ResultStatus = "unknown"
	ResultInterrupted      ResultStatus = "interrupted"
)

// Phrase is the short per-item fragment used in batch messages, e.g. 抽選2受付終了.
func (s ResultStatus) Phrase(number int) string {
	var word string
	switch s {
	case ResultSuccess:
		word = "成功"
	case ResultFailure:
		word = "失敗"
	case ResultSkippedClosed:
		word = "受付終了"
	case ResultSkippedCompleted:
		word = "受付完了"
	case ResultNotExist:
		word = "存在しない"
	case ResultInterrupted:
		word = "中断"
	default:
		word = "不明"
	}
	return fmt.Sprintf("抽選%d%s", number, word)
}

type LotteryResult struct {
	Number int          `json:"number"`
	Status ResultStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

type FinalStatus string

const (
	FinalSuccess     FinalStatus = "success"
	FinalFailure     FinalStatus = "failure"
	FinalInterrupted FinalStatus = "interrupted"
)

type SessionOutcome struct {
	Results     []LotteryResult `json:"results"`
	FinalStatus FinalStatus     `json:"finalStatus"`
	Message     string          `json:"message"`
}

// CompletedSet holds item numbers confirmed done within one batch.
type CompletedSet map[int]struct{}

func (s CompletedSet) Add(n int)    { s[n] = struct{}{} }
func (s CompletedSet) Remove(n int) { delete(s, n) }

func (s CompletedSet) Has(n int) bool {
	_, ok := s[n]
	return ok
}

func (s CompletedSet) ContainsAll(ns []int) bool {
	for _, n := range ns {
		if !s.Has(n) {
			return false
		}
	}
	return true
}

// NormalizeNumbers drops non-positive and duplicate numbers and sorts ascending.
func NormalizeNumbers(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, n := range in {
		if n <= 0 {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
