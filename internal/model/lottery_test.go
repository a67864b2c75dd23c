package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeNumbers(t *testing.T) {
	assert.Equal(t, []int{1, 3, 5}, NormalizeNumbers([]int{5, 3, 0, 1, 3, -2, 5}))
	assert.Empty(t, NormalizeNumbers(nil))
}

func TestResultPhrase(t *testing.T) {
	cases := map[ResultStatus]string{
		ResultSuccess:          "抽選1成功",
		ResultFailure:          "抽選1失敗",
		ResultSkippedClosed:    "抽選1受付終了",
		ResultSkippedCompleted: "抽選1受付完了",
		ResultNotExist:         "抽選1存在しない",
		ResultInterrupted:      "抽選1中断",
		ResultUnknown:          "抽選1不明",
	}
	for status, want := range cases {
		assert.Equal(t, want, status.Phrase(1), string(status))
	}
}

func TestCompletedSet(t *testing.T) {
	s := CompletedSet{}
	s.Add(2)
	s.Add(4)
	assert.True(t, s.Has(2))
	assert.True(t, s.ContainsAll([]int{2, 4}))
	s.Remove(4)
	assert.False(t, s.ContainsAll([]int{2, 4}))
}
