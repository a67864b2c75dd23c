package notify

import (
	"context"

	"lottery_engine/internal/model"
)

// RunFinishedEvent is one finished batch as reported to the operator.
type RunFinishedEvent struct {
	At          int64                 `json:"atMs"`
	RunID       string                `json:"runId"`
	AccountID   string                `json:"accountId,omitempty"`
	Email       string                `json:"email"`
	FinalStatus model.FinalStatus     `json:"finalStatus"`
	Message     string                `json:"message"`
	Results     []model.LotteryResult `json:"results,omitempty"`
}

func EventFromRun(run model.RunRecord) RunFinishedEvent {
	return RunFinishedEvent{
		At:          run.FinishedAt.UnixMilli(),
		RunID:       run.ID,
		AccountID:   run.AccountID,
		Email:       run.Email,
		FinalStatus: run.FinalStatus,
		Message:     run.Message,
		Results:     run.Results,
	}
}

type Notifier interface {
	NotifyRunFinished(ctx context.Context, evt RunFinishedEvent)
}
