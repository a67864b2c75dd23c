package model

import "time"

type RunRecord struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"accountId,omitempty"`
	Email       string          `json:"email"`
	Numbers     []int           `json:"numbers"`
	FinalStatus FinalStatus     `json:"finalStatus"`
	Message     string          `json:"message"`
	Results     []LotteryResult `json:"results"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
}

func (r RunRecord) Outcome() SessionOutcome {
	return SessionOutcome{Results: r.Results, FinalStatus: r.FinalStatus, Message: r.Message}
}

type AccountState struct {
	AccountID   string      `json:"accountId"`
	Email       string      `json:"email"`
	Running     bool        `json:"running"`
	Phase       string      `json:"phase,omitempty"`
	LastStatus  FinalStatus `json:"lastStatus,omitempty"`
	LastMessage string      `json:"lastMessage,omitempty"`
	LastRunID   string      `json:"lastRunId,omitempty"`
	UpdatedMs   int64       `json:"updatedMs,omitempty"`
}

type EngineState struct {
	Running  bool           `json:"running"`
	Accounts []AccountState `json:"accounts"`
}
