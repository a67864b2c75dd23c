package model

type EmailSettings struct {
	Enabled  bool   `json:"enabled"`
	Email    string `json:"email"`
	AuthCode string `json:"authCode,omitempty"`
	// To is the recipient. Empty sends to Email itself.
	To string `json:"to,omitempty"`
}

type NotifySettings struct {
	// FailuresOnly sends mail only for batches that did not succeed.
	FailuresOnly bool `json:"failuresOnly"`
	// SummaryWindowSeconds merges batch results finishing within the window into one mail.
	SummaryWindowSeconds int `json:"summaryWindowSeconds"`
}
