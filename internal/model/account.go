package model

import "time"

// Account is one stored work item: a credential and the lottery numbers to enter.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"password,omitempty"`
	Numbers   []int     `json:"numbers"`
	Enabled   bool      `json:"enabled"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (a Account) Credential() Credential {
	return Credential{Email: a.Email, Password: a.Password}
}
