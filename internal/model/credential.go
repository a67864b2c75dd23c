package model

import "strings"

type Credential struct {
	Email    string `json:"email"`
	Password string `json:"-"`
}

func (c Credential) Valid() bool {
	return strings.TrimSpace(c.Email) != "" && c.Password != ""
}

// AuthAttempt tracks one login attempt. It lives only for that attempt.
type AuthAttempt struct {
	Number       int    `json:"number"`
	CaptchaToken string `json:"-"`
	OtpRetries   int    `json:"otpRetries"`
}
