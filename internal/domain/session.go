package domain

import "time"

// Session es el par de tokens entregado al cliente tras autenticarse.
type Session struct {
	UserID           string    `json:"user_id"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"-"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"-"`
	ExpiresIn        int64     `json:"expires_in"`
}

// PendingChallenge describe un login que espera el código de segundo factor.
type PendingChallenge struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginResult contiene exactamente uno de Session o Pending.
type LoginResult struct {
	User    User
	Session *Session
	Pending *PendingChallenge
}
