package service

import (
	"context"
	"time"
)

// ChallengeOutcome es el resultado de comprobar un código de segundo factor.
type ChallengeOutcome int

const (
	ChallengeValid ChallengeOutcome = iota
	ChallengeInvalid
	ChallengeExpired
	ChallengeAttemptsExhausted
)

func (o ChallengeOutcome) String() string {
	switch o {
	case ChallengeValid:
		return "valid"
	case ChallengeInvalid:
		return "invalid"
	case ChallengeExpired:
		return "expired"
	case ChallengeAttemptsExhausted:
		return "attempts_exhausted"
	default:
		return "unknown"
	}
}

const defaultChallengeAttempts = 5

// SessionCache guarda los marcadores de validez de refresh tokens, los retos de
// segundo factor y el estado OAuth pendiente. Todo expira por TTL.
type SessionCache interface {
	PutRefreshRecord(ctx context.Context, tokenID, userID string, ttl time.Duration) error
	IsRefreshValid(ctx context.Context, tokenID string) (bool, error)
	// ConsumeRefresh borra el registro de forma atómica y devuelve su usuario.
	// ok=false significa que ya no existía (revocado o rotado).
	ConsumeRefresh(ctx context.Context, tokenID string) (userID string, ok bool, err error)
	Revoke(ctx context.Context, tokenID string) error
	RevokeAllForUser(ctx context.Context, userID string) error

	// PutChallenge reemplaza cualquier reto vivo del usuario.
	PutChallenge(ctx context.Context, userID, codeDigest string, ttl time.Duration) error
	CheckChallenge(ctx context.Context, userID, codeDigest string) (ChallengeOutcome, error)
	DeleteChallenge(ctx context.Context, userID string) error

	PutOAuthState(ctx context.Context, nonce, verifier string, ttl time.Duration) error
	ConsumeOAuthState(ctx context.Context, nonce string) (verifier string, ok bool, err error)
}
