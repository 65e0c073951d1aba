package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"auth-template/internal/domain"
	"auth-template/internal/email"
)

const twoFactorCodeLength = 6

// TwoFactorFlow emite y valida los códigos de segundo factor enviados por email.
type TwoFactorFlow struct {
	logger *zap.Logger
	cache  SessionCache
	sender email.Sender
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTwoFactorFlow(logger *zap.Logger, cache SessionCache, sender email.Sender, secret string, ttl time.Duration) *TwoFactorFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TwoFactorFlow{
		logger: logger,
		cache:  cache,
		sender: sender,
		secret: []byte(secret),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// IssueChallenge reemplaza el reto vivo del usuario y le envía el código.
func (f *TwoFactorFlow) IssueChallenge(ctx context.Context, user domain.User) (domain.PendingChallenge, error) {
	code, err := generateCode()
	if err != nil {
		return domain.PendingChallenge{}, err
	}
	if err := f.cache.PutChallenge(ctx, user.ID, f.digest(user.ID, code), f.ttl); err != nil {
		return domain.PendingChallenge{}, fmt.Errorf("store challenge: %w", err)
	}
	expiresAt := f.now().Add(f.ttl)
	err = f.sender.Send(ctx, user.Email, email.KindTwoFactorCode, email.Payload{
		Name:      user.DisplayName,
		Code:      code,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		f.logger.Warn("two factor email failed", zap.String("user_id", user.ID), zap.Error(err))
		if delErr := f.cache.DeleteChallenge(ctx, user.ID); delErr != nil {
			f.logger.Warn("drop unsent challenge failed", zap.String("user_id", user.ID), zap.Error(delErr))
		}
		return domain.PendingChallenge{}, fmt.Errorf("%w: %v", ErrEmailDispatch, err)
	}
	return domain.PendingChallenge{UserID: user.ID, ExpiresAt: expiresAt}, nil
}

// VerifyChallenge devuelve nil sólo si el código coincide con el reto vivo.
func (f *TwoFactorFlow) VerifyChallenge(ctx context.Context, userID, code string) error {
	if userID == "" || !isValidCode(code) {
		return ErrInvalidCode
	}
	outcome, err := f.cache.CheckChallenge(ctx, userID, f.digest(userID, code))
	if err != nil {
		return fmt.Errorf("check challenge: %w", err)
	}
	switch outcome {
	case ChallengeValid:
		return nil
	case ChallengeExpired:
		return ErrTokenExpired
	case ChallengeAttemptsExhausted:
		f.logger.Info("two factor attempts exhausted", zap.String("user_id", userID))
		return ErrAttemptsExhausted
	default:
		return ErrInvalidCode
	}
}

func (f *TwoFactorFlow) digest(userID, code string) string {
	mac := hmac.New(sha256.New, f.secret)
	mac.Write([]byte(userID))
	mac.Write([]byte{':'})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func isValidCode(code string) bool {
	if len(code) != twoFactorCodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
