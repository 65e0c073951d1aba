package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auth-template/internal/domain"
	"auth-template/internal/email"
)

func newTestTwoFactor() (*TwoFactorFlow, *mockEmailSender) {
	sender := &mockEmailSender{}
	flow := NewTwoFactorFlow(zap.NewNop(), NewMemorySessionCache(5), sender, "two-factor-secret", 0)
	return flow, sender
}

func TestTwoFactor_IssueAndVerify(t *testing.T) {
	flow, sender := newTestTwoFactor()
	ctx := context.Background()
	user := domain.User{ID: "u1", Email: "ivy@example.com", DisplayName: "Ivy"}

	pending, err := flow.IssueChallenge(ctx, user)
	require.NoError(t, err)
	require.Equal(t, "u1", pending.UserID)
	require.False(t, pending.ExpiresAt.IsZero())

	msg, ok := sender.last(email.KindTwoFactorCode)
	require.True(t, ok)
	require.Equal(t, "ivy@example.com", msg.to)
	require.True(t, isValidCode(msg.payload.Code))

	require.NoError(t, flow.VerifyChallenge(ctx, "u1", msg.payload.Code))
	require.ErrorIs(t, flow.VerifyChallenge(ctx, "u1", msg.payload.Code), ErrTokenExpired, "code is single use")
}

func TestTwoFactor_CodeIsBoundToUser(t *testing.T) {
	flow, sender := newTestTwoFactor()
	ctx := context.Background()

	_, err := flow.IssueChallenge(ctx, domain.User{ID: "u1", Email: "a@example.com"})
	require.NoError(t, err)
	msg, _ := sender.last(email.KindTwoFactorCode)

	require.ErrorIs(t, flow.VerifyChallenge(ctx, "u2", msg.payload.Code), ErrTokenExpired)
	require.NoError(t, flow.VerifyChallenge(ctx, "u1", msg.payload.Code))
}

func TestTwoFactor_AttemptsExhausted(t *testing.T) {
	flow, sender := newTestTwoFactor()
	ctx := context.Background()

	_, err := flow.IssueChallenge(ctx, domain.User{ID: "u1", Email: "a@example.com"})
	require.NoError(t, err)
	msg, _ := sender.last(email.KindTwoFactorCode)
	wrong := "000000"
	if msg.payload.Code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 4; i++ {
		require.ErrorIs(t, flow.VerifyChallenge(ctx, "u1", wrong), ErrInvalidCode)
	}
	require.ErrorIs(t, flow.VerifyChallenge(ctx, "u1", wrong), ErrAttemptsExhausted)
	require.ErrorIs(t, flow.VerifyChallenge(ctx, "u1", msg.payload.Code), ErrTokenExpired)
}

func TestTwoFactor_RejectsMalformedCodes(t *testing.T) {
	flow, _ := newTestTwoFactor()
	for _, code := range []string{"", "12345", "1234567", "12a456", "１２３４５６"} {
		require.ErrorIs(t, flow.VerifyChallenge(context.Background(), "u1", code), ErrInvalidCode, code)
	}
}

func TestTwoFactor_SendFailure(t *testing.T) {
	flow, sender := newTestTwoFactor()
	sender.err = errors.New("smtp down")

	_, err := flow.IssueChallenge(context.Background(), domain.User{ID: "u1", Email: "a@example.com"})
	require.ErrorIs(t, err, ErrEmailDispatch)
}

func TestTwoFactor_SendFailureLeavesNoLiveChallenge(t *testing.T) {
	flow, sender := newTestTwoFactor()
	ctx := context.Background()
	user := domain.User{ID: "u1", Email: "a@example.com"}

	_, err := flow.IssueChallenge(ctx, user)
	require.NoError(t, err)
	msg, ok := sender.last(email.KindTwoFactorCode)
	require.True(t, ok)

	sender.err = errors.New("smtp down")
	_, err = flow.IssueChallenge(ctx, user)
	require.ErrorIs(t, err, ErrEmailDispatch)

	outcome, err := flow.cache.CheckChallenge(ctx, "u1", flow.digest("u1", "000000"))
	require.NoError(t, err)
	require.Equal(t, ChallengeExpired, outcome)
	require.ErrorIs(t, flow.VerifyChallenge(ctx, "u1", msg.payload.Code), ErrTokenExpired)
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.True(t, isValidCode(code), code)
	}
}
