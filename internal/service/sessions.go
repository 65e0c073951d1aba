package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"auth-template/internal/domain"
)

// SessionManager emite, rota y revoca pares access/refresh.
type SessionManager struct {
	logger *zap.Logger
	codec  *TokenCodec
	cache  SessionCache
}

func NewSessionManager(logger *zap.Logger, codec *TokenCodec, cache SessionCache) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{logger: logger, codec: codec, cache: cache}
}

// IssueSession emite un access y un refresh y registra el jti del refresh.
func (m *SessionManager) IssueSession(ctx context.Context, userID string) (domain.Session, error) {
	access, err := m.codec.Issue(TokenAccess, userID, 0)
	if err != nil {
		return domain.Session{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := m.codec.Issue(TokenRefresh, userID, 0)
	if err != nil {
		return domain.Session{}, fmt.Errorf("issue refresh token: %w", err)
	}
	ttl := refresh.ExpiresAt.Sub(refresh.IssuedAt)
	if err := m.cache.PutRefreshRecord(ctx, refresh.ID, userID, ttl); err != nil {
		return domain.Session{}, fmt.Errorf("store refresh record: %w", err)
	}
	return domain.Session{
		UserID:           userID,
		AccessToken:      access.Raw,
		RefreshToken:     refresh.Raw,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		ExpiresIn:        int64(access.ExpiresAt.Sub(access.IssuedAt).Seconds()),
	}, nil
}

// Refresh rota el refresh token. El consumo del registro es atómico, así que de dos
// rotaciones concurrentes con el mismo token sólo una obtiene sesión nueva.
func (m *SessionManager) Refresh(ctx context.Context, raw string) (domain.Session, error) {
	tok, err := m.codec.Verify(raw, TokenRefresh)
	if err != nil {
		return domain.Session{}, asDomainTokenError(err)
	}
	userID, ok, err := m.cache.ConsumeRefresh(ctx, tok.TokenID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("consume refresh record: %w", err)
	}
	if !ok {
		return domain.Session{}, ErrRevoked
	}
	if userID != tok.Subject {
		m.logger.Warn("refresh record subject mismatch",
			zap.String("token_id", tok.TokenID),
			zap.String("subject", tok.Subject),
		)
		return domain.Session{}, ErrRevoked
	}
	return m.IssueSession(ctx, tok.Subject)
}

// Logout revoca un único refresh token. Un token inválido o vencido no es error.
func (m *SessionManager) Logout(ctx context.Context, raw string) error {
	tok, err := m.codec.Verify(raw, TokenRefresh)
	if err != nil {
		return nil
	}
	if err := m.cache.Revoke(ctx, tok.TokenID); err != nil {
		m.logger.Warn("logout revoke failed", zap.String("user_id", tok.Subject), zap.Error(err))
	}
	return nil
}

// LogoutAll revoca todas las sesiones del usuario.
func (m *SessionManager) LogoutAll(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	if err := m.cache.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}
