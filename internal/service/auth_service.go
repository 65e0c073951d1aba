package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-template/internal/domain"
	"auth-template/internal/repository"
)

// AuthPolicy reúne las decisiones de política configurables del login.
type AuthPolicy struct {
	// ExternalLoginTwoFactor exige segundo factor también tras un login OAuth.
	ExternalLoginTwoFactor bool
}

// AuthService es la única entrada al núcleo de autenticación. Compone los flujos
// local, externo y de segundo factor y decide cuándo se emite una sesión.
type AuthService struct {
	logger    *zap.Logger
	users     repository.UserRepository
	codec     *TokenCodec
	local     *LocalAuthFlow
	external  *ExternalAuthFlow
	twoFactor *TwoFactorFlow
	sessions  *SessionManager
	policy    AuthPolicy
}

func NewAuthService(
	logger *zap.Logger,
	users repository.UserRepository,
	codec *TokenCodec,
	local *LocalAuthFlow,
	external *ExternalAuthFlow,
	twoFactor *TwoFactorFlow,
	sessions *SessionManager,
	policy AuthPolicy,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		logger:    logger,
		users:     users,
		codec:     codec,
		local:     local,
		external:  external,
		twoFactor: twoFactor,
		sessions:  sessions,
		policy:    policy,
	}
}

func (s *AuthService) Register(ctx context.Context, email, password, name string) (domain.User, error) {
	user, err := s.local.Register(ctx, email, password, name)
	if err == nil {
		s.logger.Info("user registered", zap.String("user_id", user.ID))
	}
	return user, err
}

func (s *AuthService) ConfirmEmail(ctx context.Context, token string) (domain.User, error) {
	return s.local.ConfirmEmail(ctx, token)
}

func (s *AuthService) ResendConfirmation(ctx context.Context, email string) error {
	return s.local.ResendConfirmation(ctx, email)
}

// Login devuelve una sesión, o un reto pendiente si el usuario tiene 2FA.
func (s *AuthService) Login(ctx context.Context, email, password string) (domain.LoginResult, error) {
	user, err := s.local.Authenticate(ctx, email, password)
	if err != nil {
		return domain.LoginResult{}, err
	}
	return s.completeLogin(ctx, user, true)
}

// VerifyTwoFactor emite la sesión si el código es válido.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, userID, code string) (domain.LoginResult, error) {
	if err := s.twoFactor.VerifyChallenge(ctx, userID, code); err != nil {
		return domain.LoginResult{}, err
	}
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return domain.LoginResult{}, err
	}
	return s.completeLogin(ctx, user, false)
}

func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	return s.local.RequestPasswordReset(ctx, email)
}

func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	return s.local.ResetPassword(ctx, token, newPassword)
}

func (s *AuthService) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	return s.local.ChangePassword(ctx, userID, current, newPassword)
}

func (s *AuthService) BeginExternal(ctx context.Context, provider string) (string, error) {
	return s.external.Begin(ctx, provider)
}

func (s *AuthService) CompleteExternal(ctx context.Context, provider, code, state string) (domain.LoginResult, error) {
	user, err := s.external.Complete(ctx, provider, code, state)
	if err != nil {
		return domain.LoginResult{}, err
	}
	return s.completeLogin(ctx, user, s.policy.ExternalLoginTwoFactor)
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.Session, error) {
	return s.sessions.Refresh(ctx, refreshToken)
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.Logout(ctx, refreshToken)
}

func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	return s.sessions.LogoutAll(ctx, userID)
}

// ParseAccessToken valida un access token y devuelve su contenido.
func (s *AuthService) ParseAccessToken(raw string) (VerifiedToken, error) {
	tok, err := s.codec.Verify(raw, TokenAccess)
	if err != nil {
		return VerifiedToken{}, asDomainTokenError(err)
	}
	return tok, nil
}

func (s *AuthService) CurrentUser(ctx context.Context, userID string) (domain.User, error) {
	return s.lookupUser(ctx, userID)
}

func (s *AuthService) SetTwoFactor(ctx context.Context, userID string, enabled bool) (domain.User, error) {
	if err := s.users.SetTwoFactor(ctx, userID, enabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, err
	}
	s.logger.Info("two factor updated", zap.String("user_id", userID), zap.Bool("enabled", enabled))
	return s.lookupUser(ctx, userID)
}

// Wait espera los correos asíncronos pendientes; se llama al apagar el proceso.
func (s *AuthService) Wait() {
	s.local.Wait()
}

func (s *AuthService) completeLogin(ctx context.Context, user domain.User, gate bool) (domain.LoginResult, error) {
	if gate && user.TwoFactorEnabled {
		pending, err := s.twoFactor.IssueChallenge(ctx, user)
		if err != nil {
			return domain.LoginResult{}, err
		}
		return domain.LoginResult{User: user, Pending: &pending}, nil
	}
	session, err := s.sessions.IssueSession(ctx, user.ID)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("issue session: %w", err)
	}
	return domain.LoginResult{User: user, Session: &session}, nil
}

func (s *AuthService) lookupUser(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}
