package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-template/internal/domain"
	"auth-template/internal/email"
	"auth-template/internal/repository"
)

// LocalAuthOptions agrupa la política del flujo local.
type LocalAuthOptions struct {
	FrontendURL           string
	RequireConfirmedEmail bool
	EmailTimeout          time.Duration
}

// LocalAuthFlow implementa registro, confirmación, login y reset con contraseña.
type LocalAuthFlow struct {
	logger  *zap.Logger
	users   repository.UserRepository
	hasher  *PasswordHasher
	codec   *TokenCodec
	cache   SessionCache
	sender  email.Sender
	opts    LocalAuthOptions
	pending sync.WaitGroup
}

func NewLocalAuthFlow(
	logger *zap.Logger,
	users repository.UserRepository,
	hasher *PasswordHasher,
	codec *TokenCodec,
	cache SessionCache,
	sender email.Sender,
	opts LocalAuthOptions,
) *LocalAuthFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.EmailTimeout <= 0 {
		opts.EmailTimeout = 10 * time.Second
	}
	opts.FrontendURL = strings.TrimRight(opts.FrontendURL, "/")
	return &LocalAuthFlow{
		logger: logger,
		users:  users,
		hasher: hasher,
		codec:  codec,
		cache:  cache,
		sender: sender,
		opts:   opts,
	}
}

// Register crea el usuario sin confirmar y envía el token de confirmación.
// Si el envío falla la cuenta ya existe y devuelve ErrEmailDispatch.
func (f *LocalAuthFlow) Register(ctx context.Context, emailAddr, password, name string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	name = strings.TrimSpace(name)
	if err := validateEmail(emailAddr); err != nil {
		return domain.User{}, err
	}
	if err := validateDisplayName(name); err != nil {
		return domain.User{}, err
	}
	if err := validatePassword(password); err != nil {
		return domain.User{}, err
	}

	if _, err := f.users.GetByEmail(ctx, emailAddr); err == nil {
		return domain.User{}, ErrEmailTaken
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}

	hash, err := f.hasher.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        emailAddr,
		DisplayName:  name,
		PasswordHash: hash,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}

	if err := f.sendConfirmation(ctx, user); err != nil {
		f.logger.Error("confirmation email failed", zap.String("user_id", user.ID), zap.Error(err))
		return user, fmt.Errorf("%w: %v", ErrEmailDispatch, err)
	}
	return user, nil
}

// ConfirmEmail marca el email como confirmado. Repetirlo con un token vigente no es error.
func (f *LocalAuthFlow) ConfirmEmail(ctx context.Context, raw string) (domain.User, error) {
	tok, err := f.codec.Verify(raw, TokenConfirmation)
	if err != nil {
		return domain.User{}, asDomainTokenError(err)
	}
	user, err := f.users.GetByID(ctx, tok.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidToken
		}
		return domain.User{}, err
	}
	if user.EmailConfirmed {
		return user, nil
	}
	if err := f.users.SetConfirmed(ctx, user.ID); err != nil {
		return domain.User{}, err
	}
	user.EmailConfirmed = true
	return user, nil
}

// ResendConfirmation responde igual exista o no la cuenta.
func (f *LocalAuthFlow) ResendConfirmation(ctx context.Context, emailAddr string) error {
	user, err := f.users.GetByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			f.logger.Warn("resend confirmation lookup failed", zap.Error(err))
		}
		return nil
	}
	if user.EmailConfirmed {
		return nil
	}
	f.dispatchAsync(ctx, "confirmation", func(ctx context.Context) error {
		return f.sendConfirmation(ctx, user)
	})
	return nil
}

// Authenticate valida credenciales. Email desconocido y contraseña incorrecta
// devuelven el mismo error y cuestan lo mismo.
func (f *LocalAuthFlow) Authenticate(ctx context.Context, emailAddr, password string) (domain.User, error) {
	user, err := f.users.GetByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			f.hasher.VerifyDummy(password)
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if !user.HasPassword() {
		f.hasher.VerifyDummy(password)
		return domain.User{}, ErrInvalidCredentials
	}
	ok, err := f.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		f.logger.Error("stored password hash unreadable", zap.String("user_id", user.ID), zap.Error(err))
		return domain.User{}, ErrInvalidCredentials
	}
	if !ok {
		return domain.User{}, ErrInvalidCredentials
	}
	if f.opts.RequireConfirmedEmail && !user.EmailConfirmed {
		f.dispatchAsync(ctx, "confirmation", func(ctx context.Context) error {
			return f.sendConfirmation(ctx, user)
		})
		return domain.User{}, ErrEmailNotConfirmed
	}
	return user, nil
}

// RequestPasswordReset siempre tiene éxito; sólo envía el correo si la cuenta existe.
func (f *LocalAuthFlow) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	user, err := f.users.GetByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			f.logger.Warn("password reset lookup failed", zap.Error(err))
		}
		return nil
	}
	tok, err := f.codec.IssueReset(user.ID, user.Version)
	if err != nil {
		f.logger.Error("issue reset token failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil
	}
	f.dispatchAsync(ctx, "password_reset", func(ctx context.Context) error {
		return f.sender.Send(ctx, user.Email, email.KindPasswordReset, email.Payload{
			Name:      user.DisplayName,
			Link:      f.link("/reset-password", tok.Raw),
			ExpiresAt: tok.ExpiresAt,
		})
	})
	return nil
}

// ResetPassword cambia la contraseña y revoca todas las sesiones. El token queda
// atado a la versión del usuario, así que sólo sirve una vez.
func (f *LocalAuthFlow) ResetPassword(ctx context.Context, raw, newPassword string) error {
	tok, err := f.codec.Verify(raw, TokenReset)
	if err != nil {
		return asDomainTokenError(err)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	user, err := f.users.GetByID(ctx, tok.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidToken
		}
		return err
	}
	if user.Version != tok.Version {
		return fmt.Errorf("%w: reset token already used", ErrInvalidToken)
	}
	if err := f.updatePassword(ctx, user, newPassword); err != nil {
		if errors.Is(err, repository.ErrStaleVersion) {
			return fmt.Errorf("%w: reset token already used", ErrInvalidToken)
		}
		return err
	}
	return nil
}

// ChangePassword exige la contraseña actual y revoca todas las sesiones.
func (f *LocalAuthFlow) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	user, err := f.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if !user.HasPassword() {
		return ErrInvalidCredentials
	}
	ok, err := f.hasher.Verify(current, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if err := f.updatePassword(ctx, user, newPassword); err != nil {
		if errors.Is(err, repository.ErrStaleVersion) {
			return fmt.Errorf("%w: password changed concurrently", ErrConflict)
		}
		return err
	}
	return nil
}

// Wait bloquea hasta que terminen los envíos de correo en curso.
func (f *LocalAuthFlow) Wait() {
	f.pending.Wait()
}

func (f *LocalAuthFlow) updatePassword(ctx context.Context, user domain.User, newPassword string) error {
	hash, err := f.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := f.users.UpdatePasswordHash(ctx, user.ID, hash, user.Version); err != nil {
		return err
	}
	if err := f.cache.RevokeAllForUser(ctx, user.ID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

func (f *LocalAuthFlow) sendConfirmation(ctx context.Context, user domain.User) error {
	tok, err := f.codec.Issue(TokenConfirmation, user.ID, 0)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, f.opts.EmailTimeout)
	defer cancel()
	return f.sender.Send(ctx, user.Email, email.KindConfirmation, email.Payload{
		Name:      user.DisplayName,
		Link:      f.link("/confirm-email", tok.Raw),
		ExpiresAt: tok.ExpiresAt,
	})
}

// dispatchAsync envía fuera del request para que el tiempo de respuesta no revele
// si la cuenta existe.
func (f *LocalAuthFlow) dispatchAsync(ctx context.Context, kind string, send func(context.Context) error) {
	f.pending.Add(1)
	go func() {
		defer f.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opts.EmailTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			f.logger.Error("async email failed", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

func (f *LocalAuthFlow) link(path, token string) string {
	return f.opts.FrontendURL + path + "?token=" + url.QueryEscape(token)
}
