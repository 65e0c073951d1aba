package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"auth-template/internal/domain"
	"auth-template/internal/oauth"
	"auth-template/internal/repository"
)

// ProviderLookup resuelve un proveedor OAuth por nombre.
type ProviderLookup interface {
	Get(name string) (oauth.Provider, bool)
}

// ExternalAuthFlow implementa el login con proveedores OAuth2 y la vinculación de cuentas.
type ExternalAuthFlow struct {
	logger    *zap.Logger
	users     repository.UserRepository
	codec     *TokenCodec
	cache     SessionCache
	providers ProviderLookup
	timeout   time.Duration
}

func NewExternalAuthFlow(
	logger *zap.Logger,
	users repository.UserRepository,
	codec *TokenCodec,
	cache SessionCache,
	providers ProviderLookup,
	timeout time.Duration,
) *ExternalAuthFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExternalAuthFlow{
		logger:    logger,
		users:     users,
		codec:     codec,
		cache:     cache,
		providers: providers,
		timeout:   timeout,
	}
}

// Begin devuelve la URL de autorización. El state es un token firmado cuyo jti
// indexa el verifier PKCE guardado en caché.
func (f *ExternalAuthFlow) Begin(ctx context.Context, providerName string) (string, error) {
	p, ok := f.providers.Get(providerName)
	if !ok {
		return "", ErrUnknownProvider
	}
	state, err := f.codec.Issue(TokenOAuthState, p.Name(), 0)
	if err != nil {
		return "", fmt.Errorf("issue state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()
	if err := f.cache.PutOAuthState(ctx, state.ID, verifier, state.ExpiresAt.Sub(state.IssuedAt)); err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}
	return p.AuthCodeURL(state.Raw, verifier), nil
}

// Complete valida el state, intercambia el código y resuelve el usuario local.
func (f *ExternalAuthFlow) Complete(ctx context.Context, providerName, code, rawState string) (domain.User, error) {
	p, ok := f.providers.Get(providerName)
	if !ok {
		return domain.User{}, ErrUnknownProvider
	}
	state, err := f.codec.Verify(rawState, TokenOAuthState)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if state.Subject != p.Name() {
		return domain.User{}, fmt.Errorf("%w: provider mismatch", ErrInvalidState)
	}
	verifier, ok, err := f.cache.ConsumeOAuthState(ctx, state.TokenID)
	if err != nil {
		return domain.User{}, fmt.Errorf("consume state: %w", err)
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: state already used", ErrInvalidState)
	}
	if strings.TrimSpace(code) == "" {
		return domain.User{}, fmt.Errorf("%w: missing code", ErrProviderError)
	}

	profile, err := f.fetchProfile(ctx, p, code, verifier)
	if err != nil {
		f.logger.Warn("oauth provider failed", zap.String("provider", p.Name()), zap.Error(err))
		return domain.User{}, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return f.resolve(ctx, p.Name(), profile)
}

func (f *ExternalAuthFlow) fetchProfile(ctx context.Context, p oauth.Provider, code, verifier string) (oauth.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	tok, err := p.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return oauth.Profile{}, err
	}
	return p.FetchProfile(ctx, tok)
}

// resolve aplica el orden: vínculo existente, usuario con el mismo email, usuario nuevo.
// Si una escritura choca con otra completación concurrente se relee el vínculo.
func (f *ExternalAuthFlow) resolve(ctx context.Context, provider string, profile oauth.Profile) (domain.User, error) {
	user, err := f.users.GetByProviderSubject(ctx, provider, profile.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}
	if profile.Email == "" {
		return domain.User{}, fmt.Errorf("%w: provider returned no email", ErrProviderError)
	}

	existing, err := f.users.GetByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		user, err = f.link(ctx, existing, provider, profile)
	case errors.Is(err, pgx.ErrNoRows):
		user, err = f.create(ctx, provider, profile)
	default:
		return domain.User{}, err
	}
	if errors.Is(err, repository.ErrDuplicateIdentity) || errors.Is(err, repository.ErrDuplicateEmail) {
		return f.rereadAfterRace(ctx, provider, profile)
	}
	return user, err
}

func (f *ExternalAuthFlow) link(ctx context.Context, user domain.User, provider string, profile oauth.Profile) (domain.User, error) {
	if !profile.EmailVerified {
		return domain.User{}, fmt.Errorf("%w: email not verified by provider", ErrConflict)
	}
	identities, err := f.users.ListIdentities(ctx, user.ID)
	if err != nil {
		return domain.User{}, err
	}
	for _, ident := range identities {
		if ident.Provider == provider && ident.Subject != profile.Subject {
			return domain.User{}, fmt.Errorf("%w: %s already linked", ErrConflict, provider)
		}
	}
	err = f.users.LinkExternalIdentity(ctx, domain.ExternalIdentity{
		Provider: provider,
		Subject:  profile.Subject,
		UserID:   user.ID,
		Email:    profile.Email,
	})
	if err != nil {
		return domain.User{}, err
	}
	if !user.EmailConfirmed {
		if err := f.users.SetConfirmed(ctx, user.ID); err != nil {
			return domain.User{}, err
		}
		user.EmailConfirmed = true
	}
	f.logger.Info("external identity linked", zap.String("user_id", user.ID), zap.String("provider", provider))
	return user, nil
}

// create exige un email verificado por el proveedor.
func (f *ExternalAuthFlow) create(ctx context.Context, provider string, profile oauth.Profile) (domain.User, error) {
	if !profile.EmailVerified {
		return domain.User{}, fmt.Errorf("%w: email not verified by provider", ErrConflict)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:             uuid.NewString(),
		Email:          profile.Email,
		DisplayName:    displayNameFor(profile),
		EmailConfirmed: true,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	identity := domain.ExternalIdentity{
		Provider:  provider,
		Subject:   profile.Subject,
		UserID:    user.ID,
		Email:     profile.Email,
		CreatedAt: now,
	}
	if err := f.users.CreateWithIdentity(ctx, user, identity); err != nil {
		return domain.User{}, err
	}
	f.logger.Info("external user created", zap.String("user_id", user.ID), zap.String("provider", provider))
	return user, nil
}

func (f *ExternalAuthFlow) rereadAfterRace(ctx context.Context, provider string, profile oauth.Profile) (domain.User, error) {
	user, err := f.users.GetByProviderSubject(ctx, provider, profile.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}
	// El email lo tomó otro registro entre la lectura y la escritura: se intenta vincular.
	existing, err := f.users.GetByEmail(ctx, profile.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrConflict
		}
		return domain.User{}, err
	}
	user, err = f.link(ctx, existing, provider, profile)
	if errors.Is(err, repository.ErrDuplicateIdentity) {
		return domain.User{}, ErrConflict
	}
	return user, err
}

func displayNameFor(profile oauth.Profile) string {
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name, _, _ = strings.Cut(profile.Email, "@")
	}
	if utf8.RuneCountInString(name) > 50 {
		name = string([]rune(name)[:50])
	}
	return name
}
