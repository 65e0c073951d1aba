package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-template/internal/config"
	"auth-template/internal/domain"
	"auth-template/internal/email"
	"auth-template/internal/repository"
)

func testConfig() *config.Config {
	return &config.Config{
		FrontendURL:          "http://localhost:3000",
		JWTIssuer:            "auth-template-test",
		JWTAccessSecret:      "access-secret-for-tests",
		JWTAccessTTL:         10 * time.Minute,
		JWTRefreshSecret:     "refresh-secret-for-tests",
		JWTRefreshTTL:        24 * time.Hour,
		JWTConfirmSecret:     "confirm-secret-for-tests",
		JWTConfirmTTL:        24 * time.Hour,
		JWTResetSecret:       "reset-secret-for-tests",
		JWTResetTTL:          30 * time.Minute,
		OAuthStateSecret:     "state-secret-for-tests",
		OAuthStateTTL:        10 * time.Minute,
		TwoFactorSecret:      "two-factor-secret-for-tests",
		TwoFactorTTL:         5 * time.Minute,
		TwoFactorMaxAttempts: 5,
		EmailTimeout:         time.Second,
		ProviderTimeout:      time.Second,
	}
}

type mockUserRepo struct {
	mu         sync.Mutex
	users      map[string]domain.User
	identities map[string]domain.ExternalIdentity

	getErr    error
	createErr error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		users:      make(map[string]domain.User),
		identities: make(map[string]domain.ExternalIdentity),
	}
}

func identityKey(provider, subject string) string {
	return provider + "|" + subject
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	return m.insertLocked(user)
}

func (m *mockUserRepo) insertLocked(user domain.User) error {
	for _, u := range m.users {
		if u.Email == user.Email && u.DeletedAt == nil {
			return repository.ErrDuplicateEmail
		}
	}
	user.Version = 1
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) CreateWithIdentity(_ context.Context, user domain.User, identity domain.ExternalIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.identities[identityKey(identity.Provider, identity.Subject)]; ok {
		return repository.ErrDuplicateIdentity
	}
	if err := m.insertLocked(user); err != nil {
		return err
	}
	identity.UserID = user.ID
	m.identities[identityKey(identity.Provider, identity.Subject)] = identity
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.User{}, m.getErr
	}
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return domain.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, emailAddr string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.User{}, m.getErr
	}
	for _, u := range m.users {
		if u.Email == emailAddr && u.DeletedAt == nil {
			return u, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (m *mockUserRepo) GetByProviderSubject(_ context.Context, provider, subject string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[identityKey(provider, subject)]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	u, ok := m.users[ident.UserID]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m *mockUserRepo) ListIdentities(_ context.Context, userID string) ([]domain.ExternalIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ExternalIdentity
	for _, ident := range m.identities {
		if ident.UserID == userID {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (m *mockUserRepo) LinkExternalIdentity(_ context.Context, identity domain.ExternalIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[identityKey(identity.Provider, identity.Subject)]; ok {
		return repository.ErrDuplicateIdentity
	}
	for _, ident := range m.identities {
		if ident.UserID == identity.UserID && ident.Provider == identity.Provider {
			return repository.ErrDuplicateIdentity
		}
	}
	m.identities[identityKey(identity.Provider, identity.Subject)] = identity
	return nil
}

func (m *mockUserRepo) UpdatePasswordHash(_ context.Context, id, hash string, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Version != expectedVersion {
		return 0, repository.ErrStaleVersion
	}
	u.PasswordHash = hash
	u.Version++
	m.users[id] = u
	return u.Version, nil
}

func (m *mockUserRepo) SetConfirmed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	u.EmailConfirmed = true
	m.users[id] = u
	return nil
}

func (m *mockUserRepo) SetTwoFactor(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.TwoFactorEnabled = enabled
	m.users[id] = u
	return nil
}

type sentEmail struct {
	to      string
	kind    email.Kind
	payload email.Payload
}

type mockEmailSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (m *mockEmailSender) Send(_ context.Context, to string, kind email.Kind, payload email.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentEmail{to: to, kind: kind, payload: payload})
	return nil
}

func (m *mockEmailSender) last(kind email.Kind) (sentEmail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].kind == kind {
			return m.sent[i], true
		}
	}
	return sentEmail{}, false
}

func (m *mockEmailSender) count(kind email.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.kind == kind {
			n++
		}
	}
	return n
}

// tokenFromLink extrae el parámetro token de un enlace enviado por correo.
func tokenFromLink(link string) string {
	_, token, _ := strings.Cut(link, "?token=")
	return token
}

type testAuth struct {
	cfg       *config.Config
	users     *mockUserRepo
	cache     SessionCache
	sender    *mockEmailSender
	codec     *TokenCodec
	hasher    *PasswordHasher
	local     *LocalAuthFlow
	twoFactor *TwoFactorFlow
	sessions  *SessionManager
	external  *ExternalAuthFlow
	providers *fakeProviders
	svc       *AuthService
}

func newTestAuth(opts ...func(*config.Config)) *testAuth {
	cfg := testConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	logger := zap.NewNop()
	ta := &testAuth{
		cfg:       cfg,
		users:     newMockUserRepo(),
		cache:     NewMemorySessionCache(cfg.TwoFactorMaxAttempts),
		sender:    &mockEmailSender{},
		codec:     NewTokenCodec(cfg),
		hasher:    newFastPasswordHasher(),
		providers: newFakeProviders(),
	}
	ta.sessions = NewSessionManager(logger, ta.codec, ta.cache)
	ta.twoFactor = NewTwoFactorFlow(logger, ta.cache, ta.sender, cfg.TwoFactorSecret, cfg.TwoFactorTTL)
	ta.local = NewLocalAuthFlow(logger, ta.users, ta.hasher, ta.codec, ta.cache, ta.sender, LocalAuthOptions{
		FrontendURL:           cfg.FrontendURL,
		RequireConfirmedEmail: cfg.RequireConfirmedEmail,
		EmailTimeout:          cfg.EmailTimeout,
	})
	ta.external = NewExternalAuthFlow(logger, ta.users, ta.codec, ta.cache, ta.providers, cfg.ProviderTimeout)
	ta.svc = NewAuthService(logger, ta.users, ta.codec, ta.local, ta.external, ta.twoFactor, ta.sessions, AuthPolicy{
		ExternalLoginTwoFactor: cfg.ExternalLoginTwoFactor,
	})
	return ta
}
