package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-template/internal/config"
	"auth-template/internal/domain"
	"auth-template/internal/email"
	"auth-template/internal/oauth"
	"auth-template/internal/repository"
	"auth-template/internal/service"
)

type memUserRepo struct {
	mu         sync.Mutex
	users      map[string]domain.User
	identities map[string]domain.ExternalIdentity
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		users:      make(map[string]domain.User),
		identities: make(map[string]domain.ExternalIdentity),
	}
}

func (m *memUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	user.Version = 1
	m.users[user.ID] = user
	return nil
}

func (m *memUserRepo) CreateWithIdentity(ctx context.Context, user domain.User, identity domain.ExternalIdentity) error {
	if err := m.Create(ctx, user); err != nil {
		return err
	}
	identity.UserID = user.ID
	return m.LinkExternalIdentity(ctx, identity)
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m *memUserRepo) GetByEmail(_ context.Context, addr string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == addr {
			return u, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (m *memUserRepo) GetByProviderSubject(ctx context.Context, provider, subject string) (domain.User, error) {
	m.mu.Lock()
	ident, ok := m.identities[provider+"|"+subject]
	m.mu.Unlock()
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.GetByID(ctx, ident.UserID)
}

func (m *memUserRepo) ListIdentities(_ context.Context, userID string) ([]domain.ExternalIdentity, error) {
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

func (m *memUserRepo) LinkExternalIdentity(_ context.Context, identity domain.ExternalIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identity.Provider + "|" + identity.Subject
	if _, ok := m.identities[key]; ok {
		return repository.ErrDuplicateIdentity
	}
	m.identities[key] = identity
	return nil
}

func (m *memUserRepo) UpdatePasswordHash(_ context.Context, id, hash string, expectedVersion int64) (int64, error) {
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

func (m *memUserRepo) SetConfirmed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.EmailConfirmed = true
	m.users[id] = u
	return nil
}

func (m *memUserRepo) SetTwoFactor(_ context.Context, id string, enabled bool) error {
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

type captureSender struct {
	mu   sync.Mutex
	sent map[email.Kind][]email.Payload
}

func (s *captureSender) Send(_ context.Context, _ string, kind email.Kind, payload email.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[email.Kind][]email.Payload)
	}
	s.sent[kind] = append(s.sent[kind], payload)
	return nil
}

func (s *captureSender) last(kind email.Kind) email.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sent[kind]
	if len(list) == 0 {
		return email.Payload{}
	}
	return list[len(list)-1]
}

type testServer struct {
	router *gin.Engine
	auth   *service.AuthService
	users  *memUserRepo
	sender *captureSender
}

func newTestServer(t *testing.T, limiter service.RateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		FrontendURL:      "http://localhost:3000",
		JWTIssuer:        "auth-template-test",
		JWTAccessSecret:  "access-secret",
		JWTAccessTTL:     10 * time.Minute,
		JWTRefreshSecret: "refresh-secret",
		JWTRefreshTTL:    time.Hour,
		JWTConfirmSecret: "confirm-secret",
		JWTConfirmTTL:    time.Hour,
		JWTResetSecret:   "reset-secret",
		JWTResetTTL:      time.Hour,
		OAuthStateSecret: "state-secret",
		OAuthStateTTL:    time.Minute,
		TwoFactorSecret:  "2fa-secret",
		TwoFactorTTL:     time.Minute,
		EmailTimeout:     time.Second,
		ProviderTimeout:  time.Second,
	}
	logger := zap.NewNop()
	users := newMemUserRepo()
	sender := &captureSender{}
	cache := service.NewMemorySessionCache(5)
	codec := service.NewTokenCodec(cfg)

	sessions := service.NewSessionManager(logger, codec, cache)
	twoFactor := service.NewTwoFactorFlow(logger, cache, sender, cfg.TwoFactorSecret, cfg.TwoFactorTTL)
	local := service.NewLocalAuthFlow(logger, users, service.NewPasswordHasher(), codec, cache, sender, service.LocalAuthOptions{
		FrontendURL:  cfg.FrontendURL,
		EmailTimeout: cfg.EmailTimeout,
	})
	external := service.NewExternalAuthFlow(logger, users, codec, cache, oauth.NewRegistry(), cfg.ProviderTimeout)
	authSvc := service.NewAuthService(logger, users, codec, local, external, twoFactor, sessions, service.AuthPolicy{})
	t.Cleanup(authSvc.Wait)

	router := NewRouter(
		logger,
		authSvc,
		NewAuthHandler(logger, authSvc, CookieConfig{Name: "refresh_token", MaxAge: cfg.JWTRefreshTTL}),
		NewUserHandler(logger, authSvc),
		NewHealthHandler(logger, nil),
		limiter,
	)
	return &testServer{router: router, auth: authSvc, users: users, sender: sender}
}

func (s *testServer) do(method, path string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, mod := range mods {
		mod(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

// signupAndConfirm registra un usuario, lo confirma y devuelve su id.
func (s *testServer) signupAndConfirm(t *testing.T, addr, password string) string {
	t.Helper()
	rec := s.do(http.MethodPost, "/auth/register", gin.H{"email": addr, "password": password, "name": "Tester"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	link := s.sender.last(email.KindConfirmation).Link
	_, token, _ := strings.Cut(link, "?token=")
	rec = s.do(http.MethodPost, "/auth/confirm", gin.H{"token": token})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	user := decodeBody(t, rec)["user"].(map[string]any)
	return user["id"].(string)
}
