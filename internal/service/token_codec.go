package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"auth-template/internal/config"
)

// TokenKind discrimina los tipos de token; cada uno tiene su propio secreto y TTL.
type TokenKind string

const (
	TokenAccess       TokenKind = "access"
	TokenRefresh      TokenKind = "refresh"
	TokenConfirmation TokenKind = "confirmation"
	TokenReset        TokenKind = "reset"
	TokenOAuthState   TokenKind = "oauth_state"
)

const tokenLeeway = 5 * time.Second

var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	ErrTokenKindMismatch     = errors.New("token kind mismatch")
	ErrTokenUnknownKind      = errors.New("token kind not configured")
)

// Claims es el payload mínimo de todos los tokens.
type Claims struct {
	Kind    TokenKind `json:"typ"`
	Version int64     `json:"ver,omitempty"`
	jwt.RegisteredClaims
}

// IssuedToken es un token firmado junto con los metadatos que el emisor necesita guardar.
type IssuedToken struct {
	Raw       string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// VerifiedToken es el resultado de verificar un token.
type VerifiedToken struct {
	Subject   string
	TokenID   string
	Version   int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type kindKey struct {
	secret []byte
	ttl    time.Duration
}

// TokenCodec firma y verifica los tokens. No guarda estado.
type TokenCodec struct {
	issuer string
	keys   map[TokenKind]kindKey
	now    func() time.Time
}

func NewTokenCodec(cfg *config.Config) *TokenCodec {
	return &TokenCodec{
		issuer: cfg.JWTIssuer,
		keys: map[TokenKind]kindKey{
			TokenAccess:       {secret: []byte(cfg.JWTAccessSecret), ttl: cfg.JWTAccessTTL},
			TokenRefresh:      {secret: []byte(cfg.JWTRefreshSecret), ttl: cfg.JWTRefreshTTL},
			TokenConfirmation: {secret: []byte(cfg.JWTConfirmSecret), ttl: cfg.JWTConfirmTTL},
			TokenReset:        {secret: []byte(cfg.JWTResetSecret), ttl: cfg.JWTResetTTL},
			TokenOAuthState:   {secret: []byte(cfg.OAuthStateSecret), ttl: cfg.OAuthStateTTL},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// TTL devuelve la vida configurada para un tipo de token.
func (c *TokenCodec) TTL(kind TokenKind) time.Duration {
	return c.keys[kind].ttl
}

// Issue firma un token del tipo indicado. Con ttl <= 0 se usa el TTL del tipo.
func (c *TokenCodec) Issue(kind TokenKind, subject string, ttl time.Duration) (IssuedToken, error) {
	return c.issue(kind, subject, 0, ttl)
}

// IssueReset firma un token de reset ligado a la versión actual del usuario.
func (c *TokenCodec) IssueReset(subject string, version int64) (IssuedToken, error) {
	return c.issue(TokenReset, subject, version, 0)
}

func (c *TokenCodec) issue(kind TokenKind, subject string, version int64, ttl time.Duration) (IssuedToken, error) {
	key, ok := c.keys[kind]
	if !ok || len(key.secret) == 0 {
		return IssuedToken{}, ErrTokenUnknownKind
	}
	if strings.TrimSpace(subject) == "" {
		return IssuedToken{}, fmt.Errorf("%w: empty subject", ErrTokenMalformed)
	}
	if ttl <= 0 {
		ttl = key.ttl
	}
	now := c.now()
	claims := Claims{
		Kind:    kind,
		Version: version,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	// Los access tokens no se revocan; sólo los demás llevan jti.
	if kind != TokenAccess {
		claims.ID = uuid.NewString()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.secret)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{
		Raw:       signed,
		ID:        claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify valida firma, emisor, expiración y tipo.
func (c *TokenCodec) Verify(raw string, expected TokenKind) (VerifiedToken, error) {
	key, ok := c.keys[expected]
	if !ok || len(key.secret) == 0 {
		return VerifiedToken{}, ErrTokenUnknownKind
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return VerifiedToken{}, ErrTokenMalformed
	}

	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	_, err := parser.ParseWithClaims(raw, &claims, func(_ *jwt.Token) (any, error) {
		return key.secret, nil
	})
	if err != nil {
		return VerifiedToken{}, c.classify(raw, expected, err)
	}
	if claims.Kind != expected {
		return VerifiedToken{}, ErrTokenKindMismatch
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return VerifiedToken{}, ErrTokenMalformed
	}
	if expected != TokenAccess && claims.ID == "" {
		return VerifiedToken{}, ErrTokenMalformed
	}

	out := VerifiedToken{
		Subject: claims.Subject,
		TokenID: claims.ID,
		Version: claims.Version,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	out.ExpiresAt = claims.ExpiresAt.Time
	return out, nil
}

func (c *TokenCodec) classify(raw string, expected TokenKind, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		// Una firma inválida con otro "typ" es un token legítimo usado fuera de lugar.
		var unverified Claims
		if _, _, perr := jwt.NewParser().ParseUnverified(raw, &unverified); perr == nil &&
			unverified.Kind != "" && unverified.Kind != expected {
			return ErrTokenKindMismatch
		}
		return ErrTokenInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}

// asDomainTokenError traduce errores del codec a la taxonomía de los flujos.
func asDomainTokenError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
