package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenCodec_IssueVerifyRoundTrip(t *testing.T) {
	codec := NewTokenCodec(testConfig())

	for _, kind := range []TokenKind{TokenAccess, TokenRefresh, TokenConfirmation, TokenReset, TokenOAuthState} {
		tok, err := codec.Issue(kind, "user-1", 0)
		if err != nil {
			t.Fatalf("%s: issue: %v", kind, err)
		}
		got, err := codec.Verify(tok.Raw, kind)
		if err != nil {
			t.Fatalf("%s: verify: %v", kind, err)
		}
		if got.Subject != "user-1" {
			t.Fatalf("%s: expected subject user-1, got %q", kind, got.Subject)
		}
		if kind == TokenAccess && got.TokenID != "" {
			t.Fatalf("access tokens must not carry a token id")
		}
		if kind != TokenAccess && (got.TokenID == "" || got.TokenID != tok.ID) {
			t.Fatalf("%s: expected token id %q, got %q", kind, tok.ID, got.TokenID)
		}
		if want := codec.TTL(kind); tok.ExpiresAt.Sub(tok.IssuedAt) != want {
			t.Fatalf("%s: expected ttl %v, got %v", kind, want, tok.ExpiresAt.Sub(tok.IssuedAt))
		}
	}
}

func TestTokenCodec_KindsAreNotInterchangeable(t *testing.T) {
	codec := NewTokenCodec(testConfig())

	confirm, err := codec.Issue(TokenConfirmation, "user-1", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := codec.Verify(confirm.Raw, TokenAccess); !errors.Is(err, ErrTokenKindMismatch) {
		t.Fatalf("expected kind mismatch, got %v", err)
	}

	refresh, err := codec.Issue(TokenRefresh, "user-1", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := codec.Verify(refresh.Raw, TokenReset); !errors.Is(err, ErrTokenKindMismatch) {
		t.Fatalf("expected kind mismatch, got %v", err)
	}
}

func TestTokenCodec_KindMismatchWithSharedSecret(t *testing.T) {
	cfg := testConfig()
	cfg.JWTConfirmSecret = cfg.JWTAccessSecret
	codec := NewTokenCodec(cfg)

	confirm, err := codec.Issue(TokenConfirmation, "user-1", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := codec.Verify(confirm.Raw, TokenAccess); !errors.Is(err, ErrTokenKindMismatch) {
		t.Fatalf("expected kind mismatch even with a shared secret, got %v", err)
	}
}

func TestTokenCodec_Expiry(t *testing.T) {
	codec := NewTokenCodec(testConfig())
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	codec.now = func() time.Time { return base }

	tok, err := codec.Issue(TokenConfirmation, "user-1", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	codec.now = func() time.Time { return base.Add(time.Minute + 3*time.Second) }
	if _, err := codec.Verify(tok.Raw, TokenConfirmation); err != nil {
		t.Fatalf("expected token within leeway to verify, got %v", err)
	}

	codec.now = func() time.Time { return base.Add(time.Minute + tokenLeeway + time.Second) }
	if _, err := codec.Verify(tok.Raw, TokenConfirmation); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestTokenCodec_RejectsForgedTokens(t *testing.T) {
	cfg := testConfig()
	codec := NewTokenCodec(cfg)

	forge := func(secret string, claims Claims) string {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return raw
	}
	now := time.Now().UTC()
	valid := Claims{
		Kind: TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.JWTIssuer,
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}

	t.Run("wrong secret", func(t *testing.T) {
		_, err := codec.Verify(forge("not-the-secret", valid), TokenAccess)
		if !errors.Is(err, ErrTokenInvalidSignature) {
			t.Fatalf("expected invalid signature, got %v", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		c := valid
		c.Issuer = "someone-else"
		if _, err := codec.Verify(forge(cfg.JWTAccessSecret, c), TokenAccess); err == nil {
			t.Fatalf("expected issuer mismatch to fail")
		}
	})

	t.Run("missing expiry", func(t *testing.T) {
		c := valid
		c.ExpiresAt = nil
		if _, err := codec.Verify(forge(cfg.JWTAccessSecret, c), TokenAccess); err == nil {
			t.Fatalf("expected token without exp to fail")
		}
	})

	t.Run("refresh without token id", func(t *testing.T) {
		c := valid
		c.Kind = TokenRefresh
		_, err := codec.Verify(forge(cfg.JWTRefreshSecret, c), TokenRefresh)
		if !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("expected malformed, got %v", err)
		}
	})

	t.Run("unsigned token", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, valid).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := codec.Verify(raw, TokenAccess); err == nil {
			t.Fatalf("expected alg none to be rejected")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := codec.Verify("abc.def", TokenAccess); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("expected malformed, got %v", err)
		}
		if _, err := codec.Verify("  ", TokenAccess); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("expected malformed for empty token, got %v", err)
		}
	})
}

func TestTokenCodec_ResetCarriesVersion(t *testing.T) {
	codec := NewTokenCodec(testConfig())
	tok, err := codec.IssueReset("user-1", 7)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := codec.Verify(tok.Raw, TokenReset)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Version != 7 {
		t.Fatalf("expected version 7, got %d", got.Version)
	}
}

func TestAsDomainTokenError(t *testing.T) {
	if !errors.Is(asDomainTokenError(ErrTokenExpired), ErrTokenExpired) {
		t.Fatalf("expected expired to stay expired")
	}
	for _, err := range []error{ErrTokenKindMismatch, ErrTokenInvalidSignature, ErrTokenMalformed} {
		if !errors.Is(asDomainTokenError(err), ErrInvalidToken) {
			t.Fatalf("expected %v to map to invalid token", err)
		}
	}
	if asDomainTokenError(nil) != nil {
		t.Fatalf("expected nil")
	}
}
