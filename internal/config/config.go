package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio. Se construye una vez en main
// y se comparte por puntero; ningún componente la modifica.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"production"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	BackendURL  string `env:"BACKEND_URL" envDefault:"http://localhost:8080"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTIssuer           string        `env:"JWT_ISSUER" envDefault:"auth-template"`
	JWTAccessSecret     string        `env:"JWT_ACCESS_SECRET,required"`
	JWTAccessTTL        time.Duration `env:"JWT_ACCESS_TTL" envDefault:"10m"`
	JWTRefreshSecret    string        `env:"JWT_REFRESH_SECRET,required"`
	JWTRefreshTTL       time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	JWTConfirmSecret    string        `env:"JWT_CONFIRMATION_SECRET,required"`
	JWTConfirmTTL       time.Duration `env:"JWT_CONFIRMATION_TTL" envDefault:"24h"`
	JWTResetSecret      string        `env:"JWT_RESET_SECRET,required"`
	JWTResetTTL         time.Duration `env:"JWT_RESET_TTL" envDefault:"30m"`
	OAuthStateSecret    string        `env:"OAUTH_STATE_SECRET,required"`
	OAuthStateTTL       time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	RefreshCookieName   string        `env:"REFRESH_COOKIE_NAME" envDefault:"refresh_token"`
	RefreshCookieSecure bool          `env:"REFRESH_COOKIE_SECURE" envDefault:"true"`

	TwoFactorSecret      string        `env:"TWO_FACTOR_SECRET,required"`
	TwoFactorTTL         time.Duration `env:"TWO_FACTOR_TTL" envDefault:"5m"`
	TwoFactorMaxAttempts int           `env:"TWO_FACTOR_MAX_ATTEMPTS" envDefault:"5"`

	RequireConfirmedEmail  bool `env:"REQUIRE_CONFIRMED_EMAIL" envDefault:"false"`
	ExternalLoginTwoFactor bool `env:"EXTERNAL_LOGIN_TWO_FACTOR" envDefault:"true"`

	GoogleClientID       string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string        `env:"GOOGLE_CLIENT_SECRET"`
	FacebookClientID     string        `env:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string        `env:"FACEBOOK_CLIENT_SECRET"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string        `env:"SMTP_USER"`
	SMTPPass     string        `env:"SMTP_PASS"`
	SMTPFrom     string        `env:"SMTP_FROM"`
	SMTPFromName string        `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool          `env:"SMTP_USE_TLS" envDefault:"false"`
	EmailTimeout time.Duration `env:"EMAIL_TIMEOUT" envDefault:"10s"`

	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"10"`
}

var ErrSharedSecret = errors.New("jwt secrets must be distinct per token kind")

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rechaza combinaciones que rompen el aislamiento entre tipos de token.
func (c *Config) Validate() error {
	secrets := map[string]string{
		"JWT_ACCESS_SECRET":       c.JWTAccessSecret,
		"JWT_REFRESH_SECRET":      c.JWTRefreshSecret,
		"JWT_CONFIRMATION_SECRET": c.JWTConfirmSecret,
		"JWT_RESET_SECRET":        c.JWTResetSecret,
		"OAUTH_STATE_SECRET":      c.OAuthStateSecret,
	}
	seen := make(map[string]string, len(secrets))
	for name, secret := range secrets {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return fmt.Errorf("%s is empty", name)
		}
		if other, ok := seen[secret]; ok {
			return fmt.Errorf("%w: %s and %s", ErrSharedSecret, other, name)
		}
		seen[secret] = name
	}
	durations := map[string]time.Duration{
		"JWT_ACCESS_TTL":       c.JWTAccessTTL,
		"JWT_REFRESH_TTL":      c.JWTRefreshTTL,
		"JWT_CONFIRMATION_TTL": c.JWTConfirmTTL,
		"JWT_RESET_TTL":        c.JWTResetTTL,
		"OAUTH_STATE_TTL":      c.OAuthStateTTL,
		"TWO_FACTOR_TTL":       c.TwoFactorTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.TwoFactorMaxAttempts <= 0 {
		return errors.New("TWO_FACTOR_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// IsDevelopment indica si el proceso corre en modo desarrollo.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "development")
}
