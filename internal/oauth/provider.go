package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	Google   = "google"
	Facebook = "facebook"
)

var ErrProfile = errors.New("provider profile unusable")

// Profile es la identidad que devuelve un proveedor tras el intercambio.
type Profile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Provider es la capacidad común de todos los proveedores OAuth2.
type Provider interface {
	Name() string
	AuthCodeURL(state, verifier string) string
	ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (Profile, error)
}

// Option ajusta un proveedor; pensado para apuntar a servidores de prueba.
type Option func(*provider)

func WithHTTPClient(client *http.Client) Option {
	return func(p *provider) {
		if client != nil {
			p.client = client
		}
	}
}

func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(p *provider) {
		p.conf.Endpoint = endpoint
	}
}

func WithProfileURL(profileURL string) Option {
	return func(p *provider) {
		p.profileURL = profileURL
	}
}

type provider struct {
	name       string
	conf       *oauth2.Config
	profileURL string
	decode     func([]byte) (Profile, error)
	client     *http.Client
}

func newProvider(name string, conf *oauth2.Config, profileURL string, decode func([]byte) (Profile, error), opts ...Option) *provider {
	p := &provider{
		name:       name,
		conf:       conf,
		profileURL: profileURL,
		decode:     decode,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *provider) Name() string {
	return p.name
}

// AuthCodeURL incluye el challenge PKCE S256 derivado del verifier.
func (p *provider) AuthCodeURL(state, verifier string) string {
	return p.conf.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

func (p *provider) ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%s exchange: %w", p.name, err)
	}
	return tok, nil
}

func (p *provider) FetchProfile(ctx context.Context, token *oauth2.Token) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return Profile{}, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	resp, err := p.conf.Client(ctx, token).Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%s profile: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Profile{}, fmt.Errorf("%s profile: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%s profile: unexpected status %d", p.name, resp.StatusCode)
	}
	profile, err := p.decode(body)
	if err != nil {
		return Profile{}, fmt.Errorf("%s profile: %w", p.name, err)
	}
	profile.Email = strings.ToLower(strings.TrimSpace(profile.Email))
	if profile.Subject == "" {
		return Profile{}, fmt.Errorf("%w: missing subject", ErrProfile)
	}
	return profile, nil
}

func decodeJSON(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrProfile, err)
	}
	return nil
}
