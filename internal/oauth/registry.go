package oauth

import (
	"net/http"
	"sort"
	"strings"

	"auth-template/internal/config"
)

// Registry resuelve proveedores por nombre.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// NewRegistryFromConfig registra sólo los proveedores con client id configurado.
func NewRegistryFromConfig(cfg *config.Config) *Registry {
	client := &http.Client{Timeout: cfg.ProviderTimeout}
	base := strings.TrimRight(cfg.BackendURL, "/")
	var providers []Provider
	if cfg.GoogleClientID != "" {
		providers = append(providers, NewGoogle(
			cfg.GoogleClientID,
			cfg.GoogleClientSecret,
			base+"/auth/"+Google+"/callback",
			WithHTTPClient(client),
		))
	}
	if cfg.FacebookClientID != "" {
		providers = append(providers, NewFacebook(
			cfg.FacebookClientID,
			cfg.FacebookClientSecret,
			base+"/auth/"+Facebook+"/callback",
			WithHTTPClient(client),
		))
	}
	return NewRegistry(providers...)
}

func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
