package oauth

import (
	"net/url"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
)

// Registry maps provider names to their clients. Handlers and services look
// providers up here instead of switching on the name.
type Registry struct {
	providers map[model.ProviderName]Provider
	order     []model.ProviderName
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[model.ProviderName]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.providers[p.Name()]; !dup {
			r.order = append(r.order, p.Name())
		}
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name, or a not-found AppError.
func (r *Registry) Get(name model.ProviderName) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, apperror.NotFound("provider", string(name))
	}
	return p, nil
}

// Names lists the registered providers in registration order.
func (r *Registry) Names() []model.ProviderName {
	out := make([]model.ProviderName, len(r.order))
	copy(out, r.order)
	return out
}

func accessTokenQuery(accessToken string) string {
	return url.Values{"access_token": {accessToken}}.Encode()
}
