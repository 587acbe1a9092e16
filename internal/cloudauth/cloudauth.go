// Package cloudauth provides http.RoundTripper decorators that inject
// authentication headers into outbound admin-API requests: a static API
// key, or an OAuth2 client-credentials token that refreshes itself.
package cloudauth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// APIKeyTransport is an http.RoundTripper that injects a static API key
// header on every outbound request. HeaderName is the header to set
// (e.g. "Authorization", "x-api-key"). Prefix is prepended to Key
// (e.g. "Bearer " for Authorization headers).
type APIKeyTransport struct {
	Key        string
	HeaderName string
	Prefix     string
	Base       http.RoundTripper
}

// RoundTrip clones the request and sets the auth header.
func (t *APIKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set(t.HeaderName, t.Prefix+t.Key)
	return t.base().RoundTrip(r2)
}

func (t *APIKeyTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// OAuth2Config describes a client-credentials flow for the gateway admin
// API: the admin client authenticates itself to an identity provider and
// attaches the resulting bearer token to every admin-API request.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// NewOAuth2Transport builds an http.RoundTripper that fetches and caches
// an OAuth2 client-credentials token, refreshing it automatically as it
// nears expiry. base is the underlying transport (e.g. one built with a
// dnscache-aware DialContext); nil uses http.DefaultTransport.
func NewOAuth2Transport(ctx context.Context, cfg OAuth2Config, base http.RoundTripper) http.RoundTripper {
	ccCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	if base == nil {
		base = http.DefaultTransport
	}
	src := ccCfg.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: base}))
	return &oauth2.Transport{Source: src, Base: base}
}
