// Package oauth implements the token endpoint side of the OAuth2
// Authorization Code and Refresh Token grants for a single registered client.
//
// It provides:
//   - Credentials, the provider/client record borrowed read-only from the client store
//   - TokenSet, the access token, its absolute expiry and an optional refresh token
//   - Client, which exchanges authorization codes and refresh tokens for a TokenSet
//   - A typed error taxonomy shared by the callback listener and lifecycle manager
//
// No retries are performed here. Wrap an Exchanger with
// NewExchangerWithCircuitBreaker to fail fast against an unhealthy endpoint.
package oauth

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiresIn is used when the provider omits expires_in.
const DefaultExpiresIn = 900 * time.Second

// Credentials describes one registered OAuth2 client. It is immutable once loaded.
type Credentials struct {
	Provider     string
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	Secret       string
	Scope        string
}

// Validate checks that the fields needed by both grants are present
func (c Credentials) Validate() error {
	var missing []string
	if c.AuthorizeURL == "" {
		missing = append(missing, "authorize_url")
	}
	if c.TokenURL == "" {
		missing = append(missing, "token_url")
	}
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if len(missing) > 0 {
		return errors.New("invalid client credentials: missing " + strings.Join(missing, ", "))
	}
	return nil
}

// Endpoint returns the provider endpoints in golang.org/x/oauth2 form.
// Credentials are always sent in the request body.
func (c Credentials) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   c.AuthorizeURL,
		TokenURL:  c.TokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// AuthorizationURL builds the provider authorization request for redirectURI.
//
// Parameters are emitted in a fixed order: response_type, client_id,
// redirect_uri and, when configured, scope.
func (c Credentials) AuthorizationURL(redirectURI string) string {
	var b strings.Builder
	b.WriteString(c.AuthorizeURL)
	if strings.Contains(c.AuthorizeURL, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	b.WriteString("response_type=code")
	b.WriteString("&client_id=")
	b.WriteString(url.QueryEscape(c.ClientID))
	b.WriteString("&redirect_uri=")
	b.WriteString(url.QueryEscape(redirectURI))
	if c.Scope != "" {
		b.WriteString("&scope=")
		b.WriteString(url.QueryEscape(c.Scope))
	}
	return b.String()
}

// TokenSet is an access token with its absolute expiry and an optional refresh
// token. It is replaced as a whole, never mutated field by field.
type TokenSet struct {
	AccessToken  string
	ExpiresAt    time.Time
	RefreshToken string
}

// NewTokenSet creates a TokenSet expiring expiresIn after now
func NewTokenSet(accessToken string, expiresIn time.Duration, refreshToken string, now time.Time) TokenSet {
	return TokenSet{
		AccessToken:  accessToken,
		ExpiresAt:    now.UTC().Add(expiresIn),
		RefreshToken: refreshToken,
	}
}

// Expired reports whether now is strictly after the expiry instant.
// A token expiring exactly at now is still valid.
func (t TokenSet) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// HasRefreshToken reports whether a refresh grant is possible
func (t TokenSet) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// OAuth2Token converts the set to a golang.org/x/oauth2 bearer token
func (t TokenSet) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}
