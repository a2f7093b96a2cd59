package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/andreweacott/bearer/pkg/oauth"
	"golang.org/x/oauth2"
)

// TokenSource is an oauth2.TokenSource for one registered client. Each Token
// call goes through the lifecycle manager, so an expired token is refreshed
// once and the new set is handed to the persist callback before it is used.
type TokenSource struct {
	ctx     context.Context
	manager *Manager
	client  string
	creds   oauth.Credentials
	persist func(oauth.TokenSet) error

	mu      sync.Mutex
	current *oauth.TokenSet
}

// NewTokenSource creates a TokenSource starting from current. persist may be
// nil when replaced tokens do not need to be stored.
func NewTokenSource(ctx context.Context, m *Manager, client string, creds oauth.Credentials, current *oauth.TokenSet, persist func(oauth.TokenSet) error) *TokenSource {
	var start *oauth.TokenSet
	if current != nil {
		copied := *current
		start = &copied
	}
	return &TokenSource{
		ctx:     ctx,
		manager: m,
		client:  client,
		creds:   creds,
		persist: persist,
		current: start,
	}
}

// Token implements oauth2.TokenSource
func (s *TokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, replaced, err := s.manager.Ensure(s.ctx, s.client, s.creds, s.current)
	if err != nil {
		return nil, err
	}
	if replaced {
		if s.persist != nil {
			if err := s.persist(tokens); err != nil {
				return nil, fmt.Errorf("failed to persist refreshed tokens for %s: %w", s.client, err)
			}
		}
		s.current = &tokens
	}
	return tokens.OAuth2Token(), nil
}

// NewHTTPClient returns an *http.Client that sends the source's access token
// as an Authorization: Bearer header on every request
func NewHTTPClient(ctx context.Context, src oauth2.TokenSource) *http.Client {
	return oauth2.NewClient(ctx, src)
}
