// Package auth turns registered client credentials into a usable bearer token.
//
// It provides:
//   - Manager, which reuses a valid token or refreshes an expired one
//   - Authenticator, which additionally drives the browser authorization-code
//     flow through a local callback listener when no token exists yet
//   - TokenSource, an oauth2.TokenSource backed by the Manager, so the tokens
//     can authenticate an *http.Client
//
// Nothing here retries. Each call makes at most one authorization attempt and
// returns the errors of the oauth package unmodified.
package auth

import (
	"context"

	"github.com/andreweacott/bearer/pkg/callback"
	"github.com/andreweacott/bearer/pkg/logger"
	"github.com/andreweacott/bearer/pkg/metrics"
	"github.com/andreweacott/bearer/pkg/oauth"
)

// FlowObserver is told when the callback listener is ready and when the
// browser flow is over. The CLI uses it to print the URL, open the browser
// and drive a spinner.
type FlowObserver interface {
	Listening(callbackURL string)
	Done(err error)
}

// Option configures an Authenticator
type Option func(*Authenticator)

// WithCallbackPort sets the local callback port (0 binds an ephemeral port)
func WithCallbackPort(port int) Option {
	return func(a *Authenticator) {
		a.port = port
	}
}

// WithMetrics enables instrumentation of the manager and callback listener
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = m
		a.manager.SetMetrics(m)
	}
}

// WithFlowObserver registers an observer for the browser flow
func WithFlowObserver(o FlowObserver) Option {
	return func(a *Authenticator) {
		a.observer = o
	}
}

// Authenticator composes the lifecycle manager and the callback listener
type Authenticator struct {
	exchanger oauth.Exchanger
	manager   *Manager
	port      int
	log       *logger.Logger
	metrics   *metrics.Metrics
	observer  FlowObserver
}

// NewAuthenticator creates an Authenticator exchanging tokens through exchanger
func NewAuthenticator(exchanger oauth.Exchanger, log *logger.Logger, opts ...Option) *Authenticator {
	log = logger.OrNop(log)
	a := &Authenticator{
		exchanger: exchanger,
		manager:   NewManager(exchanger, log),
		port:      callback.DefaultPort,
		log:       log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Manager returns the lifecycle manager used for the reuse and refresh paths
func (a *Authenticator) Manager() *Manager {
	return a.manager
}

// Authenticate returns a usable token set for client. Without existing tokens
// it runs the browser flow; otherwise the lifecycle manager reuses or
// refreshes them. replaced reports whether the caller has to persist the result.
func (a *Authenticator) Authenticate(ctx context.Context, client string, creds oauth.Credentials, existing *oauth.TokenSet) (tokens oauth.TokenSet, replaced bool, err error) {
	if existing == nil {
		tokens, err = a.Authorize(ctx, client, creds)
		if err != nil {
			return oauth.TokenSet{}, false, err
		}
		return tokens, true, nil
	}
	return a.manager.Ensure(ctx, client, creds, existing)
}

// Authorize runs one authorization-code flow: it starts the callback
// listener, waits for the browser to come back and exchanges the code.
func (a *Authenticator) Authorize(ctx context.Context, client string, creds oauth.Credentials) (oauth.TokenSet, error) {
	if err := creds.Validate(); err != nil {
		return oauth.TokenSet{}, err
	}
	a.metrics.RecordDecision(string(ActionAuthorize))

	listener := callback.NewListener(creds, a.exchanger, a.port, a.log)
	listener.SetMetrics(a.metrics)

	callbackURL, err := listener.Start(ctx)
	if err != nil {
		return oauth.TokenSet{}, err
	}
	a.log.WithClient(client).WithField("flow_id", listener.FlowID()).Info("Waiting for the authorization server callback")
	if a.observer != nil {
		a.observer.Listening(callbackURL)
	}

	tokens, err := listener.Wait(ctx)
	if a.observer != nil {
		a.observer.Done(err)
	}
	if err != nil {
		a.log.WithClient(client).WithError(err).Warn("Authorization flow failed")
		return oauth.TokenSet{}, err
	}

	a.metrics.SetTokenExpiry(client, tokens.ExpiresAt)
	a.log.WithClient(client).WithField("expires_at", tokens.ExpiresAt).Info("Tokens retrieved")
	return tokens, nil
}

// Refresh forces new tokens: a refresh grant when a refresh token is known,
// the full browser flow otherwise.
func (a *Authenticator) Refresh(ctx context.Context, client string, creds oauth.Credentials, existing *oauth.TokenSet) (oauth.TokenSet, error) {
	if existing == nil || !existing.HasRefreshToken() {
		a.log.WithClient(client).Debug("No refresh token, starting the authorization flow")
		return a.Authorize(ctx, client, creds)
	}
	return a.manager.Refresh(ctx, client, creds, existing)
}
