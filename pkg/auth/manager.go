package auth

import (
	"context"
	"time"

	"github.com/andreweacott/bearer/pkg/logger"
	"github.com/andreweacott/bearer/pkg/metrics"
	"github.com/andreweacott/bearer/pkg/oauth"
)

// Action is what the lifecycle manager decided to do with the stored tokens
type Action string

const (
	ActionReuse           Action = "reuse"
	ActionRefresh         Action = "refresh"
	ActionAuthorize       Action = "authorize"
	ActionNotRegistered   Action = "not_registered"
	ActionReauthorization Action = "reauthorization_required"
)

// Decide picks the cheapest path to a usable access token:
//
//	no tokens                          -> not registered
//	not expired                        -> reuse
//	expired, refresh token present     -> refresh
//	expired, no refresh token          -> reauthorization required
func Decide(current *oauth.TokenSet, now time.Time) Action {
	switch {
	case current == nil:
		return ActionNotRegistered
	case !current.Expired(now):
		return ActionReuse
	case current.HasRefreshToken():
		return ActionRefresh
	default:
		return ActionReauthorization
	}
}

// Manager keeps a client's access token usable. It never starts the callback
// flow itself; see Authenticator for that.
type Manager struct {
	exchanger oauth.Exchanger
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewManager creates a lifecycle manager on top of an Exchanger
func NewManager(exchanger oauth.Exchanger, log *logger.Logger) *Manager {
	return &Manager{
		exchanger: exchanger,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
}

// SetMetrics enables decision instrumentation
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// Ensure returns a token set that is valid now. replaced is true when a
// refresh produced a new set that the caller has to persist; on reuse the
// current set is returned as is and no network call is made.
func (m *Manager) Ensure(ctx context.Context, client string, creds oauth.Credentials, current *oauth.TokenSet) (tokens oauth.TokenSet, replaced bool, err error) {
	action := Decide(current, m.now())
	m.metrics.RecordDecision(string(action))
	log := m.log.WithClient(client).WithField("action", string(action))

	switch action {
	case ActionNotRegistered:
		return oauth.TokenSet{}, false, oauth.ErrNotRegistered
	case ActionReauthorization:
		log.Debug("Access token expired without a refresh token")
		return oauth.TokenSet{}, false, oauth.ErrReauthorizationRequired
	case ActionReuse:
		m.metrics.SetTokenExpiry(client, current.ExpiresAt)
		log.WithField("expires_at", current.ExpiresAt).Debug("Access token is still valid")
		return *current, false, nil
	}

	log.WithField("expires_at", current.ExpiresAt).Info("Access token expired, refreshing")
	tokens, err = m.refresh(ctx, client, creds, current.RefreshToken)
	if err != nil {
		return oauth.TokenSet{}, false, err
	}
	return tokens, true, nil
}

// Refresh forces a refresh grant regardless of expiry
func (m *Manager) Refresh(ctx context.Context, client string, creds oauth.Credentials, current *oauth.TokenSet) (oauth.TokenSet, error) {
	switch {
	case current == nil:
		m.metrics.RecordDecision(string(ActionNotRegistered))
		return oauth.TokenSet{}, oauth.ErrNotRegistered
	case !current.HasRefreshToken():
		m.metrics.RecordDecision(string(ActionReauthorization))
		return oauth.TokenSet{}, oauth.ErrReauthorizationRequired
	}

	m.metrics.RecordDecision(string(ActionRefresh))
	m.log.WithClient(client).Info("Refreshing access token")
	return m.refresh(ctx, client, creds, current.RefreshToken)
}

func (m *Manager) refresh(ctx context.Context, client string, creds oauth.Credentials, refreshToken string) (oauth.TokenSet, error) {
	tokens, err := m.exchanger.ExchangeRefreshToken(ctx, creds, refreshToken)
	if err != nil {
		m.log.WithClient(client).WithError(err).Warn("Token refresh failed")
		return oauth.TokenSet{}, err
	}

	m.metrics.SetTokenExpiry(client, tokens.ExpiresAt)
	m.log.WithClient(client).WithField("expires_at", tokens.ExpiresAt).Info("Access token refreshed")
	return tokens, nil
}
