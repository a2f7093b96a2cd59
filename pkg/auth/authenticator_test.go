package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andreweacott/bearer/pkg/oauth"
	"github.com/andreweacott/bearer/pkg/oauth/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// browserObserver plays the browser: once the listener is up it visits the
// callback URL with query, the way the provider redirect would
type browserObserver struct {
	t     *testing.T
	query string

	mu        sync.Mutex
	listening []string
	done      []error
}

func (o *browserObserver) Listening(callbackURL string) {
	o.mu.Lock()
	o.listening = append(o.listening, callbackURL)
	o.mu.Unlock()

	if o.query == "" {
		return
	}
	target := strings.Replace(callbackURL, "localhost", "127.0.0.1", 1) + "?" + o.query
	resp, err := http.Get(target)
	if assert.NoError(o.t, err) {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}

func (o *browserObserver) Done(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = append(o.done, err)
}

func newTestAuthenticator(ex oauth.Exchanger, observer FlowObserver) *Authenticator {
	a := NewAuthenticator(ex, nil, WithCallbackPort(0), WithFlowObserver(observer))
	a.manager.now = func() time.Time { return testNow }
	return a
}

func isLocalCallback(redirectURI string) bool {
	return strings.HasPrefix(redirectURI, "http://localhost:") && strings.HasSuffix(redirectURI, "/callback")
}

func TestAuthorize_CodeFlow(t *testing.T) {
	ex := new(mocks.MockExchanger)
	tokens := oauth.TokenSet{AccessToken: "T", ExpiresAt: testNow.Add(42 * time.Second), RefreshToken: "R"}
	ex.On("ExchangeAuthorizationCode", mock.Anything, testCreds, "abc123", mock.MatchedBy(isLocalCallback)).Return(tokens, nil).Once()
	observer := &browserObserver{t: t, query: "code=abc123"}
	a := newTestAuthenticator(ex, observer)

	got, err := a.Authorize(context.Background(), "github", testCreds)

	require.NoError(t, err)
	assert.Equal(t, tokens, got)
	assert.Len(t, observer.listening, 1)
	assert.Equal(t, []error{nil}, observer.done)
	ex.AssertExpectations(t)
}

func TestAuthorize_ProviderDenied(t *testing.T) {
	ex := new(mocks.MockExchanger)
	observer := &browserObserver{t: t, query: "error=access_denied"}
	a := newTestAuthenticator(ex, observer)

	_, err := a.Authorize(context.Background(), "github", testCreds)

	var denied *oauth.ProviderDeniedError
	require.True(t, errors.As(err, &denied), "got %v", err)
	assert.Equal(t, "access_denied", denied.Code)
	require.Len(t, observer.done, 1)
	assert.Equal(t, err, observer.done[0])
	ex.AssertNotCalled(t, "ExchangeAuthorizationCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthorize_InvalidCredentials(t *testing.T) {
	observer := &browserObserver{t: t}
	a := newTestAuthenticator(new(mocks.MockExchanger), observer)

	_, err := a.Authorize(context.Background(), "github", oauth.Credentials{ClientID: "id"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorize_url")
	assert.Empty(t, observer.listening)
}

func TestAuthorize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := NewAuthenticator(new(mocks.MockExchanger), nil, WithCallbackPort(0), WithFlowObserver(cancelObserver{cancel}))

	_, err := a.Authorize(ctx, "github", testCreds)

	assert.ErrorIs(t, err, context.Canceled)
}

type cancelObserver struct {
	cancel context.CancelFunc
}

func (o cancelObserver) Listening(string) { o.cancel() }
func (o cancelObserver) Done(error)       {}

func TestAuthenticate_NoTokensRunsFlow(t *testing.T) {
	ex := new(mocks.MockExchanger)
	tokens := oauth.TokenSet{AccessToken: "T", ExpiresAt: testNow.Add(time.Hour)}
	ex.On("ExchangeAuthorizationCode", mock.Anything, testCreds, "abc", mock.Anything).Return(tokens, nil)
	observer := &browserObserver{t: t, query: "code=abc"}
	a := newTestAuthenticator(ex, observer)

	got, replaced, err := a.Authenticate(context.Background(), "github", testCreds, nil)

	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, tokens, got)
	assert.Len(t, observer.listening, 1)
}

func TestAuthenticate_ValidTokenIsReused(t *testing.T) {
	ex := new(mocks.MockExchanger)
	observer := &browserObserver{t: t}
	a := newTestAuthenticator(ex, observer)
	current := &oauth.TokenSet{AccessToken: "atok", ExpiresAt: testNow.Add(time.Hour)}

	got, replaced, err := a.Authenticate(context.Background(), "github", testCreds, current)

	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, *current, got)
	assert.Empty(t, observer.listening)
	ex.AssertNotCalled(t, "ExchangeRefreshToken", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthenticate_ExpiredTokenRefreshedWithoutListener(t *testing.T) {
	ex := new(mocks.MockExchanger)
	fresh := oauth.TokenSet{AccessToken: "new", ExpiresAt: testNow.Add(time.Hour), RefreshToken: "rtok"}
	ex.On("ExchangeRefreshToken", mock.Anything, testCreds, "rtok").Return(fresh, nil).Once()
	observer := &browserObserver{t: t}
	a := newTestAuthenticator(ex, observer)
	current := &oauth.TokenSet{AccessToken: "old", ExpiresAt: testNow.Add(-time.Hour), RefreshToken: "rtok"}

	got, replaced, err := a.Authenticate(context.Background(), "github", testCreds, current)

	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, fresh, got)
	assert.Empty(t, observer.listening, "no callback listener may be started")
	ex.AssertNumberOfCalls(t, "ExchangeRefreshToken", 1)
}

func TestAuthenticate_ExpiredWithoutRefreshToken(t *testing.T) {
	observer := &browserObserver{t: t}
	a := newTestAuthenticator(new(mocks.MockExchanger), observer)
	current := &oauth.TokenSet{AccessToken: "old", ExpiresAt: testNow.Add(-time.Hour)}

	_, _, err := a.Authenticate(context.Background(), "github", testCreds, current)

	assert.ErrorIs(t, err, oauth.ErrReauthorizationRequired)
	assert.Empty(t, observer.listening)
}

func TestRefresh_FallsBackToAuthorizationFlow(t *testing.T) {
	ex := new(mocks.MockExchanger)
	tokens := oauth.TokenSet{AccessToken: "T", ExpiresAt: testNow.Add(time.Hour), RefreshToken: "R"}
	ex.On("ExchangeAuthorizationCode", mock.Anything, testCreds, "xyz", mock.Anything).Return(tokens, nil)
	observer := &browserObserver{t: t, query: "code=xyz"}
	a := newTestAuthenticator(ex, observer)

	got, err := a.Refresh(context.Background(), "github", testCreds, &oauth.TokenSet{AccessToken: "old", ExpiresAt: testNow})

	require.NoError(t, err)
	assert.Equal(t, tokens, got)
	assert.Len(t, observer.listening, 1)
	ex.AssertNotCalled(t, "ExchangeRefreshToken", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefresh_UsesRefreshToken(t *testing.T) {
	ex := new(mocks.MockExchanger)
	fresh := oauth.TokenSet{AccessToken: "new", ExpiresAt: testNow.Add(time.Hour), RefreshToken: "rtok"}
	ex.On("ExchangeRefreshToken", mock.Anything, testCreds, "rtok").Return(fresh, nil).Once()
	observer := &browserObserver{t: t}
	a := newTestAuthenticator(ex, observer)

	got, err := a.Refresh(context.Background(), "github", testCreds, &oauth.TokenSet{AccessToken: "old", ExpiresAt: testNow.Add(time.Hour), RefreshToken: "rtok"})

	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Empty(t, observer.listening)
}
