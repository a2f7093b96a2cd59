package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andreweacott/bearer/pkg/oauth"
	"github.com/andreweacott/bearer/pkg/oauth/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTokenSource_ValidToken(t *testing.T) {
	ex := new(mocks.MockExchanger)
	persisted := 0
	src := NewTokenSource(context.Background(), newTestManager(ex), "github", testCreds,
		&oauth.TokenSet{AccessToken: "atok", ExpiresAt: testNow.Add(time.Hour)},
		func(oauth.TokenSet) error { persisted++; return nil })

	tok, err := src.Token()

	require.NoError(t, err)
	assert.Equal(t, "atok", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.Type())
	assert.Zero(t, persisted)
	ex.AssertNotCalled(t, "ExchangeRefreshToken", mock.Anything, mock.Anything, mock.Anything)
}

func TestTokenSource_RefreshesOnceAndPersists(t *testing.T) {
	ex := new(mocks.MockExchanger)
	fresh := oauth.TokenSet{AccessToken: "new", ExpiresAt: testNow.Add(time.Hour), RefreshToken: "rtok"}
	ex.On("ExchangeRefreshToken", mock.Anything, testCreds, "rtok").Return(fresh, nil).Once()

	var saved []oauth.TokenSet
	src := NewTokenSource(context.Background(), newTestManager(ex), "github", testCreds,
		&oauth.TokenSet{AccessToken: "old", ExpiresAt: testNow.Add(-time.Minute), RefreshToken: "rtok"},
		func(ts oauth.TokenSet) error { saved = append(saved, ts); return nil })

	first, err := src.Token()
	require.NoError(t, err)
	second, err := src.Token()
	require.NoError(t, err)

	assert.Equal(t, "new", first.AccessToken)
	assert.Equal(t, "new", second.AccessToken)
	assert.Equal(t, []oauth.TokenSet{fresh}, saved)
	ex.AssertNumberOfCalls(t, "ExchangeRefreshToken", 1)
}

func TestTokenSource_PersistFailure(t *testing.T) {
	ex := new(mocks.MockExchanger)
	fresh := oauth.TokenSet{AccessToken: "new", ExpiresAt: testNow.Add(time.Hour)}
	ex.On("ExchangeRefreshToken", mock.Anything, testCreds, "rtok").Return(fresh, nil)
	diskErr := errors.New("disk full")

	src := NewTokenSource(context.Background(), newTestManager(ex), "github", testCreds,
		&oauth.TokenSet{AccessToken: "old", ExpiresAt: testNow.Add(-time.Minute), RefreshToken: "rtok"},
		func(oauth.TokenSet) error { return diskErr })

	_, err := src.Token()
	assert.ErrorIs(t, err, diskErr)
}

func TestTokenSource_NotRegistered(t *testing.T) {
	src := NewTokenSource(context.Background(), newTestManager(new(mocks.MockExchanger)), "github", testCreds, nil, nil)

	_, err := src.Token()
	assert.ErrorIs(t, err, oauth.ErrNotRegistered)
}

func TestNewHTTPClient_SendsBearerHeader(t *testing.T) {
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
	}))
	defer server.Close()

	src := NewTokenSource(context.Background(), newTestManager(new(mocks.MockExchanger)), "github", testCreds,
		&oauth.TokenSet{AccessToken: "atok", ExpiresAt: testNow.Add(time.Hour)}, nil)

	resp, err := NewHTTPClient(context.Background(), src).Get(server.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer atok", header)
}
