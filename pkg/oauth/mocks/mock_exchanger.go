// Package mocks provides test doubles for the oauth package.
package mocks

import (
	"context"

	"github.com/andreweacott/bearer/pkg/oauth"
	"github.com/stretchr/testify/mock"
)

// MockExchanger is a mock implementation of the oauth.Exchanger interface
type MockExchanger struct {
	mock.Mock
}

// ExchangeAuthorizationCode implements oauth.Exchanger.ExchangeAuthorizationCode
func (m *MockExchanger) ExchangeAuthorizationCode(ctx context.Context, creds oauth.Credentials, code, redirectURI string) (oauth.TokenSet, error) {
	args := m.Called(ctx, creds, code, redirectURI)
	return args.Get(0).(oauth.TokenSet), args.Error(1)
}

// ExchangeRefreshToken implements oauth.Exchanger.ExchangeRefreshToken
func (m *MockExchanger) ExchangeRefreshToken(ctx context.Context, creds oauth.Credentials, refreshToken string) (oauth.TokenSet, error) {
	args := m.Called(ctx, creds, refreshToken)
	return args.Get(0).(oauth.TokenSet), args.Error(1)
}
