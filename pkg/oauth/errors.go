package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRegistered means no token metadata exists for the client; the
	// registration flow has to run first.
	ErrNotRegistered = errors.New("client must be registered first (no tokens)")

	// ErrReauthorizationRequired means the access token expired and there is
	// no refresh token, so only a new authorization-code flow can recover.
	ErrReauthorizationRequired = errors.New("access token expired and no refresh token available, authorization required")

	// ErrCircuitOpen is returned while the token endpoint circuit breaker is open
	ErrCircuitOpen = errors.New("token endpoint circuit breaker is open")
)

// TransportError is a connection, DNS, TLS or timeout failure talking to the token endpoint
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("token endpoint %s unreachable: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a token endpoint response with a status of 300 or above
type ProtocolError struct {
	StatusCode int
	Body       string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("token endpoint did not return a valid response, expected 2XX, found %d: %s", e.StatusCode, e.Body)
}

// MalformedResponseError is a 2XX token response that is not JSON or lacks access_token
type MalformedResponseError struct {
	Body string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed token response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// ProviderDeniedError carries the error the provider redirected back with
type ProviderDeniedError struct {
	Code        string
	Description string
}

func (e *ProviderDeniedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization server error: %s (%s)", e.Code, e.Description)
	}
	return "authorization server error: " + e.Code
}

// Outcome labels an exchange result for metrics and logs
func Outcome(err error) string {
	var (
		transportErr *TransportError
		protocolErr  *ProtocolError
		malformedErr *MalformedResponseError
		deniedErr    *ProviderDeniedError
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &transportErr):
		return "transport_error"
	case errors.As(err, &protocolErr):
		return "protocol_error"
	case errors.As(err, &malformedErr):
		return "malformed_response"
	case errors.As(err, &deniedErr):
		return "provider_denied"
	default:
		return "error"
	}
}
