package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andreweacott/bearer/pkg/logger"
	"github.com/andreweacott/bearer/pkg/metrics"
	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig configures the circuit breaker behavior
type CircuitBreakerConfig struct {
	// MaxConsecutiveFailures is the number of consecutive failures before opening
	MaxConsecutiveFailures uint32
	// Timeout is how long the circuit breaker stays open before trying half-open
	Timeout time.Duration
	// Metrics receives state changes; nil disables them
	Metrics *metrics.Metrics
}

// DefaultCircuitBreakerConfig returns sensible defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxConsecutiveFailures: 3,
		Timeout:                30 * time.Second,
	}
}

// CircuitBreakerState represents the circuit breaker state
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

func circuitStateOf(state gobreaker.State) CircuitBreakerState {
	switch state {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// circuitBreakerExchanger wraps an Exchanger with circuit breaker protection.
// Only transport failures and 5XX responses count against the endpoint;
// every error that passes through is returned unmodified.
type circuitBreakerExchanger struct {
	exchanger Exchanger
	breaker   *gobreaker.CircuitBreaker
	timeout   time.Duration
}

// NewExchangerWithCircuitBreaker wraps an Exchanger with circuit breaker protection
func NewExchangerWithCircuitBreaker(ex Exchanger, config CircuitBreakerConfig, log *logger.Logger) Exchanger {
	log = logger.OrNop(log)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "TokenEndpoint",
		MaxRequests: 1,
		Interval:    config.Timeout,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return !isEndpointFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			config.Metrics.SetCircuitBreakerState(name, int(circuitStateOf(to)))
		},
	})
	config.Metrics.SetCircuitBreakerState(cb.Name(), int(CircuitClosed))

	return &circuitBreakerExchanger{
		exchanger: ex,
		breaker:   cb,
		timeout:   config.Timeout,
	}
}

// ExchangeAuthorizationCode implements Exchanger.ExchangeAuthorizationCode with circuit breaker protection
func (cb *circuitBreakerExchanger) ExchangeAuthorizationCode(ctx context.Context, creds Credentials, code, redirectURI string) (TokenSet, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return cb.exchanger.ExchangeAuthorizationCode(ctx, creds, code, redirectURI)
	})
	if err != nil {
		return TokenSet{}, cb.wrapError(err)
	}
	return result.(TokenSet), nil
}

// ExchangeRefreshToken implements Exchanger.ExchangeRefreshToken with circuit breaker protection
func (cb *circuitBreakerExchanger) ExchangeRefreshToken(ctx context.Context, creds Credentials, refreshToken string) (TokenSet, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return cb.exchanger.ExchangeRefreshToken(ctx, creds, refreshToken)
	})
	if err != nil {
		return TokenSet{}, cb.wrapError(err)
	}
	return result.(TokenSet), nil
}

// wrapError converts circuit breaker errors to user-friendly messages
func (cb *circuitBreakerExchanger) wrapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("%w (will retry after %v): %w", ErrCircuitOpen, cb.timeout, err)
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w (half-open, testing token endpoint recovery): %w", ErrCircuitOpen, err)
	}
	return err
}

// isEndpointFailure reports whether err says something about the health of
// the token endpoint rather than about the request itself
func isEndpointFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		return protocolErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}
