package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andreweacott/bearer/pkg/logger"
	"github.com/andreweacott/bearer/pkg/metrics"
)

// Grant types sent to the token endpoint
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// maxResponseBytes bounds how much of a token response is read
const maxResponseBytes = 1 << 20

// Exchanger turns an authorization code or a refresh token into a TokenSet.
// This interface allows for dependency injection and testing with mocks.
type Exchanger interface {
	// ExchangeAuthorizationCode performs the authorization_code grant
	ExchangeAuthorizationCode(ctx context.Context, creds Credentials, code, redirectURI string) (TokenSet, error)

	// ExchangeRefreshToken performs the refresh_token grant. The returned set
	// keeps refreshToken when the provider does not rotate it.
	ExchangeRefreshToken(ctx context.Context, creds Credentials, refreshToken string) (TokenSet, error)
}

// tokenResponse is the JSON body of a successful token endpoint response
type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	ExpiresIn    json.Number `json:"expires_in"`
	RefreshToken string      `json:"refresh_token"`
}

// Client calls the provider token endpoint over HTTP
type Client struct {
	httpClient *http.Client
	log        *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewClient creates a token endpoint client. A nil httpClient uses a client
// with a 30 second timeout; a nil log discards output.
func NewClient(httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		log:        logger.OrNop(log),
		now:        time.Now,
	}
}

// SetMetrics enables exchange instrumentation
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// ExchangeAuthorizationCode implements Exchanger.ExchangeAuthorizationCode
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, creds Credentials, code, redirectURI string) (TokenSet, error) {
	form := url.Values{}
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.Secret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", GrantAuthorizationCode)

	return c.fetchToken(ctx, GrantAuthorizationCode, creds.TokenURL, form)
}

// ExchangeRefreshToken implements Exchanger.ExchangeRefreshToken
func (c *Client) ExchangeRefreshToken(ctx context.Context, creds Credentials, refreshToken string) (TokenSet, error) {
	form := url.Values{}
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.Secret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", GrantRefreshToken)

	tokens, err := c.fetchToken(ctx, GrantRefreshToken, creds.TokenURL, form)
	if err != nil {
		return TokenSet{}, err
	}
	if !tokens.HasRefreshToken() {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

func (c *Client) fetchToken(ctx context.Context, grantType, tokenURL string, form url.Values) (TokenSet, error) {
	start := c.now()
	tokens, err := c.doFetchToken(ctx, tokenURL, form)
	c.metrics.RecordExchange(grantType, Outcome(err), c.now().Sub(start))

	if err != nil {
		c.log.WithError(err).WithField("grant_type", grantType).WithField("token_url", tokenURL).Debug("Token exchange failed")
		return TokenSet{}, err
	}
	c.log.Debug("Token exchange succeeded", "grant_type", grantType, "token_url", tokenURL,
		"expires_at", tokens.ExpiresAt.Format(time.RFC3339))
	return tokens, nil
}

func (c *Client) doFetchToken(ctx context.Context, tokenURL string, form url.Values) (TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, &TransportError{URL: tokenURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenSet{}, &TransportError{URL: tokenURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return TokenSet{}, &TransportError{URL: tokenURL, Err: fmt.Errorf("failed to read token response: %w", err)}
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return TokenSet{}, &ProtocolError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return c.parseTokenResponse(body)
}

func (c *Client) parseTokenResponse(body []byte) (TokenSet, error) {
	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return TokenSet{}, &MalformedResponseError{Body: string(body), Err: err}
	}
	if parsed.AccessToken == "" {
		return TokenSet{}, &MalformedResponseError{Body: string(body), Err: errors.New("missing access_token")}
	}

	// Only an absent expires_in gets the default, 0 means already expired
	expiresIn := DefaultExpiresIn
	if parsed.ExpiresIn != "" {
		seconds, err := parsed.ExpiresIn.Int64()
		if err != nil {
			return TokenSet{}, &MalformedResponseError{Body: string(body), Err: fmt.Errorf("invalid expires_in: %w", err)}
		}
		if seconds < 0 {
			return TokenSet{}, &MalformedResponseError{Body: string(body), Err: fmt.Errorf("invalid expires_in: %d is negative", seconds)}
		}
		expiresIn = time.Duration(seconds) * time.Second
	}

	return NewTokenSet(parsed.AccessToken, expiresIn, parsed.RefreshToken, c.now()), nil
}
