// Package callback implements the temporary local endpoint that completes one
// OAuth2 authorization-code redirect round-trip.
//
// The Listener binds 127.0.0.1:<port> and answers requests one connection at
// a time:
//
//	GET /callback                 302 to the provider authorization URL
//	GET /callback?code=...        200, then the code is exchanged for tokens (terminal)
//	GET /callback?error=...       200 with the provider error (terminal)
//	GET /callback?other=...       400
//	GET /anything-else            404
//	POST, PUT, ...                405
//
// Only the request line is parsed; this is not a general HTTP server. When
// both code and error are present, error wins. Exactly one result is produced
// per Listener, after which the socket is closed. There is no overall timeout:
// cancel the context passed to Start to abandon the flow.
package callback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/andreweacott/bearer/pkg/logger"
	"github.com/andreweacott/bearer/pkg/metrics"
	"github.com/andreweacott/bearer/pkg/oauth"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPort is the default local callback port
	DefaultPort = 6750

	// Path is the only path the listener serves
	Path = "/callback"

	// ReadTimeout bounds how long one connection may take to send its request line
	ReadTimeout = 15 * time.Second

	// lingerTimeout bounds how long unread request bytes are drained before
	// closing, so the peer does not get a reset before reading the response
	lingerTimeout = 500 * time.Millisecond
)

// CodeExchanger exchanges an authorization code for tokens
type CodeExchanger interface {
	ExchangeAuthorizationCode(ctx context.Context, creds oauth.Credentials, code, redirectURI string) (oauth.TokenSet, error)
}

// result is the terminal outcome of one listener run
type result struct {
	tokens oauth.TokenSet
	err    error
}

// outcome is what a terminal request asks the listener to do after answering
type outcome struct {
	code   string
	denied *oauth.ProviderDeniedError
}

// Listener is a single-use local HTTP endpoint for the OAuth2 redirect
type Listener struct {
	creds       oauth.Credentials
	exchanger   CodeExchanger
	port        int
	readTimeout time.Duration
	flowID      string
	log         *logrus.Entry
	metrics     *metrics.Metrics

	listener    net.Listener
	redirectURI string
	results     chan result
	startOnce   sync.Once
}

// NewListener creates a listener for creds on port. A port of 0 binds an
// ephemeral port; the redirect URI always reflects the bound port.
func NewListener(creds oauth.Credentials, exchanger CodeExchanger, port int, log *logger.Logger) *Listener {
	flowID := uuid.NewString()
	return &Listener{
		creds:       creds,
		exchanger:   exchanger,
		port:        port,
		readTimeout: ReadTimeout,
		flowID:      flowID,
		log:         logger.OrNop(log).WithFlowID(flowID),
		results:     make(chan result, 1),
	}
}

// SetMetrics enables callback request instrumentation
func (l *Listener) SetMetrics(m *metrics.Metrics) {
	l.metrics = m
}

// SetReadTimeout overrides the per-connection request line deadline
func (l *Listener) SetReadTimeout(d time.Duration) {
	l.readTimeout = d
}

// FlowID identifies this listener run in logs
func (l *Listener) FlowID() string {
	return l.flowID
}

// RedirectURIForPort returns the callback URL a listener bound to port serves
func RedirectURIForPort(port int) string {
	return fmt.Sprintf("http://localhost:%d%s", port, Path)
}

// RedirectURI returns the callback URL registered with the provider. It is
// also the URL the user visits to start the flow. Empty before Start.
func (l *Listener) RedirectURI() string {
	return l.redirectURI
}

// Start binds the socket and begins serving in the background. It returns the
// local callback URL. Cancelling ctx closes the socket and ends the flow with
// ctx.Err().
func (l *Listener) Start(ctx context.Context) (string, error) {
	err := errors.New("callback listener already started")
	l.startOnce.Do(func() {
		err = l.start(ctx)
	})
	if err != nil {
		return "", err
	}
	return l.redirectURI, nil
}

func (l *Listener) start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", l.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start callback listener on %s (is the port already in use?): %w", addr, err)
	}

	l.listener = ln
	l.port = ln.Addr().(*net.TCPAddr).Port
	l.redirectURI = RedirectURIForPort(l.port)

	l.log.WithField("address", ln.Addr().String()).Info("Callback listener started")

	go l.serve(ctx)
	return nil
}

// Wait blocks until the listener produces its result or ctx is done
func (l *Listener) Wait(ctx context.Context) (oauth.TokenSet, error) {
	select {
	case res, ok := <-l.results:
		if !ok {
			return oauth.TokenSet{}, errors.New("callback listener result already consumed")
		}
		return res.tokens, res.err
	case <-ctx.Done():
		return oauth.TokenSet{}, ctx.Err()
	}
}

// Run starts the listener and waits for its result
func (l *Listener) Run(ctx context.Context) (oauth.TokenSet, error) {
	if _, err := l.Start(ctx); err != nil {
		return oauth.TokenSet{}, err
	}
	return l.Wait(ctx)
}

// serve accepts connections sequentially until a terminal request arrives,
// then publishes exactly one result and closes the results channel
func (l *Listener) serve(ctx context.Context) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.listener.Close()
		case <-stop:
		}
	}()

	res := l.acceptLoop(ctx)

	l.results <- res
	close(l.results)
}

func (l *Listener) acceptLoop(ctx context.Context) result {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			_ = l.listener.Close()
			if ctx.Err() != nil {
				l.log.Info("Callback listener cancelled")
				return result{err: ctx.Err()}
			}
			return result{err: fmt.Errorf("callback listener accept failed: %w", err)}
		}

		out := l.handleConn(conn)
		if out == nil {
			continue
		}

		// Terminal: stop accepting before talking to the token endpoint
		_ = l.listener.Close()
		l.log.Info("Callback listener stopped")

		if out.denied != nil {
			return result{err: out.denied}
		}

		l.log.Debug("Authorization code received, fetching tokens")
		tokens, err := l.exchanger.ExchangeAuthorizationCode(ctx, l.creds, out.code, l.redirectURI)
		return result{tokens: tokens, err: err}
	}
}

// handleConn answers one connection and reports a terminal outcome, if any.
// Connection-level failures never end the flow.
func (l *Listener) handleConn(conn net.Conn) *outcome {
	_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	req, err := readRequest(bufio.NewReaderSize(conn, maxRequestLine))
	if err != nil {
		if errors.Is(err, errMalformedRequest) {
			l.log.WithError(err).Debug("Rejecting malformed request")
			l.respond(conn, badRequest())
			closeGracefully(conn)
			return nil
		}
		l.log.WithError(err).Debug("Abandoning connection without a request line")
		_ = conn.Close()
		return nil
	}

	resp, out := l.dispatch(req)
	l.respond(conn, resp)
	closeGracefully(conn)
	return out
}

// dispatch maps a parsed request onto a response and an optional terminal outcome
func (l *Listener) dispatch(req *request) (response, *outcome) {
	if req.method != "GET" {
		return methodNotAllowed(), nil
	}
	if req.path != Path {
		return notFound(), nil
	}
	if !req.hasQuery {
		l.log.Debug("Redirecting browser to the authorization server")
		return redirect(l.creds.AuthorizationURL(l.redirectURI)), nil
	}

	var (
		code, providerErr, description string
		hasCode, hasError              bool
	)
	for _, p := range req.params {
		switch p.key {
		case "code":
			code, hasCode = p.value, true
		case "error":
			providerErr, hasError = p.value, true
		case "error_description":
			description = p.value
		}
	}

	switch {
	case hasError:
		l.log.WithField("provider_error", providerErr).Warn("Authorization server returned an error")
		return providerError(providerErr), &outcome{denied: &oauth.ProviderDeniedError{Code: providerErr, Description: description}}
	case hasCode:
		return tokensReceived(), &outcome{code: code}
	default:
		return badRequest(), nil
	}
}

func (l *Listener) respond(conn net.Conn, resp response) {
	l.metrics.RecordCallbackRequest(resp.status)
	if err := resp.writeTo(conn); err != nil {
		l.log.WithError(err).Debug("Failed to write callback response")
	}
}

// closeGracefully half-closes the connection and discards whatever the peer
// still sends (headers we never read) until it closes or lingerTimeout passes
func closeGracefully(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	_ = conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, 64<<10))
	_ = conn.Close()
}
