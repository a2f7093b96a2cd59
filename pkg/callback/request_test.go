package callback

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseLine(raw string) (*request, error) {
	return readRequest(bufio.NewReaderSize(strings.NewReader(raw), maxRequestLine))
}

func TestReadRequest(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		method   string
		path     string
		hasQuery bool
		params   []param
	}{
		{
			name:   "bare callback",
			raw:    "GET /callback HTTP/1.1\r\nHost: localhost\r\n\r\n",
			method: "GET",
			path:   "/callback",
		},
		{
			name:     "code",
			raw:      "GET /callback?code=abc123 HTTP/1.1\r\n",
			method:   "GET",
			path:     "/callback",
			hasQuery: true,
			params:   []param{{key: "code", value: "abc123"}},
		},
		{
			name:     "percent and plus decoding",
			raw:      "GET /callback?code=a%2Fb&state=x+y HTTP/1.1\r\n",
			method:   "GET",
			path:     "/callback",
			hasQuery: true,
			params:   []param{{key: "code", value: "a/b"}, {key: "state", value: "x y"}},
		},
		{
			name:     "empty query",
			raw:      "GET /callback? HTTP/1.1\r\n",
			method:   "GET",
			path:     "/callback",
			hasQuery: true,
		},
		{
			name:   "no protocol version",
			raw:    "GET /other\n",
			method: "GET",
			path:   "/other",
		},
		{
			name:   "request line without terminator",
			raw:    "POST /callback HTTP/1.1",
			method: "POST",
			path:   "/callback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseLine(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.method, req.method)
			assert.Equal(t, tt.path, req.path)
			assert.Equal(t, tt.hasQuery, req.hasQuery)
			assert.Equal(t, tt.params, req.params)
		})
	}
}

func TestReadRequest_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"single token", "garbage\r\n"},
		{"too many tokens", "GET /callback HTTP/1.1 extra\r\n"},
		{"relative target", "GET callback HTTP/1.1\r\n"},
		{"blank line", "\r\n"},
		{"undecodable query", "GET /callback?code=%zz HTTP/1.1\r\n"},
		{"oversized line", "GET /" + strings.Repeat("a", maxRequestLine) + " HTTP/1.1\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseLine(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errMalformedRequest), "got %v", err)
		})
	}
}

func TestReadRequest_EmptyConnection(t *testing.T) {
	_, err := parseLine("")
	require.Error(t, err)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, errors.Is(err, errMalformedRequest))
}

func TestParseQuery_KeepsOrder(t *testing.T) {
	params, err := parseQuery("error=access_denied&code=abc&&flag")
	require.NoError(t, err)

	assert.Equal(t, []param{
		{key: "error", value: "access_denied"},
		{key: "code", value: "abc"},
		{key: "flag", value: ""},
	}, params)
}

func TestParseQuery_Undecodable(t *testing.T) {
	for _, raw := range []string{"code=%zz", "code=abc&bad%=x", "code=%"} {
		_, err := parseQuery(raw)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, errMalformedRequest), "got %v", err)
	}
}

func TestResponseWriteTo(t *testing.T) {
	tests := []struct {
		name     string
		resp     response
		contains []string
		excludes []string
	}{
		{
			name:     "redirect",
			resp:     redirect("https://example.com/authorize?response_type=code"),
			contains: []string{"HTTP/1.1 302 Found\r\n", "Location: https://example.com/authorize?response_type=code\r\n", "Content-Length: 0\r\n"},
			excludes: []string{"Allow:"},
		},
		{
			name:     "method not allowed",
			resp:     methodNotAllowed(),
			contains: []string{"HTTP/1.1 405 Method Not Allowed\r\n", "Allow: GET\r\n"},
		},
		{
			name:     "tokens received",
			resp:     tokensReceived(),
			contains: []string{"HTTP/1.1 200 OK\r\n", "Content-Type: text/plain;charset=UTF-8\r\n", "\r\n\r\nTokens received! You can close this window.\n"},
			excludes: []string{"Location:"},
		},
		{
			name:     "provider error",
			resp:     providerError("access_denied"),
			contains: []string{"HTTP/1.1 200 OK\r\n", "No tokens returned. OAuth2.0 authorization server error: access_denied\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b strings.Builder
			require.NoError(t, tt.resp.writeTo(&b))
			out := b.String()
			assert.Contains(t, out, "Connection: close\r\n")
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, out, s)
			}

			parsed, err := http.ReadResponse(bufio.NewReader(strings.NewReader(out)), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.resp.status, parsed.StatusCode)
			body, err := io.ReadAll(parsed.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.resp.body, string(body))
		})
	}
}
