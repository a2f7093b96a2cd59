package callback

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// maxRequestLine bounds the request line; longer lines are rejected as malformed
const maxRequestLine = 4096

// errMalformedRequest marks a request line the listener cannot make sense of
var errMalformedRequest = errors.New("malformed request line")

// request is the part of an HTTP request the listener looks at: the request
// line only. Headers and bodies are never read.
type request struct {
	method   string
	path     string
	hasQuery bool
	params   []param
}

// param is one query string key/value pair, in the order it appeared
type param struct {
	key   string
	value string
}

// parseState is a step of the request line parser
type parseState int

const (
	stateAwaitRequestLine parseState = iota
	stateParseMethod
	stateParsePath
	stateParseQuery
	stateDispatch
)

// readRequest reads and parses the request line from r.
//
// The parser walks await-request-line, method, path, query, dispatch. Any
// step may fail: read errors (including the read deadline) are returned as
// they are, anything unparseable wraps errMalformedRequest.
func readRequest(r *bufio.Reader) (*request, error) {
	var (
		req    = &request{}
		line   string
		fields []string
		target string
	)

	state := stateAwaitRequestLine
	for state != stateDispatch {
		switch state {
		case stateAwaitRequestLine:
			raw, err := r.ReadSlice('\n')
			if errors.Is(err, bufio.ErrBufferFull) {
				return nil, fmt.Errorf("%w: request line exceeds %d bytes", errMalformedRequest, maxRequestLine)
			}
			// A client that half-closes after the request line still gets an answer
			if err != nil && !(errors.Is(err, io.EOF) && len(raw) > 0) {
				return nil, err
			}
			line = strings.TrimRight(string(raw), "\r\n")
			fields = strings.Fields(line)
			if len(fields) < 2 || len(fields) > 3 {
				return nil, fmt.Errorf("%w: %q", errMalformedRequest, line)
			}
			state = stateParseMethod

		case stateParseMethod:
			req.method = fields[0]
			target = fields[1]
			state = stateParsePath

		case stateParsePath:
			path, rawQuery, hasQuery := strings.Cut(target, "?")
			if !strings.HasPrefix(path, "/") {
				return nil, fmt.Errorf("%w: request target %q", errMalformedRequest, target)
			}
			req.path = path
			req.hasQuery = hasQuery
			target = rawQuery
			state = stateParseQuery

		case stateParseQuery:
			params, err := parseQuery(target)
			if err != nil {
				return nil, err
			}
			req.params = params
			state = stateDispatch
		}
	}

	return req, nil
}

// parseQuery splits a raw query string into ordered, percent-decoded pairs.
// A key or value that fails to decode makes the request malformed.
func parseQuery(rawQuery string) ([]param, error) {
	var params []param
	for _, piece := range strings.Split(rawQuery, "&") {
		if piece == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(piece, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("%w: query key %q: %v", errMalformedRequest, rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("%w: query value %q: %v", errMalformedRequest, rawValue, err)
		}
		params = append(params, param{key: key, value: value})
	}
	return params, nil
}
