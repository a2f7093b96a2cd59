package callback

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// response is a complete, self-contained HTTP/1.1 response. Every response
// closes the connection.
type response struct {
	status   int
	location string
	body     string
}

func notFound() response {
	return response{status: http.StatusNotFound, body: "Not Found\n"}
}

func methodNotAllowed() response {
	return response{status: http.StatusMethodNotAllowed, body: "Method Not Allowed\n"}
}

func badRequest() response {
	return response{status: http.StatusBadRequest, body: "Bad Request\n"}
}

func redirect(location string) response {
	return response{status: http.StatusFound, location: location}
}

func tokensReceived() response {
	return response{status: http.StatusOK, body: "Tokens received! You can close this window.\n"}
}

func providerError(code string) response {
	return response{
		status: http.StatusOK,
		body:   fmt.Sprintf("No tokens returned. OAuth2.0 authorization server error: %s\n", code),
	}
}

// writeTo serializes the response onto w
func (r response) writeTo(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.status, http.StatusText(r.status))
	b.WriteString("Connection: close\r\n")
	b.WriteString("Server: bearer\r\n")
	if r.status == http.StatusMethodNotAllowed {
		b.WriteString("Allow: GET\r\n")
	}
	if r.location != "" {
		b.WriteString("Location: " + r.location + "\r\n")
	}
	b.WriteString("Content-Type: text/plain;charset=UTF-8\r\n")
	b.WriteString("Content-Length: " + strconv.Itoa(len(r.body)) + "\r\n")
	b.WriteString("\r\n")
	b.WriteString(r.body)

	_, err := io.WriteString(w, b.String())
	return err
}
