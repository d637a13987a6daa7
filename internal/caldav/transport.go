package caldav

import (
	"errors"
	"net/http"

	appLog "caldavics/internal/log"
)

// BasicAuthTransport implements http.RoundTripper and adds Basic Auth
// credentials to outgoing requests.
type BasicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// NewBasicAuthTransport creates a BasicAuthTransport. If transport is nil,
// http.DefaultTransport is used.
func NewBasicAuthTransport(username, password string, transport http.RoundTripper) *BasicAuthTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &BasicAuthTransport{
		Username:  username,
		Password:  password,
		Transport: transport,
	}
}

// RoundTrip sends req with credentials attached. The caller's request is not
// modified.
func (t *BasicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Username == "" {
		return nil, errors.New("basic auth username cannot be empty")
	}
	if t.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}

	authed := req.Clone(req.Context())
	authed.SetBasicAuth(t.Username, t.Password)

	appLog.Debug("caldav request", "method", req.Method, "url", redactURL(req.URL.String()))
	resp, err := t.Transport.RoundTrip(authed)
	if err == nil {
		appLog.Debug("caldav response", "method", req.Method, "status", resp.StatusCode)
	}
	return resp, err
}
