// Package remote holds the HTTP plumbing shared by the content and scoring
// clients: a traced client, bearer authorization and status mapping.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"parley/auth"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

// StatusError is a non-2xx response. 401 and 403 unwrap to
// auth.ErrUnauthorized.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s API error %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s API error %d: %s", e.Service, e.Code, body)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return auth.ErrUnauthorized
	}
	return nil
}

// CheckStatus returns a *StatusError for responses outside 2xx.
func CheckStatus(service string, resp *TracedResponse) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{Service: service, Code: resp.StatusCode, Body: string(resp.Body)}
}

// Authorize sets the bearer token from creds on req.
func Authorize(ctx context.Context, req *http.Request, creds auth.Credentials) error {
	if creds == nil {
		return auth.ErrNoToken
	}
	token, err := creds.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// FirstNonEmpty returns the first header value set among keys, or "?".
func FirstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}
