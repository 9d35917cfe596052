package remote

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// MaxResponseBytes caps a response body. Content and scores are small JSON
// documents.
const MaxResponseBytes = 4 << 20

var ErrResponseTooLarge = errors.New("response body too large")

// TracedClient is an http.Client that records where each request spent its
// time.
type TracedClient struct {
	client *http.Client
}

// NewTracedClient returns a client that keeps a few warm connections to the
// service. timeout bounds each request, zero means no limit.
func NewTracedClient(timeout time.Duration) *TracedClient {
	return &TracedClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

// timeline collects the phase boundaries of one request into m.
type timeline struct {
	m *NetworkMetrics

	getConn, dns, connect, tls time.Time
	gotConn, headers, request  time.Time
	firstByte                  time.Time
}

func (tl *timeline) trace() *httptrace.ClientTrace {
	m := tl.m
	return &httptrace.ClientTrace{
		GetConn: func(string) { tl.getConn = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			tl.gotConn = time.Now()
			m.ConnWait = tl.gotConn.Sub(tl.getConn)
			m.ConnReused = info.Reused
		},
		DNSStart:          func(httptrace.DNSStartInfo) { tl.dns = time.Now() },
		DNSDone:           func(httptrace.DNSDoneInfo) { m.DNS = time.Since(tl.dns) },
		ConnectStart:      func(_, _ string) { tl.connect = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { m.TCP = time.Since(tl.connect) },
		TLSHandshakeStart: func() { tl.tls = time.Now() },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			m.TLS = time.Since(tl.tls)
			m.TLSProtocol = cs.NegotiatedProtocol
		},
		WroteHeaders: func() {
			tl.headers = time.Now()
			m.ReqHeaders = tl.headers.Sub(tl.gotConn)
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			tl.request = time.Now()
			m.ReqBody = tl.request.Sub(tl.headers)
		},
		GotFirstResponseByte: func() {
			tl.firstByte = time.Now()
			m.TTFB = tl.firstByte.Sub(tl.request)
		},
	}
}

// Do sends req and reads the whole body, at most MaxResponseBytes.
func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	tl := &timeline{m: &NetworkMetrics{}}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), tl.trace()))
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxResponseBytes {
		return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrResponseTooLarge, MaxResponseBytes, req.URL.Host)
	}
	if !tl.firstByte.IsZero() {
		tl.m.Download = time.Since(tl.firstByte)
	}
	tl.m.Total = time.Since(start)

	return &TracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    tl.m,
	}, nil
}

// Warm opens a connection to url ahead of the first real request and
// returns the TLS handshake time. Failures are ignored.
func (c *TracedClient) Warm(url string) time.Duration {
	tl := &timeline{m: &NetworkMetrics{}}
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return 0
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), tl.trace()))
	resp, err := c.client.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return tl.m.TLS
}
