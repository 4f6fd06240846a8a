package util

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient returns a client with bounded dial/handshake timeouts and the
// given overall request timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// DefaultDur returns def when v is not positive.
func DefaultDur(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Head returns at most n bytes of b, for logging response bodies.
func Head(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
