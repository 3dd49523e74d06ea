// Package exchange provides a unified interface for talking to exchange APIs.
package exchange

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPClient is the pooled HTTP client every REST call in this process
// shares: one connection pool toward the venue instead of one per
// adapter, keep-alives on, compression off (the payloads are small and
// the latency path matters more than bytes on the wire).
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient builds a client whose overall per-request budget is
// timeout; connect, TLS handshake, and first-response-byte each get
// their own tighter bound so one slow phase can't silently eat the
// whole budget.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout: 5 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},

		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: time.Second,

		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}
	return &HTTPClient{client: &http.Client{Transport: transport, Timeout: timeout}}
}

func (hc *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// Close releases idle connections; call on graceful shutdown.
func (hc *HTTPClient) Close() {
	hc.client.CloseIdleConnections()
}

var (
	sharedClient *HTTPClient
	sharedOnce   sync.Once
)

// GetGlobalHTTPClient returns the process-wide shared client, built once
// with a 30s total budget — generous against the leg deadline, tight
// enough that a hung call can't outlive its caller's patience.
func GetGlobalHTTPClient() *HTTPClient {
	sharedOnce.Do(func() {
		sharedClient = NewHTTPClient(30 * time.Second)
	})
	return sharedClient
}
