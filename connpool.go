package denyproxy

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// UpstreamPool builds the single *http.Client shared by every forwarded
// request. It wraps [http.Transport] with forward-proxy defaults and keeps
// request counters for the admin status endpoint.
type UpstreamPool struct {
	// MaxIdleConns is the total maximum number of idle connections
	// across all hosts. Zero means no limit.
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum number of idle connections
	// per host. Zero means the net/http default (2).
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long an idle connection remains in the pool.
	IdleConnTimeout time.Duration

	// DialTimeout bounds TCP connection setup. Zero means no limit.
	DialTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake with https upstreams.
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers after
	// the request is written. Zero means no timeout.
	ResponseHeaderTimeout time.Duration

	// Timeout bounds the whole upstream exchange including the body.
	// Zero means no timeout.
	Timeout time.Duration

	once   sync.Once
	client *http.Client
	stats  poolStats
}

type poolStats struct {
	totalRequests  atomic.Int64
	activeRequests atomic.Int64
}

// UpstreamPoolStats holds a snapshot of upstream request counters.
type UpstreamPoolStats struct {
	TotalRequests  int64 `json:"total_requests"`
	ActiveRequests int64 `json:"active_requests"`
}

// NewUpstreamPool creates an UpstreamPool with proxy-friendly defaults.
func NewUpstreamPool() *UpstreamPool {
	return &UpstreamPool{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// Client returns the shared client, building it on first use. Later changes
// to the pool fields have no effect.
func (up *UpstreamPool) Client() *http.Client {
	up.once.Do(func() {
		t := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   up.DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          up.MaxIdleConns,
			MaxIdleConnsPerHost:   up.MaxIdleConnsPerHost,
			IdleConnTimeout:       up.IdleConnTimeout,
			TLSHandshakeTimeout:   up.TLSHandshakeTimeout,
			ResponseHeaderTimeout: up.ResponseHeaderTimeout,
			ForceAttemptHTTP2:     true,
		}
		up.client = &http.Client{
			Transport: &countingRoundTripper{base: t, stats: &up.stats},
			Timeout:   up.Timeout,
		}
	})
	return up.client
}

// CloseIdleConnections closes idle upstream connections.
func (up *UpstreamPool) CloseIdleConnections() {
	if up.client != nil {
		up.client.CloseIdleConnections()
	}
}

// Stats returns a snapshot of the request counters.
func (up *UpstreamPool) Stats() UpstreamPoolStats {
	return UpstreamPoolStats{
		TotalRequests:  up.stats.totalRequests.Load(),
		ActiveRequests: up.stats.activeRequests.Load(),
	}
}

type countingRoundTripper struct {
	base  *http.Transport
	stats *poolStats
}

func (rt *countingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.stats.totalRequests.Add(1)
	rt.stats.activeRequests.Add(1)
	defer rt.stats.activeRequests.Add(-1)

	return rt.base.RoundTrip(req)
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the
// underlying transport.
func (rt *countingRoundTripper) CloseIdleConnections() {
	rt.base.CloseIdleConnections()
}
