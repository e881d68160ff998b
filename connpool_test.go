package denyproxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestNewUpstreamPool_Defaults(t *testing.T) {
	up := NewUpstreamPool()

	if up.MaxIdleConns != 200 {
		t.Errorf("MaxIdleConns = %d, want 200", up.MaxIdleConns)
	}
	if up.MaxIdleConnsPerHost != 10 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 10", up.MaxIdleConnsPerHost)
	}
	if up.IdleConnTimeout != 90*time.Second {
		t.Errorf("IdleConnTimeout = %v, want 90s", up.IdleConnTimeout)
	}
	if up.DialTimeout != 30*time.Second {
		t.Errorf("DialTimeout = %v, want 30s", up.DialTimeout)
	}
	if up.TLSHandshakeTimeout != 10*time.Second {
		t.Errorf("TLSHandshakeTimeout = %v, want 10s", up.TLSHandshakeTimeout)
	}
	if up.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", up.Timeout)
	}
}

func TestUpstreamPool_ClientIsShared(t *testing.T) {
	up := NewUpstreamPool()
	up.Timeout = 5 * time.Second

	c1 := up.Client()
	c2 := up.Client()
	if c1 != c2 {
		t.Error("Client() should return the same client")
	}
	if c1.Timeout != 5*time.Second {
		t.Errorf("client Timeout = %v, want 5s", c1.Timeout)
	}

	rt, ok := c1.Transport.(*countingRoundTripper)
	if !ok {
		t.Fatalf("Transport = %T, want *countingRoundTripper", c1.Transport)
	}
	if rt.base.Proxy != nil {
		t.Error("upstream transport must not chain through an environment proxy")
	}
	if rt.base.MaxIdleConnsPerHost != 10 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 10", rt.base.MaxIdleConnsPerHost)
	}
}

func TestUpstreamPool_Stats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	up := NewUpstreamPool()
	client := up.Client()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(srv.URL)
			if err != nil {
				t.Error(err)
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()
	}
	wg.Wait()

	stats := up.Stats()
	if stats.TotalRequests != 5 {
		t.Errorf("TotalRequests = %d, want 5", stats.TotalRequests)
	}
	if stats.ActiveRequests != 0 {
		t.Errorf("ActiveRequests = %d, want 0", stats.ActiveRequests)
	}

	up.CloseIdleConnections()
}

func TestUpstreamPool_CloseIdleBeforeClient(t *testing.T) {
	NewUpstreamPool().CloseIdleConnections()
}
