package denyproxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
	if m.registry == nil {
		t.Fatal("registry should not be nil")
	}
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	// A private registry per instance means no duplicate registration panic.
	_ = NewMetrics()
	_ = NewMetrics()
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("GET", modeForward)
	m.RecordRequest("CONNECT", modeTunnel)
	m.RecordRequest("GET", modeForward)
	m.RecordRejected(KindContentRejected)
	m.RecordRequestDuration(modeForward, 200, 50*time.Millisecond)
	m.IncActiveTunnels()
	m.IncActiveTunnels()
	m.DecActiveTunnels()
	m.RecordTunnelBytes(100, 2048)
	m.RecordTunnelError()
	m.RecordUpstreamError("api.example.com")
	m.SetPolicySize(NewPolicy([]string{"a", "b", "c"}, []string{"w"}))
	m.RecordPolicyReload()
	m.RecordPolicyReloadError()

	body := scrape(t, m)

	expected := []string{
		`denyproxy_requests_total{method="GET",mode="forward"} 2`,
		`denyproxy_requests_total{method="CONNECT",mode="tunnel"} 1`,
		`denyproxy_requests_rejected_total{kind="content_rejected"} 1`,
		`denyproxy_request_duration_seconds_count{mode="forward",status="200"} 1`,
		`denyproxy_active_tunnels 1`,
		`denyproxy_tunnel_bytes_total{direction="client_to_upstream"} 100`,
		`denyproxy_tunnel_bytes_total{direction="upstream_to_client"} 2048`,
		`denyproxy_tunnel_errors_total 1`,
		`denyproxy_upstream_errors_total{host="api.example.com"} 1`,
		`denyproxy_policy_entries{list="forbidden_hosts"} 3`,
		`denyproxy_policy_entries{list="banned_words"} 1`,
		`denyproxy_policy_reloads_total 1`,
		`denyproxy_policy_reload_errors_total 1`,
		"go_goroutines",
	}

	for _, want := range expected {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
