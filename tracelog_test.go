package denyproxy

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTraceLogger_Entry(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTraceLogger(&buf)

	rc := &RequestContext{
		CorrelationID: uuid.MustParse("6f1c1f3e-8e0e-4a8e-9d1e-2b7f0f3c9a10"),
		Timestamp:     time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
		ClientAddr:    "10.0.0.5:51234",
		TargetURI:     "http://api.example.com/items?x=1",
	}
	tl.Entry(rc)

	want := "Client: 10.0.0.5:51234 ; Request URL: http://api.example.com/items?x=1; " +
		"timestamp: 2025-03-01T12:30:00Z; correlationId: 6f1c1f3e-8e0e-4a8e-9d1e-2b7f0f3c9a10\n"
	if buf.String() != want {
		t.Errorf("Entry() wrote %q, want %q", buf.String(), want)
	}
}

func TestTraceLogger_Outcome(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTraceLogger(&buf)
	id := uuid.MustParse("6f1c1f3e-8e0e-4a8e-9d1e-2b7f0f3c9a10")

	tl.Outcome(id, 403)

	want := "Code: 403 Forbidden ; correlationId: 6f1c1f3e-8e0e-4a8e-9d1e-2b7f0f3c9a10\n" +
		"-------------------------------\n"
	if buf.String() != want {
		t.Errorf("Outcome() wrote %q, want %q", buf.String(), want)
	}
}

func TestTraceLogger_TunnelClosed(t *testing.T) {
	var buf bytes.Buffer
	NewTraceLogger(&buf).TunnelClosed(517, 4096)

	if got := buf.String(); got != "client wrote 517 bytes and received 4096 bytes\n" {
		t.Errorf("TunnelClosed() wrote %q", got)
	}
}

func TestTraceLogger_ConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTraceLogger(&buf)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tl.Outcome(uuid.New(), 200)
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 100 {
		t.Fatalf("got %d lines, want 100", len(lines))
	}
	for i := 0; i < len(lines); i += 2 {
		if !strings.HasPrefix(lines[i], "Code: 200 OK ; correlationId: ") {
			t.Errorf("line %d = %q, want outcome line", i, lines[i])
		}
		if lines[i+1] != traceSeparator {
			t.Errorf("line %d = %q, want separator", i+1, lines[i+1])
		}
	}
}

func TestNewRequestContext(t *testing.T) {
	r := httptest.NewRequest("GET", "http://api.example.com/items", nil)
	r.RemoteAddr = "192.0.2.7:40000"
	p := NewPolicy(nil, nil)

	a := newRequestContext(r, p)
	b := newRequestContext(r, p)

	if a.CorrelationID == b.CorrelationID {
		t.Error("correlation IDs should be unique per request")
	}
	if a.CorrelationID.Version() != 4 {
		t.Errorf("correlation ID version = %d, want 4", a.CorrelationID.Version())
	}
	if a.Timestamp.Location() != time.UTC {
		t.Error("timestamp should be UTC")
	}
	if a.TargetHost != "api.example.com" {
		t.Errorf("TargetHost = %q", a.TargetHost)
	}
	if a.TargetURI != "http://api.example.com/items" {
		t.Errorf("TargetURI = %q", a.TargetURI)
	}
	if a.Policy != p {
		t.Error("Policy should be the given snapshot")
	}
	if got := a.ClientIP(); got != "192.0.2.7" {
		t.Errorf("ClientIP() = %q", got)
	}

	a.ClientAddr = "not-an-addr"
	if got := a.ClientIP(); got != "not-an-addr" {
		t.Errorf("ClientIP() fallback = %q", got)
	}
}
