package denyproxy

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func newForwardRequest(t *testing.T, target string, p *Policy) (*http.Request, *RequestContext) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.RemoteAddr = "198.51.100.20:40123"
	return r, newRequestContext(r, p)
}

func forwardKind(t *testing.T, err error) *RequestError {
	t.Helper()
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error %v is not a *RequestError", err)
	}
	return reqErr
}

func TestRemoveHopByHopHeaders(t *testing.T) {
	h := http.Header{}
	for _, name := range hopByHopHeaders {
		h.Set(name, "x")
	}
	h.Set("Accept", "application/json")

	removeHopByHopHeaders(h)

	for _, name := range hopByHopHeaders {
		if h.Get(name) != "" {
			t.Errorf("%s should be removed", name)
		}
	}
	if h.Get("Accept") != "application/json" {
		t.Error("end-to-end header should be kept")
	}
}

func TestForwardHeaders(t *testing.T) {
	r, rc := newForwardRequest(t, "http://api.example.com/items", nil)
	r.Header.Set("Target", "somewhere")
	r.Header.Set("Host", "spoofed")
	r.Header.Set("Authorization", "Bearer t")
	r.Header.Set("X-Forwarded-For", "203.0.113.1")
	r.Header.Set("Proxy-Connection", "keep-alive")

	h := forwardHeaders(r.Header, rc)

	if h.Get("Target") != "" || h.Get("Host") != "" {
		t.Error("Host and Target should be stripped")
	}
	if h.Get("Proxy-Connection") != "" {
		t.Error("Proxy-Connection should be stripped")
	}
	if h.Get("Authorization") != "Bearer t" {
		t.Error("Authorization should be forwarded")
	}
	if got := h.Values("X-Forwarded-For"); len(got) != 1 || got[0] != "198.51.100.20" {
		t.Errorf("X-Forwarded-For = %q, want single client IP", got)
	}
	if got := h.Get("X-Forwarded-Host"); got != "api.example.com" {
		t.Errorf("X-Forwarded-Host = %q", got)
	}
	if r.Header.Get("Target") != "somewhere" {
		t.Error("inbound headers should not be modified")
	}
}

func TestForwarder_Success(t *testing.T) {
	var gotMethod, gotXFF, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotXFF = r.Header.Get("X-Forwarded-For")
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.String()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{\n  \"id\": 7,\n  \"tags\": [\"a\", \"b\"]\n}\n"))
	}))
	defer upstream.Close()

	f := NewForwarder(upstream.Client())
	r := httptest.NewRequest(http.MethodPost, upstream.URL+"/items", strings.NewReader("ignored body"))
	r.RemoteAddr = "198.51.100.20:40123"
	rc := newRequestContext(r, NewPolicy(nil, []string{"secret"}))

	got, err := f.Forward(r, rc)
	if err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	if got != `{"id":7,"tags":["a","b"]}` {
		t.Errorf("Forward() = %s", got)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("upstream method = %s, want POST", gotMethod)
	}
	if gotBody != "" {
		t.Errorf("upstream body = %q, want empty", gotBody)
	}
	if gotXFF != "198.51.100.20" {
		t.Errorf("upstream X-Forwarded-For = %q", gotXFF)
	}
}

func TestForwarder_Failures(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/created":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		case "/html":
			_, _ = w.Write([]byte("<html>hi</html>"))
		case "/empty":
		case "/banned":
			_, _ = w.Write([]byte(`{"msg":"top secret"}`))
		case "/big":
			_, _ = w.Write([]byte(`"` + strings.Repeat("x", 64) + `"`))
		case "/badenc":
			w.Header().Set("Content-Encoding", "compress")
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer upstream.Close()

	f := NewForwarder(upstream.Client())
	f.MaxBodySize = 32
	p := NewPolicy(nil, []string{"secret"})

	tests := []struct {
		name   string
		path   string
		kind   ErrorKind
		status int
		body   string
	}{
		{name: "not found", path: "/missing", kind: KindUpstreamStatus, status: 404,
			body: "Error! Got response code 404 Not Found from " + upstream.URL + "/missing"},
		{name: "non-200 success", path: "/created", kind: KindUpstreamStatus, status: 201,
			body: "Error! Got response code 201 Created from " + upstream.URL + "/created"},
		{name: "not json", path: "/html", kind: KindInvalidJSON, status: 400},
		{name: "empty body", path: "/empty", kind: KindInvalidJSON, status: 400},
		{name: "banned word", path: "/banned", kind: KindContentRejected, status: 400,
			body: "Content from " + upstream.URL + "/banned not allowed"},
		{name: "too large", path: "/big", kind: KindInvalidJSON, status: 400},
		{name: "unknown encoding", path: "/badenc", kind: KindInvalidJSON, status: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, rc := newForwardRequest(t, upstream.URL+tt.path, p)
			_, err := f.Forward(r, rc)
			reqErr := forwardKind(t, err)
			if reqErr.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", reqErr.Kind, tt.kind)
			}
			if reqErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", reqErr.Status, tt.status)
			}
			if tt.body != "" && reqErr.Body != tt.body {
				t.Errorf("Body = %q, want %q", reqErr.Body, tt.body)
			}
			if tt.kind == KindInvalidJSON && reqErr.Body == "" {
				t.Error("invalid JSON should carry the parse error text")
			}
		})
	}
}

func TestForwarder_TooLargeWrapsSentinel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`"` + strings.Repeat("x", 64) + `"`))
	}))
	defer upstream.Close()

	f := NewForwarder(upstream.Client())
	f.MaxBodySize = 16
	r, rc := newForwardRequest(t, upstream.URL, NewPolicy(nil, nil))

	_, err := f.Forward(r, rc)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("Forward() = %v, want ErrBodyTooLarge", err)
	}
}

func TestForwarder_DecodesZstd(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = zw.Write([]byte(`{"ok":true}`))
	_ = zw.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		_, _ = w.Write(buf.Bytes())
	}))
	defer upstream.Close()

	f := NewForwarder(upstream.Client())
	r, rc := newForwardRequest(t, upstream.URL, NewPolicy(nil, nil))
	r.Header.Set("Accept-Encoding", "zstd")

	got, err := f.Forward(r, rc)
	if err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	if got != `{"ok":true}` {
		t.Errorf("Forward() = %s", got)
	}
}

func TestForwarder_OriginForm(t *testing.T) {
	f := NewForwarder(http.DefaultClient)
	r := httptest.NewRequest(http.MethodGet, "/relative/path", nil)
	rc := newRequestContext(r, NewPolicy(nil, nil))

	_, err := f.Forward(r, rc)
	reqErr := forwardKind(t, err)
	if reqErr.Kind != KindBadRequestURI || reqErr.Status != 400 || reqErr.Body != "" {
		t.Errorf("Forward() = %+v, want bad request URI with empty body", reqErr)
	}
}

func TestForwarder_TransportError(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	f := NewForwarder(NewUpstreamPool().Client())
	r, rc := newForwardRequest(t, addr+"/x", NewPolicy(nil, nil))

	_, err := f.Forward(r, rc)
	reqErr := forwardKind(t, err)
	if reqErr.Kind != KindUpstreamTransport || reqErr.Status != 500 {
		t.Errorf("Forward() = %+v, want upstream transport 500", reqErr)
	}
	if reqErr.Body == "" {
		t.Error("transport error should carry its description")
	}
}
