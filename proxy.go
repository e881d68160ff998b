package denyproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "0.0.0.0:8000"

// Request modes, used as metric and access log labels.
const (
	modeTunnel  = "tunnel"
	modeForward = "forward"
)

// Proxy is a filtering forward proxy. CONNECT requests are tunneled to the
// target untouched; every other method is forwarded upstream and the JSON
// response is screened before it is returned.
type Proxy struct {
	// Addr is the address to listen on (e.g., "0.0.0.0:8000")
	Addr string

	// Policy supplies the forbidden hosts and banned words. A snapshot is
	// taken once per request.
	Policy *PolicyStore

	// Gate decides whether the Host header is allowed.
	Gate HostGate

	// Forwarder runs the forward path (optional, uses a pooled client if nil)
	Forwarder *Forwarder

	// Tunnel relays CONNECT tunnels (optional, uses defaults if nil)
	Tunnel *TunnelRelay

	// Logger for proxy events
	Logger *slog.Logger

	// Trace writes the per-request entry and outcome lines.
	Trace *TraceLogger

	// Metrics collects Prometheus metrics (optional)
	Metrics *Metrics

	// HealthChecker is marked alive once the listener is up (optional)
	HealthChecker *HealthChecker

	// AccessLog writes structured access log entries for each request (optional)
	AccessLog *AccessLogger

	// ReadHeaderTimeout bounds reading the request head. Zero means no limit.
	ReadHeaderTimeout time.Duration

	initOnce sync.Once
	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// NewProxy creates a proxy on addr backed by store.
func NewProxy(addr string, store *PolicyStore) *Proxy {
	return &Proxy{
		Addr:      addr,
		Policy:    store,
		Forwarder: NewForwarder(NewUpstreamPool().Client()),
		Tunnel:    NewTunnelRelay(),
		Logger:    slog.Default(),
		Trace:     NewTraceLogger(nil),
	}
}

// ListenAndServe starts the proxy server.
func (p *Proxy) ListenAndServe() error {
	listener, err := net.Listen("tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return p.Serve(listener)
}

// Serve accepts proxy connections on listener.
func (p *Proxy) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           p,
		ReadHeaderTimeout: p.ReadHeaderTimeout,
	}
	p.mu.Lock()
	p.listener = listener
	p.srv = srv
	p.mu.Unlock()

	if p.HealthChecker != nil {
		p.HealthChecker.SetAlive(true)
		p.HealthChecker.SetReady(true)
	}

	p.logger().Info("proxy listening", "addr", listener.Addr().String())
	return srv.Serve(listener)
}

// Shutdown gracefully stops the proxy. Hijacked tunnels are not tracked by
// the server and keep running until either side closes.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.HealthChecker != nil {
		p.HealthChecker.SetReady(false)
	}
	p.mu.Lock()
	srv := p.srv
	p.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// ListenAddr returns the listener address once serving, or nil.
func (p *Proxy) ListenAddr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// ServeHTTP handles incoming proxy requests.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p.initOnce.Do(p.init)

	var snapshot *Policy
	if p.Policy != nil {
		snapshot = p.Policy.Current()
	}

	rc := newRequestContext(r, snapshot)
	p.Trace.Entry(rc)

	mode := modeForward
	if r.Method == http.MethodConnect {
		mode = modeTunnel
	}
	if p.Metrics != nil {
		p.Metrics.RecordRequest(r.Method, mode)
	}

	logger := p.logger().With("correlation_id", rc.CorrelationID.String())

	if snapshot == nil {
		p.finish(w, r, rc, mode, start, errPolicyUnavailable())
		return
	}

	if !p.Gate.IsAllowed(snapshot, rc.TargetHost) {
		logger.Info("blocked", "host", rc.TargetHost)
		p.finish(w, r, rc, mode, start, errForbiddenHost(rc.TargetHost))
		return
	}

	if mode == modeTunnel {
		p.handleConnect(w, r, rc, logger, start)
		return
	}

	body, err := p.Forwarder.Forward(r, rc)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Kind == KindUpstreamTransport {
			logger.Error("forward request", "error", err, "url", rc.TargetURI)
			if p.Metrics != nil {
				p.Metrics.RecordUpstreamError(rc.TargetHost)
			}
		}
		p.finish(w, r, rc, mode, start, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	n, _ := io.WriteString(w, body)

	p.Trace.Outcome(rc.CorrelationID, http.StatusOK)
	p.record(r, rc, mode, start, http.StatusOK, int64(n), nil)
}

// handleConnect validates the CONNECT target, takes over the client
// connection and starts the tunnel.
func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request, rc *RequestContext, logger *slog.Logger, start time.Time) {
	addr := r.URL.Host
	if _, port, err := net.SplitHostPort(addr); err != nil || port == "" {
		p.finish(w, r, rc, modeTunnel, start, errBadConnectTarget())
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		p.finish(w, r, rc, modeTunnel, start, errHijackFailed(errors.New("response writer does not support hijacking")))
		return
	}

	clientConn, rw, err := hijacker.Hijack()
	if err != nil {
		p.finish(w, r, rc, modeTunnel, start, errHijackFailed(err))
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n")); err != nil {
		logger.Error("write connect response", "error", err)
		_ = clientConn.Close()
		return
	}

	p.Trace.Outcome(rc.CorrelationID, http.StatusOK)
	p.record(r, rc, modeTunnel, start, http.StatusOK, 0, nil)

	go p.runTunnel(newHijackedConn(clientConn, rw), addr, logger)
}

func (p *Proxy) runTunnel(client net.Conn, addr string, logger *slog.Logger) {
	if p.Metrics != nil {
		p.Metrics.IncActiveTunnels()
		defer p.Metrics.DecActiveTunnels()
	}

	sent, received, err := p.Tunnel.Serve(client, addr)
	if p.Metrics != nil {
		p.Metrics.RecordTunnelBytes(sent, received)
	}
	if err != nil {
		logger.Error("tunnel failed", "addr", addr, "error", err, "sent", sent, "received", received)
		if p.Metrics != nil {
			p.Metrics.RecordTunnelError()
		}
		return
	}

	p.Trace.TunnelClosed(sent, received)
}

// finish writes err to the client and records the outcome.
func (p *Proxy) finish(w http.ResponseWriter, r *http.Request, rc *RequestContext, mode string, start time.Time, err error) {
	reqErr := asRequestError(err)

	n := writeError(w, reqErr)

	p.Trace.Outcome(rc.CorrelationID, reqErr.Status)
	if p.Metrics != nil {
		p.Metrics.RecordRejected(reqErr.Kind)
	}
	p.record(r, rc, mode, start, reqErr.Status, n, reqErr)
}

func (p *Proxy) record(r *http.Request, rc *RequestContext, mode string, start time.Time, status int, n int64, reqErr *RequestError) {
	elapsed := time.Since(start)
	if p.Metrics != nil {
		p.Metrics.RecordRequestDuration(mode, status, elapsed)
	}
	if p.AccessLog == nil {
		return
	}

	e := AccessLogEntry{
		Timestamp:     rc.Timestamp,
		CorrelationID: rc.CorrelationID.String(),
		Method:        r.Method,
		Host:          rc.TargetHost,
		URI:           rc.TargetURI,
		Mode:          mode,
		StatusCode:    status,
		Outcome:       "ok",
		Duration:      elapsed,
		BytesWritten:  n,
		ClientAddr:    rc.ClientAddr,
		UserAgent:     r.UserAgent(),
	}
	if reqErr != nil {
		e.Outcome = string(reqErr.Kind)
		if reqErr.Err != nil {
			e.Error = reqErr.Err.Error()
		}
	}
	p.AccessLog.Log(e)
}

// asRequestError converts err into the response it should produce. Errors
// that did not come from the pipeline are reported as transport failures.
func asRequestError(err error) *RequestError {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	return errUpstreamTransport(err)
}

// writeError sends the error body verbatim as text/plain and returns the
// number of body bytes written.
func writeError(w http.ResponseWriter, e *RequestError) int64 {
	h := w.Header()
	h.Del("Content-Length")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.Status)
	if e.Body == "" {
		return 0
	}
	n, _ := io.WriteString(w, e.Body)
	return int64(n)
}

// init fills in collaborators left nil by callers that built the Proxy
// without NewProxy.
func (p *Proxy) init() {
	if p.Trace == nil {
		p.Trace = NewTraceLogger(nil)
	}
	if p.Forwarder == nil {
		p.Forwarder = NewForwarder(NewUpstreamPool().Client())
	}
	if p.Tunnel == nil {
		p.Tunnel = NewTunnelRelay()
	}
}

func (p *Proxy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
