package denyproxy

import (
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestContext carries per-request state from entry to response. It is
// created by the dispatcher and passed explicitly to each stage.
type RequestContext struct {
	// CorrelationID is a fresh random UUID that tags every log line for the
	// request.
	CorrelationID uuid.UUID

	// Timestamp is the wall-clock time at entry.
	Timestamp time.Time

	// ClientAddr is the peer address of the connection (ip:port).
	ClientAddr string

	// TargetHost is the verbatim Host header value.
	TargetHost string

	// TargetURI is the request target exactly as the client sent it.
	TargetURI string

	// Policy is the snapshot used for every decision about this request.
	Policy *Policy
}

func newRequestContext(r *http.Request, p *Policy) *RequestContext {
	return &RequestContext{
		CorrelationID: uuid.New(),
		Timestamp:     time.Now().UTC(),
		ClientAddr:    r.RemoteAddr,
		TargetHost:    r.Host,
		TargetURI:     r.RequestURI,
		Policy:        p,
	}
}

// ClientIP returns the client address without its port.
func (rc *RequestContext) ClientIP() string {
	host, _, err := net.SplitHostPort(rc.ClientAddr)
	if err != nil {
		return rc.ClientAddr
	}
	return host
}
