package denyproxy

import (
	"errors"
	"net/http"
	"net/url"
)

// Hop-by-hop headers that should not be forwarded
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopByHopHeaders(h http.Header) {
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}

// Forwarder issues the upstream request for non-CONNECT methods, screens
// the JSON it returns, and produces the body sent back to the client.
type Forwarder struct {
	// Client is the shared upstream client.
	Client *http.Client

	// Screener checks the upstream JSON against the banned words.
	Screener ContentScreener

	// MaxBodySize bounds the buffered upstream body. Zero disables the limit.
	MaxBodySize int64
}

// NewForwarder creates a Forwarder using client.
func NewForwarder(client *http.Client) *Forwarder {
	return &Forwarder{
		Client:      client,
		MaxBodySize: DefaultMaxBodySize,
	}
}

// Forward runs the forward path for r and returns the compact JSON text of
// the upstream response. Failures are returned as *RequestError.
func (f *Forwarder) Forward(r *http.Request, rc *RequestContext) (string, error) {
	target, err := url.Parse(rc.TargetURI)
	if err != nil {
		return "", errBadRequestURI(err)
	}
	if !target.IsAbs() || target.Host == "" {
		return "", errBadRequestURI(errors.New("request target is not an absolute URL"))
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), nil)
	if err != nil {
		return "", errUpstreamTransport(err)
	}
	outReq.Header = forwardHeaders(r.Header, rc)

	resp, err := f.Client.Do(outReq)
	if err != nil {
		return "", errUpstreamTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", errUpstreamStatus(resp.StatusCode, rc.TargetURI)
	}

	body, err := DecodeBody(LimitBody(resp.Body, f.MaxBodySize), resp.Header.Get("Content-Encoding"))
	if err != nil {
		return "", errInvalidJSON(err)
	}
	defer func() { _ = body.Close() }()

	v, err := ParseJSON(body)
	if err != nil {
		return "", errInvalidJSON(err)
	}

	text, err := MarshalJSON(v)
	if err != nil {
		return "", errInvalidJSON(err)
	}

	if !f.Screener.AllowsText(rc.Policy, text) {
		return "", errContentRejected(rc.TargetURI)
	}

	return text, nil
}

// forwardHeaders clones in, strips headers that must not reach the
// upstream, and adds the X-Forwarded-* pair.
func forwardHeaders(in http.Header, rc *RequestContext) http.Header {
	h := in.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Del("Host")
	h.Del("Target")
	removeHopByHopHeaders(h)

	h.Set("X-Forwarded-For", rc.ClientIP())
	h.Set("X-Forwarded-Host", rc.TargetHost)
	return h
}
