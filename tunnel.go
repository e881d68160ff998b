package denyproxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTunnelDialTimeout bounds the upstream dial of a CONNECT tunnel.
const DefaultTunnelDialTimeout = 10 * time.Second

// TunnelRelay opens the upstream TCP connection for a CONNECT tunnel and
// splices bytes in both directions without inspecting them.
type TunnelRelay struct {
	// DialTimeout bounds the upstream dial. Zero means no limit.
	DialTimeout time.Duration

	// IdleTimeout closes the tunnel when neither side has sent anything
	// for this long. Zero disables it.
	IdleTimeout time.Duration

	// DialContext overrides the dialer (optional).
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewTunnelRelay creates a TunnelRelay with the default dial timeout.
func NewTunnelRelay() *TunnelRelay {
	return &TunnelRelay{DialTimeout: DefaultTunnelDialTimeout}
}

// Serve dials addr and relays between client and the upstream until both
// directions finish. It owns client and closes it before returning. The
// byte counts are valid even when err is non-nil.
func (t *TunnelRelay) Serve(client net.Conn, addr string) (sent, received int64, err error) {
	defer func() { _ = client.Close() }()

	// Tunnels outlive the request that opened them.
	ctx := context.Background()
	if t.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.DialTimeout)
		defer cancel()
	}

	dial := t.DialContext
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	target, err := dial(ctx, "tcp", addr)
	if err != nil {
		return 0, 0, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer func() { _ = target.Close() }()

	if t.IdleTimeout > 0 {
		tracker := newIdleTracker(t.IdleTimeout)
		client = &idleConn{Conn: client, tracker: tracker}
		target = &idleConn{Conn: target, tracker: tracker}
	}

	return Relay(client, target)
}

// Relay copies client to target and target to client concurrently. When a
// direction reaches EOF the write side of its destination is shut down. If
// either direction fails both connections are closed so the other copy
// returns too. sent counts client-to-target bytes, received the reverse.
func Relay(client, target net.Conn) (sent, received int64, err error) {
	var (
		wg      sync.WaitGroup
		sentErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sent, sentErr = io.Copy(target, client)
		if sentErr != nil {
			_ = client.Close()
			_ = target.Close()
			return
		}
		closeWrite(target)
	}()

	received, err = io.Copy(client, target)
	if err != nil {
		_ = client.Close()
		_ = target.Close()
	} else {
		closeWrite(client)
	}

	wg.Wait()

	if err == nil {
		err = sentErr
	}
	return sent, received, err
}

type closeWriter interface {
	CloseWrite() error
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}

// hijackedConn serves reads from the buffered reader returned by Hijack so
// that bytes the client sent right after the CONNECT head are not lost.
type hijackedConn struct {
	net.Conn
	r *bufio.Reader
}

func newHijackedConn(c net.Conn, rw *bufio.ReadWriter) net.Conn {
	if rw == nil || rw.Reader.Buffered() == 0 {
		return c
	}
	return &hijackedConn{Conn: c, r: rw.Reader}
}

func (h *hijackedConn) Read(p []byte) (int, error) {
	return h.r.Read(p)
}

func (h *hijackedConn) CloseWrite() error {
	if cw, ok := h.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

// idleTracker records the last time either side of a tunnel sent data.
type idleTracker struct {
	timeout time.Duration
	last    atomic.Int64
}

func newIdleTracker(timeout time.Duration) *idleTracker {
	t := &idleTracker{timeout: timeout}
	t.touch()
	return t
}

func (t *idleTracker) touch() {
	t.last.Store(time.Now().UnixNano())
}

func (t *idleTracker) idleFor() time.Duration {
	return time.Since(time.Unix(0, t.last.Load()))
}

// idleConn fails a read only when the whole tunnel, not just this
// direction, has been quiet for the tracker's timeout.
type idleConn struct {
	net.Conn
	tracker *idleTracker
}

func (c *idleConn) Read(p []byte) (int, error) {
	for {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.tracker.timeout))
		n, err := c.Conn.Read(p)
		if n > 0 {
			c.tracker.touch()
		}
		var ne net.Error
		if n == 0 && errors.As(err, &ne) && ne.Timeout() && c.tracker.idleFor() < c.tracker.timeout {
			continue
		}
		return n, err
	}
}

func (c *idleConn) CloseWrite() error {
	if cw, ok := c.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}
