package denyproxy

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

const traceSeparator = "-------------------------------"

// TraceLogger writes the human-readable, line-oriented request trace.
// Each call produces whole lines in a single write so that lines from
// concurrent requests never interleave.
type TraceLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTraceLogger creates a TraceLogger writing to w. A nil w means stdout.
func NewTraceLogger(w io.Writer) *TraceLogger {
	if w == nil {
		w = os.Stdout
	}
	return &TraceLogger{w: w}
}

// Entry logs the arrival of a request.
func (t *TraceLogger) Entry(rc *RequestContext) {
	t.write(fmt.Sprintf("Client: %s ; Request URL: %s; timestamp: %s; correlationId: %s\n",
		rc.ClientAddr, rc.TargetURI, rc.Timestamp.Format(time.RFC3339Nano), rc.CorrelationID))
}

// Outcome logs the terminal status of a request followed by the separator.
func (t *TraceLogger) Outcome(id uuid.UUID, status int) {
	t.write(fmt.Sprintf("Code: %s ; correlationId: %s\n%s\n", statusLine(status), id, traceSeparator))
}

// TunnelClosed logs the final byte counts of a tunnel.
func (t *TraceLogger) TunnelClosed(sent, received int64) {
	t.write(fmt.Sprintf("client wrote %d bytes and received %d bytes\n", sent, received))
}

func (t *TraceLogger) write(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.w, s)
}
