package denyproxy

import (
	"errors"
	"fmt"
	"io"
)

// Common body size constants for convenience.
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// DefaultMaxBodySize bounds how much of an upstream response is buffered
// for JSON screening.
const DefaultMaxBodySize = 10 * MB

// ErrBodyTooLarge is returned when an upstream body exceeds the configured limit.
var ErrBodyTooLarge = errors.New("upstream body too large")

// LimitBody wraps rc so that reading more than limit bytes fails with
// ErrBodyTooLarge. A limit of zero or less returns rc unchanged.
func LimitBody(rc io.ReadCloser, limit int64) io.ReadCloser {
	if limit <= 0 {
		return rc
	}
	return &limitedReadCloser{
		ReadCloser: rc,
		remaining:  limit,
		limit:      limit,
	}
}

// limitedReadCloser wraps an io.ReadCloser with a size limit.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	limit     int64
}

func (l *limitedReadCloser) Read(p []byte) (n int, err error) {
	if l.remaining <= 0 {
		// Only an error if the source still has data.
		var peek [1]byte
		pn, perr := l.ReadCloser.Read(peek[:])
		if pn > 0 {
			return 0, fmt.Errorf("%w: exceeded limit of %d bytes", ErrBodyTooLarge, l.limit)
		}
		if perr == nil {
			perr = io.EOF
		}
		return 0, perr
	}

	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}

	n, err = l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	return n, err
}
