package denyproxy

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Content-Encoding values understood by DecodeBody.
const (
	EncodingGzip     = "gzip"
	EncodingDeflate  = "deflate"
	EncodingBrotli   = "br"
	EncodingZstd     = "zstd"
	EncodingIdentity = "identity"
)

// DecodeBody returns a reader that undoes the Content-Encoding header value
// contentEncoding. Stacked encodings ("gzip, br") are undone in reverse
// order. The returned closer closes every decoder but not body itself.
func DecodeBody(body io.Reader, contentEncoding string) (io.ReadCloser, error) {
	var codings []string
	for c := range strings.SplitSeq(contentEncoding, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && c != EncodingIdentity {
			codings = append(codings, c)
		}
	}

	r := body
	var closers []io.Closer

	for i := len(codings) - 1; i >= 0; i-- {
		dec, err := newDecoder(r, codings[i])
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("decode %s body: %w", codings[i], err)
		}
		r = dec
		closers = append(closers, dec)
	}

	return &decodedBody{Reader: r, closers: closers}, nil
}

func newDecoder(r io.Reader, coding string) (io.ReadCloser, error) {
	switch coding {
	case EncodingGzip, "x-gzip":
		return gzip.NewReader(r)
	case EncodingDeflate:
		return zlib.NewReader(r)
	case EncodingBrotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	case EncodingZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", coding)
	}
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	return closeAll(d.closers)
}

func closeAll(closers []io.Closer) error {
	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
