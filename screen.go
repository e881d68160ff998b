package denyproxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ContentScreener rejects JSON documents whose canonical text contains a
// banned word.
type ContentScreener struct{}

// IsAllowed serializes v and reports whether none of the banned words of p
// occur in the result.
func (ContentScreener) IsAllowed(p *Policy, v any) (bool, error) {
	if p == nil || len(p.bannedWords) == 0 {
		return true, nil
	}

	text, err := MarshalJSON(v)
	if err != nil {
		return false, err
	}
	return ContentScreener{}.AllowsText(p, text), nil
}

// AllowsText reports whether the already serialized document text contains
// none of the banned words of p.
func (ContentScreener) AllowsText(p *Policy, text string) bool {
	if p == nil {
		return true
	}
	for _, bw := range p.bannedWords {
		if strings.Contains(text, bw) {
			return false
		}
	}
	return true
}

// ParseJSON decodes exactly one JSON value from r. Numbers are kept as
// json.Number so that re-encoding preserves them. Anything other than
// whitespace after the value is an error.
func ParseJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("invalid character after top-level value at offset %d", dec.InputOffset())
	}

	return v, nil
}

// MarshalJSON returns the compact textual form of v without HTML escaping.
func MarshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
