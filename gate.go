package denyproxy

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MatchMode selects how a forbidden-host entry is compared with the host
// of a request.
type MatchMode string

const (
	// MatchContains denies when the entry equals the host or the entry
	// contains the host as a substring. An entry of "ads.example.com"
	// therefore also denies "example.com" and "ads".
	MatchContains MatchMode = "contains"

	// MatchSuffix denies when the host equals the entry or is a subdomain
	// of it.
	MatchSuffix MatchMode = "suffix"

	// MatchExact denies only when the host equals the entry.
	MatchExact MatchMode = "exact"
)

// ParseMatchMode converts a config string into a MatchMode. The empty
// string selects MatchContains.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchContains:
		return MatchContains, nil
	case MatchSuffix:
		return MatchSuffix, nil
	case MatchExact:
		return MatchExact, nil
	default:
		return "", fmt.Errorf("unknown host match mode %q (expected contains, suffix, or exact)", s)
	}
}

// HostGate decides whether a request may proceed based on its Host header.
// It runs before any network I/O.
type HostGate struct {
	Mode MatchMode
}

// IsAllowed reports whether hostHeader passes the forbidden-host list of p.
// The port is dropped by splitting on the first colon. A header that is not
// valid UTF-8 is never compared and is therefore allowed.
func (g HostGate) IsAllowed(p *Policy, hostHeader string) bool {
	if p == nil || !utf8.ValidString(hostHeader) {
		return true
	}

	host, _, _ := strings.Cut(hostHeader, ":")

	for _, fh := range p.forbiddenHosts {
		if g.matches(fh, host) {
			return false
		}
	}
	return true
}

func (g HostGate) matches(entry, host string) bool {
	switch g.Mode {
	case MatchExact:
		return entry == host
	case MatchSuffix:
		return entry == host || strings.HasSuffix(host, "."+entry)
	default:
		return entry == host || strings.Contains(entry, host)
	}
}
