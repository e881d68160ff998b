package denyproxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPolicyNotLoaded is returned when a request arrives before any policy
// snapshot has been loaded into a PolicyStore.
var ErrPolicyNotLoaded = errors.New("policy not loaded")

// Policy is an immutable snapshot of the forbidden-host and banned-word
// lists. It is safe to share across goroutines without locking.
type Policy struct {
	forbiddenHosts []string
	bannedWords    []string
	loadedAt       time.Time
}

// NewPolicy creates a Policy from copies of the given lists.
func NewPolicy(forbiddenHosts, bannedWords []string) *Policy {
	return &Policy{
		forbiddenHosts: append([]string(nil), forbiddenHosts...),
		bannedWords:    append([]string(nil), bannedWords...),
		loadedAt:       time.Now(),
	}
}

// ForbiddenHosts returns a copy of the forbidden-host entries in load order.
func (p *Policy) ForbiddenHosts() []string {
	return append([]string(nil), p.forbiddenHosts...)
}

// BannedWords returns a copy of the banned-word entries in load order.
func (p *Policy) BannedWords() []string {
	return append([]string(nil), p.bannedWords...)
}

// LoadedAt reports when the snapshot was built.
func (p *Policy) LoadedAt() time.Time {
	return p.loadedAt
}

// ParseList reads one entry per line. Lines are kept verbatim apart from a
// trailing carriage return; empty lines are skipped.
func ParseList(r io.Reader) ([]string, error) {
	var entries []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// PolicyStore holds the current Policy snapshot and rebuilds it from its
// loaders on demand. Readers call Current once per request and keep the
// returned snapshot for the lifetime of that request.
type PolicyStore struct {
	// Hosts loads the forbidden-host list.
	Hosts ListLoader

	// Words loads the banned-word list.
	Words ListLoader

	// OnReload is called after a successful load with the new snapshot.
	OnReload func(p *Policy)

	// OnError is called when a load fails.
	OnError func(err error)

	current atomic.Pointer[Policy]
	loadMu  sync.Mutex
}

// NewPolicyStore creates a store backed by the given loaders. Nothing is
// loaded until Load is called.
func NewPolicyStore(hosts, words ListLoader) *PolicyStore {
	return &PolicyStore{
		Hosts: hosts,
		Words: words,
	}
}

// NewStaticPolicyStore creates a store that already holds p.
func NewStaticPolicyStore(p *Policy) *PolicyStore {
	ps := &PolicyStore{
		Hosts: NewStaticLoader(p.forbiddenHosts...),
		Words: NewStaticLoader(p.bannedWords...),
	}
	ps.current.Store(p)
	return ps
}

// Load reads both lists and swaps in a new snapshot. The previous snapshot
// stays in place if either loader fails.
func (ps *PolicyStore) Load(ctx context.Context) error {
	ps.loadMu.Lock()
	defer ps.loadMu.Unlock()

	p, err := ps.build(ctx)
	if err != nil {
		if ps.OnError != nil {
			ps.OnError(err)
		}
		return err
	}

	ps.current.Store(p)

	if ps.OnReload != nil {
		ps.OnReload(p)
	}

	return nil
}

func (ps *PolicyStore) build(ctx context.Context) (*Policy, error) {
	var hosts, words []string

	if ps.Hosts != nil {
		entries, err := ps.Hosts.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load forbidden hosts: %w", err)
		}
		hosts = entries
	}

	if ps.Words != nil {
		entries, err := ps.Words.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load banned words: %w", err)
		}
		words = entries
	}

	return NewPolicy(hosts, words), nil
}

// Current returns the active snapshot, or nil before the first Load.
func (ps *PolicyStore) Current() *Policy {
	return ps.current.Load()
}

// Loaded reports whether a snapshot is available. It matches the
// ReadinessCheck signature.
func (ps *PolicyStore) Loaded() error {
	if ps.current.Load() == nil {
		return ErrPolicyNotLoaded
	}
	return nil
}

// StartAutoReload reloads the policy at the given interval until the
// returned cancel function is called.
func (ps *PolicyStore) StartAutoReload(ctx context.Context, interval time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = ps.Load(ctx)
			}
		}
	}()

	return cancel
}
