package denyproxy

import (
	"context"
	"fmt"
	"net/http"
	"os"
)

// ListLoader loads one policy list (forbidden hosts or banned words).
type ListLoader interface {
	// Load reads the list from its source and returns the entries in order.
	Load(ctx context.Context) ([]string, error)
}

// ListLoaderFunc is a function adapter for ListLoader.
type ListLoaderFunc func(ctx context.Context) ([]string, error)

// Load calls the underlying function.
func (f ListLoaderFunc) Load(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// FileLoader reads a line-delimited list from disk.
type FileLoader struct {
	Path string
}

// NewFileLoader creates a loader for the given path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{Path: path}
}

// Load implements ListLoader.
func (l *FileLoader) Load(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("open list file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := ParseList(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.Path, err)
	}
	return entries, nil
}

// URLLoader fetches a line-delimited list over HTTP.
type URLLoader struct {
	// URL to fetch the list from
	URL string

	// Client for HTTP requests (uses http.DefaultClient if nil)
	Client *http.Client
}

// NewURLLoader creates a loader that fetches a list from endpoint.
func NewURLLoader(endpoint string) *URLLoader {
	return &URLLoader{URL: endpoint}
}

// Load implements ListLoader.
func (l *URLLoader) Load(ctx context.Context) ([]string, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch list: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return ParseList(resp.Body)
}

// StaticLoader returns a fixed list.
type StaticLoader struct {
	Entries []string
}

// NewStaticLoader creates a loader with a fixed list.
func NewStaticLoader(entries ...string) *StaticLoader {
	return &StaticLoader{Entries: entries}
}

// Load implements ListLoader.
func (l *StaticLoader) Load(_ context.Context) ([]string, error) {
	return append([]string(nil), l.Entries...), nil
}

// MultiLoader concatenates the lists of several loaders in order.
type MultiLoader struct {
	Loaders []ListLoader
}

// NewMultiLoader creates a loader that combines entries from multiple sources.
func NewMultiLoader(loaders ...ListLoader) *MultiLoader {
	return &MultiLoader{Loaders: loaders}
}

// Load implements ListLoader. Any failing source fails the whole load.
func (m *MultiLoader) Load(ctx context.Context) ([]string, error) {
	var all []string

	for i, loader := range m.Loaders {
		entries, err := loader.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loader %d: %w", i, err)
		}
		all = append(all, entries...)
	}

	return all, nil
}
