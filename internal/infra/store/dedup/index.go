package dedupstore

import (
	"strings"
	"sync"

	resultstore "github.com/you-humble/imgpress/internal/infra/store/result"
)

// Results resolves a referenced result id to the live cache entry.
type Results interface {
	Get(resultID string) (resultstore.Entry, bool)
}

type key struct {
	hash    string
	quality int
}

// memoryIndex maps (content hash, quality) to a result id. It does not own
// the results; entries pointing at vanished results, or at results since
// overwritten from other content or at another quality, are dropped on lookup.
type memoryIndex struct {
	results Results

	mu      sync.Mutex
	entries map[key]string
}

func NewMemoryIndex(results Results) *memoryIndex {
	return &memoryIndex{
		results: results,
		entries: make(map[key]string),
	}
}

func (x *memoryIndex) Lookup(hash string, quality int) (string, bool) {
	hash = NormalizeHash(hash)
	if hash == "" {
		return "", false
	}
	k := key{hash: hash, quality: quality}

	x.mu.Lock()
	id, ok := x.entries[k]
	x.mu.Unlock()
	if !ok {
		return "", false
	}

	if e, ok := x.results.Get(id); ok && e.Quality == quality && NormalizeHash(e.Hash) == hash {
		return id, true
	}

	x.mu.Lock()
	if x.entries[k] == id {
		delete(x.entries, k)
	}
	x.mu.Unlock()
	return "", false
}

func (x *memoryIndex) Record(hash string, quality int, resultID string) {
	hash = NormalizeHash(hash)
	if hash == "" || resultID == "" {
		return
	}

	x.mu.Lock()
	x.entries[key{hash: hash, quality: quality}] = resultID
	x.mu.Unlock()
}

func (x *memoryIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

// NormalizeHash trims and lowercases a client-supplied digest. A "sha256:"
// prefix is implied and stripped; other algorithm prefixes stay part of the
// key.
func NormalizeHash(hash string) string {
	hash = strings.ToLower(strings.TrimSpace(hash))
	return strings.TrimPrefix(hash, "sha256:")
}
