package vm

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Content-addressed code store
// ---------------------------------------------------------------------------

// ContentStore indexes compiled code by content hash. Identical code
// interned twice yields the same object, so code identity survives
// round trips through the store.
type ContentStore struct {
	mu     sync.RWMutex
	byHash map[string]*CompiledCode
	byName map[string][]string
}

// NewContentStore creates an empty store.
func NewContentStore() *ContentStore {
	return &ContentStore{
		byHash: make(map[string]*CompiledCode),
		byName: make(map[string][]string),
	}
}

// Put interns code and its inner code vectors, returning code's hash.
// A code object whose hash is already present is not replaced.
func (s *ContentStore) Put(code *CompiledCode) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(code)
}

func (s *ContentStore) putLocked(code *CompiledCode) string {
	hash := code.ContentHash()
	if _, ok := s.byHash[hash]; ok {
		return hash
	}
	s.byHash[hash] = code
	s.byName[code.Name] = append(s.byName[code.Name], hash)
	for _, lit := range code.Literals {
		if inner, ok := lit.(*CompiledCode); ok {
			s.putLocked(inner)
		}
	}
	return hash
}

// Get returns the code stored under hash.
func (s *ContentStore) Get(hash string) (*CompiledCode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.byHash[hash]
	return code, ok
}

// Lookup returns the hashes stored under a code name, oldest first.
func (s *ContentStore) Lookup(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.byName[name]))
	copy(out, s.byName[name])
	return out
}

// Hashes returns every stored hash in lexical order.
func (s *ContentStore) Hashes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byHash))
	for h := range s.byHash {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored code objects.
func (s *ContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHash)
}

// Resolve is Get with a not-found error, for loader paths that report
// to a user.
func (s *ContentStore) Resolve(hash string) (*CompiledCode, error) {
	code, ok := s.Get(hash)
	if !ok {
		return nil, fmt.Errorf("content store: no code object %s", hash)
	}
	return code, nil
}
