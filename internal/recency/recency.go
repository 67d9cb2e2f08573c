// Package recency implements a bounded set of recently seen keys with
// least-recently-used eviction, backed by a durable file. It is the
// deduplication window for inbound event delivery, which is at-least-once.
package recency

import (
	"container/list"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// FlushMode selects when MarkSeen persists the set.
type FlushMode int

const (
	// FlushSync writes the set through to disk after every MarkSeen.
	FlushSync FlushMode = iota
	// FlushDeferred persists only on explicit Flush calls, typically
	// driven by the scheduler's sync cadence.
	FlushDeferred
)

// Set is a bounded, persisted set of keys ordered by last use.
// All methods are safe for concurrent use.
type Set struct {
	mu       sync.Mutex
	order    *list.List // front = least recently used
	index    map[string]*list.Element
	capacity int
	mode     FlushMode

	fs   afero.Fs
	path string
	log  *slog.Logger
}

// New creates a Set with the given capacity and loads prior contents from
// path if present. A missing or malformed file is tolerated: the set starts
// empty and the condition is logged.
func New(fs afero.Fs, path string, capacity int, mode FlushMode, log *slog.Logger) *Set {
	s := &Set{
		order:    list.New(),
		index:    make(map[string]*list.Element),
		capacity: capacity,
		mode:     mode,
		fs:       fs,
		path:     path,
		log:      log,
	}
	s.load()
	return s
}

// Seen reports whether key is in the set. A hit counts as a use and
// promotes the key to most recently used.
func (s *Set) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[key]
	if !ok {
		return false
	}
	s.order.MoveToBack(el)
	return true
}

// MarkSeen inserts key, or promotes it if already present. When capacity is
// exceeded the least recently used key is evicted. In FlushSync mode the set
// is persisted before returning; persistence failures are logged, never
// surfaced, and the in-memory set stays authoritative.
func (s *Set) MarkSeen(key string) {
	s.mu.Lock()
	s.insert(key)
	var err error
	if s.mode == FlushSync {
		err = s.flushLocked()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("flush recency set", "path", s.path, "error", err)
	}
}

// Flush durably persists the current contents, fully replacing the backing
// file while preserving recency order.
func (s *Set) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// Len returns the number of keys currently held.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// insert assumes s.mu is held.
func (s *Set) insert(key string) {
	if el, ok := s.index[key]; ok {
		s.order.MoveToBack(el)
		return
	}
	s.index[key] = s.order.PushBack(key)
	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
}

// flushLocked assumes s.mu is held.
func (s *Set) flushLocked() error {
	keys := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(string))
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("marshal keys: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

func (s *Set) load() {
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil || !exists {
		return
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		s.log.Warn("read recency cache, starting empty", "path", s.path, "error", err)
		return
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		s.log.Warn("parse recency cache, starting empty", "path", s.path, "error", err)
		return
	}

	s.mu.Lock()
	for _, k := range keys {
		s.insert(k)
	}
	s.mu.Unlock()
}
