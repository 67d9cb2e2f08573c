// Package watermark tracks the last published timestamp per feed source,
// so each source can be polled incrementally and independently.
package watermark

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// legacyKey marks the pre-multi-source state file shape, which held a single
// watermark for all feeds. Files in that shape are treated as absent.
const legacyKey = "last_published"

// Store holds one watermark per source identifier, persisted as a single
// JSON object. All methods are safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	marks map[string]int64
	dirty bool

	fs   afero.Fs
	path string
	log  *slog.Logger
}

// New creates a Store, loading prior watermarks from path if present.
// A missing, malformed, or legacy-format file starts the store empty.
func New(fs afero.Fs, path string, log *slog.Logger) *Store {
	st := &Store{
		marks: make(map[string]int64),
		fs:    fs,
		path:  path,
		log:   log,
	}
	st.load()
	return st
}

// Get returns the watermark for source in epoch seconds, and whether the
// source has been observed before.
func (st *Store) Get(source string) (int64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	ts, ok := st.marks[source]
	return ts, ok
}

// Advance moves the source's watermark forward to ts. A ts at or below the
// current watermark is ignored: watermarks never decrease.
func (st *Store) Advance(source string, ts int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.marks[source]; ok && ts <= cur {
		return
	}
	st.marks[source] = ts
	st.dirty = true
}

// Flush persists the full watermark map when any source advanced since the
// last flush, and is a no-op otherwise.
func (st *Store) Flush() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.dirty {
		return nil
	}

	data, err := json.Marshal(st.marks)
	if err != nil {
		return fmt.Errorf("marshal watermarks: %w", err)
	}
	if dir := filepath.Dir(st.path); dir != "." {
		if err := st.fs.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	if err := afero.WriteFile(st.fs, st.path, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	st.dirty = false
	return nil
}

func (st *Store) load() {
	exists, err := afero.Exists(st.fs, st.path)
	if err != nil || !exists {
		return
	}

	data, err := afero.ReadFile(st.fs, st.path)
	if err != nil {
		st.log.Warn("read feed state, starting fresh", "path", st.path, "error", err)
		return
	}

	// Stored values may carry a fractional part when written by earlier
	// versions, so parse as floats and truncate.
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		st.log.Warn("parse feed state, starting fresh", "path", st.path, "error", err)
		return
	}
	if _, ok := raw[legacyKey]; ok {
		st.log.Info("legacy single-watermark state detected, starting fresh", "path", st.path)
		return
	}

	st.mu.Lock()
	for source, ts := range raw {
		st.marks[source] = int64(ts)
	}
	st.mu.Unlock()
}
