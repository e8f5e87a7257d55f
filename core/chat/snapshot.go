package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoSnapshot is returned by SnapshotStore.Get when no snapshot was ever written.
var ErrNoSnapshot = errors.New("no snapshot")

var (
	nowFunc   = time.Now       // mockable
	afterFunc = time.AfterFunc // mockable
)

// Snapshot is the locally persisted copy of all scopes' message lists plus a
// freshness timestamp. It is written as one blob under one fixed key; the
// store has no built-in expiry, freshness is enforced here via WrittenAt.
type Snapshot struct {
	Scopes    map[Scope][]Message `json:"scopes"`
	WrittenAt time.Time           `json:"written_at"` // UTC
}

func (s Snapshot) Fresh(maxAge time.Duration) bool {
	return !s.WrittenAt.IsZero() && nowFunc().UTC().Sub(s.WrittenAt) < maxAge
}

// SnapshotStore is a durable key-value slot holding a single serialized Snapshot.
type SnapshotStore interface {
	Get(ctx context.Context) (Snapshot, error)
	Set(ctx context.Context, snap Snapshot) error
}

// debouncedWriter coalesces rapid state changes into one snapshot write.
// Concurrent triggers within the delay window simply overwrite with the
// latest full snapshot; last-write-wins.
type debouncedWriter struct {
	mu      sync.Mutex
	delay   time.Duration
	write   func()
	timer   *time.Timer
	pending bool
	stopped bool
}

func newDebouncedWriter(delay time.Duration, write func()) *debouncedWriter {
	return &debouncedWriter{delay: delay, write: write}
}

// Trigger schedules a write after the delay; a pending write is not extended.
func (w *debouncedWriter) Trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.pending {
		return
	}
	w.pending = true
	w.timer = afterFunc(w.delay, w.fire)
}

func (w *debouncedWriter) fire() {
	w.mu.Lock()
	if w.stopped || !w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()
	w.write()
}

// Flush writes immediately if a write is pending. Called on teardown.
func (w *debouncedWriter) Flush() {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = false
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.write()
}

// Stop cancels any pending write without flushing.
func (w *debouncedWriter) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.pending = false
	if w.timer != nil {
		w.timer.Stop()
	}
}
