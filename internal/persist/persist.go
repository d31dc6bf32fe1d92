// Package persist implements the two artifacts from the external
// interface specification (Section 6.5) that the control plane alone can
// meaningfully produce: the scored-mandate CSV export and an in-memory
// ring of time-sync regression samples standing in for the DSP-written
// timestamps.h5. Both follow the teacher's pattern of a thin lifecycle
// wrapper around a stdlib encoder rather than a bespoke serialization
// format.
package persist

import (
	"fmt"
	"os"
	"sync"

	"github.com/drexelwireless/dragonradio-sub000/internal/mandate"
)

// ScoreWriter owns the lifecycle of score_reported.csv: open once at
// startup, rewrite on every scoring tick, close on shutdown.
type ScoreWriter struct {
	mu sync.Mutex
	f  *os.File
}

// OpenScoreWriter creates (or truncates) the CSV file at path.
func OpenScoreWriter(path string) (*ScoreWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("persist: open score file: %w", err)
	}
	return &ScoreWriter{f: f}, nil
}

// Write snapshots scorer's current scoring table to the CSV file,
// truncating and rewriting it each call (matching the Python
// implementation's dump-on-every-tick behavior rather than append, since
// earlier stage rows can be rescored at a stage boundary).
func (w *ScoreWriter) Write(scorer *mandate.Scorer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.f.Seek(0, 0); err != nil {
		return fmt.Errorf("persist: seek score file: %w", err)
	}
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("persist: truncate score file: %w", err)
	}
	if err := scorer.ExportCSV(w.f); err != nil {
		return fmt.Errorf("persist: export scores: %w", err)
	}
	return w.f.Sync()
}

// Close closes the underlying file.
func (w *ScoreWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// TimeSyncSample is one regression observation, preserved for post-run
// analysis the way the DSP layer preserves them in timestamps.h5.
type TimeSyncSample struct {
	Local  float64
	Master float64
	Skew   float64
	Offset float64
	TauS   float64
}

// TimeSyncRing is a fixed-capacity ring buffer of recent regression
// samples. It stands in for timestamps.h5: the real file is HDF5, written
// by the DSP process; no HDF5 binding exists anywhere in the retrieved
// corpus, so this buffer is the hand-off point a DSP-side writer would
// drain from.
type TimeSyncRing struct {
	mu     sync.Mutex
	buf    []TimeSyncSample
	cap    int
	next   int
	filled bool
}

// NewTimeSyncRing creates a ring holding at most capacity samples.
func NewTimeSyncRing(capacity int) *TimeSyncRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &TimeSyncRing{buf: make([]TimeSyncSample, capacity), cap: capacity}
}

// Push appends a sample, overwriting the oldest entry once full.
func (r *TimeSyncRing) Push(s TimeSyncSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = s
	r.next = (r.next + 1) % r.cap
	if r.next == 0 {
		r.filled = true
	}
}

// Snapshot returns all retained samples in insertion order, oldest first.
func (r *TimeSyncRing) Snapshot() []TimeSyncSample {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filled {
		out := make([]TimeSyncSample, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]TimeSyncSample, r.cap)
	copy(out, r.buf[r.next:])
	copy(out[r.cap-r.next:], r.buf[:r.next])
	return out
}
