package testutil

import (
	"fmt"
	"sync"
	"time"

	"dvault/internal/dv"
)

// WalkRecord is one WalkCompleted observation.
type WalkRecord struct {
	Walk     string
	Coverage dv.Coverage
}

// RecordingRecorder is a dv.Recorder that keeps every observation.
type RecordingRecorder struct {
	mu       sync.Mutex
	walks    []WalkRecord
	skipped  map[string]int // "walk/kind" -> count
	uploads  []int64
	orphaned int
}

var _ dv.Recorder = (*RecordingRecorder)(nil)

func NewRecordingRecorder() *RecordingRecorder {
	return &RecordingRecorder{skipped: make(map[string]int)}
}

func (r *RecordingRecorder) WalkCompleted(walk string, cov dv.Coverage, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.walks = append(r.walks, WalkRecord{Walk: walk, Coverage: cov})
}

func (r *RecordingRecorder) ItemSkipped(walk string, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[fmt.Sprintf("%s/%s", walk, kind)]++
}

func (r *RecordingRecorder) Uploaded(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, size)
}

func (r *RecordingRecorder) OrphanedContent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orphaned++
}

// Walks returns the recorded walks in order.
func (r *RecordingRecorder) Walks() []WalkRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WalkRecord(nil), r.walks...)
}

// Skipped returns how many items of walk were skipped with kind.
func (r *RecordingRecorder) Skipped(walk, kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped[fmt.Sprintf("%s/%s", walk, kind)]
}

// Uploads returns the sizes passed to Uploaded.
func (r *RecordingRecorder) Uploads() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.uploads...)
}

// Orphaned returns the number of OrphanedContent calls.
func (r *RecordingRecorder) Orphaned() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orphaned
}
