package dv

import "time"

// Recorder receives observations about walks and writes.
// internal/metrics provides the prometheus-backed implementation.
type Recorder interface {
	// WalkCompleted is called once per VaultIndex or Reconciler pass.
	// walk is "vaults" or "files".
	WalkCompleted(walk string, cov Coverage, elapsed time.Duration)

	// ItemSkipped is called for every item a walk left out, with the failure kind.
	ItemSkipped(walk string, kind string)

	// Uploaded is called after a file slot has been recorded on the ledger.
	Uploaded(size int64)

	// OrphanedContent is called when content was stored but the ledger append failed.
	OrphanedContent()
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) WalkCompleted(string, Coverage, time.Duration) {}
func (NopRecorder) ItemSkipped(string, string)                    {}
func (NopRecorder) Uploaded(int64)                                {}
func (NopRecorder) OrphanedContent()                              {}
