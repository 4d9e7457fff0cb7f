package ports

import "context"

// Library is the orchestrator's view of the indexed music collection.
// Find and RandomPick operate on the current snapshot and are safe to call
// concurrently with Refresh.
type Library interface {
	// HasDirs reports whether any music directory is configured.
	HasDirs() bool
	// Find returns up to limit matching paths for a keyword, shuffled.
	Find(keyword string, limit int) []string
	// RandomPick returns up to limit random paths from the snapshot.
	RandomPick(limit int) []string
	// Refresh rebuilds the snapshot and returns the total song count.
	Refresh(ctx context.Context) (int, error)
	// Size returns the current snapshot length.
	Size() int
}
