package biz

import (
	"context"

	"leakdetector/internal/pkg/history"
)

// HistoryRepo stores analysis snapshots per image content hash. A snapshot
// appended for a hash must be visible to the next Latest call for it.
type HistoryRepo interface {
	// Latest returns the most recent snapshot, or nil when there is none.
	Latest(ctx context.Context, contentHash string) (*history.Snapshot, error)
	// Append stores a new snapshot. Snapshots are never updated.
	Append(ctx context.Context, s *history.Snapshot) error
	// List returns up to limit snapshots, newest first.
	List(ctx context.Context, contentHash string, limit int) ([]*history.Snapshot, error)
}
