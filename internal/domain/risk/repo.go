package risk

import (
	"context"

	"github.com/google/uuid"
)

type SnapshotRepository interface {
	// Upsert inserts or replaces the snapshot for (Domain, ParentID) and fills
	// in ID, CreatedAt and UpdatedAt from the stored row.
	Upsert(ctx context.Context, s *Snapshot) error
	GetByParent(ctx context.Context, d Domain, parentID uuid.UUID) (*Snapshot, error)
	ListByDomain(ctx context.Context, d Domain, limit, offset int) ([]*Snapshot, int, error)
}
