package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines settlement data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetBatch(ctx context.Context, id uuid.UUID) (Batch, error)
	ListBatchMembers(ctx context.Context, batchID uuid.UUID) ([]BillableItem, error)
	GetItem(ctx context.Context, id int64) (BillableItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]BillableItem, error)
	ListExpiredBatches(ctx context.Context, before time.Time) ([]Batch, error)
}

// TxRepository defines operations within a transaction. Updates are
// conditional on the Version carried by the argument and fail with
// ErrConcurrentModification when the stored row has moved on.
type TxRepository interface {
	GetBatchForUpdate(ctx context.Context, id uuid.UUID) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (Batch, error)
	UpdateBatch(ctx context.Context, batch Batch) (Batch, error)
	DeleteBatch(ctx context.Context, id uuid.UUID, version int64) error

	GetItemForUpdate(ctx context.Context, id int64) (BillableItem, error)
	UpdateItem(ctx context.Context, item BillableItem) (BillableItem, error)
	ListBatchMembers(ctx context.Context, batchID uuid.UUID) ([]BillableItem, error)

	// CheckThreshold reads the organisation spend snapshot inside the
	// transaction so admission is a single read-then-conditional-write.
	CheckThreshold(ctx context.Context, orgID int64) (OrgThreshold, error)
}
