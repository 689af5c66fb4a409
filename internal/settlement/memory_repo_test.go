package settlement

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memoryRepo struct {
	mu         sync.Mutex
	items      map[int64]BillableItem
	batches    map[uuid.UUID]Batch
	thresholds map[int64]decimal.Decimal
	commits    int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:      make(map[int64]BillableItem),
		batches:    make(map[uuid.UUID]Batch),
		thresholds: make(map[int64]decimal.Decimal),
	}
}

func (r *memoryRepo) seed(items ...BillableItem) {
	for _, item := range items {
		if item.Version == 0 {
			item.Version = 1
		}
		r.items[item.ID] = item
	}
}

func (r *memoryRepo) seedBatch(b Batch) Batch {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Version == 0 {
		b.Version = 1
	}
	r.batches[b.ID] = b
	return b
}

func (r *memoryRepo) item(id int64) BillableItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id]
}

func (r *memoryRepo) batch(id uuid.UUID) (Batch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	return b, ok
}

// WithTx serialises transactions and restores the previous state when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := maps.Clone(r.items)
	batches := maps.Clone(r.batches)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.items = items
		r.batches = batches
		return err
	}
	r.commits++
	return nil
}

func (r *memoryRepo) GetBatch(ctx context.Context, id uuid.UUID) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (r *memoryRepo) ListBatchMembers(ctx context.Context, batchID uuid.UUID) ([]BillableItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members(batchID), nil
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (BillableItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return BillableItem{}, ErrItemNotFound
	}
	return item, nil
}

func (r *memoryRepo) ListItems(ctx context.Context, filter ItemFilter) ([]BillableItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BillableItem
	for _, item := range r.items {
		if filter.OrgID != 0 && item.OrgID != filter.OrgID {
			continue
		}
		if filter.Kind != "" && item.Kind != filter.Kind {
			continue
		}
		if filter.Unbatched && item.BatchID != nil {
			continue
		}
		if filter.BatchID != nil && !item.InBatch(*filter.BatchID) {
			continue
		}
		if item.IsDeleted && !filter.IncludeDeleted {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListExpiredBatches(ctx context.Context, before time.Time) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Batch
	for _, b := range r.batches {
		if b.Status == BatchUnpaid && b.ValidateAt.Before(before) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidateAt.Before(out[j].ValidateAt) })
	return out, nil
}

func (r *memoryRepo) members(batchID uuid.UUID) []BillableItem {
	var out []BillableItem
	for _, item := range r.items {
		if item.InBatch(batchID) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, id uuid.UUID) (Batch, error) {
	b, ok := tx.repo.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	b.Version = 1
	tx.repo.batches[b.ID] = b
	return b, nil
}

func (tx *memoryTx) UpdateBatch(ctx context.Context, b Batch) (Batch, error) {
	current, ok := tx.repo.batches[b.ID]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	if current.Version != b.Version {
		return Batch{}, ErrConcurrentModification
	}
	b.Version++
	tx.repo.batches[b.ID] = b
	return b, nil
}

func (tx *memoryTx) DeleteBatch(ctx context.Context, id uuid.UUID, version int64) error {
	current, ok := tx.repo.batches[id]
	if !ok {
		return ErrBatchNotFound
	}
	if current.Version != version {
		return ErrConcurrentModification
	}
	delete(tx.repo.batches, id)
	return nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, id int64) (BillableItem, error) {
	item, ok := tx.repo.items[id]
	if !ok {
		return BillableItem{}, ErrItemNotFound
	}
	return item, nil
}

func (tx *memoryTx) UpdateItem(ctx context.Context, item BillableItem) (BillableItem, error) {
	current, ok := tx.repo.items[item.ID]
	if !ok {
		return BillableItem{}, ErrItemNotFound
	}
	if current.Version != item.Version {
		return BillableItem{}, ErrConcurrentModification
	}
	item.Version++
	tx.repo.items[item.ID] = item
	return item, nil
}

func (tx *memoryTx) ListBatchMembers(ctx context.Context, batchID uuid.UUID) ([]BillableItem, error) {
	return tx.repo.members(batchID), nil
}

func (tx *memoryTx) CheckThreshold(ctx context.Context, orgID int64) (OrgThreshold, error) {
	threshold, ok := tx.repo.thresholds[orgID]
	if !ok {
		return OrgThreshold{}, ErrNotFound
	}
	total := decimal.Zero
	for _, item := range tx.repo.items {
		if item.OrgID == orgID && item.Status == StatusPayment && item.ApprovedAmount.Valid {
			total = total.Add(item.ApprovedAmount.Decimal)
		}
	}
	return OrgThreshold{TotalApproved: total, Threshold: threshold}, nil
}
