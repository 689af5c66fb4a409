package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// openValidity is the placeholder deadline of a batch that has no members yet.
var openValidity = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Composer owns batch membership and keeps ValidateAt equal to the earliest
// member effective date, clamped up to today.
type Composer struct {
	clock Clock
}

// NewComposer constructs a Composer.
func NewComposer(clock Clock) *Composer {
	return &Composer{clock: clock}
}

// RemoveResult reports the outcome of detaching an item.
type RemoveResult struct {
	Item      BillableItem
	Batch     Batch
	Dissolved bool
}

// Create inserts a batch and adds every listed item to it.
func (c *Composer) Create(ctx context.Context, tx TxRepository, in CreateBatchInput) (Batch, []BillableItem, error) {
	if in.OrgID == 0 {
		return Batch{}, nil, fmt.Errorf("%w: organisation required", ErrValidation)
	}
	if in.Kind != KindBill && in.Kind != KindRecharge {
		return Batch{}, nil, fmt.Errorf("%w: unknown item kind %q", ErrValidation, in.Kind)
	}
	if len(in.ItemIDs) == 0 {
		return Batch{}, nil, fmt.Errorf("%w: a batch needs at least one item", ErrValidation)
	}
	now := c.clock.Now()
	batch, err := tx.InsertBatch(ctx, Batch{
		ID:         uuid.New(),
		OrgID:      in.OrgID,
		Kind:       in.Kind,
		Status:     BatchUnpaid,
		ValidateAt: openValidity,
		CreatedAt:  now,
		UpdatedAt:  now,
		UpdatedBy:  in.ActorID,
	})
	if err != nil {
		return Batch{}, nil, err
	}
	seen := make(map[int64]struct{}, len(in.ItemIDs))
	items := make([]BillableItem, 0, len(in.ItemIDs))
	for _, id := range in.ItemIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		var item BillableItem
		batch, item, err = c.AddItem(ctx, tx, batch.ID, id, in.ActorID)
		if err != nil {
			return Batch{}, nil, fmt.Errorf("add item %d: %w", id, err)
		}
		items = append(items, item)
	}
	batch, err = c.revalidate(ctx, tx, batch, items, in.ActorID)
	if err != nil {
		return Batch{}, nil, err
	}
	return batch, items, nil
}

// AddItem moves an approved item into the batch, tightening the batch
// deadline and freezing the item's approved amount.
func (c *Composer) AddItem(ctx context.Context, tx TxRepository, batchID uuid.UUID, itemID int64, actorID int64) (Batch, BillableItem, error) {
	batch, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return Batch{}, BillableItem{}, err
	}
	if batch.Status != BatchUnpaid {
		return Batch{}, BillableItem{}, &TransitionError{Entity: "batch", From: string(batch.Status), Event: EventAddToBatch}
	}
	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		return Batch{}, BillableItem{}, err
	}
	if err := c.checkMember(batch, item); err != nil {
		return Batch{}, BillableItem{}, err
	}
	next, err := Transition(item.Status, EventAddToBatch)
	if err != nil {
		return Batch{}, BillableItem{}, err
	}

	now := c.clock.Now()
	if eff, ok := item.EffectiveDate(); ok {
		batch.ValidateAt = minTime(batch.ValidateAt, maxTime(c.clock.Day(eff), c.clock.Today()))
	}
	batch.UpdatedBy = actorID
	batch, err = tx.UpdateBatch(ctx, batch)
	if err != nil {
		return Batch{}, BillableItem{}, err
	}

	id := batch.ID
	item.BatchID = &id
	item.Status = next
	item.ApprovedAmount = decimal.NewNullDecimal(PayableAmount(item, now))
	item, err = tx.UpdateItem(ctx, item)
	if err != nil {
		return Batch{}, BillableItem{}, err
	}
	return batch, item, nil
}

// RemoveItem detaches an item from the batch. The item returns to new when
// its after-due amount now exceeds the frozen approved amount, otherwise to
// approved. A batch left without members is dissolved.
func (c *Composer) RemoveItem(ctx context.Context, tx TxRepository, batchID uuid.UUID, itemID int64, actorID int64) (RemoveResult, error) {
	batch, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return RemoveResult{}, err
	}
	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		return RemoveResult{}, err
	}
	if !item.InBatch(batch.ID) {
		return RemoveResult{}, ErrItemNotInBatch
	}
	ev := EventRemove
	if item.ApprovedAmount.Valid && AfterDueAmount(item).GreaterThan(item.ApprovedAmount.Decimal) {
		ev = EventRemoveRepriced
	}
	next, err := Transition(item.Status, ev)
	if err != nil {
		return RemoveResult{}, err
	}
	item.Status = next
	return c.detach(ctx, tx, batch, item, actorID)
}

// Renew resets an expired unpaid batch's deadline to today. A batch still
// within its deadline keeps it.
func (c *Composer) Renew(ctx context.Context, tx TxRepository, batchID uuid.UUID, actorID int64) (Batch, error) {
	batch, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	if _, err := TransitionBatch(batch.Status, EventRenew); err != nil {
		return Batch{}, err
	}
	if !c.clock.Day(batch.ValidateAt).Before(c.clock.Today()) {
		return Batch{}, fmt.Errorf("%w: batch %s is valid until %s", ErrInvalidTransition, batch.ID, batch.ValidateAt.Format(time.DateOnly))
	}
	batch.ValidateAt = c.clock.Today()
	batch.UpdatedBy = actorID
	return tx.UpdateBatch(ctx, batch)
}

// detach persists the item outside the batch and revalidates what remains.
// The caller has already set the item's next status.
func (c *Composer) detach(ctx context.Context, tx TxRepository, batch Batch, item BillableItem, actorID int64) (RemoveResult, error) {
	item.BatchID = nil
	item.ApprovedAmount = decimal.NullDecimal{}
	item, err := tx.UpdateItem(ctx, item)
	if err != nil {
		return RemoveResult{}, err
	}
	members, err := tx.ListBatchMembers(ctx, batch.ID)
	if err != nil {
		return RemoveResult{}, err
	}
	if len(members) == 0 {
		if err := tx.DeleteBatch(ctx, batch.ID, batch.Version); err != nil {
			return RemoveResult{}, err
		}
		return RemoveResult{Item: item, Batch: batch, Dissolved: true}, nil
	}
	batch, err = c.revalidate(ctx, tx, batch, members, actorID)
	if err != nil {
		return RemoveResult{}, err
	}
	return RemoveResult{Item: item, Batch: batch}, nil
}

// revalidate recomputes ValidateAt from members and persists it.
func (c *Composer) revalidate(ctx context.Context, tx TxRepository, batch Batch, members []BillableItem, actorID int64) (Batch, error) {
	batch.ValidateAt = c.validity(members)
	batch.UpdatedBy = actorID
	return tx.UpdateBatch(ctx, batch)
}

// validity is the earliest member effective date, clamped up to today. A
// batch whose members carry no dates is valid through today only.
func (c *Composer) validity(members []BillableItem) time.Time {
	today := c.clock.Today()
	var earliest time.Time
	for _, m := range members {
		eff, ok := m.EffectiveDate()
		if !ok {
			continue
		}
		day := c.clock.Day(eff)
		if earliest.IsZero() || day.Before(earliest) {
			earliest = day
		}
	}
	if earliest.IsZero() {
		return today
	}
	return maxTime(earliest, today)
}

func (c *Composer) checkMember(batch Batch, item BillableItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if item.OrgID != batch.OrgID {
		return fmt.Errorf("%w: item %d belongs to another organisation", ErrValidation, item.ID)
	}
	if item.Kind != batch.Kind {
		return fmt.Errorf("%w: %s %d cannot join a %s batch", ErrValidation, item.Kind, item.ID, batch.Kind)
	}
	if item.IsDeleted || (item.Kind == KindBill && !item.IsActive) {
		return fmt.Errorf("%w: item %d is inactive", ErrValidation, item.ID)
	}
	if item.BatchID != nil {
		return &TransitionError{Entity: "item", From: fmt.Sprintf("%s in batch %s", item.Status, *item.BatchID), Event: EventAddToBatch}
	}
	return nil
}
