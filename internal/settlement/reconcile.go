package settlement

import (
	"context"
	"fmt"
)

// Reconciler resolves a batched bill that has been superseded by a newer
// bill for the same connection.
type Reconciler struct {
	composer *Composer
}

// NewReconciler constructs a Reconciler sharing the composer's validity rules.
func NewReconciler(composer *Composer) *Reconciler {
	return &Reconciler{composer: composer}
}

// ReplaceResult reports both sides of a replacement.
type ReplaceResult struct {
	Old   BillableItem
	New   BillableItem
	Batch Batch
}

// Reject marks the item rejected. A batched item is detached first and its
// batch revalidated or dissolved.
func (r *Reconciler) Reject(ctx context.Context, tx TxRepository, itemID int64, actorID int64) (RemoveResult, error) {
	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		return RemoveResult{}, err
	}
	next, err := Transition(item.Status, EventReject)
	if err != nil {
		return RemoveResult{}, err
	}
	item.Status = next
	if item.BatchID == nil {
		item.ApprovedAmount.Valid = false
		item, err = tx.UpdateItem(ctx, item)
		if err != nil {
			return RemoveResult{}, err
		}
		return RemoveResult{Item: item}, nil
	}
	batch, err := tx.GetBatchForUpdate(ctx, *item.BatchID)
	if err != nil {
		return RemoveResult{}, err
	}
	if batch.Status != BatchUnpaid {
		return RemoveResult{}, &TransitionError{Entity: "batch", From: string(batch.Status), Event: EventReject}
	}
	return r.composer.detach(ctx, tx, batch, item, actorID)
}

// Replace rejects the batched old item and moves the new item into the same
// batch at the given approved amount. The new item joins before the old one
// leaves so the batch is never empty.
func (r *Reconciler) Replace(ctx context.Context, tx TxRepository, in ReplaceInput) (ReplaceResult, error) {
	if in.OldItemID == in.NewItemID {
		return ReplaceResult{}, fmt.Errorf("%w: an item cannot replace itself", ErrValidation)
	}
	old, err := tx.GetItemForUpdate(ctx, in.OldItemID)
	if err != nil {
		return ReplaceResult{}, err
	}
	if old.BatchID == nil {
		return ReplaceResult{}, ErrItemNotInBatch
	}
	batch, err := tx.GetBatchForUpdate(ctx, *old.BatchID)
	if err != nil {
		return ReplaceResult{}, err
	}
	if batch.Status != BatchUnpaid {
		return ReplaceResult{}, &TransitionError{Entity: "batch", From: string(batch.Status), Event: EventReplaceInto}
	}
	oldNext, err := Transition(old.Status, EventReject)
	if err != nil {
		return ReplaceResult{}, err
	}

	newer, err := tx.GetItemForUpdate(ctx, in.NewItemID)
	if err != nil {
		return ReplaceResult{}, err
	}
	if err := r.composer.checkMember(batch, newer); err != nil {
		return ReplaceResult{}, err
	}
	if newer.ConnectionID != old.ConnectionID {
		return ReplaceResult{}, fmt.Errorf("%w: item %d is for connection %s, not %s", ErrValidation, newer.ID, newer.ConnectionID, old.ConnectionID)
	}
	newNext, err := Transition(newer.Status, EventReplaceInto)
	if err != nil {
		return ReplaceResult{}, err
	}

	id := batch.ID
	newer.BatchID = &id
	newer.Status = newNext
	newer.NewerBillID = nil
	newer.ApprovedAmount.Decimal = in.NewApprovedAmount
	newer.ApprovedAmount.Valid = true
	newer, err = tx.UpdateItem(ctx, newer)
	if err != nil {
		return ReplaceResult{}, err
	}

	supersededBy := newer.ID
	old.Status = oldNext
	old.NewerBillID = &supersededBy
	removed, err := r.composer.detach(ctx, tx, batch, old, in.ActorID)
	if err != nil {
		return ReplaceResult{}, err
	}
	return ReplaceResult{Old: removed.Item, New: newer, Batch: removed.Batch}, nil
}
