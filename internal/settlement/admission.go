package settlement

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AdmissionController gates the move of a batch into payment processing
// against the organisation spend threshold. Nothing is cached: every call
// reads the threshold afresh inside the caller's transaction.
type AdmissionController struct {
	clock Clock
}

// NewAdmissionController constructs an AdmissionController.
func NewAdmissionController(clock Clock) *AdmissionController {
	return &AdmissionController{clock: clock}
}

// Authorization is the result of a successful admission.
type Authorization struct {
	Batch     Batch
	Members   []BillableItem
	Amount    decimal.Decimal
	Projected decimal.Decimal
	Threshold decimal.Decimal
}

// Expired reports whether the batch deadline lies before today.
func (a *AdmissionController) Expired(batch Batch) bool {
	return a.clock.Day(batch.ValidateAt).Before(a.clock.Today())
}

// Authorize checks expiry, unresolved members and the threshold, then marks
// the batch processing and its members payment. A failed check mutates
// nothing.
func (a *AdmissionController) Authorize(ctx context.Context, tx TxRepository, batchID uuid.UUID, actorID int64) (Authorization, error) {
	batch, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return Authorization{}, err
	}
	nextBatch, err := TransitionBatch(batch.Status, EventAuthorize)
	if err != nil {
		return Authorization{}, err
	}
	if a.Expired(batch) {
		return Authorization{}, &ExpiredError{BatchID: batch.ID, ValidateAt: batch.ValidateAt}
	}
	members, err := tx.ListBatchMembers(ctx, batch.ID)
	if err != nil {
		return Authorization{}, err
	}
	if len(members) == 0 {
		return Authorization{}, ErrBatchNotFound
	}
	var blocked []int64
	amount := decimal.Zero
	for _, m := range members {
		if m.Unresolved() {
			blocked = append(blocked, m.ID)
		}
		if m.ApprovedAmount.Valid {
			amount = amount.Add(m.ApprovedAmount.Decimal)
		}
	}
	if len(blocked) > 0 {
		return Authorization{}, &BlockedError{BatchID: batch.ID, ItemIDs: blocked}
	}

	snapshot, err := tx.CheckThreshold(ctx, batch.OrgID)
	if err != nil {
		return Authorization{}, err
	}
	projected := snapshot.TotalApproved.Add(amount)
	if projected.GreaterThan(snapshot.Threshold) {
		return Authorization{}, &ThresholdExceededError{Projected: projected, Threshold: snapshot.Threshold}
	}

	updated := make([]BillableItem, 0, len(members))
	for _, m := range members {
		next, err := Transition(m.Status, EventAuthorize)
		if err != nil {
			return Authorization{}, err
		}
		m.Status = next
		m, err = tx.UpdateItem(ctx, m)
		if err != nil {
			return Authorization{}, err
		}
		updated = append(updated, m)
	}
	batch.Status = nextBatch
	batch.UpdatedBy = actorID
	batch, err = tx.UpdateBatch(ctx, batch)
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{
		Batch:     batch,
		Members:   updated,
		Amount:    amount,
		Projected: projected,
		Threshold: snapshot.Threshold,
	}, nil
}

// Settle applies a payment outcome to a processing batch: confirmation marks
// every member paid and records the batch it settled in; failure returns
// the batch to unpaid and its members to batch.
func (a *AdmissionController) Settle(ctx context.Context, tx TxRepository, batchID uuid.UUID, ev Event, actorID int64) (Batch, []BillableItem, error) {
	batch, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return Batch{}, nil, err
	}
	nextBatch, err := TransitionBatch(batch.Status, ev)
	if err != nil {
		return Batch{}, nil, err
	}
	members, err := tx.ListBatchMembers(ctx, batch.ID)
	if err != nil {
		return Batch{}, nil, err
	}
	updated := make([]BillableItem, 0, len(members))
	for _, m := range members {
		next, err := Transition(m.Status, ev)
		if err != nil {
			return Batch{}, nil, err
		}
		m.Status = next
		if next == StatusPaid {
			settled := batch.ID
			m.SettledBatchID = &settled
			m.BatchID = nil
			m.PaymentStatus = true
		}
		m, err = tx.UpdateItem(ctx, m)
		if err != nil {
			return Batch{}, nil, err
		}
		updated = append(updated, m)
	}
	batch.Status = nextBatch
	batch.UpdatedBy = actorID
	batch, err = tx.UpdateBatch(ctx, batch)
	if err != nil {
		return Batch{}, nil, err
	}
	return batch, updated, nil
}
