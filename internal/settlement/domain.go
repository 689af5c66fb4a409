package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemKind discriminates the billable item variants.
type ItemKind string

const (
	KindBill     ItemKind = "bill"
	KindRecharge ItemKind = "recharge"
)

// PayType classifies the connection an item belongs to.
type PayType string

const (
	PayTypePrepaid  PayType = "prepaid"
	PayTypePostpaid PayType = "postpaid"
	PayTypeSubmeter PayType = "submeter"
)

// ItemStatus enumerates billable item lifecycle statuses.
type ItemStatus string

const (
	StatusNew      ItemStatus = "new"
	StatusApproved ItemStatus = "approved"
	StatusBatch    ItemStatus = "batch"
	StatusPayment  ItemStatus = "payment"
	StatusPaid     ItemStatus = "paid"
	StatusRejected ItemStatus = "rejected"
)

// BatchStatus enumerates payment batch statuses.
type BatchStatus string

const (
	BatchUnpaid     BatchStatus = "unpaid"
	BatchProcessing BatchStatus = "processing"
	BatchPaid       BatchStatus = "paid"
)

// BillTerms holds the pricing terms that only bills carry.
type BillTerms struct {
	DueDate        *time.Time
	DiscountDate   *time.Time
	DiscountRebate decimal.Decimal
	DueDateRebate  decimal.Decimal
	Penalty        decimal.Decimal
}

// RechargeTerms holds the recharge-only fields.
type RechargeTerms struct {
	RechargeDate time.Time
}

// BillableItem is either a bill or a recharge. Exactly one of Bill or
// Recharge is set and Kind names which one.
type BillableItem struct {
	ID             int64
	OrgID          int64
	Kind           ItemKind
	ConnectionID   string
	PayType        PayType
	Gross          decimal.Decimal
	Status         ItemStatus
	BatchID        *uuid.UUID
	SettledBatchID *uuid.UUID
	ApprovedAmount decimal.NullDecimal
	IsActive       bool
	IsValid        bool
	IsDeleted      bool
	PaymentStatus  bool
	NewerBillID    *int64
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Bill     *BillTerms
	Recharge *RechargeTerms
}

// Validate checks the variant tag against the populated terms.
func (i BillableItem) Validate() error {
	switch i.Kind {
	case KindBill:
		if i.Bill == nil || i.Recharge != nil {
			return fmt.Errorf("%w: bill %d must carry bill terms only", ErrValidation, i.ID)
		}
	case KindRecharge:
		if i.Recharge == nil || i.Bill != nil {
			return fmt.Errorf("%w: recharge %d must carry recharge terms only", ErrValidation, i.ID)
		}
	default:
		return fmt.Errorf("%w: unknown item kind %q", ErrValidation, i.Kind)
	}
	return nil
}

// InBatch reports whether the item currently belongs to the given batch.
func (i BillableItem) InBatch(id uuid.UUID) bool {
	return i.BatchID != nil && *i.BatchID == id
}

// Unresolved reports whether the item still awaits reconciliation.
func (i BillableItem) Unresolved() bool {
	return !i.IsValid || i.NewerBillID != nil
}

// EffectiveDate returns the date that bounds a batch's validity: the due date
// for bills and the recharge date for recharges.
func (i BillableItem) EffectiveDate() (time.Time, bool) {
	switch i.Kind {
	case KindBill:
		if i.Bill == nil || i.Bill.DueDate == nil {
			return time.Time{}, false
		}
		return *i.Bill.DueDate, true
	case KindRecharge:
		if i.Recharge == nil || i.Recharge.RechargeDate.IsZero() {
			return time.Time{}, false
		}
		return i.Recharge.RechargeDate, true
	}
	return time.Time{}, false
}

// Batch groups items for a single payment authorization.
type Batch struct {
	ID         uuid.UUID
	OrgID      int64
	Kind       ItemKind
	Status     BatchStatus
	ValidateAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	UpdatedBy  int64
	Version    int64
}

// BatchDetail bundles a batch with its current members.
type BatchDetail struct {
	Batch   Batch
	Members []BillableItem
	Total   decimal.Decimal
	Expired bool
}

// OrgThreshold is a snapshot of organisation-wide in-flight spend.
type OrgThreshold struct {
	TotalApproved decimal.Decimal
	Threshold     decimal.Decimal
}

// ItemFilter narrows item queries.
type ItemFilter struct {
	OrgID           int64
	Kind            ItemKind
	PayType         PayType
	BatchID         *uuid.UUID
	Unbatched       bool
	IncludeInactive bool
	IncludeDeleted  bool
	DueFrom         time.Time
	DueTo           time.Time
	Limit           int
}

// --- Input DTOs ---

// CreateBatchInput describes a new batch. When ItemIDs is empty the items are
// taken from the session selection.
type CreateBatchInput struct {
	OrgID     int64
	ActorID   int64
	Kind      ItemKind
	ItemIDs   []int64
	SessionID string
}

// PaymentRequest is handed to the payment initiation endpoint.
type PaymentRequest struct {
	BatchID              uuid.UUID `validate:"required"`
	OrgID                int64     `validate:"required"`
	ActorID              int64
	TransactionReference string    `validate:"required,max=64"`
	PaymentMode          string    `validate:"required,oneof=bank_transfer cheque upi neft rtgs card"`
	Remarks              string    `validate:"max=255"`
	TransactionDate      time.Time `validate:"required"`
}

// ReplaceInput swaps a batched bill for a newer bill of the same connection.
type ReplaceInput struct {
	OldItemID         int64 `validate:"required"`
	NewItemID         int64 `validate:"required,nefield=OldItemID"`
	NewApprovedAmount decimal.Decimal
	OrgID             int64 `validate:"required"`
	ActorID           int64
}
