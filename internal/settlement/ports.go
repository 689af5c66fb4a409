package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utilibill/utilibill/internal/shared"
)

// Outcome labels an emitted notification and metric sample.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Notification types emitted by the engine.
const (
	NotifyBatchCreated     = "batch.created"
	NotifyItemApproved     = "item.approved"
	NotifyItemAdded        = "batch.item_added"
	NotifyItemRemoved      = "batch.item_removed"
	NotifyBatchDissolved   = "batch.dissolved"
	NotifyBatchRenewed     = "batch.renewed"
	NotifyBatchAuthorized  = "batch.authorized"
	NotifyPaymentInitiated = "batch.payment_initiated"
	NotifyPaymentConfirmed = "batch.payment_confirmed"
	NotifyPaymentFailed    = "batch.payment_failed"
	NotifyItemRejected     = "item.rejected"
	NotifyItemReplaced     = "item.replaced"
	NotifyBatchExpired     = "batch.expired"
)

// Notification is a fire-and-forget message for the notification sink.
type Notification struct {
	Type       string            `json:"type"`
	OrgID      int64             `json:"org_id"`
	BatchID    *uuid.UUID        `json:"batch_id,omitempty"`
	ItemID     int64             `json:"item_id,omitempty"`
	ActorID    int64             `json:"actor_id,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Detail     string            `json:"detail,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

// Notifier delivers notifications. The engine never waits on a reply.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards payment initiation against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AdmissionLocker serialises authorizations within one organisation.
type AdmissionLocker interface {
	Acquire(ctx context.Context, orgID int64) (release func(context.Context) error, err error)
}

// MetricsPort counts engine outcomes.
type MetricsPort interface {
	ObserveOperation(operation string, outcome Outcome)
	ObserveDissolved()
}

// PaymentInstruction is sent to the payment initiation endpoint.
type PaymentInstruction struct {
	BatchID              uuid.UUID       `json:"batch_id"`
	OrgID                int64           `json:"org_id"`
	Amount               decimal.Decimal `json:"amount"`
	TransactionReference string          `json:"transaction_reference"`
	PaymentMode          string          `json:"payment_mode"`
	Remarks              string          `json:"remarks,omitempty"`
	TransactionDate      string          `json:"transaction_date"`
}

// PaymentReceipt is the gateway's acknowledgement.
type PaymentReceipt struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// PaymentGateway hands instructions to the external payment system.
type PaymentGateway interface {
	Initiate(ctx context.Context, in PaymentInstruction) (PaymentReceipt, error)
}

// Selection is a per-session cart of item ids chosen for a future batch.
type Selection struct {
	SessionID string   `json:"session_id"`
	Kind      ItemKind `json:"kind"`
	ItemIDs   []int64  `json:"item_ids"`
}

// SelectionStore persists selection carts.
type SelectionStore interface {
	Get(ctx context.Context, sessionID string) (Selection, error)
	Save(ctx context.Context, sel Selection) error
	Clear(ctx context.Context, sessionID string) error
}
