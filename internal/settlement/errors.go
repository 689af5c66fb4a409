package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates a batch or item is missing.
	ErrNotFound = errors.New("settlement: not found")
	// ErrBatchNotFound indicates the batch does not exist or was dissolved.
	ErrBatchNotFound = fmt.Errorf("%w: batch", ErrNotFound)
	// ErrItemNotFound indicates the item does not exist.
	ErrItemNotFound = fmt.Errorf("%w: item", ErrNotFound)
	// ErrItemNotInBatch indicates the item is already detached from the batch.
	ErrItemNotInBatch = fmt.Errorf("%w: item not in batch", ErrNotFound)
	// ErrInvalidTransition indicates an illegal lifecycle move.
	ErrInvalidTransition = errors.New("settlement: invalid transition")
	// ErrThresholdExceeded indicates admission was denied by the org threshold.
	ErrThresholdExceeded = errors.New("settlement: organisation threshold exceeded")
	// ErrExpired indicates the batch is past its validity and must be renewed.
	ErrExpired = errors.New("settlement: batch expired")
	// ErrBlocked indicates a batch member is still unresolved.
	ErrBlocked = errors.New("settlement: batch has unresolved members")
	// ErrConcurrentModification indicates an optimistic lock failure.
	ErrConcurrentModification = errors.New("settlement: concurrent modification")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("settlement: invalid input")
	// ErrPaymentRejected indicates the payment gateway definitely refused the
	// instruction. Nothing was charged.
	ErrPaymentRejected = errors.New("settlement: payment rejected by gateway")
	// ErrPaymentOutcomeUnknown indicates the gateway may or may not have
	// accepted the instruction. The batch stays processing until confirmed
	// or failed explicitly.
	ErrPaymentOutcomeUnknown = errors.New("settlement: payment outcome unknown")
)

// ThresholdExceededError carries the amounts behind an admission denial.
type ThresholdExceededError struct {
	Projected decimal.Decimal
	Threshold decimal.Decimal
}

func (e *ThresholdExceededError) Error() string {
	return fmt.Sprintf("settlement: projected spend %s exceeds threshold %s", e.Projected.StringFixed(2), e.Threshold.StringFixed(2))
}

func (e *ThresholdExceededError) Unwrap() error {
	return ErrThresholdExceeded
}

// ExpiredError reports the deadline a batch missed.
type ExpiredError struct {
	BatchID    uuid.UUID
	ValidateAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("settlement: batch %s expired on %s, renew before paying", e.BatchID, e.ValidateAt.Format(time.DateOnly))
}

func (e *ExpiredError) Unwrap() error {
	return ErrExpired
}

// BlockedError lists the members preventing authorization.
type BlockedError struct {
	BatchID uuid.UUID
	ItemIDs []int64
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("settlement: batch %s blocked by unresolved items %v", e.BatchID, e.ItemIDs)
}

func (e *BlockedError) Unwrap() error {
	return ErrBlocked
}

// TransitionError describes a rejected lifecycle move.
type TransitionError struct {
	Entity string
	From   string
	Event  Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("settlement: %s cannot %s from %s", e.Entity, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
