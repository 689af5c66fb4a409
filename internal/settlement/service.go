package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/utilibill/utilibill/internal/shared"
)

const idempotencyModule = "settlement.payment"

// ServiceDeps carries the optional collaborators of Service. Nil ports are
// skipped.
type ServiceDeps struct {
	Selections  SelectionStore
	Gateway     PaymentGateway
	Notifier    Notifier
	Audit       AuditPort
	Idempotency IdempotencyPort
	Locker      AdmissionLocker
	Metrics     MetricsPort
	Logger      *slog.Logger
	Clock       Clock
}

// Service orchestrates batch settlement.
type Service struct {
	repo       Repository
	selections SelectionStore
	gateway    PaymentGateway
	notifier   Notifier
	audit      AuditPort
	idem       IdempotencyPort
	locker     AdmissionLocker
	metrics    MetricsPort
	logger     *slog.Logger
	clock      Clock
	validate   *validator.Validate

	composer   *Composer
	admission  *AdmissionController
	reconciler *Reconciler
}

// NewService constructs the settlement service.
func NewService(repo Repository, deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock.now == nil {
		clock = NewClock(nil, nil)
	}
	composer := NewComposer(clock)
	return &Service{
		repo:       repo,
		selections: deps.Selections,
		gateway:    deps.Gateway,
		notifier:   deps.Notifier,
		audit:      deps.Audit,
		idem:       deps.Idempotency,
		locker:     deps.Locker,
		metrics:    deps.Metrics,
		logger:     logger.With(slog.String("component", "settlement")),
		clock:      clock,
		validate:   validator.New(),
		composer:   composer,
		admission:  NewAdmissionController(clock),
		reconciler: NewReconciler(composer),
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now == nil {
		return
	}
	s.clock = NewClock(now, s.clock.location())
	s.composer = NewComposer(s.clock)
	s.admission = NewAdmissionController(s.clock)
	s.reconciler = NewReconciler(s.composer)
}

// Clock exposes the service clock.
func (s *Service) Clock() Clock {
	return s.clock
}

// ApproveItem promotes a new item to approved.
func (s *Service) ApproveItem(ctx context.Context, orgID, itemID, actorID int64) (BillableItem, error) {
	var item BillableItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := scopeToOrg(tx, orgID).GetItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		next, err := Transition(current.Status, EventApprove)
		if err != nil {
			return err
		}
		current.Status = next
		item, err = tx.UpdateItem(ctx, current)
		return err
	})
	s.emit(ctx, "approve", Notification{Type: NotifyItemApproved, OrgID: orgID, ItemID: itemID, ActorID: actorID}, err)
	if err != nil {
		return BillableItem{}, err
	}
	s.recordAudit(ctx, actorID, "ITEM_APPROVE", "billable_item", strconv.FormatInt(itemID, 10), map[string]any{"kind": item.Kind})
	return item, nil
}

// Classify buckets the unbatched items of one kind for an organisation.
func (s *Service) Classify(ctx context.Context, orgID int64, kind ItemKind) (Buckets, error) {
	if kind != KindBill && kind != KindRecharge {
		return Buckets{}, fmt.Errorf("%w: unknown item kind %q", ErrValidation, kind)
	}
	items, err := s.repo.ListItems(ctx, ItemFilter{OrgID: orgID, Kind: kind, Unbatched: true})
	if err != nil {
		return Buckets{}, err
	}
	return Classify(items, s.clock), nil
}

// ClassifyAll classifies bills and recharges concurrently.
func (s *Service) ClassifyAll(ctx context.Context, orgID int64) (map[ItemKind]Buckets, error) {
	kinds := []ItemKind{KindBill, KindRecharge}
	results := make([]Buckets, len(kinds))
	g, ctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			b, err := s.Classify(ctx, orgID, kind)
			if err != nil {
				return fmt.Errorf("classify %s: %w", kind, err)
			}
			results[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[ItemKind]Buckets, len(kinds))
	for i, kind := range kinds {
		out[kind] = results[i]
	}
	return out, nil
}

// GetSelection returns the session cart.
func (s *Service) GetSelection(ctx context.Context, sessionID string) (Selection, error) {
	if s.selections == nil {
		return Selection{}, errors.New("settlement: selection store not configured")
	}
	return s.selections.Get(ctx, sessionID)
}

// SaveSelection replaces the session cart.
func (s *Service) SaveSelection(ctx context.Context, sel Selection) error {
	if s.selections == nil {
		return errors.New("settlement: selection store not configured")
	}
	if sel.SessionID == "" {
		return fmt.Errorf("%w: session required", ErrValidation)
	}
	if sel.Kind != KindBill && sel.Kind != KindRecharge {
		return fmt.Errorf("%w: unknown item kind %q", ErrValidation, sel.Kind)
	}
	return s.selections.Save(ctx, sel)
}

// ClearSelection empties the session cart.
func (s *Service) ClearSelection(ctx context.Context, sessionID string) error {
	if s.selections == nil {
		return nil
	}
	return s.selections.Clear(ctx, sessionID)
}

// CreateBatch builds a batch from explicit ids or, when none are given, from
// the session cart. The cart is cleared once the batch is committed.
func (s *Service) CreateBatch(ctx context.Context, in CreateBatchInput) (BatchDetail, error) {
	fromCart := false
	if len(in.ItemIDs) == 0 && in.SessionID != "" && s.selections != nil {
		sel, err := s.selections.Get(ctx, in.SessionID)
		if err != nil {
			return BatchDetail{}, err
		}
		if in.Kind == "" {
			in.Kind = sel.Kind
		}
		if sel.Kind != in.Kind {
			return BatchDetail{}, fmt.Errorf("%w: selection holds %s items", ErrValidation, sel.Kind)
		}
		in.ItemIDs = sel.ItemIDs
		fromCart = true
	}
	var (
		batch   Batch
		members []BillableItem
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, members, err = s.composer.Create(ctx, tx, in)
		return err
	})
	n := Notification{Type: NotifyBatchCreated, OrgID: in.OrgID, ActorID: in.ActorID}
	if err == nil {
		n.BatchID = &batch.ID
		n.Attributes = map[string]string{"items": strconv.Itoa(len(members))}
	}
	s.emit(ctx, "create_batch", n, err)
	if err != nil {
		return BatchDetail{}, err
	}
	if fromCart {
		if err := s.selections.Clear(ctx, in.SessionID); err != nil {
			s.logger.Warn("clear selection", slog.String("session_id", in.SessionID), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, in.ActorID, "BATCH_CREATE", "batch", batch.ID.String(), map[string]any{"items": len(members), "validate_at": batch.ValidateAt.Format(time.DateOnly)})
	return s.detail(batch, members), nil
}

// GetBatch returns the batch with its members and total.
func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (BatchDetail, error) {
	batch, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	members, err := s.repo.ListBatchMembers(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	return s.detail(batch, members), nil
}

// AddItem adds an item to an unpaid batch.
func (s *Service) AddItem(ctx context.Context, orgID int64, batchID uuid.UUID, itemID, actorID int64) (Batch, BillableItem, error) {
	var (
		batch Batch
		item  BillableItem
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, item, err = s.composer.AddItem(ctx, scopeToOrg(tx, orgID), batchID, itemID, actorID)
		return err
	})
	s.emit(ctx, "add_item", Notification{Type: NotifyItemAdded, OrgID: orgID, BatchID: &batchID, ItemID: itemID, ActorID: actorID}, err)
	if err != nil {
		return Batch{}, BillableItem{}, err
	}
	s.recordAudit(ctx, actorID, "BATCH_ADD_ITEM", "batch", batchID.String(), map[string]any{"item_id": itemID, "approved_amount": item.ApprovedAmount.Decimal.String()})
	return batch, item, nil
}

// RemoveItem detaches an item, dissolving the batch when it empties.
func (s *Service) RemoveItem(ctx context.Context, orgID int64, batchID uuid.UUID, itemID, actorID int64) (RemoveResult, error) {
	var res RemoveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = s.composer.RemoveItem(ctx, scopeToOrg(tx, orgID), batchID, itemID, actorID)
		return err
	})
	s.emit(ctx, "remove_item", Notification{Type: NotifyItemRemoved, OrgID: orgID, BatchID: &batchID, ItemID: itemID, ActorID: actorID, Detail: string(res.Item.Status)}, err)
	if err != nil {
		return RemoveResult{}, err
	}
	s.afterDetach(ctx, res, actorID)
	s.recordAudit(ctx, actorID, "BATCH_REMOVE_ITEM", "batch", batchID.String(), map[string]any{"item_id": itemID, "status": res.Item.Status, "dissolved": res.Dissolved})
	return res, nil
}

// Renew resets an expired batch's deadline to today.
func (s *Service) Renew(ctx context.Context, orgID int64, batchID uuid.UUID, actorID int64) (Batch, error) {
	var batch Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = s.composer.Renew(ctx, scopeToOrg(tx, orgID), batchID, actorID)
		return err
	})
	s.emit(ctx, "renew", Notification{Type: NotifyBatchRenewed, OrgID: orgID, BatchID: &batchID, ActorID: actorID}, err)
	if err != nil {
		return Batch{}, err
	}
	s.recordAudit(ctx, actorID, "BATCH_RENEW", "batch", batchID.String(), map[string]any{"validate_at": batch.ValidateAt.Format(time.DateOnly)})
	return batch, nil
}

// PaymentResult is the outcome of a successful payment initiation.
type PaymentResult struct {
	Authorization Authorization
	Receipt       PaymentReceipt
}

// Authorize runs admission control alone, without contacting the gateway.
func (s *Service) Authorize(ctx context.Context, orgID int64, batchID uuid.UUID, actorID int64) (Authorization, error) {
	auth, err := s.authorize(ctx, batchID, orgID, actorID)
	s.emit(ctx, "authorize", s.authorizeNotification(batchID, orgID, actorID, auth, err), err)
	if err != nil {
		return Authorization{}, err
	}
	s.recordAudit(ctx, actorID, "BATCH_AUTHORIZE", "batch", batchID.String(), map[string]any{"projected": auth.Projected.String(), "threshold": auth.Threshold.String()})
	return auth, nil
}

// InitiatePayment authorizes the batch and hands it to the payment gateway.
// A definite refusal reverts the batch to unpaid and releases the
// transaction reference. Any other gateway failure returns
// ErrPaymentOutcomeUnknown with the batch left processing.
func (s *Service) InitiatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return PaymentResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if s.gateway == nil {
		return PaymentResult{}, errors.New("settlement: payment gateway not configured")
	}
	key := req.TransactionReference
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return PaymentResult{}, err
		}
	}
	rollbackKey := func() {
		if s.idem == nil {
			return
		}
		if err := s.idem.Delete(ctx, key); err != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
		}
	}

	auth, err := s.authorize(ctx, req.BatchID, req.OrgID, req.ActorID)
	s.emit(ctx, "authorize", s.authorizeNotification(req.BatchID, req.OrgID, req.ActorID, auth, err), err)
	if err != nil {
		rollbackKey()
		return PaymentResult{}, err
	}

	receipt, gwErr := s.gateway.Initiate(ctx, PaymentInstruction{
		BatchID:              req.BatchID,
		OrgID:                req.OrgID,
		Amount:               auth.Amount,
		TransactionReference: req.TransactionReference,
		PaymentMode:          req.PaymentMode,
		Remarks:              req.Remarks,
		TransactionDate:      req.TransactionDate.Format(time.DateOnly),
	})
	if gwErr != nil {
		n := Notification{Type: NotifyPaymentInitiated, OrgID: req.OrgID, BatchID: &req.BatchID, ActorID: req.ActorID}
		if !errors.Is(gwErr, ErrPaymentRejected) {
			// The gateway may have accepted the instruction. The batch stays
			// processing and the reference stays claimed until someone
			// confirms or fails the payment.
			err := gwErr
			if !errors.Is(err, ErrPaymentOutcomeUnknown) {
				err = fmt.Errorf("%w: %v", ErrPaymentOutcomeUnknown, gwErr)
			}
			s.emit(ctx, "initiate_payment", n, err)
			s.recordAudit(ctx, req.ActorID, "BATCH_PAYMENT_UNKNOWN", "batch", req.BatchID.String(), map[string]any{
				"transaction_reference": req.TransactionReference,
				"amount":                auth.Amount.String(),
				"error":                 gwErr.Error(),
			})
			return PaymentResult{}, err
		}
		rollbackKey()
		revertErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			_, _, err := s.admission.Settle(ctx, scopeToOrg(tx, req.OrgID), req.BatchID, EventPaymentFailed, req.ActorID)
			return err
		})
		if revertErr != nil {
			s.logger.Error("revert batch after gateway refusal", slog.String("batch_id", req.BatchID.String()), slog.Any("error", revertErr))
		}
		s.emit(ctx, "initiate_payment", n, gwErr)
		return PaymentResult{}, gwErr
	}
	s.emit(ctx, "initiate_payment", Notification{
		Type:       NotifyPaymentInitiated,
		OrgID:      req.OrgID,
		BatchID:    &req.BatchID,
		ActorID:    req.ActorID,
		Attributes: map[string]string{"reference": receipt.Reference, "amount": auth.Amount.StringFixed(2)},
	}, nil)
	s.recordAudit(ctx, req.ActorID, "BATCH_PAYMENT_INITIATE", "batch", req.BatchID.String(), map[string]any{
		"transaction_reference": req.TransactionReference,
		"payment_mode":          req.PaymentMode,
		"amount":                auth.Amount.String(),
		"gateway_reference":     receipt.Reference,
	})
	return PaymentResult{Authorization: auth, Receipt: receipt}, nil
}

// ConfirmPayment records the external confirmation for a processing batch.
func (s *Service) ConfirmPayment(ctx context.Context, orgID int64, batchID uuid.UUID, actorID int64) (BatchDetail, error) {
	var (
		batch   Batch
		members []BillableItem
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, members, err = s.admission.Settle(ctx, scopeToOrg(tx, orgID), batchID, EventPaymentConfirmed, actorID)
		return err
	})
	s.emit(ctx, "confirm_payment", Notification{Type: NotifyPaymentConfirmed, OrgID: orgID, BatchID: &batchID, ActorID: actorID}, err)
	if err != nil {
		return BatchDetail{}, err
	}
	s.recordAudit(ctx, actorID, "BATCH_PAYMENT_CONFIRM", "batch", batchID.String(), map[string]any{"items": len(members)})
	return s.detail(batch, members), nil
}

// FailPayment reverts a processing batch to unpaid once the payment is known
// not to have happened. The transaction reference stays claimed.
func (s *Service) FailPayment(ctx context.Context, orgID int64, batchID uuid.UUID, actorID int64) (BatchDetail, error) {
	var (
		batch   Batch
		members []BillableItem
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, members, err = s.admission.Settle(ctx, scopeToOrg(tx, orgID), batchID, EventPaymentFailed, actorID)
		return err
	})
	s.emit(ctx, "fail_payment", Notification{Type: NotifyPaymentFailed, OrgID: orgID, BatchID: &batchID, ActorID: actorID}, err)
	if err != nil {
		return BatchDetail{}, err
	}
	s.recordAudit(ctx, actorID, "BATCH_PAYMENT_FAIL", "batch", batchID.String(), map[string]any{"items": len(members)})
	return s.detail(batch, members), nil
}

// RejectItem rejects an item, detaching it from any unpaid batch.
func (s *Service) RejectItem(ctx context.Context, orgID, itemID, actorID int64) (RemoveResult, error) {
	var res RemoveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = s.reconciler.Reject(ctx, scopeToOrg(tx, orgID), itemID, actorID)
		return err
	})
	n := Notification{Type: NotifyItemRejected, OrgID: orgID, ItemID: itemID, ActorID: actorID}
	if res.Batch.ID != uuid.Nil {
		n.BatchID = &res.Batch.ID
	}
	s.emit(ctx, "reject", n, err)
	if err != nil {
		return RemoveResult{}, err
	}
	if res.Batch.ID != uuid.Nil {
		s.afterDetach(ctx, res, actorID)
	}
	s.recordAudit(ctx, actorID, "ITEM_REJECT", "billable_item", strconv.FormatInt(itemID, 10), map[string]any{"dissolved": res.Dissolved})
	return res, nil
}

// ReplaceItem swaps a batched bill for its newer counterpart.
func (s *Service) ReplaceItem(ctx context.Context, in ReplaceInput) (ReplaceResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return ReplaceResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var res ReplaceResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = s.reconciler.Replace(ctx, scopeToOrg(tx, in.OrgID), in)
		return err
	})
	n := Notification{Type: NotifyItemReplaced, OrgID: in.OrgID, ItemID: in.OldItemID, ActorID: in.ActorID}
	if err == nil {
		n.BatchID = &res.Batch.ID
		n.Attributes = map[string]string{"replacement_id": strconv.FormatInt(in.NewItemID, 10)}
	}
	s.emit(ctx, "replace", n, err)
	if err != nil {
		return ReplaceResult{}, err
	}
	s.recordAudit(ctx, in.ActorID, "ITEM_REPLACE", "batch", res.Batch.ID.String(), map[string]any{
		"old_item_id":     in.OldItemID,
		"new_item_id":     in.NewItemID,
		"approved_amount": in.NewApprovedAmount.String(),
	})
	return res, nil
}

// ScanExpired emits a notification for every unpaid batch past its deadline.
// Batches are left untouched.
func (s *Service) ScanExpired(ctx context.Context) ([]Batch, error) {
	batches, err := s.repo.ListExpiredBatches(ctx, s.clock.Today())
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		id := b.ID
		s.notify(ctx, Notification{
			Type:       NotifyBatchExpired,
			OrgID:      b.OrgID,
			BatchID:    &id,
			Outcome:    OutcomeSuccess,
			Attributes: map[string]string{"validate_at": b.ValidateAt.Format(time.DateOnly)},
		})
	}
	return batches, nil
}

func (s *Service) authorize(ctx context.Context, batchID uuid.UUID, orgID, actorID int64) (Authorization, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return Authorization{}, err
	}
	if batch.OrgID != orgID {
		return Authorization{}, ErrBatchNotFound
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, batch.OrgID)
		if err != nil {
			return Authorization{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release admission lock", slog.Int64("org_id", batch.OrgID), slog.Any("error", err))
			}
		}()
	}
	var auth Authorization
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		auth, err = s.admission.Authorize(ctx, scopeToOrg(tx, orgID), batchID, actorID)
		return err
	})
	if err != nil {
		return Authorization{}, err
	}
	return auth, nil
}

func (s *Service) authorizeNotification(batchID uuid.UUID, orgID, actorID int64, auth Authorization, err error) Notification {
	n := Notification{Type: NotifyBatchAuthorized, OrgID: orgID, BatchID: &batchID, ActorID: actorID}
	var thr *ThresholdExceededError
	var exp *ExpiredError
	switch {
	case errors.As(err, &thr):
		n.Attributes = map[string]string{"projected": thr.Projected.String(), "threshold": thr.Threshold.String()}
	case errors.As(err, &exp):
		n.Attributes = map[string]string{"validate_at": exp.ValidateAt.Format(time.DateOnly)}
	case err == nil:
		n.Attributes = map[string]string{"projected": auth.Projected.String(), "threshold": auth.Threshold.String()}
	}
	return n
}

func (s *Service) afterDetach(ctx context.Context, res RemoveResult, actorID int64) {
	if !res.Dissolved {
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveDissolved()
	}
	id := res.Batch.ID
	s.notify(ctx, Notification{Type: NotifyBatchDissolved, OrgID: res.Batch.OrgID, BatchID: &id, ActorID: actorID, Outcome: OutcomeSuccess})
}

func (s *Service) detail(batch Batch, members []BillableItem) BatchDetail {
	total := decimal.Zero
	for _, m := range members {
		if m.ApprovedAmount.Valid {
			total = total.Add(m.ApprovedAmount.Decimal)
		}
	}
	return BatchDetail{
		Batch:   batch,
		Members: members,
		Total:   total,
		Expired: batch.Status == BatchUnpaid && s.admission.Expired(batch),
	}
}

// emit records the operation outcome as a metric sample and a notification.
func (s *Service) emit(ctx context.Context, operation string, n Notification, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
		if errors.Is(err, ErrPaymentOutcomeUnknown) {
			outcome = OutcomeUnknown
		}
		n.Detail = err.Error()
		s.logger.Warn("settlement operation failed", slog.String("operation", operation), slog.Int64("org_id", n.OrgID), slog.Int64("item_id", n.ItemID), slog.Any("error", err))
	}
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, outcome)
	}
	n.Outcome = outcome
	s.notify(ctx, n)
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if n.At.IsZero() {
		n.At = s.clock.Now()
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notify", slog.String("type", n.Type), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: entityID, Meta: meta, At: s.clock.Now()}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
