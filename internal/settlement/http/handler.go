package settlementhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/utilibill/utilibill/internal/platform/httpx"
	"github.com/utilibill/utilibill/internal/settlement"
	"github.com/utilibill/utilibill/internal/shared"
)

type settlementService interface {
	ApproveItem(ctx context.Context, orgID, itemID, actorID int64) (settlement.BillableItem, error)
	Classify(ctx context.Context, orgID int64, kind settlement.ItemKind) (settlement.Buckets, error)
	ClassifyAll(ctx context.Context, orgID int64) (map[settlement.ItemKind]settlement.Buckets, error)
	GetSelection(ctx context.Context, sessionID string) (settlement.Selection, error)
	SaveSelection(ctx context.Context, sel settlement.Selection) error
	ClearSelection(ctx context.Context, sessionID string) error
	CreateBatch(ctx context.Context, in settlement.CreateBatchInput) (settlement.BatchDetail, error)
	GetBatch(ctx context.Context, id uuid.UUID) (settlement.BatchDetail, error)
	AddItem(ctx context.Context, orgID int64, batchID uuid.UUID, itemID, actorID int64) (settlement.Batch, settlement.BillableItem, error)
	RemoveItem(ctx context.Context, orgID int64, batchID uuid.UUID, itemID, actorID int64) (settlement.RemoveResult, error)
	Renew(ctx context.Context, orgID int64, batchID uuid.UUID, actorID int64) (settlement.Batch, error)
	Authorize(ctx context.Context, orgID int64, batchID uuid.UUID, actorID int64) (settlement.Authorization, error)
	InitiatePayment(ctx context.Context, req settlement.PaymentRequest) (settlement.PaymentResult, error)
	ConfirmPayment(ctx context.Context, orgID int64, batchID uuid.UUID, actorID int64) (settlement.BatchDetail, error)
	FailPayment(ctx context.Context, orgID int64, batchID uuid.UUID, actorID int64) (settlement.BatchDetail, error)
	RejectItem(ctx context.Context, orgID, itemID, actorID int64) (settlement.RemoveResult, error)
	ReplaceItem(ctx context.Context, in settlement.ReplaceInput) (settlement.ReplaceResult, error)
}

// Handler exposes the settlement engine over JSON.
type Handler struct {
	logger   *slog.Logger
	service  settlementService
	validate *validator.Validate
	printer  *message.Printer
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service settlementService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		printer:  message.NewPrinter(language.English),
	}
}

// MountRoutes registers settlement routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/settlement", func(r chi.Router) {
		r.Use(h.identity)
		r.Get("/classify", h.classify)

		r.Get("/selection", h.getSelection)
		r.Put("/selection", h.saveSelection)
		r.Delete("/selection", h.clearSelection)

		r.Post("/batches", h.createBatch)
		r.Route("/batches/{batchID}", func(r chi.Router) {
			r.Get("/", h.getBatch)
			r.Post("/items", h.addItem)
			r.Delete("/items/{itemID}", h.removeItem)
			r.Post("/renew", h.renew)
			r.Post("/authorize", h.authorize)
			r.Post("/payments", h.initiatePayment)
			r.Post("/confirm", h.confirmPayment)
			r.Post("/fail", h.failPayment)
		})

		r.Post("/items/{itemID}/approve", h.approveItem)
		r.Post("/items/{itemID}/reject", h.rejectItem)
		r.Post("/items/{itemID}/replace", h.replaceItem)
	})
}

func (h *Handler) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := shared.IdentityFromRequest(r)
		if id.ActorID == 0 || id.OrgID == 0 {
			httpx.Problem(w, http.StatusUnauthorized, "Missing Identity", fmt.Sprintf("%s and %s headers are required", shared.HeaderActorID, shared.HeaderOrgID))
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
	})
}

func (h *Handler) classify(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	kind := settlement.ItemKind(r.URL.Query().Get("kind"))
	if kind == "" {
		all, err := h.service.ClassifyAll(r.Context(), id.OrgID)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		out := make(map[string]bucketsResponse, len(all))
		for k, b := range all {
			out[string(k)] = toBucketsResponse(b)
		}
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	buckets, err := h.service.Classify(r.Context(), id.OrgID, kind)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBucketsResponse(buckets))
}

type selectionRequest struct {
	Kind    string  `json:"kind" validate:"required,oneof=bill recharge"`
	ItemIDs []int64 `json:"item_ids" validate:"dive,gt=0"`
}

func (h *Handler) getSelection(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.session(w, r)
	if !ok {
		return
	}
	sel, err := h.service.GetSelection(r.Context(), sessionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sel)
}

func (h *Handler) saveSelection(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.session(w, r)
	if !ok {
		return
	}
	var req selectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	sel := settlement.Selection{SessionID: sessionID, Kind: settlement.ItemKind(req.Kind), ItemIDs: req.ItemIDs}
	if err := h.service.SaveSelection(r.Context(), sel); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sel)
}

func (h *Handler) clearSelection(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.service.ClearSelection(r.Context(), sessionID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createBatchRequest struct {
	Kind         string  `json:"kind" validate:"omitempty,oneof=bill recharge"`
	ItemIDs      []int64 `json:"item_ids" validate:"dive,gt=0"`
	UseSelection bool    `json:"use_selection"`
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	var req createBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := settlement.CreateBatchInput{
		OrgID:   id.OrgID,
		ActorID: id.ActorID,
		Kind:    settlement.ItemKind(req.Kind),
		ItemIDs: req.ItemIDs,
	}
	if req.UseSelection {
		if id.SessionID == "" {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.HeaderSessionID+" header is required to use the selection")
			return
		}
		in.SessionID = id.SessionID
	}
	detail, err := h.service.CreateBatch(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/settlement/batches/"+detail.Batch.ID.String())
	httpx.JSON(w, http.StatusCreated, toBatchResponse(detail))
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetBatch(r.Context(), batchID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !h.sameOrg(w, r, detail.Batch.OrgID) {
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchResponse(detail))
}

type addItemRequest struct {
	ItemID int64 `json:"item_id" validate:"required,gt=0"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	batch, item, err := h.service.AddItem(r.Context(), id.OrgID, batchID, req.ItemID, id.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"batch": toBatchSummary(batch),
		"item":  toItemResponse(item),
	})
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	res, err := h.service.RemoveItem(r.Context(), id.OrgID, batchID, itemID, id.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRemoveResponse(res))
}

func (h *Handler) renew(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}
	batch, err := h.service.Renew(r.Context(), id.OrgID, batchID, id.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchSummary(batch))
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}
	auth, err := h.service.Authorize(r.Context(), id.OrgID, batchID, id.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAuthorizationResponse(auth))
}

type paymentRequest struct {
	TransactionReference string `json:"transaction_reference" validate:"required,max=64"`
	PaymentMode          string `json:"payment_mode" validate:"required"`
	Remarks              string `json:"remarks" validate:"max=255"`
	TransactionDate      string `json:"transaction_date" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	txDate, err := time.Parse(time.DateOnly, req.TransactionDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "transaction_date must be YYYY-MM-DD")
		return
	}
	res, err := h.service.InitiatePayment(r.Context(), settlement.PaymentRequest{
		BatchID:              batchID,
		OrgID:                id.OrgID,
		ActorID:              id.ActorID,
		TransactionReference: req.TransactionReference,
		PaymentMode:          req.PaymentMode,
		Remarks:              req.Remarks,
		TransactionDate:      txDate,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := toAuthorizationResponse(res.Authorization)
	out.GatewayReference = res.Receipt.Reference
	out.GatewayStatus = res.Receipt.Status
	httpx.JSON(w, http.StatusAccepted, out)
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.ConfirmPayment(r.Context(), id.OrgID, batchID, id.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchResponse(detail))
}

func (h *Handler) failPayment(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.FailPayment(r.Context(), id.OrgID, batchID, id.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchResponse(detail))
}

func (h *Handler) approveItem(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	item, err := h.service.ApproveItem(r.Context(), id.OrgID, itemID, id.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) rejectItem(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	res, err := h.service.RejectItem(r.Context(), id.OrgID, itemID, id.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRemoveResponse(res))
}

type replaceRequest struct {
	NewItemID      int64  `json:"new_item_id" validate:"required,gt=0"`
	ApprovedAmount string `json:"approved_amount" validate:"required,numeric"`
}

func (h *Handler) replaceItem(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req replaceRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.ApprovedAmount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "approved_amount must be a decimal number")
		return
	}
	res, err := h.service.ReplaceItem(r.Context(), settlement.ReplaceInput{
		OldItemID:         itemID,
		NewItemID:         req.NewItemID,
		NewApprovedAmount: amount,
		OrgID:             id.OrgID,
		ActorID:           id.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"batch":    toBatchSummary(res.Batch),
		"rejected": toItemResponse(res.Old),
		"replaced": toItemResponse(res.New),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			params := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				params[strings.ToLower(fe.Field())] = fe.Tag()
			}
			httpx.ProblemWithParams(w, http.StatusBadRequest, "Validation Failed", "request failed validation", params)
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, _ := shared.IdentityFromContext(r.Context())
	if id.SessionID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.HeaderSessionID+" header is required")
		return "", false
	}
	return id.SessionID, true
}

func (h *Handler) sameOrg(w http.ResponseWriter, r *http.Request, orgID int64) bool {
	id, _ := shared.IdentityFromContext(r.Context())
	if id.OrgID != orgID {
		httpx.Problem(w, http.StatusNotFound, "Not Found", settlement.ErrBatchNotFound.Error())
		return false
	}
	return true
}

func (h *Handler) batchID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		thr     *settlement.ThresholdExceededError
		exp     *settlement.ExpiredError
		blocked *settlement.BlockedError
	)
	switch {
	case errors.As(err, &thr):
		httpx.ProblemWithParams(w, http.StatusUnprocessableEntity, "Threshold Exceeded",
			h.printer.Sprintf("Projected spend %s exceeds the organisation threshold of %s.", h.amount(thr.Projected), h.amount(thr.Threshold)),
			map[string]string{"projected": thr.Projected.StringFixed(2), "threshold": thr.Threshold.StringFixed(2)})
	case errors.As(err, &exp):
		httpx.ProblemWithParams(w, http.StatusUnprocessableEntity, "Batch Expired",
			fmt.Sprintf("The batch expired on %s. Renew it before paying.", exp.ValidateAt.Format(time.DateOnly)),
			map[string]string{"validate_at": exp.ValidateAt.Format(time.DateOnly)})
	case errors.As(err, &blocked):
		ids := make([]string, 0, len(blocked.ItemIDs))
		for _, id := range blocked.ItemIDs {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		httpx.ProblemWithParams(w, http.StatusLocked, "Batch Blocked", "Some items await reconciliation.",
			map[string]string{"item_ids": strings.Join(ids, ",")})
	case errors.Is(err, settlement.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, settlement.ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, settlement.ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Payment", err.Error())
	case errors.Is(err, settlement.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, settlement.ErrPaymentRejected):
		httpx.Problem(w, http.StatusBadGateway, "Payment Rejected", err.Error())
	case errors.Is(err, settlement.ErrPaymentOutcomeUnknown):
		httpx.Problem(w, http.StatusGatewayTimeout, "Payment Outcome Unknown",
			"The gateway did not confirm the instruction. Confirm or fail the batch once its status is known.")
	default:
		h.logger.Error("settlement request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) amount(d decimal.Decimal) string {
	return h.printer.Sprintf("%.2f", d.InexactFloat64())
}
