package settlementhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/utilibill/utilibill/internal/platform/httpx"
	"github.com/utilibill/utilibill/internal/settlement"
	"github.com/utilibill/utilibill/internal/shared"
)

var errUnexpectedCall = errors.New("unexpected call")

type stubService struct {
	// owner, when set, makes every org-scoped call from another org miss.
	owner int64

	classifyFn        func(ctx context.Context, orgID int64, kind settlement.ItemKind) (settlement.Buckets, error)
	classifyAllFn     func(ctx context.Context, orgID int64) (map[settlement.ItemKind]settlement.Buckets, error)
	saveSelectionFn   func(ctx context.Context, sel settlement.Selection) error
	createBatchFn     func(ctx context.Context, in settlement.CreateBatchInput) (settlement.BatchDetail, error)
	getBatchFn        func(ctx context.Context, id uuid.UUID) (settlement.BatchDetail, error)
	removeItemFn      func(ctx context.Context, orgID int64, batchID uuid.UUID, itemID, actorID int64) (settlement.RemoveResult, error)
	authorizeFn       func(ctx context.Context, orgID int64, batchID uuid.UUID, actorID int64) (settlement.Authorization, error)
	initiatePaymentFn func(ctx context.Context, req settlement.PaymentRequest) (settlement.PaymentResult, error)
	replaceItemFn     func(ctx context.Context, in settlement.ReplaceInput) (settlement.ReplaceResult, error)
}

func (s *stubService) scoped(orgID int64, missing error) error {
	if s.owner != 0 && orgID != s.owner {
		return missing
	}
	return nil
}

func (s *stubService) ApproveItem(_ context.Context, orgID, _, _ int64) (settlement.BillableItem, error) {
	if err := s.scoped(orgID, settlement.ErrItemNotFound); err != nil {
		return settlement.BillableItem{}, err
	}
	return settlement.BillableItem{}, errUnexpectedCall
}

func (s *stubService) Classify(ctx context.Context, orgID int64, kind settlement.ItemKind) (settlement.Buckets, error) {
	if s.classifyFn == nil {
		return settlement.Buckets{}, errUnexpectedCall
	}
	return s.classifyFn(ctx, orgID, kind)
}

func (s *stubService) ClassifyAll(ctx context.Context, orgID int64) (map[settlement.ItemKind]settlement.Buckets, error) {
	if s.classifyAllFn == nil {
		return nil, errUnexpectedCall
	}
	return s.classifyAllFn(ctx, orgID)
}

func (s *stubService) GetSelection(context.Context, string) (settlement.Selection, error) {
	return settlement.Selection{}, errUnexpectedCall
}

func (s *stubService) SaveSelection(ctx context.Context, sel settlement.Selection) error {
	if s.saveSelectionFn == nil {
		return errUnexpectedCall
	}
	return s.saveSelectionFn(ctx, sel)
}

func (s *stubService) ClearSelection(context.Context, string) error {
	return errUnexpectedCall
}

func (s *stubService) CreateBatch(ctx context.Context, in settlement.CreateBatchInput) (settlement.BatchDetail, error) {
	if s.createBatchFn == nil {
		return settlement.BatchDetail{}, errUnexpectedCall
	}
	return s.createBatchFn(ctx, in)
}

func (s *stubService) GetBatch(ctx context.Context, id uuid.UUID) (settlement.BatchDetail, error) {
	if s.getBatchFn == nil {
		return settlement.BatchDetail{}, errUnexpectedCall
	}
	return s.getBatchFn(ctx, id)
}

func (s *stubService) AddItem(_ context.Context, orgID int64, _ uuid.UUID, _, _ int64) (settlement.Batch, settlement.BillableItem, error) {
	if err := s.scoped(orgID, settlement.ErrBatchNotFound); err != nil {
		return settlement.Batch{}, settlement.BillableItem{}, err
	}
	return settlement.Batch{}, settlement.BillableItem{}, errUnexpectedCall
}

func (s *stubService) RemoveItem(ctx context.Context, orgID int64, batchID uuid.UUID, itemID, actorID int64) (settlement.RemoveResult, error) {
	if err := s.scoped(orgID, settlement.ErrBatchNotFound); err != nil {
		return settlement.RemoveResult{}, err
	}
	if s.removeItemFn == nil {
		return settlement.RemoveResult{}, errUnexpectedCall
	}
	return s.removeItemFn(ctx, orgID, batchID, itemID, actorID)
}

func (s *stubService) Renew(_ context.Context, orgID int64, _ uuid.UUID, _ int64) (settlement.Batch, error) {
	if err := s.scoped(orgID, settlement.ErrBatchNotFound); err != nil {
		return settlement.Batch{}, err
	}
	return settlement.Batch{}, errUnexpectedCall
}

func (s *stubService) Authorize(ctx context.Context, orgID int64, batchID uuid.UUID, actorID int64) (settlement.Authorization, error) {
	if err := s.scoped(orgID, settlement.ErrBatchNotFound); err != nil {
		return settlement.Authorization{}, err
	}
	if s.authorizeFn == nil {
		return settlement.Authorization{}, errUnexpectedCall
	}
	return s.authorizeFn(ctx, orgID, batchID, actorID)
}

func (s *stubService) InitiatePayment(ctx context.Context, req settlement.PaymentRequest) (settlement.PaymentResult, error) {
	if err := s.scoped(req.OrgID, settlement.ErrBatchNotFound); err != nil {
		return settlement.PaymentResult{}, err
	}
	if s.initiatePaymentFn == nil {
		return settlement.PaymentResult{}, errUnexpectedCall
	}
	return s.initiatePaymentFn(ctx, req)
}

func (s *stubService) ConfirmPayment(_ context.Context, orgID int64, _ uuid.UUID, _ int64) (settlement.BatchDetail, error) {
	if err := s.scoped(orgID, settlement.ErrBatchNotFound); err != nil {
		return settlement.BatchDetail{}, err
	}
	return settlement.BatchDetail{}, errUnexpectedCall
}

func (s *stubService) FailPayment(_ context.Context, orgID int64, _ uuid.UUID, _ int64) (settlement.BatchDetail, error) {
	if err := s.scoped(orgID, settlement.ErrBatchNotFound); err != nil {
		return settlement.BatchDetail{}, err
	}
	return settlement.BatchDetail{}, errUnexpectedCall
}

func (s *stubService) RejectItem(_ context.Context, orgID, _, _ int64) (settlement.RemoveResult, error) {
	if err := s.scoped(orgID, settlement.ErrItemNotFound); err != nil {
		return settlement.RemoveResult{}, err
	}
	return settlement.RemoveResult{}, errUnexpectedCall
}

func (s *stubService) ReplaceItem(ctx context.Context, in settlement.ReplaceInput) (settlement.ReplaceResult, error) {
	if err := s.scoped(in.OrgID, settlement.ErrItemNotFound); err != nil {
		return settlement.ReplaceResult{}, err
	}
	if s.replaceItemFn == nil {
		return settlement.ReplaceResult{}, errUnexpectedCall
	}
	return s.replaceItemFn(ctx, in)
}

func newTestRouter(svc settlementService) http.Handler {
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(shared.HeaderActorID, "7")
	req.Header.Set(shared.HeaderOrgID, "42")
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&problem))
	return problem
}

func sampleBatch(id uuid.UUID) settlement.Batch {
	return settlement.Batch{
		ID:         id,
		OrgID:      42,
		Kind:       settlement.KindBill,
		Status:     settlement.BatchUnpaid,
		ValidateAt: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Version:    3,
	}
}

func TestIdentityHeadersRequired(t *testing.T) {
	router := newTestRouter(&stubService{})

	rr := doRequest(t, router, http.MethodGet, "/settlement/classify", "", map[string]string{shared.HeaderOrgID: ""})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	problem := decodeProblem(t, rr)
	require.Equal(t, "Missing Identity", problem.Title)

	rr = doRequest(t, router, http.MethodGet, "/settlement/classify", "", map[string]string{shared.HeaderActorID: "abc"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestClassifyUsesCallerOrganisation(t *testing.T) {
	var gotOrg int64
	var gotKind settlement.ItemKind
	svc := &stubService{
		classifyFn: func(_ context.Context, orgID int64, kind settlement.ItemKind) (settlement.Buckets, error) {
			gotOrg, gotKind = orgID, kind
			return settlement.Buckets{Selectable: []settlement.BillableItem{{ID: 5, Kind: kind, Gross: decimal.NewFromInt(100)}}}, nil
		},
	}
	rr := doRequest(t, newTestRouter(svc), http.MethodGet, "/settlement/classify?kind=bill", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(42), gotOrg)
	require.Equal(t, settlement.KindBill, gotKind)

	var body bucketsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Len(t, body.Selectable, 1)
	require.Equal(t, int64(5), body.Selectable[0].ID)
	require.Empty(t, body.Overdue)
}

func TestClassifyWithoutKindReturnsEveryKind(t *testing.T) {
	svc := &stubService{
		classifyAllFn: func(context.Context, int64) (map[settlement.ItemKind]settlement.Buckets, error) {
			return map[settlement.ItemKind]settlement.Buckets{
				settlement.KindBill:     {},
				settlement.KindRecharge: {},
			}, nil
		},
	}
	rr := doRequest(t, newTestRouter(svc), http.MethodGet, "/settlement/classify", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]bucketsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Contains(t, body, "bill")
	require.Contains(t, body, "recharge")
}

func TestSelectionRequiresSession(t *testing.T) {
	router := newTestRouter(&stubService{})
	rr := doRequest(t, router, http.MethodPut, "/settlement/selection", `{"kind":"bill","item_ids":[1]}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, decodeProblem(t, rr).Detail, shared.HeaderSessionID)
}

func TestSaveSelectionValidatesBody(t *testing.T) {
	var saved settlement.Selection
	svc := &stubService{
		saveSelectionFn: func(_ context.Context, sel settlement.Selection) error {
			saved = sel
			return nil
		},
	}
	router := newTestRouter(svc)
	session := map[string]string{shared.HeaderSessionID: "sess-1"}

	rr := doRequest(t, router, http.MethodPut, "/settlement/selection", `{"kind":"water","item_ids":[1]}`, session)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	problem := decodeProblem(t, rr)
	require.Equal(t, "oneof", problem.Params["kind"])

	rr = doRequest(t, router, http.MethodPut, "/settlement/selection", `{"kind":"bill","item_ids":[1],"extra":true}`, session)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, http.MethodPut, "/settlement/selection", `{"kind":"bill","item_ids":[3,4]}`, session)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "sess-1", saved.SessionID)
	require.Equal(t, []int64{3, 4}, saved.ItemIDs)
}

func TestCreateBatchReturnsLocation(t *testing.T) {
	batchID := uuid.New()
	var captured settlement.CreateBatchInput
	svc := &stubService{
		createBatchFn: func(_ context.Context, in settlement.CreateBatchInput) (settlement.BatchDetail, error) {
			captured = in
			return settlement.BatchDetail{Batch: sampleBatch(batchID), Total: decimal.NewFromInt(950)}, nil
		},
	}
	rr := doRequest(t, newTestRouter(svc), http.MethodPost, "/settlement/batches", `{"kind":"bill","item_ids":[1,2]}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "/settlement/batches/"+batchID.String(), rr.Header().Get("Location"))
	require.Equal(t, int64(42), captured.OrgID)
	require.Equal(t, int64(7), captured.ActorID)
	require.Equal(t, int64(42), captured.OrgID)
	require.Empty(t, captured.SessionID)

	var body batchResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, "2024-03-15", body.ValidateAt)
	require.True(t, body.Total.Equal(decimal.NewFromInt(950)))
}

func TestCreateBatchFromSelectionNeedsSession(t *testing.T) {
	rr := doRequest(t, newTestRouter(&stubService{}), http.MethodPost, "/settlement/batches", `{"use_selection":true}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var captured settlement.CreateBatchInput
	svc := &stubService{
		createBatchFn: func(_ context.Context, in settlement.CreateBatchInput) (settlement.BatchDetail, error) {
			captured = in
			return settlement.BatchDetail{Batch: sampleBatch(uuid.New())}, nil
		},
	}
	rr = doRequest(t, newTestRouter(svc), http.MethodPost, "/settlement/batches", `{"use_selection":true}`,
		map[string]string{shared.HeaderSessionID: "sess-9"})
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "sess-9", captured.SessionID)
}

func TestGetBatchHidesOtherOrganisations(t *testing.T) {
	batchID := uuid.New()
	svc := &stubService{
		getBatchFn: func(_ context.Context, id uuid.UUID) (settlement.BatchDetail, error) {
			b := sampleBatch(id)
			b.OrgID = 99
			return settlement.BatchDetail{Batch: b}, nil
		},
	}
	rr := doRequest(t, newTestRouter(svc), http.MethodGet, "/settlement/batches/"+batchID.String(), "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(t, newTestRouter(svc), http.MethodGet, "/settlement/batches/not-a-uuid", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRemoveItemReportsDissolution(t *testing.T) {
	batchID := uuid.New()
	svc := &stubService{
		removeItemFn: func(_ context.Context, orgID int64, id uuid.UUID, itemID, actorID int64) (settlement.RemoveResult, error) {
			require.Equal(t, int64(42), orgID)
			require.Equal(t, batchID, id)
			require.Equal(t, int64(11), itemID)
			require.Equal(t, int64(7), actorID)
			return settlement.RemoveResult{
				Item:      settlement.BillableItem{ID: 11, Kind: settlement.KindBill, Status: settlement.StatusNew},
				Batch:     sampleBatch(batchID),
				Dissolved: true,
			}, nil
		},
	}
	rr := doRequest(t, newTestRouter(svc), http.MethodDelete, "/settlement/batches/"+batchID.String()+"/items/11", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body removeResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.True(t, body.Dissolved)
	require.Nil(t, body.Batch)
	require.Equal(t, int64(11), body.Item.ID)

	rr = doRequest(t, newTestRouter(svc), http.MethodDelete, "/settlement/batches/"+batchID.String()+"/items/0", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuthorizeErrorMapping(t *testing.T) {
	batchID := uuid.New()
	cases := []struct {
		name   string
		err    error
		status int
		title  string
		params map[string]string
	}{
		{
			name:   "threshold",
			err:    &settlement.ThresholdExceededError{Projected: decimal.NewFromInt(10500), Threshold: decimal.NewFromInt(10000)},
			status: http.StatusUnprocessableEntity,
			title:  "Threshold Exceeded",
			params: map[string]string{"projected": "10500.00", "threshold": "10000.00"},
		},
		{
			name:   "expired",
			err:    &settlement.ExpiredError{BatchID: batchID, ValidateAt: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)},
			status: http.StatusUnprocessableEntity,
			title:  "Batch Expired",
			params: map[string]string{"validate_at": "2024-03-09"},
		},
		{
			name:   "blocked",
			err:    &settlement.BlockedError{BatchID: batchID, ItemIDs: []int64{3, 8}},
			status: http.StatusLocked,
			title:  "Batch Blocked",
			params: map[string]string{"item_ids": "3,8"},
		},
		{name: "not found", err: settlement.ErrBatchNotFound, status: http.StatusNotFound, title: "Not Found"},
		{name: "transition", err: settlement.ErrInvalidTransition, status: http.StatusConflict, title: "Invalid Transition"},
		{name: "concurrent", err: settlement.ErrConcurrentModification, status: http.StatusConflict, title: "Concurrent Modification"},
		{name: "validation", err: settlement.ErrValidation, status: http.StatusBadRequest, title: "Validation Failed"},
		{name: "outcome unknown", err: settlement.ErrPaymentOutcomeUnknown, status: http.StatusGatewayTimeout, title: "Payment Outcome Unknown"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, title: "Internal Error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{
				authorizeFn: func(context.Context, int64, uuid.UUID, int64) (settlement.Authorization, error) {
					return settlement.Authorization{}, tc.err
				},
			}
			rr := doRequest(t, newTestRouter(svc), http.MethodPost, "/settlement/batches/"+batchID.String()+"/authorize", "", nil)
			require.Equal(t, tc.status, rr.Code)
			problem := decodeProblem(t, rr)
			require.Equal(t, tc.title, problem.Title)
			for k, v := range tc.params {
				require.Equal(t, v, problem.Params[k])
			}
		})
	}
}

func TestThresholdDetailIsHumanReadable(t *testing.T) {
	svc := &stubService{
		authorizeFn: func(context.Context, int64, uuid.UUID, int64) (settlement.Authorization, error) {
			return settlement.Authorization{}, &settlement.ThresholdExceededError{
				Projected: decimal.NewFromInt(12500),
				Threshold: decimal.NewFromInt(10000),
			}
		},
	}
	rr := doRequest(t, newTestRouter(svc), http.MethodPost, "/settlement/batches/"+uuid.NewString()+"/authorize", "", nil)
	require.Contains(t, decodeProblem(t, rr).Detail, "exceeds the organisation threshold")
}

func TestInitiatePayment(t *testing.T) {
	batchID := uuid.New()
	var captured settlement.PaymentRequest
	svc := &stubService{
		initiatePaymentFn: func(_ context.Context, req settlement.PaymentRequest) (settlement.PaymentResult, error) {
			captured = req
			b := sampleBatch(batchID)
			b.Status = settlement.BatchProcessing
			return settlement.PaymentResult{
				Authorization: settlement.Authorization{Batch: b, Amount: decimal.NewFromInt(1500)},
				Receipt:       settlement.PaymentReceipt{Reference: "GW-1", Status: "accepted"},
			}, nil
		},
	}
	router := newTestRouter(svc)
	path := "/settlement/batches/" + batchID.String() + "/payments"

	rr := doRequest(t, router, http.MethodPost, path, `{"transaction_reference":"TX-1","payment_mode":"neft"}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "required", decodeProblem(t, rr).Params["transactiondate"])

	rr = doRequest(t, router, http.MethodPost, path,
		`{"transaction_reference":"TX-1","payment_mode":"neft","transaction_date":"2024-03-10"}`, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, batchID, captured.BatchID)
	require.Equal(t, int64(42), captured.OrgID)
	require.Equal(t, "TX-1", captured.TransactionReference)
	require.Equal(t, "2024-03-10", captured.TransactionDate.Format(time.DateOnly))

	var body authorizationResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, "GW-1", body.GatewayReference)
	require.Equal(t, string(settlement.BatchProcessing), body.Batch.Status)
}

func TestInitiatePaymentMapsGatewayAndDuplicateErrors(t *testing.T) {
	for _, tc := range []struct {
		err    error
		status int
	}{
		{err: settlement.ErrPaymentRejected, status: http.StatusBadGateway},
		{err: fmt.Errorf("%w: context deadline exceeded", settlement.ErrPaymentOutcomeUnknown), status: http.StatusGatewayTimeout},
		{err: shared.ErrIdempotencyConflict, status: http.StatusConflict},
	} {
		svc := &stubService{
			initiatePaymentFn: func(context.Context, settlement.PaymentRequest) (settlement.PaymentResult, error) {
				return settlement.PaymentResult{}, tc.err
			},
		}
		rr := doRequest(t, newTestRouter(svc), http.MethodPost, "/settlement/batches/"+uuid.NewString()+"/payments",
			`{"transaction_reference":"TX-2","payment_mode":"neft","transaction_date":"2024-03-10"}`, nil)
		require.Equal(t, tc.status, rr.Code)
	}
}

func TestReplaceItemParsesAmount(t *testing.T) {
	var captured settlement.ReplaceInput
	svc := &stubService{
		replaceItemFn: func(_ context.Context, in settlement.ReplaceInput) (settlement.ReplaceResult, error) {
			captured = in
			return settlement.ReplaceResult{Batch: sampleBatch(uuid.New())}, nil
		},
	}
	router := newTestRouter(svc)

	rr := doRequest(t, router, http.MethodPost, "/settlement/items/4/replace", `{"new_item_id":9,"approved_amount":"abc"}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, http.MethodPost, "/settlement/items/4/replace", `{"new_item_id":9,"approved_amount":"1180.50"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(4), captured.OldItemID)
	require.Equal(t, int64(9), captured.NewItemID)
	require.True(t, captured.NewApprovedAmount.Equal(decimal.RequireFromString("1180.50")))
	require.Equal(t, int64(7), captured.ActorID)
	require.Equal(t, int64(42), captured.OrgID)
}

func TestMutatingRoutesAreScopedToCallerOrg(t *testing.T) {
	batch := "/settlement/batches/" + uuid.NewString()
	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, batch + "/items", `{"item_id":5}`},
		{http.MethodDelete, batch + "/items/5", ""},
		{http.MethodPost, batch + "/renew", ""},
		{http.MethodPost, batch + "/authorize", ""},
		{http.MethodPost, batch + "/payments", `{"transaction_reference":"TX-9","payment_mode":"neft","transaction_date":"2024-03-10"}`},
		{http.MethodPost, batch + "/confirm", ""},
		{http.MethodPost, batch + "/fail", ""},
		{http.MethodPost, "/settlement/items/5/approve", ""},
		{http.MethodPost, "/settlement/items/5/reject", ""},
		{http.MethodPost, "/settlement/items/5/replace", `{"new_item_id":6,"approved_amount":"10.00"}`},
	}
	router := newTestRouter(&stubService{owner: 99})
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rr := doRequest(t, router, rt.method, rt.path, rt.body, nil)
			require.Equal(t, http.StatusNotFound, rr.Code)

			rr = doRequest(t, router, rt.method, rt.path, rt.body, map[string]string{shared.HeaderOrgID: "99"})
			require.NotEqual(t, http.StatusNotFound, rr.Code)
		})
	}
}
