package settlementhttp

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utilibill/utilibill/internal/settlement"
)

type itemResponse struct {
	ID             int64            `json:"id"`
	Kind           string           `json:"kind"`
	ConnectionID   string           `json:"connection_id"`
	PayType        string           `json:"pay_type"`
	Status         string           `json:"status"`
	Gross          decimal.Decimal  `json:"gross_amount"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount,omitempty"`
	BatchID        string           `json:"batch_id,omitempty"`
	EffectiveDate  string           `json:"effective_date,omitempty"`
	Unresolved     bool             `json:"unresolved"`
}

type batchSummary struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	ValidateAt string `json:"validate_at"`
	Version    int64  `json:"version"`
}

type batchResponse struct {
	batchSummary
	Expired bool            `json:"expired"`
	Total   decimal.Decimal `json:"total"`
	Members []itemResponse  `json:"members"`
}

type bucketsResponse struct {
	Overdue      []itemResponse `json:"overdue"`
	DueThisWeek  []itemResponse `json:"due_this_week"`
	WithDiscount []itemResponse `json:"with_discount"`
	Selectable   []itemResponse `json:"selectable"`
}

type removeResponse struct {
	Item      itemResponse  `json:"item"`
	Batch     *batchSummary `json:"batch,omitempty"`
	Dissolved bool          `json:"dissolved"`
}

type authorizationResponse struct {
	Batch            batchSummary    `json:"batch"`
	Amount           decimal.Decimal `json:"amount"`
	Projected        decimal.Decimal `json:"projected"`
	Threshold        decimal.Decimal `json:"threshold"`
	GatewayReference string          `json:"gateway_reference,omitempty"`
	GatewayStatus    string          `json:"gateway_status,omitempty"`
}

func toItemResponse(item settlement.BillableItem) itemResponse {
	out := itemResponse{
		ID:           item.ID,
		Kind:         string(item.Kind),
		ConnectionID: item.ConnectionID,
		PayType:      string(item.PayType),
		Status:       string(item.Status),
		Gross:        item.Gross,
		Unresolved:   item.Unresolved(),
	}
	if item.ApprovedAmount.Valid {
		amount := item.ApprovedAmount.Decimal
		out.ApprovedAmount = &amount
	}
	if item.BatchID != nil {
		out.BatchID = item.BatchID.String()
	}
	if eff, ok := item.EffectiveDate(); ok {
		out.EffectiveDate = eff.Format(time.DateOnly)
	}
	return out
}

func toItemResponses(items []settlement.BillableItem) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	return out
}

func toBatchSummary(b settlement.Batch) batchSummary {
	return batchSummary{
		ID:         b.ID.String(),
		Kind:       string(b.Kind),
		Status:     string(b.Status),
		ValidateAt: b.ValidateAt.Format(time.DateOnly),
		Version:    b.Version,
	}
}

func toBatchResponse(d settlement.BatchDetail) batchResponse {
	return batchResponse{
		batchSummary: toBatchSummary(d.Batch),
		Expired:      d.Expired,
		Total:        d.Total,
		Members:      toItemResponses(d.Members),
	}
}

func toBucketsResponse(b settlement.Buckets) bucketsResponse {
	return bucketsResponse{
		Overdue:      toItemResponses(b.Overdue),
		DueThisWeek:  toItemResponses(b.DueThisWeek),
		WithDiscount: toItemResponses(b.WithDiscount),
		Selectable:   toItemResponses(b.Selectable),
	}
}

func toRemoveResponse(res settlement.RemoveResult) removeResponse {
	out := removeResponse{Item: toItemResponse(res.Item), Dissolved: res.Dissolved}
	if !res.Dissolved && res.Batch.ID != uuid.Nil {
		summary := toBatchSummary(res.Batch)
		out.Batch = &summary
	}
	return out
}

func toAuthorizationResponse(a settlement.Authorization) authorizationResponse {
	return authorizationResponse{
		Batch:     toBatchSummary(a.Batch),
		Amount:    a.Amount,
		Projected: a.Projected,
		Threshold: a.Threshold,
	}
}
