package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayableAmount values an item as of the given instant. Recharges and prepaid
// items pay their gross amount. Postpaid and submeter bills subtract the
// discount rebate before the discount date and the due-date rebate before the
// due date; the two rebates apply independently. Dates compare by calendar day
// in asOf's location.
func PayableAmount(item BillableItem, asOf time.Time) decimal.Decimal {
	if !rebatesApply(item) {
		return item.Gross
	}
	amount := item.Gross
	terms := item.Bill
	if terms.DiscountDate != nil && beforeDay(asOf, *terms.DiscountDate) {
		amount = amount.Sub(terms.DiscountRebate)
	}
	if terms.DueDate != nil && beforeDay(asOf, *terms.DueDate) {
		amount = amount.Sub(terms.DueDateRebate)
	}
	return amount
}

// BeforeDueAmount values a bill without reference to a particular day: every
// configured rebate is applied.
func BeforeDueAmount(item BillableItem) decimal.Decimal {
	if !rebatesApply(item) {
		return item.Gross
	}
	amount := item.Gross
	if item.Bill.DiscountDate != nil {
		amount = amount.Sub(item.Bill.DiscountRebate)
	}
	if item.Bill.DueDate != nil {
		amount = amount.Sub(item.Bill.DueDateRebate)
	}
	return amount
}

// AfterDueAmount is the gross amount plus the late penalty.
func AfterDueAmount(item BillableItem) decimal.Decimal {
	if item.Kind != KindBill || item.Bill == nil {
		return item.Gross
	}
	return item.Gross.Add(item.Bill.Penalty)
}

func rebatesApply(item BillableItem) bool {
	if item.Kind != KindBill || item.Bill == nil {
		return false
	}
	return item.PayType != PayTypePrepaid
}
