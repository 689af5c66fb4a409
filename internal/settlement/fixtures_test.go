package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

var testToday = time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func days(n int) time.Time {
	return testToday.AddDate(0, 0, n)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func fixedClock(now time.Time) Clock {
	return NewClock(func() time.Time { return now }, time.UTC)
}

func testBill(id, orgID int64, gross string, due time.Time) BillableItem {
	return BillableItem{
		ID:           id,
		OrgID:        orgID,
		Kind:         KindBill,
		ConnectionID: "CONN-1",
		PayType:      PayTypePostpaid,
		Gross:        dec(gross),
		Status:       StatusApproved,
		IsActive:     true,
		IsValid:      true,
		Version:      1,
		Bill:         &BillTerms{DueDate: timePtr(due)},
	}
}

func testRecharge(id, orgID int64, gross string, on time.Time) BillableItem {
	return BillableItem{
		ID:           id,
		OrgID:        orgID,
		Kind:         KindRecharge,
		ConnectionID: "CONN-R",
		PayType:      PayTypePrepaid,
		Gross:        dec(gross),
		Status:       StatusApproved,
		IsActive:     true,
		IsValid:      true,
		Version:      1,
		Recharge:     &RechargeTerms{RechargeDate: on},
	}
}
