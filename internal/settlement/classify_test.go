package settlement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func ids(items []BillableItem) []int64 {
	out := make([]int64, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func TestClassifyBills(t *testing.T) {
	clock := fixedClock(testToday.Add(15 * time.Hour))

	overdue := testBill(1, 1, "100", days(-2))
	dueSoon := testBill(2, 1, "100", days(6))
	dueLater := testBill(3, 1, "100", days(7))
	discounted := testBill(4, 1, "100", days(20))
	discounted.Bill.DiscountDate = timePtr(testToday)
	paid := testBill(5, 1, "100", days(-5))
	paid.PaymentStatus = true
	batched := testBill(6, 1, "100", days(1))
	batchID := uuid.New()
	batched.BatchID = &batchID
	zero := testBill(7, 1, "0", days(2))
	inactive := testBill(8, 1, "100", days(-1))
	inactive.IsActive = false
	rejected := testBill(9, 1, "100", days(3))
	rejected.Status = StatusRejected

	b := Classify([]BillableItem{overdue, dueSoon, dueLater, discounted, paid, batched, zero, inactive, rejected}, clock)

	require.Equal(t, []int64{1}, ids(b.Overdue))
	require.Equal(t, []int64{2, 7, 9}, ids(b.DueThisWeek))
	require.Equal(t, []int64{4}, ids(b.WithDiscount))
	require.Equal(t, []int64{1, 2, 3, 4}, ids(b.Selectable))
}

func TestClassifyRecharges(t *testing.T) {
	clock := fixedClock(testToday)

	today := testRecharge(1, 1, "199", testToday)
	past := testRecharge(2, 1, "199", days(-1))
	far := testRecharge(3, 1, "199", days(30))
	deleted := testRecharge(4, 1, "199", days(1))
	deleted.IsDeleted = true

	b := Classify([]BillableItem{today, past, far, deleted}, clock)

	require.Empty(t, b.Overdue)
	require.Empty(t, b.WithDiscount)
	require.Equal(t, []int64{1}, ids(b.DueThisWeek))
	require.Equal(t, []int64{1, 2, 3}, ids(b.Selectable))
}

func TestClassifyIsStateless(t *testing.T) {
	items := []BillableItem{testBill(1, 1, "100", days(3))}

	first := Classify(items, fixedClock(testToday))
	second := Classify(items, fixedClock(days(5)))

	require.Equal(t, []int64{1}, ids(first.DueThisWeek))
	require.Empty(t, first.Overdue)
	require.Empty(t, second.DueThisWeek)
	require.Equal(t, []int64{1}, ids(second.Overdue))
}

func TestClassifyUsesSettlementTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	// 20:00 UTC on the 9th is already the 10th in loc.
	clock := NewClock(func() time.Time { return time.Date(2024, time.March, 9, 20, 0, 0, 0, time.UTC) }, loc)
	due := time.Date(2024, time.March, 9, 0, 0, 0, 0, loc)

	b := Classify([]BillableItem{testBill(1, 1, "100", due)}, clock)
	require.Equal(t, []int64{1}, ids(b.Overdue))
}
