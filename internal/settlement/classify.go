package settlement

const dueSoonDays = 7

// Buckets is the classification of a candidate pool. Bill buckets may overlap.
type Buckets struct {
	Overdue      []BillableItem
	DueThisWeek  []BillableItem
	WithDiscount []BillableItem
	Selectable   []BillableItem
}

// Classify sorts a pool of items of one kind into selection buckets. It keeps
// no state between calls.
func Classify(items []BillableItem, clock Clock) Buckets {
	today := clock.Today()
	weekEnd := today.AddDate(0, 0, dueSoonDays)
	var out Buckets
	for _, item := range items {
		if item.BatchID != nil || item.IsDeleted {
			continue
		}
		if item.Kind == KindBill && !item.IsActive {
			continue
		}
		isBill := item.Kind == KindBill && item.Bill != nil
		unpaid := !item.PaymentStatus && item.Status != StatusPaid

		if isBill && unpaid && item.Bill.DueDate != nil && clock.Day(*item.Bill.DueDate).Before(today) {
			out.Overdue = append(out.Overdue, item)
		}
		if eff, ok := item.EffectiveDate(); ok && (unpaid || !isBill) {
			day := clock.Day(eff)
			if !day.Before(today) && day.Before(weekEnd) {
				out.DueThisWeek = append(out.DueThisWeek, item)
			}
		}
		if isBill && unpaid && item.Bill.DiscountDate != nil && !clock.Day(*item.Bill.DiscountDate).Before(today) {
			out.WithDiscount = append(out.WithDiscount, item)
		}
		if unpaid && item.Status != StatusRejected && item.Gross.IsPositive() {
			out.Selectable = append(out.Selectable, item)
		}
	}
	return out
}
