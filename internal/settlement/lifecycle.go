package settlement

// Event names a lifecycle trigger.
type Event string

const (
	EventApprove          Event = "approve"
	EventAddToBatch       Event = "add_to_batch"
	EventReplaceInto      Event = "replace_into"
	EventRemove           Event = "remove"
	EventRemoveRepriced   Event = "remove_repriced"
	EventAuthorize        Event = "authorize"
	EventPaymentConfirmed Event = "payment_confirmed"
	EventPaymentFailed    Event = "payment_failed"
	EventReject           Event = "reject"
	EventRenew            Event = "renew"
)

var itemTransitions = map[ItemStatus]map[Event]ItemStatus{
	StatusNew: {
		EventApprove:     StatusApproved,
		EventReplaceInto: StatusBatch,
		EventReject:      StatusRejected,
	},
	StatusApproved: {
		EventAddToBatch:  StatusBatch,
		EventReplaceInto: StatusBatch,
		EventReject:      StatusRejected,
	},
	StatusBatch: {
		EventRemove:         StatusApproved,
		EventRemoveRepriced: StatusNew,
		EventAuthorize:      StatusPayment,
		EventReject:         StatusRejected,
	},
	StatusPayment: {
		EventPaymentConfirmed: StatusPaid,
		EventPaymentFailed:    StatusBatch,
	},
}

var batchTransitions = map[BatchStatus]map[Event]BatchStatus{
	BatchUnpaid: {
		EventAuthorize: BatchProcessing,
		EventRenew:     BatchUnpaid,
	},
	BatchProcessing: {
		EventPaymentConfirmed: BatchPaid,
		EventPaymentFailed:    BatchUnpaid,
	},
}

// Transition returns the item status reached by applying ev, or a
// *TransitionError when the move is not in the table.
func Transition(from ItemStatus, ev Event) (ItemStatus, error) {
	if to, ok := itemTransitions[from][ev]; ok {
		return to, nil
	}
	return from, &TransitionError{Entity: "item", From: string(from), Event: ev}
}

// TransitionBatch is Transition for batch statuses.
func TransitionBatch(from BatchStatus, ev Event) (BatchStatus, error) {
	if to, ok := batchTransitions[from][ev]; ok {
		return to, nil
	}
	return from, &TransitionError{Entity: "batch", From: string(from), Event: ev}
}
