package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/utilibill/utilibill/internal/settlement"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries settlement notifications.
	QueueNotifications = "notifications"
	// TaskSettlementNotify delivers one settlement notification.
	TaskSettlementNotify = "settlement:notify"
	// TaskSettlementExpiryScan reports unpaid batches past their deadline.
	TaskSettlementExpiryScan = "settlement:expiry-scan"
	// TaskIdempotencyCleanup purges payment idempotency keys past retention.
	TaskIdempotencyCleanup = "settlement:idempotency-cleanup"
)

// ExpiryScanPayload configures an expiry scan run.
type ExpiryScanPayload struct {
	Trigger string `json:"trigger"`
}

// NewSettlementNotifyTask constructs a notification delivery task.
func NewSettlementNotifyTask(n settlement.Notification) (*asynq.Task, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSettlementNotify, data), nil
}

// NewExpiryScanTask constructs the expiry scan task.
func NewExpiryScanTask(trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "cron"
	}
	data, err := json.Marshal(ExpiryScanPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSettlementExpiryScan, data), nil
}

// NewIdempotencyCleanupTask constructs the retention sweep task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}
