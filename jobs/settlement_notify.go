package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/utilibill/utilibill/internal/jobs"
	"github.com/utilibill/utilibill/internal/settlement"
)

// Deliverer hands a notification to its final destination.
type Deliverer interface {
	Deliver(ctx context.Context, n settlement.Notification) error
}

// NotifyJob consumes settlement notification tasks.
type NotifyJob struct {
	Deliverer Deliverer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewNotifyJob initialises the notification handler. A nil deliverer only
// logs the notification.
func NewNotifyJob(deliverer Deliverer, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyJob{Deliverer: deliverer, Logger: logger, Metrics: metrics}
}

// Handle delivers one notification. Malformed payloads are dropped.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil {
		return errors.New("settlement notify: handler not configured")
	}
	var n settlement.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskSettlementNotify)
	defer func() {
		err = tracker.End(err)
	}()

	attrs := []any{
		slog.String("type", n.Type),
		slog.String("outcome", string(n.Outcome)),
		slog.Int64("org_id", n.OrgID),
	}
	if n.BatchID != nil {
		attrs = append(attrs, slog.String("batch_id", n.BatchID.String()))
	}
	if n.ItemID != 0 {
		attrs = append(attrs, slog.Int64("item_id", n.ItemID))
	}
	if n.Detail != "" {
		attrs = append(attrs, slog.String("detail", n.Detail))
	}
	j.Logger.Info("settlement notification", attrs...)

	if j.Deliverer == nil {
		return nil
	}
	if err := j.Deliverer.Deliver(ctx, n); err != nil {
		j.Logger.Warn("deliver settlement notification", slog.String("type", n.Type), slog.Any("error", err))
		return err
	}
	return nil
}
