package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/utilibill/utilibill/internal/jobs"
	"github.com/utilibill/utilibill/internal/settlement"
)

// ExpiryScanner lists and announces expired batches.
type ExpiryScanner interface {
	ScanExpired(ctx context.Context) ([]settlement.Batch, error)
}

// ExpiryScanJob runs the daily scan for unpaid batches past their deadline.
// It never renews or mutates a batch.
type ExpiryScanJob struct {
	Scanner ExpiryScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewExpiryScanJob initialises the expiry scan handler.
func NewExpiryScanJob(scanner ExpiryScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryScanJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Scanner == nil {
		return errors.New("expiry scan: handler not configured")
	}
	start := time.Now()
	tracker := j.Metrics.Track(TaskSettlementExpiryScan)
	defer func() {
		err = tracker.End(err)
	}()

	batches, err := j.Scanner.ScanExpired(ctx)
	if err != nil {
		j.Logger.Error("expiry scan failed", slog.Any("error", err))
		return err
	}
	for _, b := range batches {
		j.Logger.Warn("settlement batch expired",
			slog.String("batch_id", b.ID.String()),
			slog.Int64("org_id", b.OrgID),
			slog.String("validate_at", b.ValidateAt.Format(time.DateOnly)),
		)
	}
	j.Metrics.AddExpired(len(batches))
	j.Logger.Info("completed expiry scan",
		slog.Int("expired", len(batches)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
