package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/utilibill/utilibill/internal/jobs"
	"github.com/utilibill/utilibill/internal/settlement"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingDeliverer struct {
	delivered []settlement.Notification
	err       error
}

func (d *recordingDeliverer) Deliver(_ context.Context, n settlement.Notification) error {
	d.delivered = append(d.delivered, n)
	return d.err
}

type fakeEnqueuer struct {
	tasks  []*asynq.Task
	opts   [][]asynq.Option
	err    error
	closed bool
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error {
	f.closed = true
	return nil
}

type stubScanner struct {
	batches []settlement.Batch
	err     error
	calls   int
}

func (s *stubScanner) ScanExpired(context.Context) ([]settlement.Batch, error) {
	s.calls++
	return s.batches, s.err
}

type stubCleaner struct {
	retention time.Duration
	removed   int64
	err       error
}

func (c *stubCleaner) Cleanup(_ context.Context, retention time.Duration) (int64, error) {
	c.retention = retention
	return c.removed, c.err
}

func TestClientNotifyEnqueuesOnNotificationQueue(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &Client{client: fake}
	batchID := uuid.New()

	err := client.Notify(context.Background(), settlement.Notification{
		Type:    "batch.created",
		OrgID:   42,
		BatchID: &batchID,
		Outcome: settlement.OutcomeSuccess,
	})
	require.NoError(t, err)
	require.Len(t, fake.tasks, 1)
	require.Equal(t, TaskSettlementNotify, fake.tasks[0].Type())

	var payload settlement.Notification
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &payload))
	require.Equal(t, "batch.created", payload.Type)
	require.Equal(t, batchID, *payload.BatchID)

	var queue string
	for _, opt := range fake.opts[0] {
		if opt.Type() == asynq.QueueOpt {
			queue = opt.Value().(string)
		}
	}
	require.Equal(t, QueueNotifications, queue)

	require.NoError(t, client.Close())
	require.True(t, fake.closed)
}

func TestClientNotifyPropagatesEnqueueFailure(t *testing.T) {
	client := &Client{client: &fakeEnqueuer{err: errors.New("redis down")}}
	err := client.Notify(context.Background(), settlement.Notification{Type: "batch.created"})
	require.Error(t, err)
}

func TestClientEnqueueExpiryScanIsManual(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &Client{client: fake}

	info, err := client.EnqueueExpiryScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, TaskSettlementExpiryScan, info.Type)

	var payload ExpiryScanPayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &payload))
	require.Equal(t, "manual", payload.Trigger)
}

func TestNotifyJobDeliversAndTracks(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	deliverer := &recordingDeliverer{}
	job := NewNotifyJob(deliverer, discardLogger(), metrics)

	task, err := NewSettlementNotifyTask(settlement.Notification{Type: "item.rejected", OrgID: 1, ItemID: 9})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, deliverer.delivered, 1)
	require.Equal(t, int64(9), deliverer.delivered[0].ItemID)

	deliverer.err = errors.New("smtp unavailable")
	require.Error(t, job.Handle(context.Background(), task))

	require.Equal(t, 1.0, counterValue(t, reg, "utilibill_jobs_failures_total"))
}

func TestNotifyJobSkipsMalformedPayload(t *testing.T) {
	job := NewNotifyJob(nil, discardLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskSettlementNotify, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNotifyJobWithoutDelivererOnlyLogs(t *testing.T) {
	job := NewNotifyJob(nil, discardLogger(), nil)
	task, err := NewSettlementNotifyTask(settlement.Notification{Type: "batch.dissolved"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestExpiryScanJobReportsExpiredBatches(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	scanner := &stubScanner{batches: []settlement.Batch{
		{ID: uuid.New(), OrgID: 1, ValidateAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: uuid.New(), OrgID: 2, ValidateAt: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	}}
	job := NewExpiryScanJob(scanner, discardLogger(), metrics)

	task, err := NewExpiryScanTask("")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, scanner.calls)

	require.Equal(t, 2.0, counterValue(t, reg, "utilibill_batches_expired_seen_total"))
	require.Equal(t, 0.0, counterValue(t, reg, "utilibill_jobs_failures_total"))
}

func TestExpiryScanJobFailure(t *testing.T) {
	scanner := &stubScanner{err: errors.New("db down")}
	job := NewExpiryScanJob(scanner, discardLogger(), nil)
	require.Error(t, job.Handle(context.Background(), nil))

	var unconfigured *ExpiryScanJob
	require.Error(t, unconfigured.Handle(context.Background(), nil))
}

func TestIdempotencyCleanupJob(t *testing.T) {
	cleaner := &stubCleaner{removed: 12}
	job := NewIdempotencyCleanupJob(cleaner, 72*time.Hour, discardLogger(), nil)
	require.NoError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	require.Equal(t, 72*time.Hour, cleaner.retention)

	job.Retention = 0
	require.Error(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))

	cleaner.err = errors.New("timeout")
	job.Retention = time.Hour
	require.Error(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Logger:    discardLogger(),
		Cron:      []CronRegistration{{Spec: "not a cron", Task: NewIdempotencyCleanupTask()}},
	})
	require.Error(t, err)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, discardLogger()).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body []queueHealth
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Len(t, body, 2)
	require.Equal(t, QueueNotifications, body[0].Queue)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
