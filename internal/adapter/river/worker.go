package river

import (
	"context"
	"errors"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// Mailer delivers one notification.
type Mailer interface {
	Deliver(ctx context.Context, event domain.NotificationEvent, recipient string, data map[string]any) error
}

// Jobs is the work the River workers delegate to. The services behind it
// need the client to exist first, so the fields are filled in after Setup
// and before the client is started. A nil field makes its job a no-op.
type Jobs struct {
	RunPass func(ctx context.Context) error
	Sweep   func(ctx context.Context) (int, error)
	Mailer  Mailer
	Logger  *zap.Logger
}

func (j *Jobs) logger() *zap.Logger {
	if j.Logger == nil {
		return zap.NewNop()
	}
	return j.Logger
}

var errNoMailer = errors.New("no mailer configured")

// QueuePassWorker runs a provisioning queue pass.
type QueuePassWorker struct {
	river.WorkerDefaults[QueuePassArgs]
	jobs *Jobs
}

func (w *QueuePassWorker) Timeout(*river.Job[QueuePassArgs]) time.Duration { return 30 * time.Minute }

func (w *QueuePassWorker) Work(ctx context.Context, job *river.Job[QueuePassArgs]) error {
	if w.jobs.RunPass == nil {
		return nil
	}
	w.jobs.logger().Debug("running provisioning pass", zap.Int64("job_id", job.ID))
	return w.jobs.RunPass(ctx)
}

// EntitlementSweepWorker expires lapsed entitlements.
type EntitlementSweepWorker struct {
	river.WorkerDefaults[EntitlementSweepArgs]
	jobs *Jobs
}

func (w *EntitlementSweepWorker) Work(ctx context.Context, job *river.Job[EntitlementSweepArgs]) error {
	if w.jobs.Sweep == nil {
		return nil
	}
	n, err := w.jobs.Sweep(ctx)
	if err != nil {
		return err
	}
	w.jobs.logger().Info("entitlement sweep finished", zap.Int("changed", n), zap.Int64("job_id", job.ID))
	return nil
}

// NotificationWorker hands notifications to the mailer. Failed deliveries
// are retried by River.
type NotificationWorker struct {
	river.WorkerDefaults[NotificationArgs]
	jobs *Jobs
}

func (w *NotificationWorker) Work(ctx context.Context, job *river.Job[NotificationArgs]) error {
	if w.jobs.Mailer == nil {
		return errNoMailer
	}
	err := w.jobs.Mailer.Deliver(ctx, domain.NotificationEvent(job.Args.Event), job.Args.Recipient, job.Args.Data)
	if err != nil {
		w.jobs.logger().Warn("notification delivery failed",
			zap.String("event", job.Args.Event),
			zap.Int64("job_id", job.ID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
	}
	return err
}
