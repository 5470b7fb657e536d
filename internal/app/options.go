package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// Recorder receives operational measurements from the services.
type Recorder interface {
	QueuePass(outcome string)
	ProvisioningAttempt(outcome string)
	QueueDepth(n int)
	EntitlementTransition(to domain.EntitlementStatus)
	AuthFailure(scheme string)
}

type nopRecorder struct{}

func (nopRecorder) QueuePass(string)                               {}
func (nopRecorder) ProvisioningAttempt(string)                     {}
func (nopRecorder) QueueDepth(int)                                 {}
func (nopRecorder) EntitlementTransition(domain.EntitlementStatus) {}
func (nopRecorder) AuthFailure(string)                             {}

// Option configures a service.
type Option func(*base)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *base) { b.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(b *base) { b.metrics = r }
}

// base carries the dependencies every service shares.
type base struct {
	logger  *zap.Logger
	now     func() time.Time
	metrics Recorder
}

func newBase(opts []Option) base {
	b := base{
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		metrics: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

type actorKey struct{}

// WithActor records the acting user on ctx for audit entries.
func WithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func actorFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(actorKey{}).(int64)
	return id
}
