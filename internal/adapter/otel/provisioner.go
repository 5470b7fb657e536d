package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// TracingProvisioner wraps a domain.DatabaseProvisioner with tracing.
// Credentials never reach span attributes.
type TracingProvisioner struct {
	next   domain.DatabaseProvisioner
	tracer trace.Tracer
}

var _ domain.DatabaseProvisioner = (*TracingProvisioner)(nil)

func NewTracingProvisioner(next domain.DatabaseProvisioner) *TracingProvisioner {
	return &TracingProvisioner{next: next, tracer: otel.Tracer(tracerName)}
}

func (p *TracingProvisioner) CreateDatabase(ctx context.Context, name, username string) (domain.DatabaseCredentials, error) {
	ctx, span := p.tracer.Start(ctx, "DatabaseProvisioner.CreateDatabase",
		trace.WithAttributes(attribute.String("db.name", name)),
	)

	creds, err := p.next.CreateDatabase(ctx, name, username)
	finish(span, err)
	return creds, err
}

func (p *TracingProvisioner) DestroyDatabase(ctx context.Context, name, username string) error {
	ctx, span := p.tracer.Start(ctx, "DatabaseProvisioner.DestroyDatabase",
		trace.WithAttributes(attribute.String("db.name", name)),
	)

	err := p.next.DestroyDatabase(ctx, name, username)
	finish(span, err)
	return err
}

func (p *TracingProvisioner) Backup(ctx context.Context, name string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "DatabaseProvisioner.Backup",
		trace.WithAttributes(attribute.String("db.name", name)),
	)

	path, err := p.next.Backup(ctx, name)
	if err == nil {
		span.SetAttributes(attribute.String("backup.path", path))
	}
	finish(span, err)
	return path, err
}

func (p *TracingProvisioner) Size(ctx context.Context, name string) (int64, error) {
	ctx, span := p.tracer.Start(ctx, "DatabaseProvisioner.Size",
		trace.WithAttributes(attribute.String("db.name", name)),
	)

	size, err := p.next.Size(ctx, name)
	if err == nil {
		span.SetAttributes(attribute.Int64("db.size_bytes", size))
	}
	finish(span, err)
	return size, err
}

// TracingNotifier wraps a domain.Notifier with tracing. A refused
// notification is recorded as an attribute, not an error.
type TracingNotifier struct {
	next   domain.Notifier
	tracer trace.Tracer
}

var _ domain.Notifier = (*TracingNotifier)(nil)

func NewTracingNotifier(next domain.Notifier) *TracingNotifier {
	return &TracingNotifier{next: next, tracer: otel.Tracer(tracerName)}
}

func (n *TracingNotifier) Send(ctx context.Context, event domain.NotificationEvent, recipient string, data map[string]any) bool {
	ctx, span := n.tracer.Start(ctx, "Notifier.Send",
		trace.WithAttributes(attribute.String("notification.event", string(event))),
	)
	defer span.End()

	ok := n.next.Send(ctx, event, recipient, data)
	span.SetAttributes(attribute.Bool("notification.accepted", ok))
	return ok
}
