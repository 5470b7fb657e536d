package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

const tracerName = "github.com/neomorfeo/tenantgate/internal/adapter/otel"

// TracingRepository wraps a domain.TenantRepository with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
type TracingRepository struct {
	next   domain.TenantRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.TenantRepository.
var _ domain.TenantRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.TenantRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

// finish records err on the span, if any, and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (r *TracingRepository) Create(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Create",
		trace.WithAttributes(
			attribute.String("tenant.username", tenant.Username),
			attribute.String("tenant.subdomain", tenant.Subdomain),
		),
	)

	created, err := r.next.Create(ctx, tenant)
	if err == nil {
		span.SetAttributes(attribute.Int64("tenant.id", created.ID))
	}
	finish(span, err)
	return created, err
}

func (r *TracingRepository) Get(ctx context.Context, id int64) (domain.Tenant, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Get",
		trace.WithAttributes(attribute.Int64("tenant.id", id)),
	)

	tenant, err := r.next.Get(ctx, id)
	finish(span, err)
	return tenant, err
}

func (r *TracingRepository) GetByUsername(ctx context.Context, username string) (domain.Tenant, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.GetByUsername",
		trace.WithAttributes(attribute.String("tenant.username", username)),
	)

	tenant, err := r.next.GetByUsername(ctx, username)
	finish(span, err)
	return tenant, err
}

func (r *TracingRepository) GetBySubdomain(ctx context.Context, subdomain string) (domain.Tenant, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.GetBySubdomain",
		trace.WithAttributes(attribute.String("tenant.subdomain", subdomain)),
	)

	tenant, err := r.next.GetBySubdomain(ctx, subdomain)
	finish(span, err)
	return tenant, err
}

func (r *TracingRepository) GetByOwner(ctx context.Context, userID int64) (domain.Tenant, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.GetByOwner",
		trace.WithAttributes(attribute.Int64("user.id", userID)),
	)

	tenant, err := r.next.GetByOwner(ctx, userID)
	finish(span, err)
	return tenant, err
}

func (r *TracingRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Tenant, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.List",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)
	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}

	tenants, err := r.next.List(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("result.count", len(tenants)))
	}
	finish(span, err)
	return tenants, err
}

func (r *TracingRepository) Count(ctx context.Context, filter domain.ListFilter) (int, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Count")

	n, err := r.next.Count(ctx, filter)
	finish(span, err)
	return n, err
}

func (r *TracingRepository) Update(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Update",
		trace.WithAttributes(
			attribute.Int64("tenant.id", tenant.ID),
			attribute.String("tenant.status", string(tenant.Status)),
			attribute.Int("tenant.version", tenant.Version),
		),
	)

	updated, err := r.next.Update(ctx, tenant)
	finish(span, err)
	return updated, err
}

func (r *TracingRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.TouchLastLogin",
		trace.WithAttributes(attribute.Int64("tenant.id", id)),
	)

	err := r.next.TouchLastLogin(ctx, id, at)
	finish(span, err)
	return err
}

func (r *TracingRepository) Delete(ctx context.Context, id int64) error {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Delete",
		trace.WithAttributes(attribute.Int64("tenant.id", id)),
	)

	err := r.next.Delete(ctx, id)
	finish(span, err)
	return err
}
