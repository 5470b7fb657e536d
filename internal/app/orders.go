package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// Commerce event types accepted by Dispatch.
const (
	EventOrderPaid             = "order.paid"
	EventOrderCompleted        = "order.completed"
	EventOrderProcessing       = "order.processing"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionOnHold    = "subscription.on_hold"
	EventSubscriptionExpired   = "subscription.expired"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionRenewal   = "subscription.renewal_paid"
)

// CommerceEvent is a purchase or subscription lifecycle notification.
type CommerceEvent struct {
	Type            string
	OrderRef        string
	SubscriptionRef string
}

// OrderOutcome describes the effect of an order event.
type OrderOutcome struct {
	TenantID      int64
	TenantCreated bool
	Activated     []string
	Duplicate     bool
}

// OrderEvents reacts to commerce events: it opens tenants for buyers and
// drives entitlements from orders and subscriptions.
type OrderEvents struct {
	base
	gateway      domain.CommerceGateway
	ledger       domain.OrderLedger
	identity     domain.IdentityStore
	registry     *Registry
	entitlements *EntitlementManager
	notifier     domain.Notifier
}

// NewOrderEvents creates the order event adapter.
func NewOrderEvents(
	gateway domain.CommerceGateway,
	ledger domain.OrderLedger,
	identity domain.IdentityStore,
	registry *Registry,
	entitlements *EntitlementManager,
	notifier domain.Notifier,
	opts ...Option,
) *OrderEvents {
	return &OrderEvents{
		base:         newBase(opts),
		gateway:      gateway,
		ledger:       ledger,
		identity:     identity,
		registry:     registry,
		entitlements: entitlements,
		notifier:     notifier,
	}
}

// Dispatch routes ev to its handler.
func (o *OrderEvents) Dispatch(ctx context.Context, ev CommerceEvent) (OrderOutcome, error) {
	switch ev.Type {
	case EventOrderPaid, EventOrderCompleted, EventOrderProcessing:
		return o.HandleOrderPaid(ctx, ev.OrderRef)
	case EventSubscriptionActivated:
		return o.HandleSubscriptionActivated(ctx, ev.SubscriptionRef)
	case EventSubscriptionOnHold:
		return OrderOutcome{}, o.HandleSubscriptionOnHold(ctx, ev.SubscriptionRef)
	case EventSubscriptionExpired:
		_, err := o.HandleSubscriptionExpired(ctx, ev.SubscriptionRef)
		return OrderOutcome{}, err
	case EventSubscriptionCancelled:
		_, err := o.HandleSubscriptionCancelled(ctx, ev.SubscriptionRef)
		return OrderOutcome{}, err
	case EventSubscriptionRenewal:
		_, err := o.HandleRenewalPaid(ctx, ev.SubscriptionRef)
		return OrderOutcome{}, err
	default:
		return OrderOutcome{}, &domain.ValidationError{Errors: []string{fmt.Sprintf("unknown event type %q", ev.Type)}}
	}
}

// HandleOrderPaid applies a paid order: it resolves or creates the buyer's
// tenant and activates the module of every mapped line item. Orders that
// were already applied are ignored.
func (o *OrderEvents) HandleOrderPaid(ctx context.Context, orderRef string) (OrderOutcome, error) {
	if orderRef == "" {
		return OrderOutcome{}, &domain.ValidationError{Errors: []string{"order reference is required"}}
	}

	done, err := o.ledger.IsProcessed(ctx, orderRef)
	if err != nil {
		return OrderOutcome{}, fmt.Errorf("checking order %s: %w", orderRef, err)
	}
	if done {
		o.logger.Debug("order already processed", zap.String("order", orderRef))
		return OrderOutcome{Duplicate: true}, nil
	}

	order, err := o.gateway.Order(ctx, orderRef)
	if err != nil {
		return OrderOutcome{}, fmt.Errorf("fetching order %s: %w", orderRef, err)
	}
	if order.UserID == 0 {
		return OrderOutcome{}, &domain.ValidationError{Errors: []string{fmt.Sprintf("order %s has no customer", orderRef)}}
	}

	tenant, created, err := o.tenantFor(ctx, order)
	if err != nil {
		return OrderOutcome{}, err
	}
	outcome := OrderOutcome{TenantID: tenant.ID, TenantCreated: created}

	var subscriptionRef string
	var expiresAt *time.Time
	if len(order.SubscriptionRefs) > 0 {
		subscriptionRef = order.SubscriptionRefs[0]
		sub, err := o.gateway.Subscription(ctx, subscriptionRef)
		if err != nil {
			return outcome, fmt.Errorf("fetching subscription %s: %w", subscriptionRef, err)
		}
		expiresAt = sub.NextPayment
	}

	for _, item := range order.Items {
		module, err := o.entitlements.ModuleForProduct(ctx, item.ProductRef)
		if domain.IsNotFound(err) {
			o.logger.Debug("product grants no module",
				zap.String("order", orderRef),
				zap.String("product", item.ProductRef),
			)
			continue
		}
		if err != nil {
			return outcome, err
		}
		if _, err := o.entitlements.Activate(ctx, tenant.ID, module.ID, subscriptionRef, expiresAt); err != nil {
			return outcome, fmt.Errorf("activating %s for order %s: %w", module.Slug, orderRef, err)
		}
		outcome.Activated = append(outcome.Activated, module.Slug)
	}

	if err := o.ledger.MarkProcessed(ctx, domain.ProcessedOrder{
		OrderRef:         orderRef,
		TenantID:         tenant.ID,
		ModulesActivated: outcome.Activated,
		ProcessedAt:      o.now(),
	}); err != nil {
		return outcome, fmt.Errorf("marking order %s processed: %w", orderRef, err)
	}

	o.logger.Info("order processed",
		zap.String("order", orderRef),
		zap.Int64("tenant_id", tenant.ID),
		zap.Strings("modules", outcome.Activated),
	)
	return outcome, nil
}

// tenantFor returns the buyer's tenant, opening one when the buyer has none.
func (o *OrderEvents) tenantFor(ctx context.Context, order domain.Order) (domain.Tenant, bool, error) {
	tenant, err := o.registry.GetByOwner(ctx, order.UserID)
	if err == nil {
		return tenant, false, nil
	}
	if !errors.Is(err, domain.ErrTenantNotFound) {
		return domain.Tenant{}, false, err
	}

	user, err := o.identity.GetUser(ctx, order.UserID)
	if err != nil {
		return domain.Tenant{}, false, fmt.Errorf("loading customer %d: %w", order.UserID, err)
	}

	b := order.Billing
	address := strings.TrimSpace(strings.Join(nonEmpty(b.Address1, b.Address2, b.City, b.Country), ", "))
	tenant, err = o.registry.CreateForUser(ctx, user, TenantInput{
		FirstName:   b.FirstName,
		LastName:    b.LastName,
		AccountName: strings.TrimSpace(b.FirstName + " " + b.LastName),
		CompanyName: b.Company,
		Phone:       b.Phone,
		Address:     address,
		Email:       firstNonEmpty(b.Email, user.Email),
	})
	if err != nil {
		return domain.Tenant{}, false, fmt.Errorf("creating tenant for customer %d: %w", order.UserID, err)
	}
	return tenant, true, nil
}

// HandleSubscriptionActivated applies the subscription's parent order if
// it has not been applied yet.
func (o *OrderEvents) HandleSubscriptionActivated(ctx context.Context, subscriptionRef string) (OrderOutcome, error) {
	sub, err := o.gateway.Subscription(ctx, subscriptionRef)
	if err != nil {
		return OrderOutcome{}, fmt.Errorf("fetching subscription %s: %w", subscriptionRef, err)
	}
	if sub.ParentOrderID == "" {
		o.logger.Warn("activated subscription has no parent order", zap.String("subscription", subscriptionRef))
		return OrderOutcome{}, nil
	}
	return o.HandleOrderPaid(ctx, sub.ParentOrderID)
}

// HandleSubscriptionOnHold only warns the tenant; access continues under
// the grace rules.
func (o *OrderEvents) HandleSubscriptionOnHold(ctx context.Context, subscriptionRef string) error {
	list, err := o.entitlements.BySubscription(ctx, subscriptionRef)
	if err != nil {
		return err
	}
	o.logger.Warn("subscription on hold",
		zap.String("subscription", subscriptionRef),
		zap.Int("entitlements", len(list)),
	)
	o.notifyTenants(ctx, list, domain.NotifyExpirationWarning, subscriptionRef)
	return nil
}

// HandleSubscriptionExpired expires the subscription's entitlements.
func (o *OrderEvents) HandleSubscriptionExpired(ctx context.Context, subscriptionRef string) (int, error) {
	n, err := o.entitlements.ExpireSubscription(ctx, subscriptionRef)
	if err != nil {
		return n, err
	}
	o.logger.Info("subscription expired", zap.String("subscription", subscriptionRef), zap.Int("entitlements", n))
	return n, nil
}

// HandleSubscriptionCancelled revokes the subscription's entitlements
// immediately and notifies the tenants.
func (o *OrderEvents) HandleSubscriptionCancelled(ctx context.Context, subscriptionRef string) (int, error) {
	list, err := o.entitlements.BySubscription(ctx, subscriptionRef)
	if err != nil {
		return 0, err
	}
	n, err := o.entitlements.CancelSubscription(ctx, subscriptionRef)
	if err != nil {
		return n, err
	}
	o.notifyTenants(ctx, list, domain.NotifyCancellation, subscriptionRef)
	o.logger.Info("subscription cancelled", zap.String("subscription", subscriptionRef), zap.Int("entitlements", n))
	return n, nil
}

// HandleRenewalPaid extends the subscription's entitlements to the next
// payment date.
func (o *OrderEvents) HandleRenewalPaid(ctx context.Context, subscriptionRef string) (int, error) {
	sub, err := o.gateway.Subscription(ctx, subscriptionRef)
	if err != nil {
		return 0, fmt.Errorf("fetching subscription %s: %w", subscriptionRef, err)
	}
	n, err := o.entitlements.RenewSubscription(ctx, subscriptionRef, sub.NextPayment)
	if err != nil {
		return n, err
	}
	o.logger.Info("subscription renewed", zap.String("subscription", subscriptionRef), zap.Int("entitlements", n))
	return n, nil
}

func (o *OrderEvents) notifyTenants(ctx context.Context, list []domain.Entitlement, event domain.NotificationEvent, subscriptionRef string) {
	seen := make(map[int64]bool)
	for _, e := range list {
		if seen[e.TenantID] {
			continue
		}
		seen[e.TenantID] = true

		tenant, err := o.registry.Get(ctx, e.TenantID)
		if err != nil || tenant.BillingEmail == "" {
			continue
		}
		o.notifier.Send(ctx, event, tenant.BillingEmail, map[string]any{
			"tenant_id":    tenant.ID,
			"username":     tenant.Username,
			"subscription": subscriptionRef,
		})
	}
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
