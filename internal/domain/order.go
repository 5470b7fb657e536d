package domain

import "time"

// Order is a purchase read from the commerce platform.
type Order struct {
	Ref              string
	UserID           int64
	Status           string
	Items            []OrderItem
	SubscriptionRefs []string
	Billing          Billing
}

// OrderItem is one purchased line.
type OrderItem struct {
	ProductRef string
	Name       string
	Quantity   int
}

// Billing holds the purchaser's billing contact.
type Billing struct {
	FirstName string
	LastName  string
	Company   string
	Email     string
	Phone     string
	Address1  string
	Address2  string
	City      string
	Country   string
}

// Subscription is a recurring purchase read from the commerce platform.
type Subscription struct {
	Ref           string
	ParentOrderID string
	UserID        int64
	Status        string
	NextPayment   *time.Time
}

// ProcessedOrder marks an order whose entitlements have been applied.
type ProcessedOrder struct {
	OrderRef         string
	TenantID         int64
	ModulesActivated []string
	ProcessedAt      time.Time
}

// AuditEntry is one record in the audit trail.
type AuditEntry struct {
	ID         int64
	TenantID   *int64
	ActorID    int64
	Action     string
	EntityType string
	EntityID   int64
	Details    map[string]any
	CreatedAt  time.Time
}

// NotificationEvent names a notification template.
type NotificationEvent string

const (
	NotifyWelcome            NotificationEvent = "welcome"
	NotifyActivation         NotificationEvent = "activation"
	NotifyExpirationWarning  NotificationEvent = "expiration_warning"
	NotifyCancellation       NotificationEvent = "cancellation"
	NotifySuspension         NotificationEvent = "suspension"
	NotifyProvisioningFailed NotificationEvent = "provisioning_failed"
)
