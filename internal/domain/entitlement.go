package domain

import "time"

// ModuleStatus is the catalogue state of a module.
type ModuleStatus string

const (
	ModuleActive     ModuleStatus = "active"
	ModuleInactive   ModuleStatus = "inactive"
	ModuleDeprecated ModuleStatus = "deprecated"
)

// Module is a licensable feature or integration unit.
type Module struct {
	ID          int64
	Name        string
	Slug        string
	Path        string
	ProductRef  string
	Description string
	Version     string
	Requires    []string
	Status      ModuleStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EntitlementStatus is the state of a tenant's right to a module.
type EntitlementStatus string

const (
	EntitlementActive    EntitlementStatus = "active"
	EntitlementInactive  EntitlementStatus = "inactive"
	EntitlementExpired   EntitlementStatus = "expired"
	EntitlementCancelled EntitlementStatus = "cancelled"
)

// EntitlementEvent triggers an entitlement state transition.
type EntitlementEvent string

const (
	EntitlementEventActivate   EntitlementEvent = "activate"
	EntitlementEventExpire     EntitlementEvent = "expire"
	EntitlementEventDeactivate EntitlementEvent = "deactivate"
	EntitlementEventCancel     EntitlementEvent = "cancel"
)

// EntitlementTransitions is the entitlement lifecycle table.
var EntitlementTransitions = []Transition[EntitlementStatus, EntitlementEvent]{
	{Event: EntitlementEventActivate, Src: EntitlementInactive, Dst: EntitlementActive},
	{Event: EntitlementEventActivate, Src: EntitlementExpired, Dst: EntitlementActive},
	{Event: EntitlementEventActivate, Src: EntitlementCancelled, Dst: EntitlementActive},
	{Event: EntitlementEventExpire, Src: EntitlementActive, Dst: EntitlementExpired},
	{Event: EntitlementEventDeactivate, Src: EntitlementActive, Dst: EntitlementInactive},
	{Event: EntitlementEventDeactivate, Src: EntitlementExpired, Dst: EntitlementInactive},
	{Event: EntitlementEventCancel, Src: EntitlementActive, Dst: EntitlementCancelled},
	{Event: EntitlementEventCancel, Src: EntitlementExpired, Dst: EntitlementCancelled},
	{Event: EntitlementEventCancel, Src: EntitlementInactive, Dst: EntitlementCancelled},
}

// Entitlement records that a tenant holds a module. There is at most one
// per (TenantID, ModuleID).
type Entitlement struct {
	ID              int64
	TenantID        int64
	ModuleID        int64
	SubscriptionRef string
	Status          EntitlementStatus
	ActivatedAt     time.Time
	ExpiresAt       *time.Time
	GracePeriodEnds *time.Time
	LastChecked     *time.Time
	Version         int
}

// ModuleEntitlement is an entitlement joined with its module.
type ModuleEntitlement struct {
	Entitlement
	Module Module
}

// GraceEnd returns expiresAt plus graceDays, or nil for a perpetual entitlement.
func GraceEnd(expiresAt *time.Time, graceDays int) *time.Time {
	if expiresAt == nil {
		return nil
	}
	end := expiresAt.AddDate(0, 0, graceDays)
	return &end
}

// Reconcile returns the status e should have at now. Expiry and grace
// bounds are inclusive: an entitlement expiring at T with grace ending at G
// is active through T, expired through G, and inactive after G.
func (e Entitlement) Reconcile(now time.Time) EntitlementStatus {
	switch e.Status {
	case EntitlementActive:
		if e.ExpiresAt == nil || !now.After(*e.ExpiresAt) {
			return EntitlementActive
		}
		if e.inGrace(now) {
			return EntitlementExpired
		}
		return EntitlementInactive
	case EntitlementExpired:
		if e.inGrace(now) {
			return EntitlementExpired
		}
		return EntitlementInactive
	default:
		return e.Status
	}
}

// AccessAt reports whether e grants access at now.
func (e Entitlement) AccessAt(now time.Time) bool {
	switch e.Reconcile(now) {
	case EntitlementActive, EntitlementExpired:
		return true
	default:
		return false
	}
}

func (e Entitlement) inGrace(now time.Time) bool {
	return e.GracePeriodEnds != nil && !now.After(*e.GracePeriodEnds)
}

// EntitlementStats summarises entitlements by status.
type EntitlementStats struct {
	Total    int
	ByStatus map[EntitlementStatus]int
}
