package domain

import (
	"maps"
	"strings"
	"time"
)

// TenantStatus represents the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantPending   TenantStatus = "pending"
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantCancelled TenantStatus = "cancelled"
)

// TenantStatuses lists every valid tenant status.
var TenantStatuses = []TenantStatus{TenantPending, TenantActive, TenantSuspended, TenantCancelled}

// Valid reports whether s is one of the known tenant statuses.
func (s TenantStatus) Valid() bool {
	for _, known := range TenantStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// TenantEvent represents an action that triggers a tenant state transition.
type TenantEvent string

const (
	TenantEventReactivate        TenantEvent = "reactivate"
	TenantEventProvisionComplete TenantEvent = "provision_complete"
	TenantEventProvisionFailed   TenantEvent = "provision_failed"
	TenantEventSuspend           TenantEvent = "suspend"
	TenantEventCancel            TenantEvent = "cancel"
	TenantEventReset             TenantEvent = "reset"
)

// Transition defines a valid state change: when Event fires in state Src,
// the machine moves to Dst.
type Transition[S ~string, E ~string] struct {
	Event E
	Src   S
	Dst   S
}

// TenantTransitions is the single source of truth for the tenant lifecycle.
// Order matters for EventFor: the first row matching (src, dst) wins.
var TenantTransitions = []Transition[TenantStatus, TenantEvent]{
	{Event: TenantEventReactivate, Src: TenantSuspended, Dst: TenantActive},
	{Event: TenantEventReactivate, Src: TenantCancelled, Dst: TenantActive},
	{Event: TenantEventProvisionComplete, Src: TenantPending, Dst: TenantActive},
	{Event: TenantEventProvisionComplete, Src: TenantSuspended, Dst: TenantActive},
	{Event: TenantEventProvisionFailed, Src: TenantPending, Dst: TenantSuspended},
	{Event: TenantEventSuspend, Src: TenantPending, Dst: TenantSuspended},
	{Event: TenantEventSuspend, Src: TenantActive, Dst: TenantSuspended},
	{Event: TenantEventCancel, Src: TenantPending, Dst: TenantCancelled},
	{Event: TenantEventCancel, Src: TenantActive, Dst: TenantCancelled},
	{Event: TenantEventCancel, Src: TenantSuspended, Dst: TenantCancelled},
	{Event: TenantEventReset, Src: TenantSuspended, Dst: TenantPending},
	{Event: TenantEventReset, Src: TenantCancelled, Dst: TenantPending},
}

// EventFor returns the first event in table that moves src to dst.
func EventFor[S ~string, E ~string](table []Transition[S, E], src, dst S) (E, bool) {
	for _, t := range table {
		if t.Src == src && t.Dst == dst {
			return t.Event, true
		}
	}
	var zero E
	return zero, false
}

// Metadata keys written by the provisioning path.
const (
	MetaProvisioningError    = "provisioning_error"
	MetaProvisioningFailedAt = "provisioning_failed_at"
	MetaProvisionedAt        = "provisioned_at"
)

// Metadata is free-form tenant data. Writes merge into existing keys.
type Metadata map[string]any

// Merge returns a copy of m with every key of patch applied on top.
func (m Metadata) Merge(patch map[string]any) Metadata {
	out := make(Metadata, len(m)+len(patch))
	maps.Copy(out, m)
	maps.Copy(out, patch)
	return out
}

// Tenant is a provisioned customer account with its own subdomain and database.
type Tenant struct {
	ID           int64
	UserID       int64
	Username     string
	AccountName  string
	CompanyName  string
	Subdomain    string
	DatabaseName string
	Status       TenantStatus
	StorageUsed  int64
	StorageLimit int64
	UserLimit    int
	PhoneNumber  string
	Address      string
	BillingEmail string
	Metadata     Metadata
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    *time.Time
	Version      int
}

// ListFilter controls tenant listing.
type ListFilter struct {
	Status *TenantStatus
	Search string
	SortBy string
	Asc    bool
	Limit  int
	Offset int
}

// TenantSortFields are the columns a tenant listing may be sorted by.
var TenantSortFields = []string{"created_at", "updated_at", "username", "account_name", "status", "storage_used"}

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single hyphen.
func Slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	return b.String()
}
