package domain

import "time"

// QueueStatus is the state of a provisioning queue item.
type QueueStatus string

const (
	QueuePending  QueueStatus = "pending"
	QueueRetrying QueueStatus = "retrying"
	QueueFailed   QueueStatus = "failed"
)

// QueueItem is a tenant waiting for its database. There is at most one
// item per tenant.
type QueueItem struct {
	TenantID  int64
	Priority  int
	AddedAt   time.Time
	Attempts  int
	Status    QueueStatus
	LastError string
	Sequence  int64
}

// QueueStats summarises the provisioning queue.
type QueueStats struct {
	Total        int
	Pending      int
	Retrying     int
	Failed       int
	OldestAge    time.Duration
	IsProcessing bool
}

// ProvisioningLease is the name of the lease that serialises queue passes.
const ProvisioningLease = "provisioning-queue"

// Lease grants exclusive ownership of a named resource until ExpiresAt.
type Lease struct {
	Name      string
	Owner     string
	ExpiresAt time.Time
}
