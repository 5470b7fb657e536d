package river

import (
	"database/sql"

	"github.com/riverqueue/river"
)

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// QueuePassArgs asks a worker to run one provisioning queue pass. The queue
// keeps its own attempt count, so the job itself is never retried.
type QueuePassArgs struct{}

func (QueuePassArgs) Kind() string { return "queue.pass" }

func (QueuePassArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// EntitlementSweepArgs asks a worker to expire lapsed entitlements.
type EntitlementSweepArgs struct{}

func (EntitlementSweepArgs) Kind() string { return "entitlements.sweep" }

func (EntitlementSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// NotificationArgs carries one notification. River serializes it as JSON
// into its job table, so data must be JSON-encodable.
type NotificationArgs struct {
	Event     string         `json:"event"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data,omitempty"`
}

func (NotificationArgs) Kind() string { return "notification.send" }

func (NotificationArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}
