package river

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

var (
	_ domain.Notifier    = (*Notifier)(nil)
	_ domain.PassTrigger = (*Trigger)(nil)
)

// Notifier implements domain.Notifier by enqueuing River jobs. Send never
// blocks on delivery.
type Notifier struct {
	client *Client
	logger *zap.Logger
}

// NewNotifier creates a notifier backed by the given River client.
func NewNotifier(client *Client, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{client: client, logger: logger}
}

// Send reports whether the notification was queued.
func (n *Notifier) Send(ctx context.Context, event domain.NotificationEvent, recipient string, data map[string]any) bool {
	if recipient == "" {
		return false
	}
	_, err := n.client.Insert(ctx, NotificationArgs{
		Event:     string(event),
		Recipient: recipient,
		Data:      data,
	}, nil)
	if err != nil {
		n.logger.Warn("enqueuing notification",
			zap.String("event", string(event)),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Trigger implements domain.PassTrigger by enqueuing a queue pass job.
type Trigger struct {
	client *Client
}

func NewTrigger(client *Client) *Trigger {
	return &Trigger{client: client}
}

func (t *Trigger) TriggerPass(ctx context.Context) error {
	if _, err := t.client.Insert(ctx, QueuePassArgs{}, nil); err != nil {
		return fmt.Errorf("enqueuing queue pass: %w", err)
	}
	return nil
}
