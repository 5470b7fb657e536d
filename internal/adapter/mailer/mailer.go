// Package mailer delivers tenant notifications. The log mailer records each
// message as a structured log entry; template rendering lives with the
// content platform.
package mailer

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// ErrNoRecipient is returned when a message has no address.
var ErrNoRecipient = errors.New("notification has no recipient")

// LogMailer writes every notification to the logger.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer returns a mailer that logs to logger; nil means zap.Nop.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Deliver logs one notification.
func (m *LogMailer) Deliver(ctx context.Context, event domain.NotificationEvent, recipient string, data map[string]any) error {
	if recipient == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m.logger.Info("notification delivered",
		zap.String("event", string(event)),
		zap.String("recipient", recipient),
		zap.Strings("fields", keys),
		zap.Any("data", data),
	)
	return nil
}
