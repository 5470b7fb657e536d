package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel not-found and concurrency errors.
var (
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrModuleNotFound      = errors.New("module not found")
	ErrEntitlementNotFound = errors.New("entitlement not found")
	ErrAPIKeyNotFound      = errors.New("api key not found")
	ErrQueueItemNotFound   = errors.New("queue item not found")
	ErrDatabaseNotFound    = errors.New("database not found")
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrVersionConflict     = errors.New("record was modified concurrently")
)

// IsNotFound reports whether err wraps any of the not-found sentinels.
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrTenantNotFound, ErrUserNotFound, ErrModuleNotFound,
		ErrEntitlementNotFound, ErrAPIKeyNotFound, ErrQueueItemNotFound,
		ErrDatabaseNotFound, ErrCredentialsNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ValidationError is returned when user input fails one or more rules.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// ConflictError is returned when a unique value is already taken.
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q is already taken", e.Field, e.Value)
}

// ProvisioningError is returned when an external database or credential
// operation fails.
type ProvisioningError struct {
	Op  string
	Err error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s: %v", e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// TransactionError is returned when a multi-store step fails and earlier
// steps have been compensated.
type TransactionError struct {
	Step string
	Err  error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s failed and was rolled back: %v", e.Step, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// HardDeleteError is returned when a destructive delete fails after the
// backup was taken. Completed steps are not rolled back.
type HardDeleteError struct {
	Step       string
	BackupPath string
	Err        error
}

func (e *HardDeleteError) Error() string {
	return fmt.Sprintf("hard delete stopped at %s (backup at %q): %v", e.Step, e.BackupPath, e.Err)
}

func (e *HardDeleteError) Unwrap() error { return e.Err }

// AuthError is returned when a caller cannot be authenticated, or is
// authenticated but not allowed (Forbidden).
type AuthError struct {
	Reason    string
	Forbidden bool
}

func (e *AuthError) Error() string {
	return e.Reason
}

// RateLimitError is returned when an API key exceeded its request budget.
type RateLimitError struct {
	Limit  int
	Window time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per %s exceeded", e.Limit, e.Window)
}

// TransitionError is returned when a status change is not allowed from
// the current state.
type TransitionError struct {
	Event   string
	Current string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}
