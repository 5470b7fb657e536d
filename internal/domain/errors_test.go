package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

func TestConflictError_Error(t *testing.T) {
	err := &domain.ConflictError{Field: "username", Value: "acme"}
	want := `username "acme" is already taken`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTransitionError_Error(t *testing.T) {
	err := &domain.TransitionError{
		Event:   string(domain.TenantEventSuspend),
		Current: string(domain.TenantCancelled),
	}
	want := `event "suspend" is not valid from state "cancelled"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &domain.ValidationError{Errors: []string{"a", "b"}}
	want := "validation failed: a; b"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRateLimitError_Error(t *testing.T) {
	err := &domain.RateLimitError{Limit: 1000, Window: time.Hour}
	want := "rate limit of 1000 requests per 1h0m0s exceeded"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrappedErrors_Unwrap(t *testing.T) {
	cause := errors.New("boom")

	for _, err := range []error{
		&domain.ProvisioningError{Op: "create database", Err: cause},
		&domain.TransactionError{Step: "create tenant row", Err: cause},
		&domain.HardDeleteError{Step: "destroy database", BackupPath: "/b.sql", Err: cause},
	} {
		if !errors.Is(err, cause) {
			t.Errorf("%T does not unwrap to its cause", err)
		}
	}
}

func TestHardDeleteError_CarriesBackupPath(t *testing.T) {
	err := &domain.HardDeleteError{Step: "delete user", BackupPath: "/backups/x.sql", Err: errors.New("down")}
	want := `hard delete stopped at delete user (backup at "/backups/x.sql"): down`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsNotFound(t *testing.T) {
	if !domain.IsNotFound(fmt.Errorf("loading: %w", domain.ErrModuleNotFound)) {
		t.Error("wrapped ErrModuleNotFound should be a not-found error")
	}
	if domain.IsNotFound(domain.ErrVersionConflict) {
		t.Error("ErrVersionConflict should not be a not-found error")
	}
}
