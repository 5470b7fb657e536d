package http

import (
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// toHumaError translates domain errors to Huma HTTP errors. Every known
// failure keeps its message; only unexpected errors become a bare 500.
func toHumaError(err error) error {
	var (
		validation  *domain.ValidationError
		conflict    *domain.ConflictError
		auth        *domain.AuthError
		limited     *domain.RateLimitError
		transition  *domain.TransitionError
		hardDelete  *domain.HardDeleteError
		transaction *domain.TransactionError
		provision   *domain.ProvisioningError
	)

	switch {
	case errors.As(err, &validation):
		details := make([]error, len(validation.Errors))
		for i, msg := range validation.Errors {
			details[i] = &huma.ErrorDetail{Message: msg}
		}
		return huma.Error422UnprocessableEntity("validation failed", details...)
	case errors.As(err, &conflict):
		return huma.Error409Conflict(conflict.Error())
	case errors.Is(err, domain.ErrVersionConflict):
		return huma.Error409Conflict("the record was changed by another request, retry")
	case domain.IsNotFound(err):
		return huma.Error404NotFound(notFoundMessage(err))
	case errors.As(err, &auth):
		if auth.Forbidden {
			return huma.Error403Forbidden(auth.Reason)
		}
		return huma.Error401Unauthorized(auth.Reason)
	case errors.As(err, &limited):
		return huma.Error429TooManyRequests(limited.Error())
	case errors.As(err, &transition):
		return huma.Error422UnprocessableEntity(transition.Error())
	case errors.As(err, &hardDelete):
		return huma.Error500InternalServerError(fmt.Sprintf(
			"tenant deletion stopped at %q; a backup was kept at %s", hardDelete.Step, hardDelete.BackupPath))
	case errors.As(err, &transaction):
		return huma.Error500InternalServerError(transaction.Error())
	case errors.As(err, &provision):
		return huma.Error502BadGateway(provision.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}

// notFoundMessage returns the message of the innermost not-found sentinel.
func notFoundMessage(err error) string {
	for _, target := range []error{
		domain.ErrTenantNotFound, domain.ErrUserNotFound, domain.ErrModuleNotFound,
		domain.ErrEntitlementNotFound, domain.ErrAPIKeyNotFound, domain.ErrQueueItemNotFound,
		domain.ErrDatabaseNotFound, domain.ErrCredentialsNotFound,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "not found"
}
