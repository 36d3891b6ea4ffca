package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Caller errors: the request itself is malformed or issued by the wrong
// party. Never retried automatically.
var (
	ErrNotAdmin                   = errors.New("core: caller is not the security admin")
	ErrNotPendingAdmin            = errors.New("core: caller is not the pending security admin")
	ErrNotRouter                  = errors.New("core: caller is not the protocol router")
	ErrNotSelf                    = errors.New("core: caller does not match the target identity")
	ErrNotProtocolAdmin           = errors.New("core: caller is not the protocol administrator")
	ErrInvalidCredentialLength    = errors.New("core: invalid credential length")
	ErrArrayLengthMismatch        = errors.New("core: selector and flag arrays differ in length")
	ErrPayloadTooShort            = errors.New("core: protected call payload too short")
	ErrDelegationNotPermitted     = errors.New("core: guarded call reached through disallowed delegation")
	ErrOnlyDistinctImplementation = errors.New("core: new implementation identity must differ from current")
)

// State errors: the ledger is not in a state that admits the operation.
var (
	ErrNotRegisteredPending = errors.New("core: registration is not pending")
	ErrAlreadyRegistered    = errors.New("core: identity is already registered")
	ErrNotRegistered        = errors.New("core: identity is not registered")
	ErrIntegrationRevoked   = errors.New("core: integration authorization is revoked")
	ErrIntegrationNotActive = errors.New("core: integration authorization is not active")
)

// Collaborator errors: the security module or registrar collaborator did not
// permit the request. A denial (explicit false verdict) is distinct from a
// collaborator failure.
var (
	ErrModuleDenied       = errors.New("core: security module denied the call")
	ErrModuleNotFound     = errors.New("core: no security module registered for marker")
	ErrDispatchFailed     = errors.New("core: protected call dispatch failed")
	ErrRegistrationFailed = errors.New("core: registration credential rejected")
)

const (
	ProtectErrorBadInput          = "PROTECT_BAD_INPUT"
	ProtectErrorNotAuthorized     = "PROTECT_NOT_AUTHORIZED"
	ProtectErrorNotRegistered     = "PROTECT_NOT_REGISTERED"
	ProtectErrorInvalidTransition = "PROTECT_INVALID_TRANSITION"
	ProtectErrorRevoked           = "PROTECT_REVOKED"
	ProtectErrorModuleDenied      = "PROTECT_MODULE_DENIED"
	ProtectErrorDispatchFailed    = "PROTECT_DISPATCH_FAILED"
	ProtectErrorInternal          = "PROTECT_INTERNAL_ERROR"
)

// ErrorFactory builds an envelope from scratch; ErrorMapper normalizes any
// error before it crosses the module boundary.
type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

func protectErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureProtectErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrNotAdmin),
		errors.Is(err, ErrNotPendingAdmin),
		errors.Is(err, ErrNotRouter),
		errors.Is(err, ErrNotSelf),
		errors.Is(err, ErrNotProtocolAdmin),
		errors.Is(err, ErrDelegationNotPermitted):
		return newProtectError(err, goerrors.CategoryAuthz, ProtectErrorNotAuthorized)
	case errors.Is(err, ErrInvalidCredentialLength),
		errors.Is(err, ErrArrayLengthMismatch),
		errors.Is(err, ErrPayloadTooShort),
		errors.Is(err, ErrOnlyDistinctImplementation),
		errors.Is(err, ErrUnknownRegistrationStatus),
		errors.Is(err, ErrUnknownAuthorizationStatus):
		return newProtectError(err, goerrors.CategoryBadInput, ProtectErrorBadInput)
	case errors.Is(err, ErrNotRegisteredPending),
		errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, ErrInvalidRegistrationStatusTransition),
		errors.Is(err, ErrInvalidAuthorizationStatusTransition):
		return newProtectError(err, goerrors.CategoryConflict, ProtectErrorInvalidTransition)
	case errors.Is(err, ErrNotRegistered),
		errors.Is(err, ErrIntegrationNotActive):
		return newProtectError(err, goerrors.CategoryNotFound, ProtectErrorNotRegistered)
	case errors.Is(err, ErrIntegrationRevoked):
		return newProtectError(err, goerrors.CategoryAuthz, ProtectErrorRevoked)
	case errors.Is(err, ErrModuleDenied):
		return newProtectError(err, goerrors.CategoryOperation, ProtectErrorModuleDenied)
	case errors.Is(err, ErrModuleNotFound),
		errors.Is(err, ErrDispatchFailed),
		errors.Is(err, ErrRegistrationFailed):
		return newProtectError(err, goerrors.CategoryExternal, ProtectErrorDispatchFailed)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureProtectErrorEnvelope(mapped)
}

// newProtectError wraps rather than re-creates so errors.Is against the
// sentinel still holds after mapping.
func newProtectError(err error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureProtectErrorEnvelope(
		goerrors.Wrap(err, category, err.Error()).
			WithTextCode(textCode),
	)
}

func ensureProtectErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = protectHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultProtectTextCode(err.Category)
	}
	return err
}

func defaultProtectTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ProtectErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ProtectErrorNotAuthorized
	case goerrors.CategoryNotFound:
		return ProtectErrorNotRegistered
	case goerrors.CategoryConflict:
		return ProtectErrorInvalidTransition
	case goerrors.CategoryExternal, goerrors.CategoryOperation:
		return ProtectErrorDispatchFailed
	default:
		return ProtectErrorInternal
	}
}

func protectHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal, goerrors.CategoryOperation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
