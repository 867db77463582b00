package billing

import (
	"errors"
	"fmt"
)

// Kind classifies billing failures so boundaries can translate them into
// stable HTTP codes without matching on message text.
type Kind int

const (
	// KindConfiguration marks missing or invalid provider credentials. The
	// affected provider is disabled; the service keeps running.
	KindConfiguration Kind = iota + 1
	// KindVerification marks a bad or missing webhook signature. The request
	// performs zero writes.
	KindVerification
	// KindNotFound marks an unknown subscription, plan or gateway reference.
	KindNotFound
	// KindStateConflict marks benign conflicts such as double-cancel or a
	// stale event replay. Logged, never alarmed.
	KindStateConflict
	// KindTransientProvider marks network/timeout failures talking to a
	// provider. Retryable.
	KindTransientProvider
	// KindQuotaExceeded marks a denied quota check. Carries the limit/usage
	// pair for user-facing messaging.
	KindQuotaExceeded
)

// Stable machine-readable codes attached to boundary responses.
const (
	CodeConfiguration        = "CONFIGURATION_ERROR"
	CodeVerificationFailed   = "VERIFICATION_FAILED"
	CodeNotFound             = "NOT_FOUND"
	CodeStateConflict        = "STATE_CONFLICT"
	CodeProviderUnavailable  = "PROVIDER_UNAVAILABLE"
	CodeLimitExceeded        = "LIMIT_EXCEEDED"
	CodeNotInPlan            = "NOT_IN_PLAN"
	CodeSubscriptionInactive = "SUBSCRIPTION_INACTIVE"
)

// Error is the typed error value used throughout the billing core. Expected
// domain outcomes (already canceled, quota exhausted) travel as Error values;
// hard failures stay plain wrapped errors.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// Limit/Used are populated for quota denials only.
	Limit int
	Used  int

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the billing kind from err, or 0 when err carries none.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}

// CodeOf extracts the stable code from err, or "" when err carries none.
func CodeOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func configurationError(provider Provider, msg string) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Code:    CodeConfiguration,
		Message: fmt.Sprintf("%s: %s", provider, msg),
	}
}

func verificationError(provider Provider, msg string) *Error {
	return &Error{
		Kind:    KindVerification,
		Code:    CodeVerificationFailed,
		Message: fmt.Sprintf("%s: %s", provider, msg),
	}
}

// NotFoundError builds a typed not-found error for an unknown reference.
func NotFoundError(msg string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: msg}
}

// StateConflictError builds a typed conflict error for a benign no-op.
func StateConflictError(msg string) *Error {
	return &Error{Kind: KindStateConflict, Code: CodeStateConflict, Message: msg}
}

func transientError(provider Provider, msg string, err error) *Error {
	return &Error{
		Kind:    KindTransientProvider,
		Code:    CodeProviderUnavailable,
		Message: fmt.Sprintf("%s: %s", provider, msg),
		Err:     err,
	}
}

// QuotaExceededError builds the denial returned when a positive cap is
// exhausted.
func QuotaExceededError(resource string, limit, used int) *Error {
	return &Error{
		Kind:    KindQuotaExceeded,
		Code:    CodeLimitExceeded,
		Message: fmt.Sprintf("%s limit reached (%d of %d used); upgrade your plan to continue", resource, used, limit),
		Limit:   limit,
		Used:    used,
	}
}

// NotInPlanError builds the denial returned when a resource is disabled
// (limit 0) for the plan, distinct from an exhausted positive cap.
func NotInPlanError(resource string) *Error {
	return &Error{
		Kind:    KindQuotaExceeded,
		Code:    CodeNotInPlan,
		Message: fmt.Sprintf("%s is not included in your plan; upgrade to enable it", resource),
	}
}

// SubscriptionInactiveError builds the denial returned when the subscription
// status blocks every metered operation regardless of numeric limits.
func SubscriptionInactiveError(status string) *Error {
	return &Error{
		Kind:    KindQuotaExceeded,
		Code:    CodeSubscriptionInactive,
		Message: fmt.Sprintf("subscription not active (status %s); renew or update payment to continue", status),
	}
}
