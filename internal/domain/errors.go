package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID   = "invalid"    // Invalid input or validation failure
	ENOTFOUND  = "not_found"  // Resource not found
	ECONFLICT  = "conflict"   // Resource conflict (e.g., duplicate)
	ERATELIMIT = "rate_limit" // Usage limit reached
	EINTERNAL  = "internal"   // Internal server error
	EPAYMENT   = "payment"    // Subscription not in good standing
)

// Reason identifies an entitlement or plan-change outcome. It is carried on
// both errors and denied decisions so callers can branch without string matching.
type Reason string

const (
	ReasonUnknownPlan               Reason = "unknown_plan"
	ReasonSubscriptionNotActive     Reason = "subscription_not_active"
	ReasonDailyLimitReached         Reason = "daily_limit_reached"
	ReasonMonthlyLimitReached       Reason = "monthly_limit_reached"
	ReasonInvalidDowngradeDirection Reason = "invalid_downgrade_direction"
	ReasonInvalidUpgradeDirection   Reason = "invalid_upgrade_direction"
	ReasonUsageExceedsTargetPlan    Reason = "usage_exceeds_target_plan"
	ReasonTeamSizeExceedsTarget     Reason = "team_size_exceeds_target"
	ReasonNoPendingDowngrade        Reason = "no_pending_downgrade"
	ReasonCounterUpdateFailed       Reason = "counter_update_failed"
	ReasonLedgerReportFailed        Reason = "ledger_report_failed"
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Reason  Reason // Engine-specific outcome, empty for generic errors
	Op      string // Operation that failed (e.g., "plan_change.downgrade")
	Message string // Human-readable message
	Err     error  // Underlying error

	// Current and Limit describe the values that caused a limit-style
	// failure. HasLimits reports whether they are meaningful.
	Current   int64
	Limit     int64
	HasLimits bool
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorReason returns the engine reason of the error, if any.
func ErrorReason(err error) Reason {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// ErrorLimits returns the current/limit pair attached to a limit-style error.
func ErrorLimits(err error) (current, limit int64, ok bool) {
	var e *Error
	if errors.As(err, &e) && e.HasLimits {
		return e.Current, e.Limit, true
	}
	return 0, 0, false
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		// For internal errors, return generic message
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Engine errors
// =============================================================================

// UnknownPlan is returned when a plan identifier is not in the catalogue.
func UnknownPlan(op string, id PlanID) *Error {
	return &Error{
		Code:    EINVALID,
		Reason:  ReasonUnknownPlan,
		Op:      op,
		Message: fmt.Sprintf("unknown plan %q", id),
	}
}

// SubscriptionNotActive is returned when the subscription is past due or canceled.
func SubscriptionNotActive(op string, status SubscriptionStatus) *Error {
	return &Error{
		Code:    EPAYMENT,
		Reason:  ReasonSubscriptionNotActive,
		Op:      op,
		Message: fmt.Sprintf("subscription is %s", status),
	}
}

// DailyLimitReached is returned when the daily allotment is used up.
func DailyLimitReached(op string, used, limit int64) *Error {
	return limitError(ERATELIMIT, ReasonDailyLimitReached, op,
		fmt.Sprintf("daily limit reached (%d of %d used)", used, limit), used, limit)
}

// MonthlyLimitReached is returned when the monthly allotment is used up and
// overage is not available.
func MonthlyLimitReached(op string, used, limit int64) *Error {
	return limitError(ERATELIMIT, ReasonMonthlyLimitReached, op,
		fmt.Sprintf("monthly limit reached (%d of %d used)", used, limit), used, limit)
}

// InvalidDowngradeDirection is returned when the target is not a lower tier.
func InvalidDowngradeDirection(op string, from, to PlanID) *Error {
	return &Error{
		Code:    EINVALID,
		Reason:  ReasonInvalidDowngradeDirection,
		Op:      op,
		Message: fmt.Sprintf("cannot downgrade from %s to %s", from, to),
	}
}

// InvalidUpgradeDirection is returned when the target is not a higher tier.
func InvalidUpgradeDirection(op string, from, to PlanID) *Error {
	return &Error{
		Code:    EINVALID,
		Reason:  ReasonInvalidUpgradeDirection,
		Op:      op,
		Message: fmt.Sprintf("cannot upgrade from %s to %s", from, to),
	}
}

// UsageExceedsTargetPlan is returned when this month's usage does not fit the
// target plan's monthly limit.
func UsageExceedsTargetPlan(op string, used, limit int64) *Error {
	return limitError(EINVALID, ReasonUsageExceedsTargetPlan, op,
		fmt.Sprintf("current usage %d exceeds the target plan's monthly limit of %d", used, limit), used, limit)
}

// TeamSizeExceedsTarget is returned when an owned team has more members than
// the target plan includes.
func TeamSizeExceedsTarget(op string, members, seats int64) *Error {
	return limitError(EINVALID, ReasonTeamSizeExceedsTarget, op,
		fmt.Sprintf("team has %d members but the target plan includes %d seats", members, seats), members, seats)
}

// NoPendingDowngrade is returned when there is nothing to cancel.
func NoPendingDowngrade(op string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Reason:  ReasonNoPendingDowngrade,
		Op:      op,
		Message: "no pending downgrade",
	}
}

// CounterUpdateFailed is an operational error: the usage counter could not be
// persisted. The metered action still happened.
func CounterUpdateFailed(err error, op string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Reason:  ReasonCounterUpdateFailed,
		Op:      op,
		Message: "usage counter update failed",
		Err:     err,
	}
}

// LedgerReportFailed is an operational error: the external ledger could not
// be notified. The state is kept locally and retried later.
func LedgerReportFailed(err error, op string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Reason:  ReasonLedgerReportFailed,
		Op:      op,
		Message: "billing ledger report failed",
		Err:     err,
	}
}

func limitError(code string, reason Reason, op, message string, current, limit int64) *Error {
	return &Error{
		Code:      code,
		Reason:    reason,
		Op:        op,
		Message:   message,
		Current:   current,
		Limit:     limit,
		HasLimits: true,
	}
}
