package metrics

// Outcome labels shared by the engine metrics.
const (
	OutcomeAllowed = "allowed"
	OutcomeOverage = "overage"
	OutcomeApplied = "applied"
	OutcomeBlocked = "blocked"
	OutcomePending = "pending"
	OutcomeFailed  = "failed"
	OutcomeSuccess = "success"
)

// Decision records the outcome of an entitlement check. Denials are labelled
// with their reason.
func Decision(allowed, overage bool, reason string) {
	switch {
	case allowed && overage:
		EntitlementDecisions.WithLabelValues(OutcomeOverage).Inc()
	case allowed:
		EntitlementDecisions.WithLabelValues(OutcomeAllowed).Inc()
	default:
		EntitlementDecisions.WithLabelValues(reason).Inc()
	}
}

// Ledger records one external ledger call.
func Ledger(op string, err error) {
	status := OutcomeSuccess
	if err != nil {
		status = OutcomeFailed
	}
	LedgerCalls.WithLabelValues(op, status).Inc()
}
