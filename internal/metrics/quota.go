package metrics

import "strconv"

// QuotaChecked records the outcome of a pack quota check.
func QuotaChecked(allowed bool, source string) {
	if source == "" {
		source = "none"
	}
	QuotaDecisionsTotal.WithLabelValues(strconv.FormatBool(allowed), source).Inc()
}

// QuotaConsumed records a pack consumption attempt.
func QuotaConsumed(source, result string) {
	if source == "" {
		source = "none"
	}
	QuotaConsumptionsTotal.WithLabelValues(source, result).Inc()
}

// SweepCompleted records a successful sweep and the rows it moved.
func SweepCompleted(sweep string, items int64) {
	SweepRunsTotal.WithLabelValues(sweep, "completed").Inc()
	SweepItemsTotal.WithLabelValues(sweep).Add(float64(items))
}

// SweepFailed records a failed sweep run.
func SweepFailed(sweep string) {
	SweepRunsTotal.WithLabelValues(sweep, "failed").Inc()
}

// WebhookHandled records the outcome of a Stripe webhook event. Event types
// outside the handled set are folded into "other".
func WebhookHandled(eventType, result string) {
	switch eventType {
	case "checkout.session.completed", "charge.refunded":
	default:
		eventType = "other"
	}
	WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}
