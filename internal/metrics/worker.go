package metrics

import "time"

// JobStarted marks a job in flight and returns its start time.
func JobStarted(jobType string) time.Time {
	JobsInFlight.WithLabelValues(jobType).Inc()
	return time.Now()
}

// JobCompleted records a successful job completion
func JobCompleted(jobType string, started time.Time) {
	JobsInFlight.WithLabelValues(jobType).Dec()
	JobsTotal.WithLabelValues(jobType, "completed").Inc()
	JobDuration.WithLabelValues(jobType).Observe(time.Since(started).Seconds())
}

// JobFailed records a job failure. Permanent failures are not retried.
func JobFailed(jobType string, permanent bool) {
	JobsInFlight.WithLabelValues(jobType).Dec()
	status := "failed"
	if permanent {
		status = "failed_permanent"
	}
	JobsTotal.WithLabelValues(jobType, status).Inc()
}

// JobRetried records a job retry attempt
func JobRetried(jobType string) {
	JobRetriesTotal.WithLabelValues(jobType).Inc()
}
