package metrics

import (
	"time"
)

// RecordProbe records a connectivity probe result and its latency.
func RecordProbe(success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	ProbesTotal.WithLabelValues(result).Inc()
	ProbeDuration.Observe(duration.Seconds())
}

// UpdateBreakerState publishes the circuit breaker view.
func UpdateBreakerState(open bool, consecutiveFailures int) {
	v := 0.0
	if open {
		v = 1
	}
	BreakerOpen.Set(v)
	BreakerConsecutiveFailures.Set(float64(consecutiveFailures))
}

// RecordRemoteCall records one resilient call.
//
// Outcome should be one of: success, connection_error, circuit_open,
// rate_limited, timeout, error.
func RecordRemoteCall(operation, outcome string, duration time.Duration) {
	RemoteCallsTotal.WithLabelValues(operation, outcome).Inc()
	RemoteCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetry records one retry of a remote call.
func RecordRetry(operation string) {
	RetryAttemptsTotal.WithLabelValues(operation).Inc()
}

// RecordBookingEvent records an incoming booking event.
// Result should be one of: started, duplicate, invalid.
func RecordBookingEvent(result string) {
	BookingEventsTotal.WithLabelValues(result).Inc()
}

// RecordBookingResolved records a terminal booking transition and whether
// its write reached the store.
func RecordBookingResolved(status string, written bool) {
	BookingResolutionsTotal.WithLabelValues(status).Inc()
	if !written {
		BookingWriteFailuresTotal.WithLabelValues(status).Inc()
	}
}

// UpdateBookingsPending sets the number of bookings awaiting a response.
func UpdateBookingsPending(count int) {
	BookingsPending.Set(float64(count))
}

// RecordSessionCorrection records a consistency check outcome other than
// "valid, unchanged". Kind should be one of: created, remote_wins, invalid.
func RecordSessionCorrection(kind string) {
	SessionCorrectionsTotal.WithLabelValues(kind).Inc()
}

// RecordSessionsClosed records closed sessions by reason.
func RecordSessionsClosed(reason string, count int) {
	if count <= 0 {
		return
	}
	SessionsClosedTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordSessionSweep records the duration of an expired session sweep.
func RecordSessionSweep(duration time.Duration) {
	SessionSweepDuration.Observe(duration.Seconds())
}

// AlertStarted increments the active alert gauge.
func AlertStarted() {
	AlertsActive.Inc()
}

// AlertStopped decrements the active alert gauge.
func AlertStopped() {
	AlertsActive.Dec()
}

// RecordAlertFailure records a swallowed alert failure.
// Stage should be one of: playback, fallback, notification, vibration.
func RecordAlertFailure(stage string) {
	AlertFailuresTotal.WithLabelValues(stage).Inc()
}

// RecordPushSend records a push notification send.
func RecordPushSend(kind string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	PushSendsTotal.WithLabelValues(kind, result).Inc()
}
