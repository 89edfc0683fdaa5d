package billing

import "expvar"

var (
	metricTickTotal              = expvar.NewInt("billing_tick_total")
	metricTickErrorsTotal        = expvar.NewInt("billing_tick_errors_total")
	metricTickDurationMS         = expvar.NewInt("billing_tick_duration_ms")
	metricOpenAttendances        = expvar.NewInt("billing_open_attendances")
	MetricMinutesCapturedTotal   = expvar.NewInt("billing_minutes_captured_total")
	MetricForcedExitsTotal       = expvar.NewInt("billing_forced_exits_total")
	MetricInsufficientExitsTotal = expvar.NewInt("billing_insufficient_credit_exits_total")
)
