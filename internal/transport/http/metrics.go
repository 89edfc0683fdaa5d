package httptransport

import "expvar"

var (
	metricAPIErrors = expvar.NewMap("http_api_errors_total")

	metricSessionStartTotal = expvar.NewInt("http_session_start_total")
	metricEnterTotal        = expvar.NewInt("http_attendance_enter_total")
	metricExitTotal         = expvar.NewInt("http_attendance_exit_total")
	metricPaymentEvents     = expvar.NewInt("http_payment_events_total")
)
