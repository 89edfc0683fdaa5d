package alert

import "expvar"

var (
	metricAlertQueuedTotal       = expvar.NewInt("alert_queued_total")
	metricAlertDroppedTotal      = expvar.NewInt("alert_dropped_total")
	metricAlertRetryTotal        = expvar.NewInt("alert_retry_total")
	metricAlertRetryDroppedTotal = expvar.NewInt("alert_retry_dropped_total")
	metricAlertSentTotal         = expvar.NewInt("alert_sent_total")
	metricAlertFailedTotal       = expvar.NewInt("alert_failed_total")
	metricAlertCircuitOpenTotal  = expvar.NewInt("alert_circuit_open_total")
	metricAlertQueueLen          = expvar.NewInt("alert_queue_len")
)
