package purchase

import "expvar"

var (
	metricEventsApplied    = expvar.NewMap("purchase_events_applied_total")
	metricCreditsPurchased = expvar.NewInt("purchase_credits_total")
	metricDeficitRefunds   = expvar.NewInt("purchase_deficit_refunds_total")
	metricConsumerErrors   = expvar.NewInt("purchase_consumer_errors_total")
)
