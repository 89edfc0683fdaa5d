// Package alert escalates billing incidents that need an operator to
// chat webhooks. Delivery is asynchronous with bounded retries and a per
// target circuit breaker; a full queue drops the alert and counts it.
package alert

import "time"

type Kind string

const (
	KindLedgerInconsistency Kind = "ledger_inconsistency"
	KindDeficitRefund       Kind = "deficit_refund"
	KindForcedExit          Kind = "forced_exit"
)

type Field struct {
	Name  string
	Value string
}

type Event struct {
	Kind   Kind
	Title  string
	Key    string
	Fields []Field
	At     time.Time
}

type Target struct {
	Platform  string   `json:"platform"`
	Endpoint  string   `json:"endpoint"`
	Secret    string   `json:"secret"`
	Allowlist []string `json:"kinds"`
	Enabled   bool     `json:"enabled"`
}

type Config struct {
	Enabled             bool
	Targets             []Target
	Workers             int
	RetryMax            int
	RetryBase           time.Duration
	FailureThreshold    int
	CircuitOpenDuration time.Duration
	RequestTimeout      time.Duration
	DispatchBuffer      int
}

type job struct {
	Target  Target
	Event   Event
	Attempt int
}

func (j job) key() string {
	return j.Target.Platform + "|" + j.Target.Endpoint
}
