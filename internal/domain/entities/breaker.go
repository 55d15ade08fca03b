package entities

import "time"

// CircuitState is the breaker state of one provider or agent
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// BreakerState is the failure-tracking record for one provider or agent
type BreakerState struct {
	ID                  string       `json:"id"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailure         time.Time    `json:"last_failure,omitempty"`
	NextRetry           time.Time    `json:"next_retry,omitempty"`
	TrialInFlight       bool         `json:"trial_in_flight"`
}
