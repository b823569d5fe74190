package events

import "time"

// ServiceCallStart is emitted before a compiled document is sent to a service.
type ServiceCallStart struct {
	CallID        string
	Service       string
	OperationName string
	// Hydration is set for backing calls of hydrated fields.
	Hydration bool
}

// ServiceCallFinish is emitted after a service call returns.
type ServiceCallFinish struct {
	CallID     string
	Service    string
	Hydration  bool
	ErrorCount int
	Err        error
	Duration   time.Duration
}
