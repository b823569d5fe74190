package events

import "time"

// GraphQLStart is emitted before executing a GraphQL operation.
type GraphQLStart struct {
	ExecutionID   string
	Query         string
	OperationName string
}

// GraphQLFinish is emitted once the initial payload of an operation is ready.
type GraphQLFinish struct {
	ExecutionID   string
	OperationName string
	OperationType string
	ErrorCount    int
	Duration      time.Duration
}
