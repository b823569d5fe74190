// Package service defines the boundary between the engine and underlying services.
package service

import (
	"context"
	"time"

	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/vektah/gqlparser/v2/ast"
)

// Execution runs a compiled document against one service.
type Execution interface {
	Execute(ctx context.Context, params *Parameters) (*Result, error)
}

// ExecutionFunc adapts a function to Execution.
type ExecutionFunc func(ctx context.Context, params *Parameters) (*Result, error)

func (f ExecutionFunc) Execute(ctx context.Context, params *Parameters) (*Result, error) {
	return f(ctx, params)
}

type Parameters struct {
	Service       string
	Query         *ast.QueryDocument
	QueryText     string
	OperationName string
	Variables     map[string]any
	ExecutionID   string
	// Hydration is set when the call backs a hydrated field.
	Hydration *HydrationDetails
}

// HydrationDetails describe the hydrated field a backing call serves.
type HydrationDetails struct {
	// Timeout is zero when the call has no deadline.
	Timeout       time.Duration
	BatchSize     int
	SourceService string
	Coordinates   blueprint.FieldCoordinates
	Batched       bool
}

// Result is the standard response envelope. Errors are raw GraphQL error objects.
type Result struct {
	Data       map[string]any   `json:"data"`
	Errors     []map[string]any `json:"errors,omitempty"`
	Extensions map[string]any   `json:"extensions,omitempty"`

	// Incremental delivers deferred payloads after the initial result. The channel
	// is closed after the payload with HasNext false.
	Incremental <-chan *Incremental `json:"-"`
}

// Incremental is one deferred payload.
type Incremental struct {
	Path       []any            `json:"path"`
	Label      string           `json:"label,omitempty"`
	Data       map[string]any   `json:"data"`
	Errors     []map[string]any `json:"errors,omitempty"`
	Extensions map[string]any   `json:"extensions,omitempty"`
	HasNext    bool             `json:"hasNext"`
}
