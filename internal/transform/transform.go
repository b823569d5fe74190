// Package transform rewrites overall fields into underlying service queries and
// derives the result edits that turn the service response back into overall shape.
package transform

import (
	"context"

	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/sirupsen/logrus"
)

// Context is shared by every transform during one service call.
type Context struct {
	Blueprint   *blueprint.Blueprint
	Service     *blueprint.Service
	Operation   *normalized.Operation
	ExecutionID string
	// Hydration is set when the fields back a hydrated field.
	Hydration *service.HydrationDetails
	Hydrator  Hydrator
	Logger    logrus.FieldLogger
}

func (c *Context) log() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

// Continuation runs the whole pipeline over overall fields and returns their
// underlying replacements.
type Continuation func(ctx context.Context, fields []*normalized.Field) ([]*normalized.Field, error)

// FieldRewrite is the outcome of rewriting one field.
type FieldRewrite struct {
	// NewField replaces the field in the underlying query. Nil removes it and
	// stops later transforms for the field.
	NewField *normalized.Field
	// ArtificialFields are added next to the field, already in underlying form.
	ArtificialFields []*normalized.Field
	// ArtificialChildren are appended to NewField's children, already in underlying form.
	ArtificialChildren []*normalized.Field
}

// Transform is one rewriting rule. S is the per-field state computed by
// IsApplicable and handed back unchanged to the other two methods.
type Transform[S any] interface {
	Name() string
	IsApplicable(ctx context.Context, tc *Context, field *normalized.Field) (S, bool, error)
	TransformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, state S) (*FieldRewrite, error)
	// ResultInstructions receives the overall field, the underlying field its
	// replacements were placed under (nil at the root) and the raw result data.
	ResultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, state S) ([]result.Instruction, error)
}

// Step is a transform with its state type erased.
type Step interface {
	Name() string
	isApplicable(ctx context.Context, tc *Context, field *normalized.Field) (any, bool, error)
	transformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, state any) (*FieldRewrite, error)
	resultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, state any) ([]result.Instruction, error)
}

// Erase boxes a transform for use in a pipeline.
func Erase[S any](t Transform[S]) Step {
	return erased[S]{t: t}
}

type erased[S any] struct {
	t Transform[S]
}

func (e erased[S]) Name() string { return e.t.Name() }

func (e erased[S]) isApplicable(ctx context.Context, tc *Context, field *normalized.Field) (any, bool, error) {
	return e.t.IsApplicable(ctx, tc, field)
}

func (e erased[S]) transformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, state any) (*FieldRewrite, error) {
	return e.t.TransformField(ctx, tc, next, field, state.(S))
}

func (e erased[S]) resultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, state any) ([]result.Instruction, error) {
	return e.t.ResultInstructions(ctx, tc, field, parent, data, state.(S))
}

// Hydrator executes backing calls for hydrated fields.
type Hydrator interface {
	Hydrate(ctx context.Context, req *HydrationRequest) (*HydrationResult, error)
}

// HydrationRequest asks for one overall root field of the backing service.
type HydrationRequest struct {
	Service string
	Field   *normalized.Field
	Details *service.HydrationDetails
}

// HydrationResult holds overall-shaped data keyed by the root field.
type HydrationResult struct {
	Data   map[string]any
	Errors []map[string]any
}

// Default returns the standard transform order.
func Default() []Step {
	return []Step{
		Erase[*typeFilterState](ServiceTypeFilter{}),
		Erase[*argumentTypesState](RenameArgumentInputTypes{}),
		Erase[*renameState](DeepRename{}),
		Erase[*renameState](Rename{}),
		Erase[*hydrationState](Hydration{}),
		Erase[*hydrationState](BatchHydration{}),
		Erase[*coerceState](Coerce{}),
		Erase[struct{}](TypeRename{}),
		Erase[string](AddTypeName{}),
	}
}
