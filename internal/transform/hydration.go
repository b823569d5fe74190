package transform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/hanpama/fedgate/internal/jsonnode"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/vektah/gqlparser/v2/ast"
)

// hydrationState is shared by Hydration and BatchHydration. It lists the source
// values to select and the instructions per overall object type.
type hydrationState struct {
	tag           string
	single        map[string][]*blueprint.Hydration
	batch         map[string][]*blueprint.BatchHydration
	types         []string
	sources       []hydrationSource
	discriminator string
}

type hydrationSource struct {
	path  normalized.QueryPath
	alias string
}

func newHydrationState(tag string, field *normalized.Field) *hydrationState {
	s := &hydrationState{
		tag:    tag,
		single: make(map[string][]*blueprint.Hydration),
		batch:  make(map[string][]*blueprint.BatchHydration),
	}
	if field.Parent != nil {
		s.discriminator = typeNameAlias(tag, field.ResultKey())
	}
	return s
}

func (s *hydrationState) addSource(field *normalized.Field, path normalized.QueryPath) {
	for _, src := range s.sources {
		if src.path.Equal(path) {
			return
		}
	}
	s.sources = append(s.sources, hydrationSource{path: path, alias: makeAlias(s.tag, field.ResultKey(), path...)})
}

func (s *hydrationState) aliasOf(path normalized.QueryPath) string {
	for _, src := range s.sources {
		if src.path.Equal(path) {
			return src.alias
		}
	}
	return ""
}

// sourceValue reads a source value selected by the artificial fields.
func (s *hydrationState) sourceValue(obj map[string]any, path normalized.QueryPath) any {
	return readPath(obj[s.aliasOf(path)], path[1:])
}

// selected reports whether obj carries the artificial fields. Objects rebuilt
// from a deferred payload may lack them.
func (s *hydrationState) selected(obj map[string]any) bool {
	if s.discriminator == "" && len(s.sources) == 0 {
		return true
	}
	for _, key := range s.artificialKeys() {
		if key == "" {
			continue
		}
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}

func (s *hydrationState) artificialKeys() []string {
	keys := []string{s.discriminator}
	for _, src := range s.sources {
		keys = append(keys, src.alias)
	}
	return keys
}

// rewrite removes hydrated types from the field and selects their source values.
func (s *hydrationState) rewrite(tc *Context, field *normalized.Field) (*FieldRewrite, error) {
	types := intersect(s.types, field.ObjectTypeNames)
	if len(types) == 0 {
		return &FieldRewrite{NewField: field}, nil
	}
	rw := &FieldRewrite{}
	if kept := without(field.ObjectTypeNames, s.types); len(kept) > 0 {
		nf := field.Clone()
		nf.ObjectTypeNames = kept
		rw.NewField = nf
	}
	underlying := tc.Service.UnderlyingTypeNames(types)
	for _, src := range s.sources {
		af, err := pathField(tc.Service.Underlying, underlying, src.path, src.alias, field.Defer, nil)
		if err != nil {
			return nil, err
		}
		rw.ArtificialFields = append(rw.ArtificialFields, af)
	}
	if s.discriminator != "" {
		rw.ArtificialFields = append(rw.ArtificialFields, newTypeNameField(s.discriminator, underlying, field.Defer))
	}
	return rw, nil
}

// accepts reports whether an instruction serves the source object. With several
// candidates, an instruction whose $source inputs are all null is skipped.
func (s *hydrationState) accepts(obj map[string]any, cond *blueprint.Condition, args []*blueprint.HydrationArgument, several bool) bool {
	if cond != nil && !cond.Evaluate(s.sourceValue(obj, cond.SourceField)) {
		return false
	}
	if !several {
		return true
	}
	for _, arg := range args {
		if fv, ok := arg.Source.(blueprint.FieldValue); ok && s.sourceValue(obj, fv.QueryPath) != nil {
			return true
		}
	}
	return false
}

// arguments evaluates backing arguments for one source object.
func (s *hydrationState) arguments(tc *Context, field *normalized.Field, backing *ast.FieldDefinition, args []*blueprint.HydrationArgument, obj map[string]any) map[string]*normalized.Value {
	out := make(map[string]*normalized.Value, len(args))
	for _, arg := range args {
		var value any
		switch src := arg.Source.(type) {
		case blueprint.FieldValue:
			value = s.sourceValue(obj, src.QueryPath)
		case blueprint.FieldArgument:
			v, ok := field.ArgumentValue(src.Name)
			if !ok {
				continue
			}
			value = v
		case blueprint.StaticValue:
			value = src.Value
		}
		var typ *ast.Type
		if def := backing.Arguments.ForName(arg.Name); def != nil {
			typ = def.Type
		}
		out[arg.Name] = &normalized.Value{Type: typ, Value: value}
	}
	return out
}

func hydrationDetails(tc *Context, coords blueprint.FieldCoordinates, timeout, batchSize int, batched bool) *service.HydrationDetails {
	d := &service.HydrationDetails{
		BatchSize:     batchSize,
		SourceService: tc.Service.Name,
		Coordinates:   coords,
		Batched:       batched,
	}
	if timeout > 0 {
		d.Timeout = time.Duration(timeout) * time.Millisecond
	}
	return d
}

// backingDefinition resolves the backing field from the query type.
func backingDefinition(bp *blueprint.Blueprint, path normalized.QueryPath) (*ast.FieldDefinition, []string) {
	types := []string{bp.Schema.Query.Name}
	var fd *ast.FieldDefinition
	for _, segment := range path {
		fd = bp.Field(types[0], segment)
		if fd == nil {
			return nil, nil
		}
		types = normalized.PossibleObjectTypes(bp.Schema, fd.Type.Name())
	}
	return fd, types
}

// backingField builds the overall root field sent to the backing service. The
// hydrated field's children are copied below the last path segment.
func backingField(bp *blueprint.Blueprint, path normalized.QueryPath, args map[string]*normalized.Value, children []*normalized.Field, extra func(types []string) []*normalized.Field) *normalized.Field {
	types := []string{bp.Schema.Query.Name}
	var top, prev *normalized.Field
	for i, segment := range path {
		f := &normalized.Field{Name: segment, ObjectTypeNames: types, Parent: prev}
		if prev == nil {
			top = f
		} else {
			prev.Children = []*normalized.Field{f}
		}
		fd := bp.Field(types[0], segment)
		if fd != nil {
			types = normalized.PossibleObjectTypes(bp.Schema, fd.Type.Name())
		}
		if i == len(path)-1 {
			f.Arguments = args
			for _, c := range children {
				nc := c.DeepClone()
				nc.ObjectTypeNames = intersect(nc.ObjectTypeNames, types)
				if len(nc.ObjectTypeNames) == 0 {
					continue
				}
				normalized.Walk([]*normalized.Field{nc}, func(d *normalized.Field) { d.Defer = nil })
				f.Children = append(f.Children, nc)
			}
			if extra != nil {
				f.Children = append(f.Children, extra(types)...)
			}
			normalized.LinkParents(f.Children, f)
		}
		prev = f
	}
	return top
}

// call runs one backing request and returns the value found at the backing path.
func call(ctx context.Context, tc *Context, service string, path normalized.QueryPath, root *normalized.Field, details *service.HydrationDetails) (any, []map[string]any) {
	res, err := tc.Hydrator.Hydrate(ctx, &HydrationRequest{Service: service, Field: root, Details: details})
	if err != nil {
		tc.log().WithError(err).WithField("field", details.Coordinates.String()).Warn("hydration call failed")
		return nil, []map[string]any{failedHydration(tc, service, details, err)}
	}
	jp := make(jsonnode.Path, len(path))
	for i, segment := range path {
		jp[i] = segment
	}
	node, ok := jsonnode.GetNodeAt(res.Data, jp)
	if !ok {
		return nil, res.Errors
	}
	return node.Value, res.Errors
}

func failedHydration(tc *Context, svc string, details *service.HydrationDetails, err error) map[string]any {
	return service.FieldError(
		fmt.Sprintf("hydration of %s failed: %v", details.Coordinates, err),
		nil,
		map[string]any{"service": svc, "executionId": tc.ExecutionID},
	)
}

// hydrated collects the value and errors produced for one source object.
type hydrated struct {
	node   jsonnode.Node
	value  any
	errors []map[string]any
}

func (h *hydrated) instructions(field *normalized.Field) []result.Instruction {
	out := []result.Instruction{result.Set{Path: h.node.Path.Plus(field.ResultKey()), Value: h.value}}
	for _, e := range h.errors {
		out = append(out, result.AddError{Error: errorFromMap(e)})
	}
	return out
}

// Hydration resolves a field by calling the backing service once per source object.
type Hydration struct{}

func (Hydration) Name() string { return "Hydration" }

func (Hydration) IsApplicable(ctx context.Context, tc *Context, field *normalized.Field) (*hydrationState, bool, error) {
	s := newHydrationState(tagHydration, field)
	for _, t := range field.ObjectTypeNames {
		ins := blueprint.InstructionsOf[*blueprint.Hydration](tc.Blueprint, t, field.Name)
		if len(ins) == 0 {
			continue
		}
		s.single[t] = ins
		s.types = append(s.types, t)
		for _, in := range ins {
			for _, path := range in.SourceFields {
				s.addSource(field, path)
			}
		}
	}
	return s, len(s.types) > 0, nil
}

func (Hydration) TransformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, state *hydrationState) (*FieldRewrite, error) {
	return state.rewrite(tc, field)
}

func (Hydration) ResultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, state *hydrationState) ([]result.Instruction, error) {
	var out []result.Instruction
	var jobs []*hydrated
	var wg sync.WaitGroup
	for _, node := range parentNodes(data, parent) {
		obj := node.Value.(map[string]any)
		if !state.selected(obj) {
			continue
		}
		out = append(out, removeIfPresent(node, state.artificialKeys()...)...)
		typeName, ok := resolveTypeName(tc, obj, state.discriminator, state.types)
		if !ok || len(state.single[typeName]) == 0 {
			continue
		}
		job := &hydrated{node: node}
		jobs = append(jobs, job)

		candidates := state.single[typeName]
		var ins *blueprint.Hydration
		for _, c := range candidates {
			if state.accepts(obj, c.Condition, c.BackingFieldArguments, len(candidates) > 1) {
				ins = c
				break
			}
		}
		if ins == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			job.value, job.errors = state.hydrateOne(ctx, tc, field, ins, obj)
		}()
	}
	wg.Wait()
	for _, job := range jobs {
		out = append(out, job.instructions(field)...)
	}
	return out, nil
}

func (s *hydrationState) hydrateOne(ctx context.Context, tc *Context, field *normalized.Field, ins *blueprint.Hydration, obj map[string]any) (any, []map[string]any) {
	backing, _ := backingDefinition(tc.Blueprint, ins.QueryPathToBackingField)
	if backing == nil {
		return nil, nil
	}
	args := s.arguments(tc, field, backing, ins.BackingFieldArguments, obj)
	details := hydrationDetails(tc, ins.Coordinates, ins.Timeout, 0, false)

	var many *blueprint.HydrationArgument
	for _, arg := range ins.BackingFieldArguments {
		if _, ok := arg.Source.(blueprint.FieldValue); ok {
			if v := args[arg.Name]; v == nil || v.Value == nil {
				return nil, nil
			}
			if many == nil {
				many = arg
			}
		}
	}

	if ins.Strategy != blueprint.ManyToOne || many == nil {
		root := backingField(tc.Blueprint, ins.QueryPathToBackingField, args, field.Children, nil)
		return call(ctx, tc, ins.BackingService, ins.QueryPathToBackingField, root, details)
	}

	items, _ := args[many.Name].Value.([]any)
	values := make([]any, len(items))
	var (
		mu   sync.Mutex
		errs []map[string]any
		wg   sync.WaitGroup
	)
	for i, item := range items {
		if item == nil {
			continue
		}
		itemArgs := make(map[string]*normalized.Value, len(args))
		for k, v := range args {
			itemArgs[k] = v
		}
		elemType := args[many.Name].Type
		if elemType != nil && elemType.Elem != nil {
			elemType = elemType.Elem
		}
		itemArgs[many.Name] = &normalized.Value{Type: elemType, Value: item}
		root := backingField(tc.Blueprint, ins.QueryPathToBackingField, itemArgs, field.Children, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, e := call(ctx, tc, ins.BackingService, ins.QueryPathToBackingField, root, details)
			mu.Lock()
			values[i] = v
			errs = append(errs, e...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return values, errs
}
