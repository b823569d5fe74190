package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/hanpama/fedgate/internal/compile"
	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/introspection"
	"github.com/hanpama/fedgate/internal/merge"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/hanpama/fedgate/internal/transform"
	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/ast"
	"golang.org/x/sync/errgroup"
)

// execution is the state of one client operation.
type execution struct {
	engine *Engine
	id     string
	op     *normalized.Operation
	log    logrus.FieldLogger
}

// task executes one top-level field, or the part of a namespaced field owned by
// one service.
type task struct {
	origin     *normalized.Field
	field      *normalized.Field
	service    string
	namespaced bool
	failure    string
}

func (ex *execution) rootTypeName() string {
	return normalized.RootType(ex.engine.bp.Schema, ex.op.Kind).Name
}

func (ex *execution) plan() []*task {
	bp := ex.engine.bp
	root := ex.rootTypeName()
	var tasks []*task
	for _, f := range ex.op.Fields {
		switch {
		case f.IsTypeName():
			tasks = append(tasks, &task{origin: f, field: f})
		case introspection.IsIntrospectionField(f.Name):
			t := &task{origin: f, field: f, service: introspection.ServiceName}
			if ex.engine.introspection == nil {
				t.failure = "introspection is disabled"
			}
			tasks = append(tasks, t)
		case bp.IsNamespaced(root, f.Name):
			tasks = append(tasks, ex.splitNamespaced(root, f)...)
		default:
			t := &task{origin: f, field: f}
			if svc, ok := bp.Owner(root, f.Name); ok {
				t.service = svc
			} else {
				t.failure = fmt.Sprintf("no service owns %s.%s", root, f.Name)
			}
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// splitNamespaced makes one task per service owning children of f. Every task
// keeps the __typename selections.
func (ex *execution) splitNamespaced(root string, f *normalized.Field) []*task {
	bp := ex.engine.bp
	var order []string
	groups := map[string][]*normalized.Field{}
	var typeNames []*normalized.Field
	for _, c := range f.Children {
		if c.IsTypeName() {
			typeNames = append(typeNames, c)
			continue
		}
		var owner string
		for _, t := range c.ObjectTypeNames {
			if svc, ok := bp.Owner(t, c.Name); ok {
				owner = svc
				break
			}
		}
		if owner == "" {
			ex.log.WithField("field", c.QueryPath().String()).Warn("namespaced field has no owner")
			continue
		}
		if _, seen := groups[owner]; !seen {
			order = append(order, owner)
		}
		groups[owner] = append(groups[owner], c)
	}
	if len(order) == 0 {
		svc, _ := bp.Owner(root, f.Name)
		order = append(order, svc)
	}
	tasks := make([]*task, 0, len(order))
	for _, svc := range order {
		nf := f.Clone()
		nf.Children = append(append([]*normalized.Field{}, typeNames...), groups[svc]...)
		t := &task{origin: f, field: nf, service: svc, namespaced: true}
		if svc == "" {
			t.failure = fmt.Sprintf("no service owns %s.%s", root, f.Name)
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// run executes the immediate tasks, merges them and starts the incremental
// stream for deferred tasks and nested deferred payloads. stop is called once
// the execution is finished.
func (ex *execution) run(ctx context.Context, stop func()) (*service.Result, error) {
	var immediate, deferred []*task
	for _, t := range ex.plan() {
		if t.field.Defer != nil {
			deferred = append(deferred, t)
		} else {
			immediate = append(immediate, t)
		}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	results, err := ex.runTasks(ctx, cancel, immediate)
	if err != nil {
		cancel(err)
		return nil, err
	}
	res := merge.Merge(ex.engine.bp.Schema, ex.op.Kind, ex.op.Fields, results)

	var nested []<-chan *service.Incremental
	for _, r := range results {
		if r.Result != nil && r.Result.Incremental != nil {
			nested = append(nested, r.Result.Incremental)
		}
	}
	if len(deferred) == 0 && len(nested) == 0 {
		cancel(nil)
		return res, nil
	}
	res.Incremental = ex.stream(ctx, deferred, nested, func() {
		cancel(nil)
		stop()
	})
	return res, nil
}

// runTasks runs tasks concurrently, one at a time for mutations. The first
// aborting task cancels the rest.
func (ex *execution) runTasks(ctx context.Context, abort context.CancelCauseFunc, tasks []*task) ([]*merge.FieldResult, error) {
	results := make([]*merge.FieldResult, len(tasks))
	var g errgroup.Group
	switch {
	case ex.op.Kind == ast.Mutation:
		g.SetLimit(1)
	case ex.engine.opts.maxConcurrency > 0:
		g.SetLimit(ex.engine.opts.maxConcurrency)
	}
	for i, t := range tasks {
		g.Go(func() error {
			r, err := ex.runTask(ctx, t)
			if err != nil {
				abort(err)
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runTask turns domain errors into a null field with an error. Only a panic
// aborts the operation.
func (ex *execution) runTask(ctx context.Context, t *task) (r *merge.FieldResult, err error) {
	key := t.field.ResultKey()
	defer func() {
		if p := recover(); p != nil {
			ex.log.WithFields(logrus.Fields{"field": key, "stack": string(debug.Stack())}).Error("task panicked")
			err = fmt.Errorf("executing %s: panic: %v", key, p)
		}
	}()

	r = &merge.FieldResult{Field: t.origin, Service: t.service, Namespaced: t.namespaced}
	switch {
	case t.failure != "":
		r.Result = ex.fieldFailure(ctx, key, t.service, errors.New(t.failure))
	case t.field.IsTypeName():
		r.Result = &service.Result{Data: map[string]any{key: ex.rootTypeName()}}
	default:
		res, err := ex.executeFields(ctx, t.service, []*normalized.Field{t.field}, nil)
		if err != nil {
			r.Result = ex.fieldFailure(ctx, key, t.service, err)
		} else {
			r.Result = res
		}
	}
	return r, nil
}

func (ex *execution) fieldFailure(ctx context.Context, key, svc string, err error) *service.Result {
	ext := map[string]any{"executionId": ex.id}
	if svc != "" {
		ext["service"] = svc
	}
	ex.log.WithError(err).WithFields(logrus.Fields{"field": key, "service": svc}).Warn("field failed")
	if report := ex.engine.opts.reporter; report != nil {
		report(ctx, svc, err)
	}
	return &service.Result{
		Data:   map[string]any{key: nil},
		Errors: []map[string]any{service.FieldError(err.Error(), []any{key}, ext)},
	}
}

// executeFields runs the whole per-service sequence: transform the query,
// compile it, call the service and transform the result back.
func (ex *execution) executeFields(ctx context.Context, name string, fields []*normalized.Field, details *service.HydrationDetails) (*service.Result, error) {
	svc, exec, err := ex.engine.lookup(name)
	if err != nil {
		return nil, err
	}
	tc := &transform.Context{
		Blueprint:   ex.engine.bp,
		Service:     svc,
		Operation:   ex.op,
		ExecutionID: ex.id,
		Hydration:   details,
		Hydrator:    ex,
		Logger:      ex.log.WithField("service", name),
	}
	plan, underlying, err := ex.engine.pipeline.Transform(ctx, tc, fields)
	if err != nil {
		return nil, fmt.Errorf("transforming query for %s: %w", name, err)
	}

	raw := &service.Result{}
	if len(underlying) > 0 {
		kind := ex.op.Kind
		if details != nil {
			kind = ast.Query
		}
		doc, err := compile.Compile(svc.Underlying, kind, ex.op.Name, underlying, ex.engine.opts.variables)
		if err != nil {
			return nil, fmt.Errorf("compiling query for %s: %w", name, err)
		}
		if raw, err = ex.call(ctx, name, exec, doc, details); err != nil {
			return nil, err
		}
	}

	data := raw.Data
	if data == nil {
		data = map[string]any{}
	}
	for _, f := range underlying {
		if f.Defer != nil {
			continue
		}
		if _, ok := data[f.ResultKey()]; !ok {
			data[f.ResultKey()] = nil
		}
	}
	ins, err := plan.ResultInstructions(ctx, tc, data)
	if err != nil {
		return nil, fmt.Errorf("transforming result of %s: %w", name, err)
	}
	errs := result.Apply(data, ins)

	out := &service.Result{
		Data:       data,
		Errors:     append(translateErrors(plan, raw.Errors), service.ErrorMaps(errs)...),
		Extensions: raw.Extensions,
	}
	if raw.Incremental != nil {
		out.Incremental = ex.translate(ctx, tc, plan, raw.Incremental)
	}
	return out, nil
}

func (ex *execution) call(ctx context.Context, name string, exec service.Execution, doc *compile.Document, details *service.HydrationDetails) (*service.Result, error) {
	callID := uuid.NewString()
	eventbus.Publish(ctx, events.ServiceCallStart{
		CallID:        callID,
		Service:       name,
		OperationName: ex.op.Name,
		Hydration:     details != nil,
	})
	start := time.Now()
	res, err := exec.Execute(ctx, &service.Parameters{
		Service:       name,
		Query:         doc.AST,
		QueryText:     doc.Text,
		OperationName: ex.op.Name,
		Variables:     doc.Variables,
		ExecutionID:   ex.id,
		Hydration:     details,
	})
	elapsed := time.Since(start)

	finish := events.ServiceCallFinish{CallID: callID, Service: name, Hydration: details != nil, Err: err, Duration: elapsed}
	if res != nil {
		finish.ErrorCount = len(res.Errors)
	}
	eventbus.Publish(ctx, finish)

	log := ex.log.WithFields(logrus.Fields{"service": name, "duration": elapsed})
	if err != nil {
		log.WithError(err).Warn("service call failed")
		return nil, fmt.Errorf("calling service %s: %w", name, err)
	}
	log.Debug("service call finished")
	if res == nil {
		res = &service.Result{}
	}
	return res, nil
}

// Hydrate runs a backing call of a hydrated field as its own service call.
func (ex *execution) Hydrate(ctx context.Context, req *transform.HydrationRequest) (*transform.HydrationResult, error) {
	res, err := ex.executeFields(ctx, req.Service, []*normalized.Field{req.Field}, req.Details)
	if err != nil {
		if report := ex.engine.opts.reporter; report != nil {
			report(ctx, req.Service, err)
		}
		return nil, err
	}
	return &transform.HydrationResult{Data: res.Data, Errors: res.Errors}, nil
}

// translateErrors rewrites artificial keys in service error paths.
func translateErrors(plan *transform.Plan, errs []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(errs))
	for _, e := range errs {
		path, ok := e["path"].([]any)
		if !ok {
			out = append(out, e)
			continue
		}
		copied := make(map[string]any, len(e))
		for k, v := range e {
			copied[k] = v
		}
		copied["path"] = plan.TranslatePath(path)
		out = append(out, copied)
	}
	return out
}
