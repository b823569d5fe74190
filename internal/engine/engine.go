// Package engine executes client operations by splitting them into per-service
// tasks, running the transform pipeline and merging what the services return.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/introspection"
	"github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/reqid"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/hanpama/fedgate/internal/transform"
	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

var (
	// ErrClosed is returned by Execute after Close was called.
	ErrClosed = errors.New("engine: closed")
	// ErrGracePeriodExceeded is returned by Close when executions were torn down.
	ErrGracePeriodExceeded = errors.New("engine: close grace period exceeded")
)

// Request is one client operation.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
}

// Engine is safe for concurrent use. The blueprint and transform list are shared
// read-only by every execution.
type Engine struct {
	bp       *blueprint.Blueprint
	services map[string]service.Execution
	pipeline *transform.Pipeline
	opts     options

	introspection     service.Execution
	introspectionView *blueprint.Service

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	base     context.Context
	abort    context.CancelFunc
}

// New checks that every blueprint service has an execution.
func New(bp *blueprint.Blueprint, services map[string]service.Execution, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	for _, name := range bp.ServiceNames() {
		if services[name] == nil {
			return nil, fmt.Errorf("no execution configured for service %q", name)
		}
	}
	base, abort := context.WithCancel(context.Background())
	e := &Engine{
		bp:       bp,
		services: services,
		pipeline: transform.NewPipeline(o.steps...),
		opts:     o,
		base:     base,
		abort:    abort,
	}
	if o.introspection {
		e.introspection = introspection.NewService(bp.Model)
		e.introspectionView = blueprint.NewService(introspection.ServiceName, bp.Schema)
	}
	return e, nil
}

// Execute runs req. GraphQL errors are reported inside the result; the error
// return is reserved for aborted executions. The execution id is taken from ctx
// when present.
func (e *Engine) Execute(ctx context.Context, req *Request) (*service.Result, error) {
	if !e.begin() {
		return nil, ErrClosed
	}
	ctx, stop := e.scope(ctx)
	id, ok := reqid.FromContext(ctx)
	if !ok {
		ctx, id = reqid.NewContext(ctx)
	}
	log := e.opts.logger.WithFields(logrus.Fields{"executionId": id, "operation": req.OperationName})

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{ExecutionID: id, Query: req.Query, OperationName: req.OperationName})
	res, kind, err := e.execute(ctx, id, log, req, stop)
	finish := events.GraphQLFinish{
		ExecutionID:   id,
		OperationName: req.OperationName,
		OperationType: string(kind),
		Duration:      time.Since(start),
	}
	if res != nil {
		finish.ErrorCount = len(res.Errors)
	}
	eventbus.Publish(ctx, finish)

	if err != nil {
		log.WithError(err).Error("execution aborted")
		stop()
		return nil, err
	}
	if res.Incremental == nil {
		stop()
	}
	return res, nil
}

// execute hands stop over to the incremental stream when the result has one.
func (e *Engine) execute(ctx context.Context, id string, log logrus.FieldLogger, req *Request, stop func()) (*service.Result, ast.Operation, error) {
	doc, errs := language.LoadQuery(e.bp.Schema, req.Query)
	if len(errs) > 0 {
		return &service.Result{Errors: service.ErrorMaps(errs)}, "", nil
	}
	op, err := normalized.Normalize(e.bp.Schema, doc, req.OperationName, req.Variables)
	if err != nil {
		return &service.Result{Errors: requestErrors(err)}, "", nil
	}
	ex := &execution{engine: e, id: id, op: op, log: log}
	res, err := ex.run(ctx, stop)
	return res, op.Kind, err
}

// Close rejects new executions and waits for in-flight ones, including their
// incremental payloads, for up to the grace period before cancelling them.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	timer := time.NewTimer(e.opts.closeGracePeriod)
	defer timer.Stop()
	defer e.abort()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrGracePeriodExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.inflight.Add(1)
	return true
}

// scope derives the execution context. It is cancelled when the engine tears
// down in-flight work or when the returned func runs.
func (e *Engine) scope(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	unlink := context.AfterFunc(e.base, cancel)
	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			unlink()
			cancel()
			e.inflight.Done()
		})
	}
}

func (e *Engine) lookup(name string) (*blueprint.Service, service.Execution, error) {
	if name == introspection.ServiceName && e.introspection != nil {
		return e.introspectionView, e.introspection, nil
	}
	svc, exec := e.bp.Services[name], e.services[name]
	if svc == nil || exec == nil {
		return nil, nil, fmt.Errorf("unknown service %q", name)
	}
	return svc, exec, nil
}

// requestErrors converts parse, validation and variable errors.
func requestErrors(err error) []map[string]any {
	var list gqlerror.List
	if errors.As(err, &list) {
		return service.ErrorMaps(list)
	}
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return []map[string]any{service.ErrorMap(gqlErr)}
	}
	return []map[string]any{{"message": err.Error()}}
}
