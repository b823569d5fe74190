package engine

import (
	"context"
	"sync"

	"github.com/hanpama/fedgate/internal/jsonnode"
	"github.com/hanpama/fedgate/internal/merge"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/hanpama/fedgate/internal/transform"
)

// stream delivers deferred top-level fields grouped by label and forwards the
// payloads services deferred themselves. The last payload has HasNext false and
// done runs after the channel is closed.
func (ex *execution) stream(ctx context.Context, deferred []*task, nested []<-chan *service.Incremental, done func()) <-chan *service.Incremental {
	pending := make(chan *service.Incremental)
	var wg sync.WaitGroup
	for _, ch := range nested {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forward(ctx, ch, pending)
		}()
	}

	var labels []string
	byLabel := map[string][]*task{}
	for _, t := range deferred {
		label := t.field.Defer.Label
		if _, ok := byLabel[label]; !ok {
			labels = append(labels, label)
		}
		run := *t
		run.field = undefer(t.field)
		byLabel[label] = append(byLabel[label], &run)
	}
	for _, label := range labels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ex.runDeferred(ctx, label, byLabel[label], pending, &wg)
		}()
	}
	go func() {
		wg.Wait()
		close(pending)
	}()

	out := make(chan *service.Incremental)
	go func() {
		defer done()
		defer close(out)
		var prev *service.Incremental
		for inc := range pending {
			if prev != nil {
				prev.HasNext = true
				if !send(ctx, out, prev) {
					return
				}
			}
			prev = inc
		}
		if prev == nil {
			prev = &service.Incremental{}
		}
		prev.HasNext = false
		send(ctx, out, prev)
	}()
	return out
}

// runDeferred executes the deferred top-level fields sharing a label as one
// payload at the root.
func (ex *execution) runDeferred(ctx context.Context, label string, tasks []*task, pending chan<- *service.Incremental, wg *sync.WaitGroup) {
	results := make([]*merge.FieldResult, len(tasks))
	var inner sync.WaitGroup
	var abort error
	var mu sync.Mutex
	for i, t := range tasks {
		inner.Add(1)
		go func() {
			defer inner.Done()
			r, err := ex.runTask(ctx, t)
			if err != nil {
				mu.Lock()
				abort = err
				mu.Unlock()
				return
			}
			results[i] = r
		}()
	}
	inner.Wait()

	if abort != nil {
		send(ctx, pending, &service.Incremental{
			Path:   []any{},
			Label:  label,
			Errors: []map[string]any{{"message": abort.Error()}},
		})
		return
	}

	var fields []*normalized.Field
	seen := map[*normalized.Field]bool{}
	for _, t := range tasks {
		if seen[t.origin] {
			continue
		}
		seen[t.origin] = true
		f := t.origin.Clone()
		f.Defer = nil
		fields = append(fields, f)
	}
	res := merge.Merge(ex.engine.bp.Schema, ex.op.Kind, fields, results)
	for _, r := range results {
		if r.Result != nil && r.Result.Incremental != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				forward(ctx, r.Result.Incremental, pending)
			}()
		}
	}
	send(ctx, pending, &service.Incremental{
		Path:       []any{},
		Label:      label,
		Data:       res.Data,
		Errors:     res.Errors,
		Extensions: res.Extensions,
	})
}

// undefer copies f without the defer it was selected under. Nested defers with
// their own label are kept for the service.
func undefer(f *normalized.Field) *normalized.Field {
	d := f.Defer
	out := f.DeepClone()
	normalized.Walk([]*normalized.Field{out}, func(c *normalized.Field) {
		if c.Defer == d {
			c.Defer = nil
		}
	})
	return out
}

func forward(ctx context.Context, in <-chan *service.Incremental, out chan<- *service.Incremental) {
	for {
		select {
		case <-ctx.Done():
			return
		case inc, ok := <-in:
			if !ok {
				return
			}
			if !send(ctx, out, inc) || !inc.HasNext {
				return
			}
		}
	}
}

func send(ctx context.Context, out chan<- *service.Incremental, inc *service.Incremental) bool {
	select {
	case out <- inc:
		return true
	case <-ctx.Done():
		return false
	}
}

// translate applies the plan of the call that produced in to each of its
// payloads, the same way it was applied to the initial data.
func (ex *execution) translate(ctx context.Context, tc *transform.Context, plan *transform.Plan, in <-chan *service.Incremental) <-chan *service.Incremental {
	out := make(chan *service.Incremental)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case inc, ok := <-in:
				if !ok {
					return
				}
				if !send(ctx, out, ex.translatePayload(ctx, tc, plan, inc)) || !inc.HasNext {
					return
				}
			}
		}
	}()
	return out
}

// translatePayload places the payload in a tree shaped like the underlying
// result, runs the result instructions over it and reads it back at the overall
// path.
func (ex *execution) translatePayload(ctx context.Context, tc *transform.Context, plan *transform.Plan, inc *service.Incremental) *service.Incremental {
	root := wrap(inc.Path, inc.Data)
	errs := translateErrors(plan, inc.Errors)
	path := plan.TranslatePath(inc.Path)

	ins, err := plan.ResultInstructions(ctx, tc, root)
	if err != nil {
		errs = append(errs, service.FieldError(err.Error(), path, map[string]any{
			"executionId": ex.id,
			"service":     tc.Service.Name,
		}))
	} else {
		errs = append(errs, service.ErrorMaps(result.Apply(root, ins))...)
	}

	out := &service.Incremental{
		Path:       path,
		Label:      inc.Label,
		Errors:     errs,
		Extensions: inc.Extensions,
		HasNext:    inc.HasNext,
	}
	if node, ok := jsonnode.GetNodeAt(root, jsonnode.FromAny(path)); ok {
		out.Data, _ = node.Value.(map[string]any)
	}
	return out
}

// wrap nests data under path. List segments become lists holding only the
// addressed element.
func wrap(path []any, data map[string]any) map[string]any {
	var value any = data
	if data == nil {
		value = map[string]any{}
	}
	segments := jsonnode.FromAny(path)
	for i := len(segments) - 1; i >= 0; i-- {
		switch seg := segments[i].(type) {
		case string:
			value = map[string]any{seg: value}
		case int:
			list := make([]any, seg+1)
			list[seg] = value
			value = list
		}
	}
	root, ok := value.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return root
}
