package transform

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
)

// BatchHydration resolves a field for many source objects with as few backing
// calls as the batch size allows.
type BatchHydration struct{}

func (BatchHydration) Name() string { return "BatchHydration" }

func (BatchHydration) IsApplicable(ctx context.Context, tc *Context, field *normalized.Field) (*hydrationState, bool, error) {
	s := newHydrationState(tagBatchHydration, field)
	for _, t := range field.ObjectTypeNames {
		ins := blueprint.InstructionsOf[*blueprint.BatchHydration](tc.Blueprint, t, field.Name)
		if len(ins) == 0 {
			continue
		}
		s.batch[t] = ins
		s.types = append(s.types, t)
		for _, in := range ins {
			for _, path := range in.SourceFields {
				s.addSource(field, path)
			}
			for _, path := range sourceIdentifiers(in.Match) {
				s.addSource(field, path)
			}
		}
	}
	return s, len(s.types) > 0, nil
}

func (BatchHydration) TransformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, state *hydrationState) (*FieldRewrite, error) {
	return state.rewrite(tc, field)
}

func (BatchHydration) ResultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, state *hydrationState) ([]result.Instruction, error) {
	var out []result.Instruction
	var order []*blueprint.BatchHydration
	groups := map[*blueprint.BatchHydration][]*batchSource{}
	var all []*hydrated
	for _, node := range parentNodes(data, parent) {
		obj := node.Value.(map[string]any)
		if !state.selected(obj) {
			continue
		}
		out = append(out, removeIfPresent(node, state.artificialKeys()...)...)
		typeName, ok := resolveTypeName(tc, obj, state.discriminator, state.types)
		if !ok || len(state.batch[typeName]) == 0 {
			continue
		}
		h := &hydrated{node: node}
		all = append(all, h)

		candidates := state.batch[typeName]
		var ins *blueprint.BatchHydration
		for _, c := range candidates {
			if state.accepts(obj, c.Condition, c.BackingFieldArguments, len(candidates) > 1) {
				ins = c
				break
			}
		}
		if ins == nil {
			continue
		}
		if _, seen := groups[ins]; !seen {
			order = append(order, ins)
		}
		groups[ins] = append(groups[ins], &batchSource{hydrated: h, obj: obj, typeName: typeName})
	}

	var wg sync.WaitGroup
	for _, ins := range order {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state.hydrateBatch(ctx, tc, field, ins, groups[ins])
		}()
	}
	wg.Wait()
	for _, h := range all {
		out = append(out, h.instructions(field)...)
	}
	return out, nil
}

// batchSource is one source object waiting for its batched value.
type batchSource struct {
	*hydrated
	obj      map[string]any
	typeName string
	inputs   []any
	keys     []string
}

func sourceIdentifiers(m blueprint.MatchStrategy) []normalized.QueryPath {
	switch m := m.(type) {
	case blueprint.MatchObjectIdentifier:
		return []normalized.QueryPath{m.SourceID}
	case blueprint.MatchObjectIdentifiers:
		var out []normalized.QueryPath
		for _, id := range m.Identifiers {
			out = append(out, id.SourceID)
		}
		return out
	}
	return nil
}

func resultIdentifiers(m blueprint.MatchStrategy) []string {
	switch m := m.(type) {
	case blueprint.MatchObjectIdentifier:
		return []string{m.ResultID}
	case blueprint.MatchObjectIdentifiers:
		var out []string
		for _, id := range m.Identifiers {
			out = append(out, id.ResultID)
		}
		return out
	}
	return nil
}

// flatten lists the leaves of a possibly nested list, keeping nulls.
func flatten(value any) []any {
	list, ok := value.([]any)
	if !ok {
		return []any{value}
	}
	var out []any
	for _, item := range list {
		if _, nested := item.([]any); nested {
			out = append(out, flatten(item)...)
			continue
		}
		out = append(out, item)
	}
	return out
}

func identityKey(values ...any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x00")
}

// sourceKeys returns one match key per input, built from the identifier paths.
func (s *hydrationState) sourceKeys(obj map[string]any, ids []normalized.QueryPath, n int) []string {
	columns := make([][]any, len(ids))
	for i, id := range ids {
		columns[i] = flatten(s.sourceValue(obj, id))
	}
	keys := make([]string, n)
	for row := range keys {
		values := make([]any, len(ids))
		for col := range ids {
			if row < len(columns[col]) {
				values[col] = columns[col][row]
			}
		}
		keys[row] = identityKey(values...)
	}
	return keys
}

func (s *hydrationState) hydrateBatch(ctx context.Context, tc *Context, field *normalized.Field, ins *blueprint.BatchHydration, sources []*batchSource) {
	backing, _ := backingDefinition(tc.Blueprint, ins.QueryPathToBackingField)
	batchArg := ins.BatchArgument()
	if backing == nil || batchArg == nil {
		return
	}
	batchPath := batchArg.Source.(blueprint.FieldValue).QueryPath
	_, byIndex := ins.Match.(blueprint.MatchIndex)
	resultIDs := resultIdentifiers(ins.Match)
	sourceIDs := sourceIdentifiers(ins.Match)

	var inputs []any
	seen := map[string]bool{}
	for _, src := range sources {
		raw := s.sourceValue(src.obj, batchPath)
		if raw == nil {
			continue
		}
		src.inputs = flatten(raw)
		if !byIndex {
			src.keys = s.sourceKeys(src.obj, sourceIDs, len(src.inputs))
		}
		for i, input := range src.inputs {
			if input == nil {
				continue
			}
			if !byIndex {
				if seen[src.keys[i]] {
					continue
				}
				seen[src.keys[i]] = true
			}
			inputs = append(inputs, input)
		}
	}
	if len(inputs) == 0 {
		return
	}

	size := ins.BatchSize
	if size <= 0 {
		size = len(inputs)
	}
	var chunks [][]any
	for start := 0; start < len(inputs); start += size {
		chunks = append(chunks, inputs[start:min(start+size, len(inputs))])
	}

	aliases := make([]string, len(resultIDs))
	for i, id := range resultIDs {
		aliases[i] = makeAlias(tagBatchHydration, field.ResultKey(), id)
	}
	extra := func(types []string) []*normalized.Field {
		var out []*normalized.Field
		for i, id := range resultIDs {
			out = append(out, &normalized.Field{Name: id, Alias: aliases[i], ObjectTypeNames: types})
		}
		return out
	}
	details := hydrationDetails(tc, ins.Coordinates, ins.Timeout, ins.BatchSize, true)
	args := s.arguments(tc, field, backing, ins.BackingFieldArguments, sources[0].obj)
	argType := args[batchArg.Name].Type

	results := make([][]any, len(chunks))
	var (
		mu   sync.Mutex
		errs []map[string]any
		wg   sync.WaitGroup
	)
	for i, chunk := range chunks {
		chunkArgs := make(map[string]*normalized.Value, len(args))
		for k, v := range args {
			chunkArgs[k] = v
		}
		chunkArgs[batchArg.Name] = &normalized.Value{Type: argType, Value: chunk}
		root := backingField(tc.Blueprint, ins.QueryPathToBackingField, chunkArgs, field.Children, extra)
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, e := call(ctx, tc, ins.BackingService, ins.QueryPathToBackingField, root, details)
			list, _ := v.([]any)
			mu.Lock()
			results[i] = list
			errs = append(errs, e...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(sources) > 0 && len(errs) > 0 {
		sources[0].errors = append(sources[0].errors, errs...)
	}

	listField := false
	if fd := tc.Blueprint.Field(sources[0].typeName, field.Name); fd != nil {
		listField = fd.Type.Elem != nil
	}

	var lookup func(src *batchSource, i int) any
	if byIndex {
		var flat []any
		for i, chunk := range results {
			if len(chunk) != len(chunks[i]) {
				chunk = make([]any, len(chunks[i]))
			}
			flat = append(flat, chunk...)
		}
		offsets := map[*batchSource]int{}
		next := 0
		for _, src := range sources {
			offsets[src] = next
			for _, input := range src.inputs {
				if input != nil {
					next++
				}
			}
		}
		lookup = func(src *batchSource, i int) any {
			pos := offsets[src]
			for _, input := range src.inputs[:i] {
				if input != nil {
					pos++
				}
			}
			if pos < len(flat) {
				return flat[pos]
			}
			return nil
		}
	} else {
		byKey := map[string]any{}
		for _, chunk := range results {
			for _, item := range chunk {
				obj, ok := item.(map[string]any)
				if !ok {
					continue
				}
				values := make([]any, len(aliases))
				for i, a := range aliases {
					values[i] = obj[a]
				}
				key := identityKey(values...)
				if _, dup := byKey[key]; !dup {
					byKey[key] = stripKeys(obj, aliases)
				}
			}
		}
		lookup = func(src *batchSource, i int) any {
			return byKey[src.keys[i]]
		}
	}

	for _, src := range sources {
		if src.inputs == nil {
			continue
		}
		values := make([]any, len(src.inputs))
		for i, input := range src.inputs {
			if input != nil {
				values[i] = lookup(src, i)
			}
		}
		if listField {
			src.value = values
		} else if len(values) > 0 {
			src.value = values[0]
		}
	}
}

// stripKeys returns a shallow copy of obj without keys.
func stripKeys(obj map[string]any, keys []string) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
