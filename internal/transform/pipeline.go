package transform

import (
	"context"
	"fmt"

	"github.com/hanpama/fedgate/internal/jsonnode"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
)

// Pipeline applies an ordered list of transforms to every field of a tree.
type Pipeline struct {
	steps []Step
}

func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Plan remembers what the pipeline did to each field so results can be mapped back.
type Plan struct {
	steps       []Step
	occurrences []*occurrence
	aliases     map[string]string
}

// occurrence is one rewrite of an overall field. A field can be rewritten more
// than once when a transform runs the continuation over the same children for
// several artificial parents.
type occurrence struct {
	overall    *normalized.Field
	states     []appliedState
	underlying *normalized.Field
	artificial []*normalized.Field
}

type appliedState struct {
	step  int
	state any
}

// Transform rewrites the overall fields into underlying fields for tc.Service.
func (p *Pipeline) Transform(ctx context.Context, tc *Context, fields []*normalized.Field) (*Plan, []*normalized.Field, error) {
	r := &run{
		steps: p.steps,
		tc:    tc,
		plan:  &Plan{steps: p.steps, aliases: make(map[string]string)},
	}
	out, err := r.transformFields(ctx, fields)
	if err != nil {
		return nil, nil, err
	}
	normalized.LinkParents(out, nil)
	return r.plan, out, nil
}

type run struct {
	steps []Step
	tc    *Context
	plan  *Plan
}

func (r *run) transformFields(ctx context.Context, fields []*normalized.Field) ([]*normalized.Field, error) {
	var out []*normalized.Field
	for _, f := range fields {
		replaced, err := r.transformField(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, replaced...)
	}
	return out, nil
}

func (r *run) transformField(ctx context.Context, f *normalized.Field) ([]*normalized.Field, error) {
	var applicable []appliedState
	for i, step := range r.steps {
		state, ok, err := step.isApplicable(ctx, r.tc, f)
		if err != nil {
			return nil, fmt.Errorf("%s on %s: %w", step.Name(), f.QueryPath(), err)
		}
		if ok {
			applicable = append(applicable, appliedState{step: i, state: state})
		}
	}

	occ := &occurrence{overall: f}
	current := f.Clone()
	var artificialChildren []*normalized.Field
	for _, a := range applicable {
		rw, err := r.steps[a.step].transformField(ctx, r.tc, r.transformFields, current, a.state)
		if err != nil {
			return nil, fmt.Errorf("%s on %s: %w", r.steps[a.step].Name(), f.QueryPath(), err)
		}
		occ.states = append(occ.states, a)
		occ.artificial = append(occ.artificial, rw.ArtificialFields...)
		artificialChildren = append(artificialChildren, rw.ArtificialChildren...)
		current = rw.NewField
		if current == nil {
			break
		}
	}

	var out []*normalized.Field
	if current != nil {
		children, err := r.transformFields(ctx, current.Children)
		if err != nil {
			return nil, err
		}
		current.Children = append(children, artificialChildren...)
		current.ObjectTypeNames = r.tc.Service.UnderlyingTypeNames(current.ObjectTypeNames)
		occ.underlying = current
		out = append(out, current)
	}
	for _, a := range occ.artificial {
		r.plan.aliases[a.ResultKey()] = f.ResultKey()
	}
	out = append(out, occ.artificial...)
	r.plan.occurrences = append(r.plan.occurrences, occ)
	return out, nil
}

// parent returns the underlying field the occurrence's replacements sit under,
// and false when the occurrence left nothing in the underlying query.
func (o *occurrence) parent() (*normalized.Field, bool) {
	if o.underlying != nil {
		return o.underlying.Parent, true
	}
	if len(o.artificial) > 0 {
		return o.artificial[0].Parent, true
	}
	return nil, o.overall.Parent == nil
}

// ResultInstructions collects the edits every applied transform wants on data.
func (p *Plan) ResultInstructions(ctx context.Context, tc *Context, data map[string]any) ([]result.Instruction, error) {
	var out []result.Instruction
	for _, occ := range p.occurrences {
		parent, ok := occ.parent()
		if !ok {
			continue
		}
		for _, a := range occ.states {
			step := p.steps[a.step]
			ins, err := step.resultInstructions(ctx, tc, occ.overall, parent, data, a.state)
			if err != nil {
				return nil, fmt.Errorf("%s result on %s: %w", step.Name(), occ.overall.QueryPath(), err)
			}
			out = append(out, ins...)
		}
	}
	return out, nil
}

// TranslatePath maps an underlying result path to the overall result path by
// replacing artificial result keys with the keys of the fields they stand for.
func (p *Plan) TranslatePath(path []any) []any {
	out := make([]any, len(path))
	for i, seg := range path {
		if key, ok := seg.(string); ok {
			if overall, found := p.aliases[key]; found {
				out[i] = overall
				continue
			}
		}
		out[i] = seg
	}
	return out
}

// parentNodes returns the objects the field's values live in.
func parentNodes(data map[string]any, parent *normalized.Field) []jsonnode.Node {
	if parent == nil {
		return []jsonnode.Node{{Path: jsonnode.Path{}, Value: data}}
	}
	var out []jsonnode.Node
	for _, n := range jsonnode.GetNodesAt(data, parent.ResultPath(), true) {
		if _, ok := n.Value.(map[string]any); ok {
			out = append(out, n)
		}
	}
	return out
}
