package normalized

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/validator"
)

// Operation is a normalized executable operation.
type Operation struct {
	Kind      ast.Operation
	Name      string
	Fields    []*Field
	Variables map[string]any
}

// Normalize flattens fragments of a validated document into a Field tree.
// Selections are merged by result key and split wherever the concrete object types
// see different child selections.
func Normalize(schema *ast.Schema, doc *ast.QueryDocument, operationName string, variables map[string]any) (*Operation, error) {
	op, err := SelectOperation(doc, operationName)
	if err != nil {
		return nil, err
	}
	vars, err := validator.VariableValues(schema, op, variables)
	if err != nil {
		return nil, err
	}
	root := RootType(schema, op.Operation)
	if root == nil {
		return nil, fmt.Errorf("schema does not support %s operations", op.Operation)
	}
	n := &normalizer{schema: schema, doc: doc, vars: vars}
	fields, err := n.normalize(op.SelectionSet, []string{root.Name}, nil)
	if err != nil {
		return nil, err
	}
	return &Operation{Kind: op.Operation, Name: op.Name, Fields: fields, Variables: vars}, nil
}

// SelectOperation picks the operation to execute.
func SelectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) != 1 {
			return nil, fmt.Errorf("operation name is required when the document has %d operations", len(doc.Operations))
		}
		return doc.Operations[0], nil
	}
	op := doc.Operations.ForName(name)
	if op == nil {
		return nil, fmt.Errorf("operation %q not found", name)
	}
	return op, nil
}

// RootType returns the root object type for an operation kind.
func RootType(schema *ast.Schema, kind ast.Operation) *ast.Definition {
	switch kind {
	case ast.Mutation:
		return schema.Mutation
	case ast.Subscription:
		return schema.Subscription
	default:
		return schema.Query
	}
}

// PossibleObjectTypes returns the sorted object type names a named type can resolve to.
func PossibleObjectTypes(schema *ast.Schema, typeName string) []string {
	def := schema.Types[typeName]
	if def == nil {
		return nil
	}
	switch def.Kind {
	case ast.Object:
		return []string{def.Name}
	case ast.Interface, ast.Union:
		var out []string
		for _, p := range schema.GetPossibleTypes(def) {
			if p.Kind == ast.Object {
				out = append(out, p.Name)
			}
		}
		sort.Strings(out)
		return slices.Compact(out)
	}
	return nil
}

type normalizer struct {
	schema *ast.Schema
	doc    *ast.QueryDocument
	vars   map[string]any
}

// occurrence is one syntactic appearance of a field in the selection tree.
type occurrence struct {
	field    *ast.Field
	types    []string
	deferred *Defer
}

// collectedFieldMap preserves field order from the original query.
type collectedFieldMap struct {
	keys  []string
	index map[string][]occurrence
}

func newCollectedFieldMap() *collectedFieldMap {
	return &collectedFieldMap{index: make(map[string][]occurrence)}
}

func (m *collectedFieldMap) add(key string, occ occurrence) {
	if _, ok := m.index[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.index[key] = append(m.index[key], occ)
}

func (n *normalizer) normalize(selectionSet ast.SelectionSet, typeNames []string, parent *Field) ([]*Field, error) {
	grouped := newCollectedFieldMap()
	n.collect(selectionSet, typeNames, nil, grouped, map[string]bool{})

	var out []*Field
	for _, key := range grouped.keys {
		fields, err := n.buildFields(grouped.index[key], parent)
		if err != nil {
			return nil, err
		}
		out = append(out, fields...)
	}
	return out, nil
}

func (n *normalizer) collect(selectionSet ast.SelectionSet, typeNames []string, deferred *Defer, grouped *collectedFieldMap, visited map[string]bool) {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *ast.Field:
			if !n.shouldInclude(sel.Directives) {
				continue
			}
			types := n.typesWithField(typeNames, sel.Name)
			if len(types) == 0 {
				continue
			}
			key := sel.Alias
			if key == "" {
				key = sel.Name
			}
			grouped.add(key, occurrence{field: sel, types: types, deferred: deferred})

		case *ast.InlineFragment:
			if !n.shouldInclude(sel.Directives) {
				continue
			}
			narrowed := n.narrow(typeNames, sel.TypeCondition)
			if len(narrowed) == 0 {
				continue
			}
			n.collect(sel.SelectionSet, narrowed, n.deferOf(sel.Directives, deferred), grouped, visited)

		case *ast.FragmentSpread:
			if !n.shouldInclude(sel.Directives) {
				continue
			}
			if visited[sel.Name] {
				continue
			}
			visited[sel.Name] = true
			def := n.doc.Fragments.ForName(sel.Name)
			if def == nil {
				continue
			}
			narrowed := n.narrow(typeNames, def.TypeCondition)
			if len(narrowed) == 0 {
				continue
			}
			n.collect(def.SelectionSet, narrowed, n.deferOf(sel.Directives, deferred), grouped, visited)
		}
	}
}

// buildFields turns the occurrences of one result key into fields. Object types that
// see the same set of occurrences share one field.
func (n *normalizer) buildFields(occs []occurrence, parent *Field) ([]*Field, error) {
	first := occs[0].field
	hasSelection := false
	for _, o := range occs {
		if len(o.field.SelectionSet) > 0 {
			hasSelection = true
		}
	}

	type typeGroup struct {
		types []string
		occs  []occurrence
	}
	var groups []*typeGroup
	byKey := map[string]*typeGroup{}
	var order []string
	seen := map[string]bool{}
	for _, o := range occs {
		for _, t := range o.types {
			if !seen[t] {
				seen[t] = true
				order = append(order, t)
			}
		}
	}
	for _, t := range order {
		var idx []string
		var member []occurrence
		for i, o := range occs {
			if slices.Contains(o.types, t) {
				idx = append(idx, fmt.Sprint(i))
				member = append(member, o)
			}
		}
		key := strings.Join(idx, ",")
		if !hasSelection {
			key = "*"
			member = occs
		}
		g := byKey[key]
		if g == nil {
			g = &typeGroup{occs: member}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.types = append(g.types, t)
	}

	args, err := n.arguments(first)
	if err != nil {
		return nil, err
	}
	out := make([]*Field, 0, len(groups))
	for _, g := range groups {
		sort.Strings(g.types)
		f := &Field{
			Name:            first.Name,
			ObjectTypeNames: g.types,
			Arguments:       args,
			Parent:          parent,
			Defer:           commonDefer(g.occs),
		}
		if first.Alias != "" && first.Alias != first.Name {
			f.Alias = first.Alias
		}
		if hasSelection {
			var combined ast.SelectionSet
			for _, o := range g.occs {
				combined = append(combined, o.field.SelectionSet...)
			}
			children, err := n.normalize(combined, n.childTypes(g.types, first), f)
			if err != nil {
				return nil, err
			}
			f.Children = children
		}
		out = append(out, f)
	}
	return out, nil
}

func commonDefer(occs []occurrence) *Defer {
	var d *Defer
	for _, o := range occs {
		if o.deferred == nil {
			return nil
		}
		if d == nil {
			d = o.deferred
		}
	}
	return d
}

func (n *normalizer) childTypes(parentTypes []string, field *ast.Field) []string {
	var out []string
	for _, t := range parentTypes {
		named := ""
		if def := n.schema.Types[t]; def != nil {
			if fd := def.Fields.ForName(field.Name); fd != nil {
				named = fd.Type.Name()
			}
		}
		if named == "" && field.Definition != nil {
			named = field.Definition.Type.Name()
		}
		out = append(out, PossibleObjectTypes(n.schema, named)...)
	}
	sort.Strings(out)
	return slices.Compact(out)
}

func (n *normalizer) typesWithField(typeNames []string, fieldName string) []string {
	switch fieldName {
	case TypeNameField:
		return typeNames
	case "__schema", "__type":
		if n.schema.Query != nil && slices.Contains(typeNames, n.schema.Query.Name) {
			return []string{n.schema.Query.Name}
		}
		return nil
	}
	var out []string
	for _, t := range typeNames {
		if def := n.schema.Types[t]; def != nil && def.Fields.ForName(fieldName) != nil {
			out = append(out, t)
		}
	}
	return out
}

func (n *normalizer) narrow(typeNames []string, condition string) []string {
	if condition == "" {
		return typeNames
	}
	possible := PossibleObjectTypes(n.schema, condition)
	var out []string
	for _, t := range typeNames {
		if slices.Contains(possible, t) {
			out = append(out, t)
		}
	}
	return out
}

func (n *normalizer) arguments(field *ast.Field) (map[string]*Value, error) {
	if len(field.Arguments) == 0 {
		return nil, nil
	}
	out := make(map[string]*Value, len(field.Arguments))
	for _, arg := range field.Arguments {
		if arg.Value.Kind == ast.Variable {
			if _, ok := n.vars[arg.Value.Raw]; !ok {
				continue
			}
		}
		val, err := arg.Value.Value(n.vars)
		if err != nil {
			return nil, fmt.Errorf("argument %q of field %q: %w", arg.Name, field.Name, err)
		}
		var typ *ast.Type
		if field.Definition != nil {
			if def := field.Definition.Arguments.ForName(arg.Name); def != nil {
				typ = def.Type
			}
		}
		out[arg.Name] = &Value{Type: typ, Value: val}
	}
	return out, nil
}

// shouldInclude evaluates @skip and @include.
func (n *normalizer) shouldInclude(directives ast.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := skip.ArgumentMap(n.vars)["if"].(bool); ok && v {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if v, ok := include.ArgumentMap(n.vars)["if"].(bool); ok && !v {
			return false
		}
	}
	return true
}

func (n *normalizer) deferOf(directives ast.DirectiveList, inherited *Defer) *Defer {
	d := directives.ForName("defer")
	if d == nil {
		return inherited
	}
	args := d.ArgumentMap(n.vars)
	if v, ok := args["if"].(bool); ok && !v {
		return inherited
	}
	label, _ := args["label"].(string)
	return &Defer{Label: label}
}
