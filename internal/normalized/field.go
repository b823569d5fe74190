package normalized

import (
	"slices"

	"github.com/vektah/gqlparser/v2/ast"
)

const TypeNameField = "__typename"

// Field is one selection of a normalized operation.
//
// ObjectTypeNames holds the concrete object types the selection applies to. Field
// instructions are always looked up by (object type, Name), never by alias.
type Field struct {
	Name            string
	Alias           string
	ObjectTypeNames []string
	Arguments       map[string]*Value
	Children        []*Field
	Parent          *Field
	Defer           *Defer
}

// Value is an argument value together with the declared input type.
type Value struct {
	Type  *ast.Type
	Value any
}

// Defer marks a field selected inside a deferred fragment.
type Defer struct {
	Label string
}

// ResultKey is the key the field occupies in a JSON result.
func (f *Field) ResultKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func (f *Field) IsTypeName() bool { return f.Name == TypeNameField }

// QueryPath returns field names from the root to f.
func (f *Field) QueryPath() QueryPath {
	var out QueryPath
	for cur := f; cur != nil; cur = cur.Parent {
		out = append(out, cur.Name)
	}
	slices.Reverse(out)
	return out
}

// ResultPath returns result keys from the root to f.
func (f *Field) ResultPath() QueryPath {
	var out QueryPath
	for cur := f; cur != nil; cur = cur.Parent {
		out = append(out, cur.ResultKey())
	}
	slices.Reverse(out)
	return out
}

func (f *Field) HasObjectType(name string) bool {
	return slices.Contains(f.ObjectTypeNames, name)
}

// Clone copies f without copying its children. The copy shares child pointers and
// argument values with f.
func (f *Field) Clone() *Field {
	out := *f
	out.ObjectTypeNames = slices.Clone(f.ObjectTypeNames)
	out.Children = slices.Clone(f.Children)
	if f.Arguments != nil {
		out.Arguments = make(map[string]*Value, len(f.Arguments))
		for k, v := range f.Arguments {
			out.Arguments[k] = v
		}
	}
	return &out
}

// DeepClone copies the whole subtree rooted at f and reparents the copies.
func (f *Field) DeepClone() *Field {
	out := f.Clone()
	for i, c := range out.Children {
		cc := c.DeepClone()
		cc.Parent = out
		out.Children[i] = cc
	}
	return out
}

// ArgumentValue returns the plain value of the named argument.
func (f *Field) ArgumentValue(name string) (any, bool) {
	v, ok := f.Arguments[name]
	if !ok || v == nil {
		return nil, false
	}
	return v.Value, true
}

// LinkParents sets Parent on every field of the given forest.
func LinkParents(fields []*Field, parent *Field) {
	for _, f := range fields {
		f.Parent = parent
		LinkParents(f.Children, f)
	}
}

// Walk visits fields depth-first, parents before children.
func Walk(fields []*Field, fn func(*Field)) {
	for _, f := range fields {
		fn(f)
		Walk(f.Children, fn)
	}
}
