package schema

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// BuildFromAST builds the model from a validated schema. Introspection types,
// builtin directives other than the executable ones, and the types and directives
// named in hidden are left out.
func BuildFromAST(src *ast.Schema, hidden ...string) *Schema {
	skip := make(map[string]bool, len(hidden))
	for _, name := range hidden {
		skip[name] = true
	}
	s := &Schema{
		Types:       make(map[string]*Type),
		Directives:  make(map[string]*Directive),
		Description: src.Description,
		AST:         src,
	}
	if src.Query != nil {
		s.QueryType = src.Query.Name
	}
	if src.Mutation != nil {
		s.MutationType = src.Mutation.Name
	}
	if src.Subscription != nil {
		s.SubscriptionType = src.Subscription.Name
	}

	for name, def := range src.Types {
		if skip[name] || strings.HasPrefix(name, "__") {
			continue
		}
		s.Types[name] = buildType(src, def)
	}
	for name, dir := range src.Directives {
		if skip[name] {
			continue
		}
		s.Directives[name] = buildDirective(dir)
	}
	return s
}

func buildType(src *ast.Schema, def *ast.Definition) *Type {
	t := &Type{Name: def.Name, Description: def.Description}
	switch def.Kind {
	case ast.Object:
		t.Kind = TypeKindObject
	case ast.Interface:
		t.Kind = TypeKindInterface
	case ast.Union:
		t.Kind = TypeKindUnion
	case ast.Enum:
		t.Kind = TypeKindEnum
	case ast.InputObject:
		t.Kind = TypeKindInputObject
		t.OneOf = def.Directives.ForName("oneOf") != nil
	default:
		t.Kind = TypeKindScalar
		if d := def.Directives.ForName("specifiedBy"); d != nil {
			if arg := d.Arguments.ForName("url"); arg != nil {
				url := arg.Value.Raw
				t.SpecifiedByURL = &url
			}
		}
	}

	switch def.Kind {
	case ast.Object, ast.Interface:
		t.Interfaces = append(t.Interfaces, def.Interfaces...)
		sort.Strings(t.Interfaces)
		for _, fd := range def.Fields {
			if strings.HasPrefix(fd.Name, "__") {
				continue
			}
			t.Fields = append(t.Fields, buildField(fd))
		}
	case ast.InputObject:
		for _, fd := range def.Fields {
			t.InputFields = append(t.InputFields, buildInputValue(fd.Name, fd.Description, fd.Type, fd.DefaultValue, fd.Directives))
		}
	case ast.Enum:
		for _, ev := range def.EnumValues {
			e := &EnumValue{Name: ev.Name, Description: ev.Description}
			e.IsDeprecated, e.DeprecationReason = deprecation(ev.Directives)
			t.EnumValues = append(t.EnumValues, e)
		}
	}

	if def.Kind == ast.Interface || def.Kind == ast.Union {
		for _, p := range src.GetPossibleTypes(def) {
			t.PossibleTypes = append(t.PossibleTypes, p.Name)
		}
		sort.Strings(t.PossibleTypes)
	}
	return t
}

func buildField(fd *ast.FieldDefinition) *Field {
	f := &Field{Name: fd.Name, Description: fd.Description, Type: TypeRefFromAST(fd.Type)}
	f.IsDeprecated, f.DeprecationReason = deprecation(fd.Directives)
	for _, arg := range fd.Arguments {
		f.Arguments = append(f.Arguments, buildInputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives))
	}
	return f
}

func buildInputValue(name, description string, typ *ast.Type, def *ast.Value, directives ast.DirectiveList) *InputValue {
	in := &InputValue{Name: name, Description: description, Type: TypeRefFromAST(typ)}
	if def != nil {
		if v, err := def.Value(nil); err == nil {
			in.DefaultValue = v
		}
	}
	in.IsDeprecated, in.DeprecationReason = deprecation(directives)
	return in
}

func buildDirective(dir *ast.DirectiveDefinition) *Directive {
	d := &Directive{Name: dir.Name, Description: dir.Description, IsRepeatable: dir.IsRepeatable}
	for _, loc := range dir.Locations {
		d.Locations = append(d.Locations, string(loc))
	}
	for _, arg := range dir.Arguments {
		d.Arguments = append(d.Arguments, buildInputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives))
	}
	return d
}

func deprecation(directives ast.DirectiveList) (bool, string) {
	d := directives.ForName("deprecated")
	if d == nil {
		return false, ""
	}
	reason := "No longer supported"
	if arg := d.Arguments.ForName("reason"); arg != nil {
		reason = arg.Value.Raw
	}
	return true, reason
}
