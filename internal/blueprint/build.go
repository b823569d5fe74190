package blueprint

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/hanpama/fedgate/internal/discovery"
	"github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/schema"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

type builder struct {
	discovery discovery.Discovery

	metas         []*discovery.ServiceMetadata
	docs          map[string]*ast.SchemaDocument
	sdls          map[string]*discovery.ServiceSDL
	hasUnderlying map[string]bool
	declarers     map[FieldCoordinates]string

	bp         *Blueprint
	violations []*Violation
}

// Build reads every service from disc and builds the blueprint. Problems with the
// schemas or directives are collected and returned together as a ValidationError.
func Build(ctx context.Context, disc discovery.Discovery) (*Blueprint, error) {
	b := &builder{
		discovery:     disc,
		docs:          make(map[string]*ast.SchemaDocument),
		sdls:          make(map[string]*discovery.ServiceSDL),
		hasUnderlying: make(map[string]bool),
		declarers:     make(map[FieldCoordinates]string),
		bp: &Blueprint{
			Services:     make(map[string]*Service),
			instructions: make(map[FieldCoordinates][]FieldInstruction),
			owners:       make(map[FieldCoordinates]string),
		},
	}
	if err := b.build(ctx); err != nil {
		return nil, err
	}
	return b.bp, nil
}

func (b *builder) build(ctx context.Context) error {
	metas, err := b.discovery.ListMetadata(ctx)
	if err != nil {
		return err
	}
	b.metas = metas

	for _, meta := range metas {
		sdl, err := b.discovery.ReadServiceSDL(ctx, meta.Name)
		if err != nil {
			return err
		}
		b.sdls[meta.Name] = sdl
		b.hasUnderlying[meta.Name] = sdl.Underlying != ""
		doc, err := parser.ParseSchema(&ast.Source{Name: meta.OverallPath, Input: sdl.Overall})
		if err != nil {
			b.addViolation(violationsFromError(err, meta.OverallPath)...)
			continue
		}
		b.docs[meta.Name] = doc
	}
	if err := b.failed(); err != nil {
		return err
	}

	// Build the overall schema from every service document
	docs := make([]*ast.SchemaDocument, 0, len(b.metas))
	for _, meta := range b.metas {
		docs = append(docs, b.docs[meta.Name])
	}
	overall, err := buildWithPrelude(mergeDocuments(docs...))
	if err != nil {
		b.addViolation(violationsFromError(err, "")...)
		return b.failed()
	}
	b.bp.Schema = overall

	b.readOwnership()
	b.buildServices()
	if err := b.failed(); err != nil {
		return err
	}

	b.readFieldInstructions()
	if err := b.failed(); err != nil {
		return err
	}

	b.bp.Model = schema.BuildFromAST(overall, preludeNames...)
	return nil
}

func (b *builder) addViolation(v ...*Violation) {
	b.violations = append(b.violations, v...)
}

func (b *builder) failed() error {
	if len(b.violations) > 0 {
		return ValidationError(b.violations)
	}
	return nil
}

func buildWithPrelude(doc *ast.SchemaDocument) (*ast.Schema, error) {
	prelude, err := parser.ParseSchema(preludeSource)
	if err != nil {
		return nil, fmt.Errorf("failed to parse federation prelude: %w", err)
	}
	return language.BuildSchema(prelude, doc)
}

// mergeDocuments unions same-named definitions and extensions into one
// definition each. The first declaration of a field, member or enum value wins.
// Input documents are left untouched.
func mergeDocuments(docs ...*ast.SchemaDocument) *ast.SchemaDocument {
	out := &ast.SchemaDocument{}
	byName := make(map[string]*ast.Definition)
	directives := make(map[string]bool)

	for _, doc := range docs {
		for _, sd := range append(append(ast.SchemaDefinitionList(nil), doc.Schema...), doc.SchemaExtension...) {
			if len(out.Schema) == 0 {
				out.Schema = append(out.Schema, &ast.SchemaDefinition{Description: sd.Description, Position: sd.Position})
			}
			target := out.Schema[0]
			for _, ot := range sd.OperationTypes {
				if target.OperationTypes.ForType(string(ot.Operation)) == nil {
					target.OperationTypes = append(target.OperationTypes, ot)
				}
			}
		}
		for _, dir := range doc.Directives {
			if directives[dir.Name] || isPreludeName(dir.Name) {
				continue
			}
			directives[dir.Name] = true
			out.Directives = append(out.Directives, dir)
		}
		for _, def := range append(append(ast.DefinitionList(nil), doc.Definitions...), doc.Extensions...) {
			if isPreludeName(def.Name) {
				continue
			}
			existing, ok := byName[def.Name]
			if !ok {
				cp := *def
				cp.Fields = append(ast.FieldList(nil), def.Fields...)
				cp.Interfaces = append([]string(nil), def.Interfaces...)
				cp.Types = append([]string(nil), def.Types...)
				cp.EnumValues = append(ast.EnumValueList(nil), def.EnumValues...)
				cp.Directives = append(ast.DirectiveList(nil), def.Directives...)
				byName[def.Name] = &cp
				out.Definitions = append(out.Definitions, &cp)
				continue
			}
			mergeDefinition(existing, def)
		}
	}
	return out
}

func mergeDefinition(into, from *ast.Definition) {
	if into.Description == "" {
		into.Description = from.Description
	}
	for _, f := range from.Fields {
		if into.Fields.ForName(f.Name) == nil {
			into.Fields = append(into.Fields, f)
		}
	}
	for _, ev := range from.EnumValues {
		if into.EnumValues.ForName(ev.Name) == nil {
			into.EnumValues = append(into.EnumValues, ev)
		}
	}
	into.Interfaces = unionStrings(into.Interfaces, from.Interfaces)
	into.Types = unionStrings(into.Types, from.Types)
	for _, d := range from.Directives {
		if into.Directives.ForName(d.Name) == nil {
			into.Directives = append(into.Directives, d)
		}
	}
}

func unionStrings(a, b []string) []string {
	for _, s := range b {
		found := false
		for _, t := range a {
			if s == t {
				found = true
				break
			}
		}
		if !found {
			a = append(a, s)
		}
	}
	return a
}

func definitionsOf(doc *ast.SchemaDocument) ast.DefinitionList {
	return append(append(ast.DefinitionList(nil), doc.Definitions...), doc.Extensions...)
}

// readOwnership records which service declares each field, and which service
// answers each root field and each field of a namespace type.
func (b *builder) readOwnership() {
	sch := b.bp.Schema
	roots := map[string]bool{}
	for _, def := range []*ast.Definition{sch.Query, sch.Mutation, sch.Subscription} {
		if def != nil {
			roots[def.Name] = true
		}
	}

	namespaceTypes := map[string]bool{}
	for _, meta := range b.metas {
		for _, def := range definitionsOf(b.docs[meta.Name]) {
			for _, fd := range def.Fields {
				coords := FieldCoordinates{TypeName: def.Name, FieldName: fd.Name}
				if _, ok := b.declarers[coords]; !ok {
					b.declarers[coords] = meta.Name
				}
				if !roots[def.Name] {
					continue
				}
				if fd.Directives.ForName(directiveNamespaced) != nil {
					namespaceTypes[fd.Type.Name()] = true
					if _, ok := b.bp.owners[coords]; !ok {
						b.bp.owners[coords] = meta.Name
					}
					continue
				}
				b.setOwner(coords, meta.Name, fd.Position)
			}
		}
	}

	for _, meta := range b.metas {
		for _, def := range definitionsOf(b.docs[meta.Name]) {
			if !namespaceTypes[def.Name] {
				continue
			}
			for _, fd := range def.Fields {
				b.setOwner(FieldCoordinates{TypeName: def.Name, FieldName: fd.Name}, meta.Name, fd.Position)
			}
		}
	}
}

func (b *builder) setOwner(coords FieldCoordinates, svc string, pos *ast.Position) {
	if existing, ok := b.bp.owners[coords]; ok && existing != svc {
		b.addViolation(violationDuplicateRootField(coords, existing, svc, pos))
		return
	}
	b.bp.owners[coords] = svc
}

func (b *builder) buildServices() {
	for _, meta := range b.metas {
		doc := b.docs[meta.Name]

		var renames []TypeRename
		var renamePositions []*ast.Position
		for _, def := range definitionsOf(doc) {
			dir := def.Directives.ForName(directiveRenamed)
			if dir == nil {
				continue
			}
			from, ok := stringArgument(dir, "from")
			if !ok {
				b.addViolation(violationMissingArgument("from", directiveRenamed, dir.Position))
				continue
			}
			if from == def.Name {
				continue
			}
			renames = append(renames, TypeRename{Service: meta.Name, OverallName: def.Name, UnderlyingName: from})
			renamePositions = append(renamePositions, dir.Position)
		}

		var underlying *ast.Schema
		var err error
		if b.hasUnderlying[meta.Name] {
			underlying, err = language.LoadSchema(&ast.Source{Name: meta.UnderlyingPath, Input: b.sdls[meta.Name].Underlying})
			if err != nil {
				b.addViolation(violationsFromError(err, meta.UnderlyingPath)...)
				continue
			}
		} else {
			for i, r := range renames {
				b.addViolation(violationRenameWithoutUnderlying("Type "+r.OverallName, meta.Name, renamePositions[i]))
			}
			underlying, err = buildWithPrelude(withoutHydratedFields(mergeDocuments(doc)))
			if err != nil {
				b.addViolation(violationsFromError(err, meta.OverallPath)...)
				continue
			}
		}

		for i, r := range renames {
			if underlying.Types[r.UnderlyingName] == nil {
				b.addViolation(violationNoUnderlyingType(r.OverallName, meta.Name, renamePositions[i]))
			}
		}
		b.bp.Services[meta.Name] = NewService(meta.Name, underlying, renames...)
	}
}

func withoutHydratedFields(doc *ast.SchemaDocument) *ast.SchemaDocument {
	for _, def := range doc.Definitions {
		kept := def.Fields[:0:0]
		for _, fd := range def.Fields {
			if fd.Directives.ForName(directiveHydrated) == nil {
				kept = append(kept, fd)
			}
		}
		def.Fields = kept
	}
	return doc
}

func (b *builder) readFieldInstructions() {
	sch := b.bp.Schema
	names := make([]string, 0, len(sch.Types))
	for name, def := range sch.Types {
		if def.Kind == ast.Object && !def.BuiltIn {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		def := sch.Types[name]
		for _, fd := range def.Fields {
			coords := FieldCoordinates{TypeName: name, FieldName: fd.Name}
			svc := b.bp.Services[b.declarers[coords]]
			if svc == nil {
				continue
			}
			for _, dir := range fd.Directives {
				switch dir.Name {
				case directiveRenamed:
					b.readRename(coords, svc, dir)
				case directiveHydrated:
					b.readHydration(coords, svc, fd, dir)
				}
			}
		}
	}
}

func (b *builder) addInstruction(ins FieldInstruction) {
	coords := ins.Location()
	b.bp.instructions[coords] = append(b.bp.instructions[coords], ins)
}

func (b *builder) readRename(coords FieldCoordinates, svc *Service, dir *ast.Directive) {
	from, ok := stringArgument(dir, "from")
	if !ok {
		b.addViolation(violationMissingArgument("from", directiveRenamed, dir.Position))
		return
	}
	if from == coords.FieldName {
		return
	}
	if !b.hasUnderlying[svc.Name] {
		b.addViolation(violationRenameWithoutUnderlying("Field "+coords.String(), svc.Name, dir.Position))
		return
	}
	underlyingType := svc.UnderlyingTypeName(coords.TypeName)
	if svc.Underlying.Types[underlyingType] == nil {
		b.addViolation(violationNoUnderlyingType(coords.TypeName, svc.Name, dir.Position))
		return
	}
	path := normalized.ParseQueryPath(from)
	if _, _, ok := resolvePath(svc.Underlying, underlyingType, path); !ok {
		b.addViolation(violationRenameTargetMissing(from, coords, svc.Name, dir.Position))
		return
	}
	if len(path) == 1 {
		b.addInstruction(&Rename{Coordinates: coords, UnderlyingName: from})
		return
	}
	b.addInstruction(&DeepRename{Coordinates: coords, QueryPathToField: path})
}

func (b *builder) readHydration(coords FieldCoordinates, svc *Service, fd *ast.FieldDefinition, dir *ast.Directive) {
	pos := dir.Position
	serviceName, ok := stringArgument(dir, "service")
	if !ok {
		b.addViolation(violationMissingArgument("service", directiveHydrated, pos))
		return
	}
	fieldPath, ok := stringArgument(dir, "field")
	if !ok {
		b.addViolation(violationMissingArgument("field", directiveHydrated, pos))
		return
	}
	if b.bp.Services[serviceName] == nil {
		b.addViolation(violationUnknownService(serviceName, coords, pos))
		return
	}
	backingPath := normalized.ParseQueryPath(fieldPath)
	backing, _, ok := resolvePath(b.bp.Schema, b.bp.Schema.Query.Name, backingPath)
	if !ok {
		b.addViolation(violationUnknownBackingField(fieldPath, coords, pos))
		return
	}
	underlyingType := svc.UnderlyingTypeName(coords.TypeName)
	if svc.Underlying.Types[underlyingType] == nil {
		b.addViolation(violationNoUnderlyingType(coords.TypeName, svc.Name, pos))
		return
	}

	var (
		args         []*HydrationArgument
		sources      []normalized.QueryPath
		batchArg     *ast.ArgumentDefinition
		sourcePath   normalized.QueryPath
		sourceIsMany bool
	)
	addSource := func(path normalized.QueryPath) bool {
		_, many, ok := resolvePath(svc.Underlying, underlyingType, path)
		if !ok {
			b.addViolation(violationUnknownSourceField(path.String(), svc.Name, coords, pos))
			return false
		}
		for _, s := range sources {
			if s.Equal(path) {
				return true
			}
		}
		sources = append(sources, path)
		if sourcePath == nil {
			sourceIsMany = many
		}
		return true
	}

	rawArgs, _ := argumentValue(dir, "arguments")
	list, _ := rawArgs.([]any)
	for _, item := range list {
		obj, _ := item.(map[string]any)
		name, _ := obj["name"].(string)
		argDef := backing.Arguments.ForName(name)
		if argDef == nil {
			b.addViolation(violationUnknownBackingArgument(name, fieldPath, coords, pos))
			continue
		}
		source := ParseArgumentSource(obj["value"])
		switch s := source.(type) {
		case FieldValue:
			if !addSource(s.QueryPath) {
				continue
			}
			if sourcePath == nil {
				sourcePath = s.QueryPath
				batchArg = argDef
			}
		case FieldArgument:
			if fd.Arguments.ForName(s.Name) == nil {
				b.addViolation(violationUnknownFieldArgument(s.Name, coords, pos))
				continue
			}
		}
		args = append(args, &HydrationArgument{Name: name, Source: source})
	}

	var condition *Condition
	if raw, ok := argumentValue(dir, "when"); ok && raw != nil {
		c, err := parseCondition(raw)
		if err != nil {
			b.addViolation(violationInvalidCondition(coords, err.Error(), pos))
		} else if addSource(c.SourceField) {
			condition = c
		}
	}

	timeout := intArgument(dir, "timeout", -1)
	batched := backing.Type.Elem != nil && batchArg != nil && batchArg.Type.Elem != nil
	if !batched {
		strategy := OneToOne
		if sourceIsMany && backing.Type.Elem == nil {
			strategy = ManyToOne
		}
		b.addInstruction(&Hydration{
			Coordinates:             coords,
			BackingService:          serviceName,
			QueryPathToBackingField: backingPath,
			BackingFieldArguments:   args,
			SourceFields:            sources,
			Strategy:                strategy,
			Timeout:                 timeout,
			Condition:               condition,
		})
		return
	}

	var match MatchStrategy
	if indexed, _ := argumentValue(dir, "indexed"); indexed == true {
		match = MatchIndex{}
	} else if raw, ok := argumentValue(dir, "inputIdentifiedBy"); ok && raw != nil {
		var ids MatchObjectIdentifiers
		items, _ := raw.([]any)
		for _, item := range items {
			obj, _ := item.(map[string]any)
			sourceID, _ := obj["sourceId"].(string)
			resultID, _ := obj["resultId"].(string)
			path := normalized.ParseQueryPath(sourceID)
			if !addSource(path) {
				continue
			}
			ids.Identifiers = append(ids.Identifiers, MatchObjectIdentifier{SourceID: path, ResultID: resultID})
		}
		match = ids
	}
	if match == nil || isEmptyIdentifiers(match) {
		identifiedBy, ok := stringArgument(dir, "identifiedBy")
		if !ok {
			identifiedBy = "id"
		}
		match = MatchObjectIdentifier{SourceID: sourcePath, ResultID: identifiedBy}
	}

	b.addInstruction(&BatchHydration{
		Coordinates:             coords,
		BackingService:          serviceName,
		QueryPathToBackingField: backingPath,
		BackingFieldArguments:   args,
		SourceFields:            sources,
		BatchSize:               intArgument(dir, "batchSize", 200),
		Match:                   match,
		Timeout:                 timeout,
		Condition:               condition,
	})
}

func isEmptyIdentifiers(m MatchStrategy) bool {
	ids, ok := m.(MatchObjectIdentifiers)
	return ok && len(ids.Identifiers) == 0
}

func parseCondition(raw any) (*Condition, error) {
	when, _ := raw.(map[string]any)
	res, _ := when["result"].(map[string]any)
	sourceField, _ := res["sourceField"].(string)
	if sourceField == "" {
		return nil, fmt.Errorf("sourceField is required")
	}
	predicate, _ := res["predicate"].(map[string]any)
	c := &Condition{SourceField: normalized.ParseQueryPath(sourceField)}
	set := 0
	if v, ok := predicate["equals"]; ok && v != nil {
		c.Equals = v
		set++
	}
	if v, ok := predicate["startsWith"].(string); ok {
		c.StartsWith = &v
		set++
	}
	if v, ok := predicate["matches"].(string); ok {
		re, err := regexp.Compile(v)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", v, err)
		}
		c.Matches = re
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of equals, startsWith or matches is required")
	}
	return c, nil
}

// resolvePath walks field names from typeName. It reports the leaf definition and
// whether any step along the way is a list.
func resolvePath(sch *ast.Schema, typeName string, path normalized.QueryPath) (*ast.FieldDefinition, bool, bool) {
	if len(path) == 0 {
		return nil, false, false
	}
	var leaf *ast.FieldDefinition
	many := false
	current := typeName
	for _, segment := range path {
		def := sch.Types[current]
		if def == nil {
			return nil, false, false
		}
		fd := def.Fields.ForName(segment)
		if fd == nil {
			return nil, false, false
		}
		if fd.Type.Elem != nil {
			many = true
		}
		leaf = fd
		current = fd.Type.Name()
	}
	return leaf, many, true
}

func argumentValue(dir *ast.Directive, name string) (any, bool) {
	arg := dir.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return nil, false
	}
	v, err := arg.Value.Value(nil)
	if err != nil {
		return nil, false
	}
	return v, true
}

func stringArgument(dir *ast.Directive, name string) (string, bool) {
	v, ok := argumentValue(dir, name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func intArgument(dir *ast.Directive, name string, def int) int {
	v, ok := argumentValue(dir, name)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return def
}
