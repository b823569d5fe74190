package language

import (
	"bytes"
	"strings"

	gqlparser "github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// deferSource declares @defer for gqlparser versions whose prelude lacks it.
var deferSource = &ast.Source{
	Name:    "defer.graphql",
	Input:   "directive @defer(if: Boolean = true, label: String) on FRAGMENT_SPREAD | INLINE_FRAGMENT\n",
	BuiltIn: true,
}

// PreludeDocument returns the parsed builtin definitions (scalars, introspection types,
// @skip/@include/@deprecated and @defer).
func PreludeDocument() (*SchemaDocument, error) {
	sources := []*ast.Source{validator.Prelude}
	if !strings.Contains(validator.Prelude.Input, "directive @defer") {
		sources = append(sources, deferSource)
	}
	return parser.ParseSchemas(sources...)
}

// BuildSchema validates the given documents on top of the prelude.
func BuildSchema(docs ...*SchemaDocument) (*Schema, error) {
	prelude, err := PreludeDocument()
	if err != nil {
		return nil, err
	}
	merged := &ast.SchemaDocument{}
	merged.Merge(prelude)
	for _, d := range docs {
		merged.Merge(d)
	}
	return validator.ValidateSchemaDocument(merged)
}

// LoadSchema parses and validates SDL sources on top of the prelude.
func LoadSchema(sources ...*Source) (*Schema, error) {
	docs := make([]*SchemaDocument, 0, len(sources))
	for _, src := range sources {
		doc, err := parser.ParseSchema(src)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return BuildSchema(docs...)
}

// Format prints a query document.
func Format(doc *QueryDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

// LoadQuery parses and validates a query against schema.
func LoadQuery(schema *Schema, source string) (*QueryDocument, ErrorList) {
	return gqlparser.LoadQuery(schema, source)
}
