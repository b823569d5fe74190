package blueprint

import "github.com/vektah/gqlparser/v2/ast"

const preludeSDL = `directive @renamed(from: String!) on FIELD_DEFINITION | OBJECT | INTERFACE | UNION | INPUT_OBJECT | SCALAR | ENUM

directive @hydrated(
  service: String!
  field: String!
  arguments: [HydrationArgument!]!
  identifiedBy: String = "id"
  inputIdentifiedBy: [HydrationObjectIdentifier!]
  indexed: Boolean = false
  batchSize: Int = 200
  timeout: Int = -1
  when: HydrationCondition
) repeatable on FIELD_DEFINITION

directive @namespaced on FIELD_DEFINITION

scalar HydrationValue

input HydrationArgument {
  name: String!
  value: HydrationValue!
}

input HydrationObjectIdentifier {
  sourceId: String!
  resultId: String!
}

input HydrationCondition {
  result: HydrationResultCondition!
}

input HydrationResultCondition {
  sourceField: String!
  predicate: HydrationPredicate!
}

input HydrationPredicate {
  equals: HydrationValue
  startsWith: String
  matches: String
}
`

var preludeSource = &ast.Source{Name: "federation.graphql", Input: preludeSDL, BuiltIn: true}

const (
	directiveRenamed    = "renamed"
	directiveHydrated   = "hydrated"
	directiveNamespaced = "namespaced"
)

// preludeNames are the definitions hidden from the client-facing schema.
var preludeNames = []string{
	directiveRenamed,
	directiveHydrated,
	directiveNamespaced,
	"HydrationValue",
	"HydrationArgument",
	"HydrationObjectIdentifier",
	"HydrationCondition",
	"HydrationResultCondition",
	"HydrationPredicate",
}

func isPreludeName(name string) bool {
	for _, n := range preludeNames {
		if n == name {
			return true
		}
	}
	return false
}
