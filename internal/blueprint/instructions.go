package blueprint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hanpama/fedgate/internal/normalized"
)

// FieldCoordinates identify a field of an overall object type.
type FieldCoordinates struct {
	TypeName  string
	FieldName string
}

func (c FieldCoordinates) String() string { return c.TypeName + "." + c.FieldName }

// FieldInstruction tells the engine how an overall field maps onto services.
// Implementations: Rename, DeepRename, Hydration, BatchHydration.
type FieldInstruction interface {
	Location() FieldCoordinates
}

// Rename maps the field to a sibling underlying field with another name.
type Rename struct {
	Coordinates    FieldCoordinates
	UnderlyingName string
}

// DeepRename maps the field to an underlying field nested below the parent.
type DeepRename struct {
	Coordinates      FieldCoordinates
	QueryPathToField normalized.QueryPath
}

type HydrationStrategy int

const (
	OneToOne HydrationStrategy = iota
	// ManyToOne calls the backing field once per element of a list source value.
	ManyToOne
)

func (s HydrationStrategy) String() string {
	if s == ManyToOne {
		return "ManyToOne"
	}
	return "OneToOne"
}

// Hydration resolves the field with one backing call per source object.
type Hydration struct {
	Coordinates             FieldCoordinates
	BackingService          string
	QueryPathToBackingField normalized.QueryPath
	BackingFieldArguments   []*HydrationArgument
	// SourceFields are paths, relative to the source object in the declaring
	// service's underlying schema, whose values feed arguments and conditions.
	SourceFields []normalized.QueryPath
	Strategy     HydrationStrategy
	// Timeout is in milliseconds; negative means none.
	Timeout   int
	Condition *Condition
}

// BatchHydration resolves the field for many source objects with one call per batch.
type BatchHydration struct {
	Coordinates             FieldCoordinates
	BackingService          string
	QueryPathToBackingField normalized.QueryPath
	BackingFieldArguments   []*HydrationArgument
	SourceFields            []normalized.QueryPath
	BatchSize               int
	Match                   MatchStrategy
	Timeout                 int
	Condition               *Condition
}

func (i *Rename) Location() FieldCoordinates         { return i.Coordinates }
func (i *DeepRename) Location() FieldCoordinates     { return i.Coordinates }
func (i *Hydration) Location() FieldCoordinates      { return i.Coordinates }
func (i *BatchHydration) Location() FieldCoordinates { return i.Coordinates }

// BatchArgument returns the argument fed by the list of source values.
func (i *BatchHydration) BatchArgument() *HydrationArgument {
	for _, arg := range i.BackingFieldArguments {
		if _, ok := arg.Source.(FieldValue); ok {
			return arg
		}
	}
	return nil
}

// MatchStrategy pairs backing results with source objects.
// Implementations: MatchIndex, MatchObjectIdentifier, MatchObjectIdentifiers.
type MatchStrategy interface {
	matchStrategy()
}

// MatchIndex pairs the n-th result with the n-th source value.
type MatchIndex struct{}

// MatchObjectIdentifier pairs a result whose ResultID field equals the source value at SourceID.
type MatchObjectIdentifier struct {
	SourceID normalized.QueryPath
	ResultID string
}

// MatchObjectIdentifiers pairs on a composite identifier.
type MatchObjectIdentifiers struct {
	Identifiers []MatchObjectIdentifier
}

func (MatchIndex) matchStrategy()             {}
func (MatchObjectIdentifier) matchStrategy()  {}
func (MatchObjectIdentifiers) matchStrategy() {}

type HydrationArgument struct {
	Name   string
	Source ArgumentSource
}

// ArgumentSource says where a backing argument value comes from.
// Implementations: FieldValue, FieldArgument, StaticValue.
type ArgumentSource interface {
	argumentSource()
}

// FieldValue reads the value at a path of the source object.
type FieldValue struct {
	QueryPath normalized.QueryPath
}

// FieldArgument forwards an argument of the hydrated field.
type FieldArgument struct {
	Name string
}

type StaticValue struct {
	Value any
}

func (FieldValue) argumentSource()    {}
func (FieldArgument) argumentSource() {}
func (StaticValue) argumentSource()   {}

// ParseArgumentSource interprets a @hydrated argument value.
func ParseArgumentSource(value any) ArgumentSource {
	if s, ok := value.(string); ok {
		switch {
		case strings.HasPrefix(s, "$source."):
			return FieldValue{QueryPath: normalized.ParseQueryPath(strings.TrimPrefix(s, "$source."))}
		case strings.HasPrefix(s, "$argument."):
			return FieldArgument{Name: strings.TrimPrefix(s, "$argument.")}
		}
	}
	return StaticValue{Value: value}
}

// Condition selects a hydration instruction by a value of the source object.
type Condition struct {
	SourceField normalized.QueryPath
	Equals      any
	StartsWith  *string
	Matches     *regexp.Regexp
}

// Evaluate reports whether value satisfies the predicate.
func (c *Condition) Evaluate(value any) bool {
	switch {
	case c.StartsWith != nil:
		s, ok := value.(string)
		return ok && strings.HasPrefix(s, *c.StartsWith)
	case c.Matches != nil:
		s, ok := value.(string)
		return ok && c.Matches.MatchString(s)
	default:
		return equalScalars(c.Equals, value)
	}
}

// equalScalars compares JSON scalars, treating numbers by value.
func equalScalars(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b) && fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// TypeRename maps an overall type name to the name a service uses.
type TypeRename struct {
	Service        string
	OverallName    string
	UnderlyingName string
}
