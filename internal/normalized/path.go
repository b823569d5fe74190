package normalized

import "strings"

// QueryPath is an ordered list of field segments from the operation root.
// Values are never modified in place.
type QueryPath []string

func NewQueryPath(segments ...string) QueryPath {
	return append(QueryPath(nil), segments...)
}

// ParseQueryPath splits a dotted path such as "collar.name".
func ParseQueryPath(dotted string) QueryPath {
	if dotted == "" {
		return nil
	}
	return QueryPath(strings.Split(dotted, "."))
}

func (p QueryPath) Plus(segments ...string) QueryPath {
	out := make(QueryPath, 0, len(p)+len(segments))
	out = append(out, p...)
	return append(out, segments...)
}

func (p QueryPath) DropLast() QueryPath {
	if len(p) == 0 {
		return nil
	}
	return append(QueryPath(nil), p[:len(p)-1]...)
}

func (p QueryPath) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (p QueryPath) First() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

func (p QueryPath) Equal(o QueryPath) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

func (p QueryPath) StartsWith(prefix QueryPath) bool {
	if len(prefix) > len(p) {
		return false
	}
	return p[:len(prefix)].Equal(prefix)
}

// String joins segments with "/". Equal paths produce equal strings, so the result
// can be used as a map key.
func (p QueryPath) String() string { return strings.Join(p, "/") }
