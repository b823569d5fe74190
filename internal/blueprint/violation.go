package blueprint

import (
	"errors"
	"fmt"

	"github.com/hanpama/fedgate/internal/language"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

type Violation struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (v *Violation) String() string {
	if v.File == "" {
		return v.Message
	}
	return fmt.Sprintf("%s %s:%d:%d", v.Message, v.File, v.Line, v.Column)
}

type ValidationError []*Violation

func (e ValidationError) Error() string {
	msg := "violations found:\n"
	for _, v := range e {
		msg += "- " + v.String() + "\n"
	}
	return msg
}

func violationWithPosition(message string, pos *language.Position) *Violation {
	v := &Violation{Message: message}
	if pos != nil {
		v.Line = pos.Line
		v.Column = pos.Column
		if pos.Src != nil {
			v.File = pos.Src.Name
		}
	}
	return v
}

// violationsFromError converts parser and validator errors.
func violationsFromError(err error, file string) []*Violation {
	var list gqlerror.List
	if errors.As(err, &list) {
		var out []*Violation
		for _, e := range list {
			out = append(out, violationFromGQLError(e, file))
		}
		return out
	}
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return []*Violation{violationFromGQLError(gqlErr, file)}
	}
	return []*Violation{{Message: err.Error(), File: file}}
}

func violationFromGQLError(e *gqlerror.Error, file string) *Violation {
	v := &Violation{Message: e.Message, File: file}
	if f, ok := e.Extensions["file"].(string); ok && f != "" {
		v.File = f
	}
	if len(e.Locations) > 0 {
		v.Line = e.Locations[0].Line
		v.Column = e.Locations[0].Column
	}
	return v
}

func violationUnknownService(service string, coords FieldCoordinates, pos *language.Position) *Violation {
	return violationWithPosition(
		fmt.Sprintf("Field %s is hydrated from unknown service %q", coords, service),
		pos,
	)
}

func violationUnknownBackingField(path string, coords FieldCoordinates, pos *language.Position) *Violation {
	return violationWithPosition(
		fmt.Sprintf("Backing field %q of %s not found in the query type", path, coords),
		pos,
	)
}

func violationUnknownBackingArgument(arg, path string, coords FieldCoordinates, pos *language.Position) *Violation {
	return violationWithPosition(
		fmt.Sprintf("No argument %q on backing field %q of %s", arg, path, coords),
		pos,
	)
}

func violationUnknownFieldArgument(arg string, coords FieldCoordinates, pos *language.Position) *Violation {
	return violationWithPosition(
		fmt.Sprintf("Hydration of %s forwards unknown argument %q", coords, arg),
		pos,
	)
}

func violationUnknownSourceField(path string, service string, coords FieldCoordinates, pos *language.Position) *Violation {
	return violationWithPosition(
		fmt.Sprintf("Source field %q of %s not found in the underlying schema of %q", path, coords, service),
		pos,
	)
}

func violationNoUnderlyingType(typeName, service string, pos *language.Position) *Violation {
	return violationWithPosition(
		fmt.Sprintf("No underlying object type found for %q in service %q", typeName, service),
		pos,
	)
}

func violationRenameTargetMissing(target string, coords FieldCoordinates, service string, pos *language.Position) *Violation {
	return violationWithPosition(
		fmt.Sprintf("Renamed field %s points at %q which is not in the underlying schema of %q", coords, target, service),
		pos,
	)
}

func violationRenameWithoutUnderlying(name, service string, pos *language.Position) *Violation {
	return violationWithPosition(
		fmt.Sprintf("%s uses @renamed but service %q has no underlying schema", name, service),
		pos,
	)
}

func violationDuplicateRootField(coords FieldCoordinates, first, second string, pos *language.Position) *Violation {
	return violationWithPosition(
		fmt.Sprintf("Field %s is declared by both %q and %q", coords, first, second),
		pos,
	)
}

func violationInvalidCondition(coords FieldCoordinates, reason string, pos *language.Position) *Violation {
	return violationWithPosition(
		fmt.Sprintf("Invalid hydration condition on %s: %s", coords, reason),
		pos,
	)
}

func violationMissingArgument(arg, directive string, pos *language.Position) *Violation {
	return violationWithPosition(
		fmt.Sprintf("Missing argument %q in @%s directive", arg, directive),
		pos,
	)
}
