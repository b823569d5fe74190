package service

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

const ClassificationDataFetching = "DataFetchingException"

// ErrorMap converts a GraphQL error to its JSON shape.
func ErrorMap(err *gqlerror.Error) map[string]any {
	out := map[string]any{"message": err.Message}
	if len(err.Locations) > 0 {
		locs := make([]any, len(err.Locations))
		for i, l := range err.Locations {
			locs[i] = map[string]any{"line": l.Line, "column": l.Column}
		}
		out["locations"] = locs
	}
	if len(err.Path) > 0 {
		path := make([]any, len(err.Path))
		for i, p := range err.Path {
			switch seg := p.(type) {
			case ast.PathName:
				path[i] = string(seg)
			case ast.PathIndex:
				path[i] = int(seg)
			}
		}
		out["path"] = path
	}
	if len(err.Extensions) > 0 {
		out["extensions"] = err.Extensions
	}
	return out
}

func ErrorMaps(errs gqlerror.List) []map[string]any {
	if len(errs) == 0 {
		return nil
	}
	out := make([]map[string]any, len(errs))
	for i, e := range errs {
		out[i] = ErrorMap(e)
	}
	return out
}

// FieldError builds a data fetching error for a result path.
func FieldError(message string, path []any, extensions map[string]any) map[string]any {
	ext := map[string]any{"classification": ClassificationDataFetching}
	for k, v := range extensions {
		ext[k] = v
	}
	out := map[string]any{"message": message, "extensions": ext}
	if len(path) > 0 {
		out["path"] = path
	}
	return out
}
