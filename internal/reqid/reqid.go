// Package reqid carries the execution id of a request in its context.
package reqid

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header execution ids travel in.
const Header = "graphql-execution-id"

type key struct{}

// NewContext stores a fresh random id in parent and returns it.
func NewContext(parent context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(parent, key{}, id), id
}

// WithID stores id in parent, generating one when id is empty.
func WithID(parent context.Context, id string) (context.Context, string) {
	if id == "" {
		return NewContext(parent)
	}
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the id from ctx.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
