// Package result applies edit instructions to a raw service result.
package result

import (
	"github.com/hanpama/fedgate/internal/jsonnode"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Instruction is one edit of a raw result. The set of instructions is closed:
// Copy, Set, Remove and AddError.
type Instruction interface {
	instruction()
}

// Copy writes the value found at Subject to Destination. A missing subject writes null.
type Copy struct {
	Subject     jsonnode.Path
	Destination jsonnode.Path
}

// Set writes Value at Path.
type Set struct {
	Path  jsonnode.Path
	Value any
}

// Remove deletes the key at Path.
type Remove struct {
	Path jsonnode.Path
}

// AddError reports a GraphQL error alongside the data.
type AddError struct {
	Error *gqlerror.Error
}

func (Copy) instruction()     {}
func (Set) instruction()      {}
func (Remove) instruction()   {}
func (AddError) instruction() {}

// Apply edits data in place and returns the errors carried by AddError
// instructions. Copy subjects are read before any write; removals run after all
// writes, so the outcome does not depend on how instructions from different
// transforms are interleaved.
func Apply(data map[string]any, instructions []Instruction) []*gqlerror.Error {
	if len(instructions) == 0 {
		return nil
	}
	var root any = data

	subjects := make(map[int]any)
	for i, ins := range instructions {
		if c, ok := ins.(Copy); ok {
			if n, found := jsonnode.GetNodeAt(root, c.Subject); found {
				subjects[i] = n.Value
			}
		}
	}

	var errs []*gqlerror.Error
	var removals []Remove
	for i, ins := range instructions {
		switch in := ins.(type) {
		case Copy:
			write(root, in.Destination, subjects[i])
		case Set:
			write(root, in.Path, in.Value)
		case Remove:
			removals = append(removals, in)
		case AddError:
			if in.Error != nil {
				errs = append(errs, in.Error)
			}
		}
	}

	type target struct {
		obj map[string]any
		key string
	}
	var targets []target
	for _, r := range removals {
		if len(r.Path) == 0 {
			continue
		}
		key, ok := r.Path.Last().(string)
		if !ok {
			continue
		}
		parent, found := jsonnode.GetNodeAt(root, r.Path.DropLast())
		if !found {
			continue
		}
		if obj, ok := parent.Value.(map[string]any); ok {
			targets = append(targets, target{obj: obj, key: key})
		}
	}
	for _, t := range targets {
		delete(t.obj, t.key)
	}
	return errs
}

func write(root any, path jsonnode.Path, value any) {
	if len(path) == 0 {
		return
	}
	parent, found := jsonnode.GetNodeAt(root, path.DropLast())
	if !found {
		return
	}
	switch container := parent.Value.(type) {
	case map[string]any:
		if key, ok := path.Last().(string); ok {
			container[key] = value
		}
	case []any:
		if idx, ok := path.Last().(int); ok && idx >= 0 && idx < len(container) {
			container[idx] = value
		}
	}
}
