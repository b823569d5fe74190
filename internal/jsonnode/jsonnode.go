// Package jsonnode locates values inside decoded JSON results by query path.
package jsonnode

import (
	"fmt"
	"strings"

	"github.com/hanpama/fedgate/internal/normalized"
)

// Path is a result path. Segments are string keys or int list indices.
type Path []any

func (p Path) Plus(segment any) Path {
	out := make(Path, 0, len(p)+1)
	out = append(out, p...)
	return append(out, segment)
}

func (p Path) Concat(o Path) Path {
	out := make(Path, 0, len(p)+len(o))
	out = append(out, p...)
	return append(out, o...)
}

func (p Path) DropLast() Path {
	if len(p) == 0 {
		return nil
	}
	return append(Path(nil), p[:len(p)-1]...)
}

func (p Path) Last() any {
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1]
}

// String renders the path as "a/0/b".
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = fmt.Sprint(seg)
	}
	return strings.Join(parts, "/")
}

// Node is a value found at a result path.
type Node struct {
	Path  Path
	Value any
}

// GetNodesAt follows queryPath from root. With flatten, lists found along the way
// (including at the final segment) are expanded element by element in list order.
// Absent keys and non-container values end the walk without producing nodes.
func GetNodesAt(root any, queryPath normalized.QueryPath, flatten bool) []Node {
	var out []Node
	collect(Node{Path: Path{}, Value: root}, queryPath, flatten, &out)
	return out
}

func collect(n Node, rest normalized.QueryPath, flatten bool, out *[]Node) {
	if list, ok := n.Value.([]any); ok && flatten {
		for i, item := range list {
			collect(Node{Path: n.Path.Plus(i), Value: item}, rest, flatten, out)
		}
		return
	}
	if len(rest) == 0 {
		*out = append(*out, n)
		return
	}
	obj, ok := n.Value.(map[string]any)
	if !ok {
		return
	}
	next, ok := obj[rest[0]]
	if !ok {
		return
	}
	collect(Node{Path: n.Path.Plus(rest[0]), Value: next}, rest[1:], flatten, out)
}

// GetNodeAt returns the value at an exact result path.
func GetNodeAt(root any, path Path) (Node, bool) {
	cur := root
	for _, seg := range path {
		switch s := seg.(type) {
		case string:
			obj, ok := cur.(map[string]any)
			if !ok {
				return Node{}, false
			}
			v, ok := obj[s]
			if !ok {
				return Node{}, false
			}
			cur = v
		case int:
			list, ok := cur.([]any)
			if !ok || s < 0 || s >= len(list) {
				return Node{}, false
			}
			cur = list[s]
		default:
			return Node{}, false
		}
	}
	return Node{Path: append(Path(nil), path...), Value: cur}, true
}

// FromAny converts a decoded JSON path (strings and float64 indices) into a Path.
func FromAny(raw []any) Path {
	out := make(Path, 0, len(raw))
	for _, seg := range raw {
		switch s := seg.(type) {
		case float64:
			out = append(out, int(s))
		case int64:
			out = append(out, int(s))
		default:
			out = append(out, seg)
		}
	}
	return out
}
