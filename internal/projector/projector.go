// Package projector implements pure, schema-free field selection over
// nested records using the dot-path grammar clients pass as ?fields=
// (e.g. "title,authors.name"). It works on plain
// map[string]interface{}/[]interface{} values, uses no reflection, and
// never triggers fetches.
package projector

import (
	"strings"

	scerrors "scicache-backend/internal/errors"
)

// DefaultFields is applied when a caller supplies no field expression.
var DefaultFields = []string{"paperId", "title"}

// AlwaysIncluded fields are appended to every projection regardless of
// what the caller asked for, so a projected record is always addressable
// by its id.
var AlwaysIncluded = []string{"paperId"}

// identityKeys are carried through elementwise projection so every
// projected list element stays addressable: a citation item keeps its
// paperId, an author item its authorId, whatever the requested subfields.
var identityKeys = []string{"paperId", "authorId"}

// Parse splits a comma-separated field expression into individual dot
// paths, trimming whitespace and dropping empty entries.
func Parse(expr string) []string {
	if strings.TrimSpace(expr) == "" {
		return append([]string(nil), DefaultFields...)
	}
	parts := strings.Split(expr, ",")
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fields = append(fields, p)
	}
	if len(fields) == 0 {
		return append([]string(nil), DefaultFields...)
	}
	return fields
}

// pathNode is one level of the parsed field-path forest. A node with no
// children selects the whole subtree at its position.
type pathNode map[string]pathNode

func buildForest(fields []string) pathNode {
	root := pathNode{}
	for _, path := range fields {
		node := root
		for _, seg := range strings.Split(path, ".") {
			if seg == "" {
				continue
			}
			child, ok := node[seg]
			if !ok {
				child = pathNode{}
				node[seg] = child
			}
			node = child
		}
	}
	return root
}

// Project builds a new map containing only the paths named by fields (plus
// AlwaysIncluded), read from record. record is expected to be the JSON-ish
// representation of a domain value — map[string]interface{} with nested
// maps and slices, exactly what encoding/json produces when unmarshaling
// into interface{}.
//
// A path naming a field absent from record is silently skipped: the
// resulting key is simply absent, never present with a null value. A path
// whose traversal passes through a slice projects elementwise, applying
// the remaining suffix to each element and preserving each element's
// identity keys (paperId, authorId) alongside the requested subfields.
//
// Project is idempotent: projecting an already-projected record with the
// same fields is a no-op.
func Project(record map[string]interface{}, fields []string) map[string]interface{} {
	forest := buildForest(append(append([]string{}, AlwaysIncluded...), fields...))
	out, _ := projectValue(record, forest)
	if m, ok := out.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// projectValue applies the path forest to one value. The second return
// reports whether anything at all was selected — an empty selection at a
// nested position means the parent key is omitted entirely.
func projectValue(value interface{}, node pathNode) (interface{}, bool) {
	if len(node) == 0 {
		return value, true
	}
	switch v := value.(type) {
	case map[string]interface{}:
		out := map[string]interface{}{}
		for key, child := range node {
			raw, ok := v[key]
			if !ok {
				continue
			}
			projected, ok := projectValue(raw, child)
			if !ok {
				continue
			}
			out[key] = projected
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, elem := range v {
			projected, ok := projectValue(elem, node)
			if !ok {
				// Nothing selected for this element; keep it addressable
				// via its identity keys alone.
				projected = map[string]interface{}{}
			}
			if m, isMap := projected.(map[string]interface{}); isMap {
				if src, srcIsMap := elem.(map[string]interface{}); srcIsMap {
					for _, idKey := range identityKeys {
						if idVal, has := src[idKey]; has {
							m[idKey] = idVal
						}
					}
				}
				projected = m
			}
			out = append(out, projected)
		}
		return out, true
	default:
		// A scalar cannot be descended into; the requested subpath does
		// not exist here.
		return nil, false
	}
}

// Validate rejects field expressions with empty segments (e.g. "authors..name")
// or a leading/trailing dot, which the dot-path grammar never produces.
func Validate(fields []string) error {
	for _, f := range fields {
		if f == "" {
			return scerrors.NewValidationError("empty field expression", "fields", f)
		}
		for _, seg := range strings.Split(f, ".") {
			if seg == "" {
				return scerrors.NewValidationError("malformed field path", "fields", f)
			}
		}
	}
	return nil
}
