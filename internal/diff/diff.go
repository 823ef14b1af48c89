// Package diff computes deterministic field-level diffs between the last
// applied inputs of a resource and its newly desired inputs, and classifies
// the change as in-place or replacing based on a static per-provider schema.
package diff

import (
	"reflect"
	"sort"

	"github.com/reconcilr-io/reconcilr/internal/resource"
)

// FieldSpec declares how the diff engine treats a single top-level input
// field. Nested paths inherit the spec of their top-level field.
type FieldSpec struct {
	// Replace marks the field immutable: a change to it (or anything below
	// it) forces destroy-and-recreate instead of an in-place update.
	Replace bool
}

// Schema is a provider's static declaration of field sensitivity. It is
// consulted on every diff; it is never built ad hoc per call.
type Schema struct {
	Fields map[string]FieldSpec

	// DeleteBeforeReplace indicates the resource occupies a uniquely named
	// slot in the external system, so a replacement must delete the old
	// instance before creating the new one.
	DeleteBeforeReplace bool
}

// Result is the classification of a single old/new comparison. It is
// produced fresh on every call and never mutated afterwards.
type Result struct {
	// Changes holds the changed field paths in sorted order, e.g.
	// ["description", "tags.env"].
	Changes []string `json:"changes"`

	RequiresReplace     bool `json:"requiresReplace"`
	DeleteBeforeReplace bool `json:"deleteBeforeReplace"`
}

// Empty reports whether the comparison found no changes at all.
func (r Result) Empty() bool {
	return len(r.Changes) == 0
}

// HasChange reports whether the given field path changed.
func (r Result) HasChange(path string) bool {
	for _, c := range r.Changes {
		if c == path {
			return true
		}
	}
	return false
}

// Compute compares old and new inputs field by field. Comparison is
// structural: values are normalized first so that YAML and JSON decodings
// of the same document compare equal. The result is independent of map
// iteration order.
func Compute(schema Schema, old, new map[string]any) Result {
	res := Result{}

	oldNorm, _ := resource.Normalize(old).(map[string]any)
	newNorm, _ := resource.Normalize(new).(map[string]any)

	for _, path := range changedPaths("", oldNorm, newNorm) {
		res.Changes = append(res.Changes, path)
		if schema.Fields[topLevel(path)].Replace {
			res.RequiresReplace = true
		}
	}
	sort.Strings(res.Changes)

	if res.RequiresReplace && schema.DeleteBeforeReplace {
		res.DeleteBeforeReplace = true
	}
	return res
}

// changedPaths walks both maps and returns the paths whose values differ.
// Maps recurse; everything else (scalars, lists) is compared as a whole.
func changedPaths(prefix string, old, new map[string]any) []string {
	keys := make(map[string]struct{}, len(old)+len(new))
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range new {
		keys[k] = struct{}{}
	}

	var paths []string
	for k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		oldVal, inOld := old[k]
		newVal, inNew := new[k]

		switch {
		case !inOld || !inNew:
			paths = append(paths, path)
		default:
			oldMap, oldIsMap := oldVal.(map[string]any)
			newMap, newIsMap := newVal.(map[string]any)
			if oldIsMap && newIsMap {
				paths = append(paths, changedPaths(path, oldMap, newMap)...)
			} else if !reflect.DeepEqual(oldVal, newVal) {
				paths = append(paths, path)
			}
		}
	}
	return paths
}

func topLevel(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return path[:i]
		}
	}
	return path
}
