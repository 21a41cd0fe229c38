// Package differ compares schema documents and generated output trees.
package differ

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/farm-stack/farm/internal/schema"
)

// ChangeKind classifies a schema change.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Removed  ChangeKind = "removed"
	Modified ChangeKind = "modified"
)

// Change is one structural difference between two documents.
type Change struct {
	Kind ChangeKind `json:"kind"`
	// Path is the key path from the document root.
	Path    []string `json:"path"`
	Summary string   `json:"summary"`
}

func (c Change) String() string { return c.Summary }

// HasSchemaChanges reports whether next differs structurally from prev.
// Key order never matters; every field value does. A nil prev counts as changed.
func HasSchemaChanges(prev, next *schema.Document) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	return differs(prev.Map(), next.Map())
}

// Changes lists every difference between prev and next, ordered by path.
func Changes(prev, next *schema.Document) []Change {
	var a, b any
	if prev != nil {
		a = prev.Map()
	}
	if next != nil {
		b = next.Map()
	}
	var out []Change
	walk(nil, a, b, &out)
	return out
}

func differs(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return true
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || differs(x, y) {
				return true
			}
		}
		return false
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return true
		}
		for i := range av {
			if differs(av[i], bv[i]) {
				return true
			}
		}
		return false
	default:
		return !reflect.DeepEqual(a, b)
	}
}

func walk(path []string, a, b any, out *[]Change) {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if !aIsMap || !bIsMap {
		if !differs(a, b) {
			return
		}
		kind := Modified
		switch {
		case a == nil && b != nil:
			kind = Added
		case a != nil && b == nil:
			kind = Removed
		}
		// arrays are compared as a whole
		*out = append(*out, newChange(kind, path))
		return
	}

	keys := make([]string, 0, len(am)+len(bm))
	for k := range am {
		keys = append(keys, k)
	}
	for k := range bm {
		if _, ok := am[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		child := append(append([]string(nil), path...), k)
		x, inA := am[k]
		y, inB := bm[k]
		switch {
		case !inA:
			*out = append(*out, newChange(Added, child))
		case !inB:
			*out = append(*out, newChange(Removed, child))
		default:
			walk(child, x, y, out)
		}
	}
}

func newChange(kind ChangeKind, path []string) Change {
	return Change{Kind: kind, Path: path, Summary: describe(kind, path)}
}

var verbs = map[ChangeKind]string{
	Added:    "added",
	Removed:  "removed",
	Modified: "changed",
}

func isMethod(s string) bool {
	for _, m := range schema.Methods {
		if m == s {
			return true
		}
	}
	return false
}

func describe(kind ChangeKind, path []string) string {
	verb := verbs[kind]
	switch {
	case len(path) == 2 && path[0] == "paths":
		return fmt.Sprintf("%s path %s", verb, path[1])
	case len(path) == 3 && path[0] == "paths" && isMethod(path[2]):
		return fmt.Sprintf("%s endpoint %s %s", verb, strings.ToUpper(path[2]), path[1])
	case len(path) > 3 && path[0] == "paths" && isMethod(path[2]):
		return fmt.Sprintf("changed %s %s: %s %s", strings.ToUpper(path[2]), path[1], verb, strings.Join(path[3:], "."))
	case len(path) > 2 && path[0] == "paths":
		return fmt.Sprintf("changed path %s: %s %s", path[1], verb, strings.Join(path[2:], "."))
	case len(path) == 3 && path[0] == "components" && path[1] == "schemas":
		return fmt.Sprintf("%s type %s", verb, path[2])
	case len(path) > 3 && path[0] == "components" && path[1] == "schemas":
		return fmt.Sprintf("changed type %s: %s %s", path[2], verb, strings.Join(path[3:], "."))
	case len(path) == 0:
		return verb + " schema"
	default:
		return fmt.Sprintf("%s %s", verb, strings.Join(path, "."))
	}
}
