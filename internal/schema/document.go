// Package schema holds the API schema document that flows through a sync cycle.
package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Methods lists the HTTP methods an OpenAPI path item may define, in emission order.
var Methods = []string{"get", "post", "put", "patch", "delete", "head", "options", "trace"}

// Document is an immutable, decoded schema. Accessors hand out copies.
type Document struct {
	raw map[string]any
}

// Parse decodes a JSON schema document. The top level must be an object.
func Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, "schema is not valid JSON")
	}
	if dec.More() {
		return nil, errors.New("schema contains trailing data after the JSON document")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.Newf("schema must be a JSON object, got %T", v)
	}
	normalizeNumbers(m)
	return &Document{raw: m}, nil
}

// normalizeNumbers rewrites every number to its shortest form in place, so
// 1, 1.0 and 1e0 hash and compare the same.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
	case json.Number:
		return normalizeNumber(t)
	}
	return v
}

func normalizeNumber(n json.Number) json.Number {
	if i, err := n.Int64(); err == nil {
		return json.Number(strconv.FormatInt(i, 10))
	}
	f, err := n.Float64()
	if err != nil {
		return n
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return json.Number(strconv.FormatInt(int64(f), 10))
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
}

// FromMap builds a document from an already decoded object. The map is copied.
func FromMap(m map[string]any) *Document {
	return &Document{raw: copyMap(m)}
}

// Map returns a deep copy of the document.
func (d *Document) Map() map[string]any {
	return copyMap(d.raw)
}

// Get returns a copy of a top-level field.
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.raw[key]
	return copyValue(v), ok
}

// Canonical serialises the document with object keys sorted at every depth.
// Numbers were normalised by Parse.
func (d *Document) Canonical() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d.raw); err != nil {
		return nil, errors.Wrap(err, "canonicalising schema")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash is the hex sha256 of the canonical form.
func (d *Document) Hash() string {
	data, err := d.Canonical()
	if err != nil {
		// Decoded JSON always re-encodes; a failure here means the map was corrupted.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two documents are structurally identical.
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Hash() == other.Hash()
}

// MarshalJSON implements json.Marshaler using the canonical form.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.Canonical()
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	d.raw = parsed.raw
	return nil
}

// Info returns the title and version from the info object, if present.
func (d *Document) Info() (title, version string) {
	info, _ := d.raw["info"].(map[string]any)
	title, _ = info["title"].(string)
	version, _ = info["version"].(string)
	return title, version
}

// Operation is a single method on a path.
type Operation struct {
	Path   string
	Method string
	Spec   map[string]any
	// Shared holds path-level fields (parameters) inherited by the operation.
	Shared map[string]any
}

// ID returns the operationId or a stable fallback built from method and path.
func (o Operation) ID() string {
	if id, ok := o.Spec["operationId"].(string); ok && id != "" {
		return id
	}
	return o.Method + " " + o.Path
}

// Operations lists every operation sorted by path, then by method order.
func (d *Document) Operations() []Operation {
	paths, _ := d.raw["paths"].(map[string]any)
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	var ops []Operation
	for _, p := range keys {
		item, ok := paths[p].(map[string]any)
		if !ok {
			continue
		}
		shared := map[string]any{}
		if params, ok := item["parameters"]; ok {
			shared["parameters"] = copyValue(params)
		}
		for _, m := range Methods {
			spec, ok := item[m].(map[string]any)
			if !ok {
				continue
			}
			ops = append(ops, Operation{
				Path:   p,
				Method: m,
				Spec:   copyMap(spec),
				Shared: shared,
			})
		}
	}
	return ops
}

// RouteCount returns the number of operations across all paths.
func (d *Document) RouteCount() int {
	return len(d.Operations())
}

// ComponentSchemas returns a copy of components.schemas.
func (d *Document) ComponentSchemas() map[string]any {
	components, _ := d.raw["components"].(map[string]any)
	schemas, _ := components["schemas"].(map[string]any)
	return copyMap(schemas)
}

// RefName extracts the component name from a local "#/components/schemas/X" reference.
func RefName(ref string) string {
	const prefix = "#/components/schemas/"
	if strings.HasPrefix(ref, prefix) {
		return ref[len(prefix):]
	}
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return t
	}
}
