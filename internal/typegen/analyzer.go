package typegen

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/farm-stack/farm/internal/schema"
)

// Schema is the subset of an OpenAPI schema object the generators understand.
type Schema struct {
	Type                 interface{}       `json:"type,omitempty"` // string, or an array in OpenAPI 3.1
	Properties           map[string]Schema `json:"properties,omitempty"`
	Items                *Schema           `json:"items,omitempty"`
	Required             []string          `json:"required,omitempty"`
	Description          string            `json:"description,omitempty"`
	Enum                 []interface{}     `json:"enum,omitempty"`
	AdditionalProperties interface{}       `json:"additionalProperties,omitempty"`
	Ref                  string            `json:"$ref,omitempty"`
	Format               string            `json:"format,omitempty"`
	Nullable             bool              `json:"nullable,omitempty"`
	AllOf                []Schema          `json:"allOf,omitempty"`
	OneOf                []Schema          `json:"oneOf,omitempty"`
	AnyOf                []Schema          `json:"anyOf,omitempty"`
}

type operation struct {
	OperationID string                    `json:"operationId,omitempty"`
	Summary     string                    `json:"summary,omitempty"`
	Description string                    `json:"description,omitempty"`
	Tags        []string                  `json:"tags,omitempty"`
	Parameters  []parameter               `json:"parameters,omitempty"`
	RequestBody *requestBody              `json:"requestBody,omitempty"`
	Responses   map[string]responseObject `json:"responses,omitempty"`
	Streaming   bool                      `json:"x-streaming,omitempty"`
}

type parameter struct {
	Name        string  `json:"name"`
	In          string  `json:"in"`
	Required    bool    `json:"required"`
	Description string  `json:"description,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

type requestBody struct {
	Description string                     `json:"description,omitempty"`
	Required    bool                       `json:"required"`
	Content     map[string]mediaTypeObject `json:"content"`
}

type responseObject struct {
	Description string                     `json:"description"`
	Content     map[string]mediaTypeObject `json:"content,omitempty"`
}

type mediaTypeObject struct {
	Schema *Schema `json:"schema,omitempty"`
}

// Param is a path or query parameter of a route.
type Param struct {
	Name     string
	Key      string // property key in the generated args object
	Type     string
	Required bool
}

// Route is one API operation prepared for emission.
type Route struct {
	Method      string // upper case
	Path        string
	OperationID string
	FuncName    string // camelCase client function
	TypeName    string // PascalCase stem for hooks and arg types
	Description string
	Tags        []string

	PathParams   []Param
	QueryParams  []Param
	RequestType  string // "" when the operation has no body
	BodyOptional bool
	ResponseType string

	Streaming bool
	AI        bool
}

// HasArgs reports whether the client function takes an args object.
func (r Route) HasArgs() bool {
	return len(r.PathParams) > 0 || len(r.QueryParams) > 0 || r.RequestType != ""
}

// IsQuery reports whether the route maps to a query hook rather than a mutation.
func (r Route) IsQuery() bool {
	return r.Method == "GET" || r.Method == "HEAD"
}

// ArgsName is the exported TypeScript name of the args object type.
func (r Route) ArgsName() string { return r.TypeName + "Args" }

// ArgsType renders the TypeScript shape of the args object.
func (r Route) ArgsType() string {
	var parts []string
	if len(r.PathParams) > 0 {
		parts = append(parts, "params: "+objectType(r.PathParams))
	}
	if len(r.QueryParams) > 0 {
		optional := "?"
		for _, q := range r.QueryParams {
			if q.Required {
				optional = ""
			}
		}
		parts = append(parts, "query"+optional+": "+objectType(r.QueryParams))
	}
	if r.RequestType != "" {
		optional := ""
		if r.BodyOptional {
			optional = "?"
		}
		parts = append(parts, "body"+optional+": "+r.RequestType)
	}
	return "{ " + strings.Join(parts, "; ") + " }"
}

// PathExpr renders the request path as a TypeScript template literal.
func (r Route) PathExpr() string {
	if len(r.PathParams) == 0 {
		return quote(r.Path)
	}
	out := r.Path
	for _, p := range r.PathParams {
		out = strings.ReplaceAll(out, "{"+p.Name+"}",
			fmt.Sprintf("${encodeURIComponent(String(args.params.%s))}", p.Key))
	}
	return "`" + out + "`"
}

// BodyExpr is the request body argument passed to the transport helper.
func (r Route) BodyExpr() string {
	if r.RequestType == "" {
		return "undefined"
	}
	return "args.body"
}

// QueryExpr is the query argument passed to the transport helper.
func (r Route) QueryExpr() string {
	if len(r.QueryParams) == 0 {
		return "undefined"
	}
	return "args.query"
}

func objectType(params []Param) string {
	fields := make([]string, len(params))
	for i, p := range params {
		opt := "?"
		if p.Required {
			opt = ""
		}
		fields[i] = fmt.Sprintf("%s%s: %s", p.Key, opt, p.Type)
	}
	return "{ " + strings.Join(fields, "; ") + " }"
}

// Field is a property of an emitted interface.
type Field struct {
	Name        string
	Type        string
	Optional    bool
	Description string
}

// TypeDefinition is one emitted type declaration.
type TypeDefinition struct {
	Name        string
	Description string
	Fields      []Field
	IsEnum      bool
	EnumValues  []string
	// Alias is set for schemas that are not plain objects.
	Alias string
}

// Analysis is the generator-facing view of a schema document.
type Analysis struct {
	Title     string
	Version   string
	Hash      string
	Routes    []Route
	TypeDefs  []TypeDefinition
	APIPrefix string
}

// ShortHash is the first 12 characters of the schema hash.
func (a *Analysis) ShortHash() string {
	if len(a.Hash) > 12 {
		return a.Hash[:12]
	}
	return a.Hash
}

// AIRoutes returns routes under an AI path or tagged "ai".
func (a *Analysis) AIRoutes() []Route {
	var out []Route
	for _, r := range a.Routes {
		if r.AI {
			out = append(out, r)
		}
	}
	return out
}

// StreamingRoutes returns routes that answer with an event stream.
func (a *Analysis) StreamingRoutes() []Route {
	var out []Route
	for _, r := range a.Routes {
		if r.Streaming {
			out = append(out, r)
		}
	}
	return out
}

// Analyze converts a schema document into routes and type definitions.
// Output ordering is fully determined by the document.
func Analyze(doc *schema.Document) (*Analysis, error) {
	title, version := doc.Info()
	analysis := &Analysis{
		Title:   title,
		Version: version,
		Hash:    doc.Hash(),
	}

	used := map[string]int{}
	for _, op := range doc.Operations() {
		var spec operation
		if err := decode(op.Spec, &spec); err != nil {
			return nil, errors.Wrapf(err, "operation %s %s", strings.ToUpper(op.Method), op.Path)
		}
		var shared []parameter
		if params, ok := op.Shared["parameters"]; ok {
			if err := decode(params, &shared); err != nil {
				return nil, errors.Wrapf(err, "parameters of path %s", op.Path)
			}
		}
		route := buildRoute(op, spec, mergeParameters(shared, spec.Parameters))

		// operation ids are not required to be unique across documents we accept
		used[route.FuncName]++
		if n := used[route.FuncName]; n > 1 {
			route.FuncName = fmt.Sprintf("%s%d", route.FuncName, n)
			route.TypeName = fmt.Sprintf("%s%d", route.TypeName, n)
		}
		analysis.Routes = append(analysis.Routes, route)
	}

	schemas := map[string]Schema{}
	if err := decode(doc.ComponentSchemas(), &schemas); err != nil {
		return nil, errors.Wrap(err, "components.schemas")
	}
	analysis.TypeDefs = extractTypeDefinitions(schemas)

	return analysis, nil
}

func decode(in any, out any) error {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// mergeParameters lets operation parameters override path-level ones with the same name and location.
func mergeParameters(shared, own []parameter) []parameter {
	seen := map[string]bool{}
	var out []parameter
	for _, p := range own {
		seen[p.In+":"+p.Name] = true
		out = append(out, p)
	}
	for _, p := range shared {
		if !seen[p.In+":"+p.Name] {
			out = append(out, p)
		}
	}
	return out
}

func buildRoute(op schema.Operation, spec operation, params []parameter) Route {
	stem := spec.OperationID
	if stem == "" {
		stem = op.Method + " " + op.Path
	}
	funcName := camelCase(stem)
	if funcName == "" {
		funcName = "operation"
	}
	if reserved[funcName] {
		funcName += "Op"
	}

	route := Route{
		Method:       strings.ToUpper(op.Method),
		Path:         op.Path,
		OperationID:  spec.OperationID,
		FuncName:     funcName,
		TypeName:     capitalize(funcName),
		Description:  buildRouteDescription(spec),
		Tags:         spec.Tags,
		ResponseType: "void",
		Streaming:    spec.Streaming,
		AI:           isAIRoute(op.Path, spec.Tags),
	}

	for _, p := range params {
		param := Param{
			Name:     p.Name,
			Key:      propertyKey(p.Name),
			Type:     "string",
			Required: p.Required,
		}
		if p.Schema != nil {
			param.Type = tsType(*p.Schema, "T.")
		}
		switch p.In {
		case "path":
			param.Required = true
			param.Key = camelCase(p.Name)
			route.PathParams = append(route.PathParams, param)
		case "query":
			route.QueryParams = append(route.QueryParams, param)
		}
	}

	if spec.RequestBody != nil {
		if s := pickMedia(spec.RequestBody.Content); s != nil {
			route.RequestType = tsType(*s, "T.")
		} else {
			route.RequestType = "unknown"
		}
		route.BodyOptional = !spec.RequestBody.Required
	}

	for _, code := range []string{"200", "201", "202", "203", "206"} {
		resp, ok := spec.Responses[code]
		if !ok {
			continue
		}
		if _, ok := resp.Content["text/event-stream"]; ok {
			route.Streaming = true
			route.ResponseType = "string"
			break
		}
		if s := pickMedia(resp.Content); s != nil {
			route.ResponseType = tsType(*s, "T.")
		}
		break
	}

	return route
}

// pickMedia prefers JSON media types and falls back to the first one by name.
func pickMedia(content map[string]mediaTypeObject) *Schema {
	if m, ok := content["application/json"]; ok && m.Schema != nil {
		return m.Schema
	}
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.HasSuffix(k, "+json") && content[k].Schema != nil {
			return content[k].Schema
		}
	}
	return nil
}

func isAIRoute(path string, tags []string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, "ai") {
			return true
		}
	}
	for _, seg := range strings.Split(path, "/") {
		if strings.EqualFold(seg, "ai") {
			return true
		}
	}
	return false
}

func buildRouteDescription(op operation) string {
	if op.Summary != "" {
		return cleanDescription(op.Summary)
	}
	return cleanDescription(op.Description)
}

// typeStrings returns the declared types, handling the 3.1 array form.
func typeStrings(t interface{}) []string {
	switch v := t.(type) {
	case string:
		return []string{v}
	case []interface{}:
		var out []string
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// tsType converts a schema into a TypeScript type expression. refPrefix qualifies
// component references for files that import types through a namespace.
func tsType(s Schema, refPrefix string) string {
	var base string
	nullable := s.Nullable

	switch {
	case s.Ref != "":
		base = refPrefix + typeName(schema.RefName(s.Ref))
	case len(s.AllOf) > 0:
		base = joinTypes(s.AllOf, " & ", refPrefix)
	case len(s.OneOf) > 0:
		base = joinTypes(s.OneOf, " | ", refPrefix)
	case len(s.AnyOf) > 0:
		base = joinTypes(s.AnyOf, " | ", refPrefix)
	case len(s.Enum) > 0:
		base = enumUnion(s.Enum)
	default:
		var parts []string
		for _, t := range typeStrings(s.Type) {
			if t == "null" {
				nullable = true
				continue
			}
			parts = append(parts, primitive(t, s, refPrefix))
		}
		switch len(parts) {
		case 0:
			if len(s.Properties) > 0 {
				base = primitive("object", s, refPrefix)
			} else {
				base = "unknown"
			}
		case 1:
			base = parts[0]
		default:
			base = strings.Join(parts, " | ")
		}
	}

	if nullable && base != "unknown" {
		return base + " | null"
	}
	return base
}

func primitive(t string, s Schema, refPrefix string) string {
	switch t {
	case "string":
		if s.Format == "binary" {
			return "Blob"
		}
		return "string"
	case "number", "integer":
		return "number"
	case "boolean":
		return "boolean"
	case "array":
		if s.Items == nil {
			return "unknown[]"
		}
		item := tsType(*s.Items, refPrefix)
		if strings.ContainsAny(item, " |&") {
			return "Array<" + item + ">"
		}
		return item + "[]"
	case "object":
		if len(s.Properties) > 0 {
			return inlineObject(s, refPrefix)
		}
		return recordType(s, refPrefix)
	default:
		return "unknown"
	}
}

func recordType(s Schema, refPrefix string) string {
	if m, ok := s.AdditionalProperties.(map[string]interface{}); ok {
		var inner Schema
		if err := decode(m, &inner); err == nil {
			return "Record<string, " + tsType(inner, refPrefix) + ">"
		}
	}
	return "Record<string, unknown>"
}

func inlineObject(s Schema, refPrefix string) string {
	fields := objectFields(s, refPrefix)
	parts := make([]string, len(fields))
	for i, f := range fields {
		opt := ""
		if f.Optional {
			opt = "?"
		}
		parts[i] = fmt.Sprintf("%s%s: %s", f.Name, opt, f.Type)
	}
	return "{ " + strings.Join(parts, "; ") + " }"
}

func joinTypes(schemas []Schema, sep, refPrefix string) string {
	parts := make([]string, len(schemas))
	for i, s := range schemas {
		parts[i] = tsType(s, refPrefix)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func enumUnion(values []interface{}) string {
	parts := enumLiterals(values)
	return strings.Join(parts, " | ")
}

func enumLiterals(values []interface{}) []string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case string:
			parts = append(parts, quote(t))
		case nil:
			parts = append(parts, "null")
		default:
			parts = append(parts, fmt.Sprintf("%v", t))
		}
	}
	return parts
}

func objectFields(s Schema, refPrefix string) []Field {
	var fields []Field
	for name, prop := range s.Properties {
		// huma adds a $schema link to every body
		if name == "$schema" {
			continue
		}
		fields = append(fields, Field{
			Name:        propertyKey(name),
			Type:        tsType(prop, refPrefix),
			Optional:    !contains(s.Required, name),
			Description: cleanDescription(prop.Description),
		})
	}
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].Name < fields[j].Name
	})
	return fields
}

func extractTypeDefinitions(schemas map[string]Schema) []TypeDefinition {
	var typeDefs []TypeDefinition
	for name, s := range schemas {
		// Skip internal OpenAPI types (those with $ in the name)
		if strings.Contains(name, "$") {
			continue
		}
		typeDefs = append(typeDefs, convertSchemaToTypeDef(typeName(name), s))
	}

	sort.Slice(typeDefs, func(i, j int) bool {
		return typeDefs[i].Name < typeDefs[j].Name
	})
	return typeDefs
}

func convertSchemaToTypeDef(name string, s Schema) TypeDefinition {
	def := TypeDefinition{
		Name:        name,
		Description: cleanDescription(s.Description),
	}

	switch {
	case len(s.Enum) > 0:
		def.IsEnum = true
		def.EnumValues = enumLiterals(s.Enum)
	case len(s.Properties) > 0 && len(s.AllOf) == 0 && len(s.OneOf) == 0 && len(s.AnyOf) == 0 &&
		!s.Nullable && !contains(typeStrings(s.Type), "null"):
		def.Fields = objectFields(s, "")
	default:
		def.Alias = tsType(s, "")
	}
	return def
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
