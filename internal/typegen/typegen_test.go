package typegen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm-stack/farm/internal/schema"
)

const usersSchema = `{
  "openapi": "3.1.0",
  "info": {"title": "Users API", "version": "0.3.0"},
  "paths": {
    "/users": {
      "get": {
        "operationId": "list-users",
        "summary": "List users",
        "parameters": [{"name": "limit", "in": "query", "schema": {"type": "integer"}}],
        "responses": {"200": {"description": "ok", "content": {"application/json": {"schema": {"type": "array", "items": {"$ref": "#/components/schemas/User"}}}}}}
      },
      "post": {
        "operationId": "create-user",
        "requestBody": {"required": true, "content": {"application/json": {"schema": {"$ref": "#/components/schemas/UserCreate"}}}},
        "responses": {"201": {"description": "created", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/User"}}}}}
      }
    },
    "/users/{user_id}": {
      "parameters": [{"name": "user_id", "in": "path", "required": true, "schema": {"type": "string"}}],
      "delete": {"operationId": "delete", "responses": {"204": {"description": "deleted"}}}
    },
    "/api/ai/chat": {
      "post": {
        "operationId": "ai-chat",
        "tags": ["ai"],
        "requestBody": {"required": true, "content": {"application/json": {"schema": {"$ref": "#/components/schemas/ChatRequest"}}}},
        "responses": {"200": {"description": "stream", "content": {"text/event-stream": {"schema": {"type": "string"}}}}}
      }
    }
  },
  "components": {"schemas": {
    "User": {
      "type": "object",
      "description": "A registered user",
      "required": ["id", "email"],
      "properties": {
        "$schema": {"type": "string"},
        "id": {"type": "string"},
        "email": {"type": "string", "description": "Primary address"},
        "nickname": {"type": ["string", "null"]},
        "roles": {"type": "array", "items": {"$ref": "#/components/schemas/Role"}}
      }
    },
    "UserCreate": {"type": "object", "required": ["email"], "properties": {"email": {"type": "string"}}},
    "Role": {"type": "string", "enum": ["admin", "member"]},
    "ChatRequest": {"type": "object", "required": ["prompt"], "properties": {"prompt": {"type": "string"}, "model-name": {"type": "string"}}}
  }}
}`

func loadDoc(t *testing.T, s string) *schema.Document {
	t.Helper()
	d, err := schema.Parse([]byte(s))
	require.NoError(t, err)
	return d
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		name     string
		features Features
		want     []Kind
	}{
		{"nothing", Features{}, []Kind{KindTypes}},
		{"client only", Features{Client: true}, []Kind{KindTypes, KindClient}},
		{"hooks only", Features{Hooks: true}, []Kind{KindTypes, KindHooks}},
		{"ai without hooks", Features{Client: true, AI: true}, []Kind{KindTypes, KindClient}},
		{"everything", Features{Client: true, Hooks: true, Streaming: true, AI: true}, []Kind{KindTypes, KindClient, KindHooks, KindAIHooks}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []Kind
			for _, g := range DefaultRegistry().Plan(tt.features) {
				got = append(got, g.Kind())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeGenerator struct {
	kind  Kind
	calls int
	err   error
}

func (f *fakeGenerator) Kind() Kind { return f.kind }

func (f *fakeGenerator) Generate(_ context.Context, _ *schema.Document, opts Options) (Artifact, error) {
	f.calls++
	if f.err != nil {
		return Artifact{}, f.err
	}
	return Artifact{Kind: f.kind, Path: filepath.Join(opts.OutputDir, f.kind.FileName())}, nil
}

func TestRunFailsFast(t *testing.T) {
	types := &fakeGenerator{kind: KindTypes}
	clientGen := &fakeGenerator{kind: KindClient, err: errors.New("template exploded")}
	hooks := &fakeGenerator{kind: KindHooks}
	aiHooks := &fakeGenerator{kind: KindAIHooks}

	r, err := NewRegistry(types, clientGen, hooks, aiHooks)
	require.NoError(t, err)

	artifacts, err := r.Run(context.Background(), loadDoc(t, usersSchema), Options{
		OutputDir: "out",
		Features:  Features{Client: true, Hooks: true, AI: true},
	}, nil)

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, KindClient, genErr.Kind)
	assert.Contains(t, err.Error(), "client generator failed")

	assert.Equal(t, 1, types.calls)
	assert.Equal(t, 1, clientGen.calls)
	assert.Equal(t, 0, hooks.calls)
	assert.Equal(t, 0, aiHooks.calls)
	require.Len(t, artifacts, 1)
	assert.Equal(t, KindTypes, artifacts[0].Kind)
}

func TestRunOrder(t *testing.T) {
	var order []Kind
	gens := []*fakeGenerator{{kind: KindAIHooks}, {kind: KindHooks}, {kind: KindClient}, {kind: KindTypes}}
	r, err := NewRegistry(gens[0], gens[1], gens[2], gens[3])
	require.NoError(t, err)

	_, err = r.Run(context.Background(), loadDoc(t, usersSchema), Options{
		Features: Features{Client: true, Hooks: true, AI: true},
	}, func(a Artifact) { order = append(order, a.Kind) })
	require.NoError(t, err)
	assert.Equal(t, Kinds, order)
}

func TestRegisterRejectsUnknownKind(t *testing.T) {
	_, err := NewRegistry(&fakeGenerator{kind: Kind(9)})
	assert.Error(t, err)
}

func TestBuiltinGenerators(t *testing.T) {
	dir := t.TempDir()
	doc := loadDoc(t, usersSchema)
	opts := Options{
		OutputDir: filepath.Join(dir, "generated"),
		Features:  Features{Client: true, Hooks: true, Streaming: true, AI: true},
		APIPrefix: "/api/",
	}

	artifacts, err := DefaultRegistry().Run(context.Background(), doc, opts, nil)
	require.NoError(t, err)
	require.Len(t, artifacts, 4)

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(opts.OutputDir, name))
		require.NoError(t, err)
		return string(data)
	}

	types := read("types.ts")
	assert.Contains(t, types, "export interface User {")
	assert.Contains(t, types, "/** A registered user */")
	assert.Contains(t, types, "  email: string;")
	assert.Contains(t, types, "  nickname?: string | null;")
	assert.Contains(t, types, "  roles?: Role[];")
	assert.Contains(t, types, `export type Role = "admin" | "member";`)
	assert.Contains(t, types, `  "model-name"?: string;`)
	assert.NotContains(t, types, "$schema")

	client := read("client.ts")
	assert.Contains(t, client, `let baseUrl = "/api";`)
	assert.Contains(t, client, "export function listUsers(args: ListUsersArgs, options?: RequestOptions): Promise<T.User[]>")
	assert.Contains(t, client, "export type ListUsersArgs = { query?: { limit?: number } };")
	assert.Contains(t, client, "export type CreateUserArgs = { body: T.UserCreate };")
	assert.Contains(t, client, "export function deleteOp(args: DeleteOpArgs")
	assert.Contains(t, client, "${encodeURIComponent(String(args.params.userId))}")
	assert.Contains(t, client, "export function streamAiChat(")

	hooks := read("hooks.ts")
	assert.Contains(t, hooks, "export function useListUsers(args: client.ListUsersArgs")
	assert.Contains(t, hooks, "export function useCreateUser()")
	assert.Contains(t, hooks, "export function useAiChatStream()")

	aiHooks := read("ai-hooks.ts")
	assert.Contains(t, aiHooks, `{ name: "aiChat", method: "POST", path: "/api/ai/chat", streaming: true }`)
	assert.Contains(t, aiHooks, "export function useAIAiChatStream()")
	assert.NotContains(t, aiHooks, "listUsers")

	for _, a := range artifacts {
		assert.Positive(t, a.Bytes)
		assert.Equal(t, filepath.Join(opts.OutputDir, a.Kind.FileName()), a.Path)
	}
}

func TestStreamingFeatureGatesStreamHelpers(t *testing.T) {
	doc := loadDoc(t, usersSchema)
	opts := Options{Features: Features{Client: true, Hooks: true}}

	client, err := NewClientGenerator().Render(doc, opts)
	require.NoError(t, err)
	assert.NotContains(t, string(client), "streamRequest")

	hooks, err := NewHooksGenerator().Render(doc, opts)
	require.NoError(t, err)
	assert.NotContains(t, string(hooks), "Stream()")
}

func TestRenderIsDeterministic(t *testing.T) {
	doc := loadDoc(t, usersSchema)
	opts := Options{Features: Features{Client: true, Hooks: true, Streaming: true, AI: true}}

	for _, g := range []*TemplateGenerator{NewTypesGenerator(), NewClientGenerator(), NewHooksGenerator(), NewAIHooksGenerator()} {
		first, err := g.Render(doc, opts)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := g.Render(doc, opts)
			require.NoError(t, err)
			assert.Equal(t, string(first), string(again), g.Kind().String())
		}
	}
}

func TestAIHooksWithoutAIRoutes(t *testing.T) {
	doc := loadDoc(t, `{"openapi":"3.1.0","info":{"title":"x","version":"1"},"paths":{"/ping":{"get":{}}}}`)
	out, err := NewAIHooksGenerator().Render(doc, Options{Features: Features{Hooks: true, AI: true}})
	require.NoError(t, err)
	assert.Contains(t, string(out), "export const aiRoutes = [] as const;")
	assert.NotContains(t, string(out), "import")
}

func TestGenerateCreatesOutputDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	a, err := NewTypesGenerator().Generate(context.Background(), loadDoc(t, usersSchema), Options{OutputDir: dir})
	require.NoError(t, err)
	_, err = os.Stat(a.Path)
	assert.NoError(t, err)
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "listUsers", camelCase("list-users"))
	assert.Equal(t, "getUsersUserId", camelCase("get /users/{user_id}"))
	assert.Equal(t, "HttpServerId", pascalCase("HTTPServerID"))
	assert.Equal(t, "V2Api", pascalCase("v2_api"))
	assert.Equal(t, "UserOut", typeName("UserOut"))
	assert.Equal(t, "ErrorModel", typeName("error-model"))
	assert.Equal(t, `"model-name"`, propertyKey("model-name"))
	assert.Equal(t, `a *\/ b`, cleanDescription("a */\n   b"))
}
