// Package fixture is a small FARM-style API used by `farm demo-api` and by tests
// as a schema source. It can be mounted on the standard library mux, gin, echo or fiber.
package fixture

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// Options shape the exposed schema.
type Options struct {
	Title   string
	Version string
	// Posts adds the /api/posts endpoints, changing the schema.
	Posts bool
	// AI adds the streaming chat endpoint under /api/ai.
	AI bool
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = "FARM Demo API"
	}
	if o.Version == "" {
		o.Version = "1.0.0"
	}
	return o
}

// Config returns the huma configuration for opts. The schema is served at /openapi.json.
func Config(opts Options) huma.Config {
	opts = opts.withDefaults()
	config := huma.DefaultConfig(opts.Title, opts.Version)
	config.Info.Description = "Sample backend for FARM type synchronisation"
	return config
}

type User struct {
	ID        string    `json:"id" doc:"User identifier"`
	Email     string    `json:"email" format:"email" doc:"Primary address"`
	Name      string    `json:"name"`
	Role      string    `json:"role" enum:"admin,member"`
	CreatedAt time.Time `json:"created_at"`
}

type UserCreate struct {
	Email string `json:"email" format:"email"`
	Name  string `json:"name" minLength:"1"`
	Role  string `json:"role,omitempty" enum:"admin,member" default:"member"`
}

type Post struct {
	ID       string `json:"id"`
	AuthorID string `json:"author_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

type ChatRequest struct {
	Prompt string `json:"prompt" minLength:"1"`
	Model  string `json:"model,omitempty"`
}

type HealthOutput struct {
	Body struct {
		Status  string `json:"status" example:"ok" doc:"Service status"`
		Version string `json:"version,omitempty"`
	}
}

type UserListOutput struct {
	Body []User
}

type UserOutput struct {
	Body User
}

type PostListOutput struct {
	Body []Post
}

// store is an in-memory user and post repository.
type store struct {
	mu    sync.Mutex
	users map[string]User
	posts []Post
	seq   int
}

func newStore() *store {
	s := &store{users: make(map[string]User)}
	s.addUser(UserCreate{Email: "ada@example.com", Name: "Ada", Role: "admin"})
	return s
}

func (s *store) addUser(in UserCreate) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if in.Role == "" {
		in.Role = "member"
	}
	u := User{ID: fmt.Sprintf("u%d", s.seq), Email: in.Email, Name: in.Name, Role: in.Role, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	return u
}

func (s *store) listUsers(limit int) []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Register adds the demo operations to api.
func Register(api huma.API, opts Options) {
	opts = opts.withDefaults()
	s := newStore()

	huma.Register(api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health Check",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		resp := &HealthOutput{}
		resp.Body.Status = "ok"
		resp.Body.Version = opts.Version
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/api/users",
		Summary:     "List users",
		Tags:        []string{"Users"},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" doc:"Maximum number of users"`
	}) (*UserListOutput, error) {
		return &UserListOutput{Body: s.listUsers(input.Limit)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/api/users",
		Summary:       "Create a user",
		Tags:          []string{"Users"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct{ Body UserCreate }) (*UserOutput, error) {
		return &UserOutput{Body: s.addUser(input.Body)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/api/users/{user_id}",
		Summary:     "Get a user",
		Tags:        []string{"Users"},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*UserOutput, error) {
		s.mu.Lock()
		u, ok := s.users[input.UserID]
		s.mu.Unlock()
		if !ok {
			return nil, huma.Error404NotFound("user not found")
		}
		return &UserOutput{Body: u}, nil
	})

	if opts.Posts {
		huma.Register(api, huma.Operation{
			OperationID: "list-posts",
			Method:      http.MethodGet,
			Path:        "/api/posts",
			Summary:     "List posts",
			Tags:        []string{"Posts"},
		}, func(ctx context.Context, input *struct{}) (*PostListOutput, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return &PostListOutput{Body: append([]Post{}, s.posts...)}, nil
		})
	}

	if opts.AI {
		registerChat(api)
	}
}

func registerChat(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "ai-chat",
		Method:      http.MethodPost,
		Path:        "/api/ai/chat",
		Summary:     "Stream a chat completion",
		Tags:        []string{"ai"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent completion chunks",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {Schema: &huma.Schema{Type: huma.TypeString}},
				},
			},
		},
	}, func(ctx context.Context, input *struct{ Body ChatRequest }) (*huma.StreamResponse, error) {
		words := strings.Fields(input.Body.Prompt)
		return &huma.StreamResponse{
			Body: func(hctx huma.Context) {
				hctx.SetHeader("Content-Type", "text/event-stream")
				w := hctx.BodyWriter()
				for _, word := range words {
					fmt.Fprintf(w, "data: %s\n\n", word)
					if f, ok := w.(http.Flusher); ok {
						f.Flush()
					}
				}
				fmt.Fprint(w, "data: [DONE]\n\n")
			},
		}, nil
	})
}
