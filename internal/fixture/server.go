package fixture

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/danielgtaylor/huma/v2/adapters/humafiber"
	"github.com/danielgtaylor/huma/v2/adapters/humagin"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/gin-gonic/gin"
	"github.com/gofiber/fiber/v2"
	"github.com/labstack/echo/v4"
)

// Routers lists the supported router names.
var Routers = []string{"stdlib", "gin", "echo", "fiber"}

// Server hosts the demo API on one of the supported routers.
type Server struct {
	API     huma.API
	Router  string
	handler http.Handler
	app     *fiber.App
}

// New builds a server on the named router.
func New(router string, opts Options) (*Server, error) {
	config := Config(opts)
	s := &Server{Router: router}

	switch router {
	case "", "stdlib":
		mux := http.NewServeMux()
		s.Router = "stdlib"
		s.API = humago.New(mux, config)
		s.handler = mux
	case "gin":
		gin.SetMode(gin.ReleaseMode)
		engine := gin.New()
		engine.Use(gin.Recovery())
		s.API = humagin.New(engine, config)
		s.handler = engine
	case "echo":
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		s.API = humaecho.New(e, config)
		s.handler = e
	case "fiber":
		app := fiber.New(fiber.Config{DisableStartupMessage: true})
		s.API = humafiber.New(app, config)
		s.app = app
	default:
		return nil, errors.WithHintf(errors.Newf("unknown router %q", router), "supported routers: %v", Routers)
	}

	Register(s.API, opts)
	return s, nil
}

// Handler returns the demo API on the standard library mux.
func Handler(opts Options) http.Handler {
	s, _ := New("stdlib", opts)
	return s.handler
}

// Serve blocks until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	if s.app != nil {
		go func() { errCh <- s.app.Listener(ln) }()
		select {
		case err := <-errCh:
			return errors.Wrap(err, "fiber server failed")
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.app.ShutdownWithContext(shutdownCtx)
		}
	}

	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}
