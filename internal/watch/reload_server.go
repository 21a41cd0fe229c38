package watch

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/farm-stack/farm/internal/logger"
)

// ReloadServer manages WebSocket connections of dev servers waiting for
// regenerated types.
type ReloadServer struct {
	connections map[*websocket.Conn]bool
	broadcast   chan Event
	register    chan *websocket.Conn
	unregister  chan *websocket.Conn
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	upgrader    websocket.Upgrader
	logger      *zap.SugaredLogger
	last        Event
	router      chi.Router
}

// NewReloadServer creates a hub and starts its dispatch loop.
func NewReloadServer(l *zap.SugaredLogger) *ReloadServer {
	rs := &ReloadServer{
		connections: make(map[*websocket.Conn]bool),
		broadcast:   make(chan Event, 256),
		register:    make(chan *websocket.Conn),
		unregister:  make(chan *websocket.Conn),
		done:        make(chan struct{}),
		logger:      logger.OrNop(l),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://127.0.0.1")
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", rs.HandleWebSocket)
	r.Get("/status", rs.handleStatus)
	rs.router = r

	go rs.run()
	return rs
}

// Handler exposes /ws and /status.
func (rs *ReloadServer) Handler() http.Handler { return rs.router }

func (rs *ReloadServer) run() {
	for {
		select {
		case <-rs.done:
			return

		case conn := <-rs.register:
			rs.mutex.Lock()
			rs.connections[conn] = true
			n := len(rs.connections)
			rs.mutex.Unlock()
			rs.logger.Debugw("Reload client connected", "total", n)

		case conn := <-rs.unregister:
			rs.mutex.Lock()
			if _, ok := rs.connections[conn]; ok {
				delete(rs.connections, conn)
				conn.Close()
			}
			n := len(rs.connections)
			rs.mutex.Unlock()
			rs.logger.Debugw("Reload client disconnected", "total", n)

		case event := <-rs.broadcast:
			rs.sendToAll(event)
		}
	}
}

func (rs *ReloadServer) sendToAll(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		rs.logger.Warnw("Failed to marshal reload event", "error", err)
		return
	}

	rs.mutex.Lock()
	rs.last = event
	var failed []*websocket.Conn
	for conn := range rs.connections {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			rs.logger.Debugw("Failed to send reload event", "error", err)
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		conn.Close()
		delete(rs.connections, conn)
	}
	rs.mutex.Unlock()
}

// HandleWebSocket upgrades HTTP connections to WebSocket
func (rs *ReloadServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := rs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rs.logger.Debugw("Failed to upgrade connection", "error", err)
		return
	}

	select {
	case rs.register <- conn:
		go rs.readMessages(conn)
	case <-rs.done:
		conn.Close()
	}
}

// readMessages drains the client so pings and close frames are processed.
func (rs *ReloadServer) readMessages(conn *websocket.Conn) {
	defer func() {
		select {
		case rs.unregister <- conn:
		case <-rs.done:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				rs.logger.Debugw("WebSocket error", "error", err)
			}
			return
		}
	}
}

type statusResponse struct {
	Connections int    `json:"connections"`
	LastEvent   *Event `json:"last_event,omitempty"`
}

func (rs *ReloadServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	rs.mutex.RLock()
	resp := statusResponse{Connections: len(rs.connections)}
	if rs.last.Type != "" {
		last := rs.last
		resp.LastEvent = &last
	}
	rs.mutex.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Publish queues an event for every connected client. It drops the event if
// the hub is closed or its buffer is full.
func (rs *ReloadServer) Publish(event Event) {
	select {
	case <-rs.done:
	case rs.broadcast <- event:
	default:
		rs.logger.Warnw("Reload event buffer full, dropping event", "type", event.Type)
	}
}

// ConnectionCount returns the number of active connections
func (rs *ReloadServer) ConnectionCount() int {
	rs.mutex.RLock()
	defer rs.mutex.RUnlock()
	return len(rs.connections)
}

// ListenAndServe serves the hub on addr until ctx is cancelled.
func (rs *ReloadServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	srv := &http.Server{Handler: rs.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	rs.logger.Infow("Reload server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "reload server failed")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rs.Close()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close closes all connections and stops the hub.
func (rs *ReloadServer) Close() {
	rs.closeOnce.Do(func() {
		close(rs.done)

		rs.mutex.Lock()
		defer rs.mutex.Unlock()
		for conn := range rs.connections {
			conn.Close()
		}
		rs.connections = make(map[*websocket.Conn]bool)
	})
}
