// Package server serves the dashboard page and streams state to browsers.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.ghostvision.dev/dashboard/internal/types"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

//go:embed frontend
var assets embed.FS

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Source provides dashboard snapshots. *dashboard.Service implements it.
type Source interface {
	Snapshot() types.Snapshot
	Watch() (<-chan types.Snapshot, func())
}

// Viewer is a dashboard page connected over /ws.
type Viewer struct {
	ID     string    `json:"id"`
	Remote string    `json:"remote"`
	Since  time.Time `json:"since"`
}

// Server is the dashboard HTTP server.
type Server struct {
	addr    string
	src     Source
	handler http.Handler

	mu      sync.Mutex
	viewers map[string]Viewer
}

// New creates a server listening on addr.
func New(addr string, src Source) *Server {
	s := &Server{addr: addr, src: src, viewers: make(map[string]Viewer)}
	s.handler = s.routes()
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Viewers returns the number of connected dashboard pages.
func (s *Server) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// ViewerList returns the connected dashboard pages, oldest first.
func (s *Server) ViewerList() []Viewer {
	s.mu.Lock()
	list := make([]Viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		list = append(list, v)
	}
	s.mu.Unlock()

	slices.SortFunc(list, func(a, b Viewer) int {
		if c := a.Since.Compare(b.Since); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return list
}

func (s *Server) addViewer(remote string) Viewer {
	v := Viewer{ID: uuid.NewString(), Remote: remote, Since: time.Now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers[v.ID] = v
	return v
}

func (s *Server) removeViewer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.viewers, id)
}

func (s *Server) routes() http.Handler {
	static, err := fs.Sub(assets, "frontend")
	if err != nil {
		panic(fmt.Sprintf("embedded frontend: %v", err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex(static))
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/viewers", s.handleViewers)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is like Run but uses an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dashboard listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) handleIndex(static fs.FS) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(static, "index.html")
		if err != nil {
			http.Error(w, "index not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"backend_connected": snap.Connected,
		"viewers":           s.Viewers(),
	})
}

func (s *Server) handleViewers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ViewerList())
}

// handleWS streams snapshots to a dashboard page until it goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("accept viewer", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	viewer := s.addViewer(r.RemoteAddr)
	defer s.removeViewer(viewer.ID)
	id := viewer.ID
	slog.Info("viewer connected", "id", id, "remote", viewer.Remote, "viewers", s.Viewers())

	snaps, cancel := s.src.Watch()
	defer cancel()

	// Viewers never send; CloseRead cancels ctx when the page closes.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			slog.Info("viewer disconnected", "id", id)
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, snap)
			cancelWrite()
			if err != nil {
				slog.Debug("write viewer", "id", id, "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json", "error", err)
	}
}
