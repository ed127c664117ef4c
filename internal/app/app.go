// Package app wires the backend connection, the dashboard state and the HTTP
// server together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.ghostvision.dev/dashboard/config"
	"go.ghostvision.dev/dashboard/dashboard"
	"go.ghostvision.dev/dashboard/server"
	"go.ghostvision.dev/dashboard/socketio"
)

// Service owns the application components.
// This struct focuses on orchestration; the logic lives in sub-components.
type Service struct {
	cfg *config.Config

	client    *socketio.Client
	dashboard *dashboard.Service
	mount     *dashboard.Mount
	server    *server.Server

	shutdown sync.Once

	// Version info (set by caller)
	version string
}

// New creates a Service from cfg. It does not connect or listen until Run.
func New(cfg *config.Config, version string) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := socketio.NewClient(socketio.ClientConfig{
		URL:       cfg.BackendURL,
		Path:      cfg.SocketPath,
		Namespace: cfg.Namespace,
		Backoff:   backoffFromConfig(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}

	dash := dashboard.NewService(dashboard.Config{
		ThreatMarker: cfg.ThreatMarker,
		MaxLogs:      cfg.MaxLogs,
		Locale:       cfg.Locale,
	})

	s := &Service{
		cfg:       cfg,
		client:    client,
		dashboard: dash,
		mount:     dash.Mount(client),
		server:    server.New(cfg.ListenAddr, dash),
		version:   version,
	}
	return s, nil
}

// GetVersion returns the application version.
func (s *Service) GetVersion() string {
	return s.version
}

// Dashboard returns the dashboard state service.
func (s *Service) Dashboard() *dashboard.Service {
	return s.dashboard
}

// Server returns the HTTP server.
func (s *Service) Server() *server.Server {
	return s.server
}

// Run connects to the backend and serves the dashboard until ctx is done or
// the HTTP server fails. Backend outages never stop Run; the client keeps
// reconnecting.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slog.Info("connecting to backend", "url", s.client.URL())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("backend client stopped", "error", err)
		}
	}()

	err := s.server.Run(ctx)
	cancel()
	wg.Wait()
	s.Shutdown()

	if err != nil {
		return fmt.Errorf("run server: %w", err)
	}
	return nil
}

// Shutdown cleans up resources. It is safe to call more than once.
func (s *Service) Shutdown() {
	s.shutdown.Do(func() {
		s.mount.Unmount()
		if err := s.client.Close(); err != nil {
			slog.Error("close backend client", "error", err)
		}
	})
}

func backoffFromConfig(cfg *config.Config) socketio.Backoff {
	b := socketio.DefaultBackoff()
	b.Min = time.Duration(cfg.Reconnect.DelayMs) * time.Millisecond
	b.Max = time.Duration(cfg.Reconnect.MaxDelayMs) * time.Millisecond
	b.Jitter = cfg.RandomizationFactor()
	return b
}
