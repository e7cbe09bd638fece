package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/masquerade/internal/platform/timeouts"
	"github.com/louisbranch/masquerade/internal/services/broker/window"
	"github.com/louisbranch/masquerade/internal/services/broker/window/wsbridge"
	"github.com/louisbranch/masquerade/internal/services/masks/service"
	"github.com/louisbranch/masquerade/internal/services/masks/state"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	// Bridge gates both the popup sockets and the management API.
	Bridge wsbridge.Config
}

// Server exposes popups over the websocket bridge and the management API.
type Server struct {
	httpAddr        string
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// NewServer wires host and svc behind one HTTP listener.
func NewServer(host *Host, svc *service.Service, cfg ServerConfig) (*Server, error) {
	if host == nil {
		return nil, errors.New("popup host is required")
	}
	if svc == nil {
		return nil, errors.New("mask service is required")
	}
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if cfg.Bridge.Authorizer == nil {
		return nil, errors.New("bridge authorizer is required")
	}
	if _, err := state.NormalizeOrigin(cfg.Bridge.PageOrigin); err != nil {
		return nil, fmt.Errorf("bridge page origin: %w", err)
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = timeouts.Shutdown
	}

	return &Server{
		httpAddr: httpAddr,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           NewHandler(host, svc, cfg.Bridge),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// NewHandler routes /api/ to the management API and everything else to the
// bridge. Both require the holder token checked by bridge.Authorizer.
func NewHandler(host *Host, svc *service.Service, bridge wsbridge.Config) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", wsbridge.RequireHolder(bridge.Authorizer, NewAPIHandler(svc)))
	mux.Handle("/", wsbridge.NewHandler(func(ctx context.Context, win window.Window) {
		if err := host.Serve(ctx, win); err != nil {
			log.Printf("popup for %s: %v", win.Origin(), err)
		}
	}, bridge))
	return mux
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("masquerade listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
