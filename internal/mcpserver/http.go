package mcpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

type HTTPConfig struct {
	Enabled bool
	Addr    string
	Path    string
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8765"
	}
	c.Path = strings.TrimSpace(c.Path)
	if c.Path == "" {
		c.Path = "/mcp"
	}
	return c
}

// HTTPServer owns the optional streamable HTTP listener. Apply may be
// called again on config reload.
type HTTPServer struct {
	mcp *Server
	log logx.Logger

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
	path string
}

func NewHTTPServer(s *Server) *HTTPServer {
	return &HTTPServer{mcp: s, log: s.log}
}

// Apply starts, restarts or stops the listener according to cfg. A listen
// failure is returned and leaves the server stopped.
func (h *HTTPServer) Apply(ctx context.Context, cfg HTTPConfig) error {
	cfg = cfg.withDefaults()

	h.mu.Lock()
	defer h.mu.Unlock()

	if !cfg.Enabled {
		h.stopLocked(ctx)
		return nil
	}
	if h.srv != nil && h.addr == cfg.Addr && h.path == cfg.Path {
		return nil
	}
	h.stopLocked(ctx)
	return h.startLocked(cfg)
}

func (h *HTTPServer) startLocked(cfg HTTPConfig) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, h.mcp.Handler())

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		h.log.Warn("mcp listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	h.srv = srv
	h.ln = ln
	h.addr = cfg.Addr
	h.path = cfg.Path
	actual := ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Warn("mcp server error", logx.String("addr", actual), logx.Err(err))
		}
	}()
	h.log.Info("mcp http enabled", logx.String("addr", actual), logx.String("path", cfg.Path))
	return nil
}

// Stop gracefully shuts the listener down.
func (h *HTTPServer) Stop(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked(ctx)
}

func (h *HTTPServer) stopLocked(ctx context.Context) {
	if h.srv == nil {
		return
	}
	srv, ln := h.srv, h.ln
	addr := ln.Addr().String()
	h.srv, h.ln, h.addr, h.path = nil, nil, "", ""

	if ctx == nil {
		ctx = context.Background()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		h.log.Warn("mcp shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	_ = ln.Close()
	h.log.Info("mcp http disabled", logx.String("addr", addr))
}

// Addr reports the actual listen address, or "" when stopped.
func (h *HTTPServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln == nil {
		return ""
	}
	return h.ln.Addr().String()
}
