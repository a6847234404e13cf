// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/medgemma-tui/internal/config"
	"github.com/jeranaias/medgemma-tui/internal/logging"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds a forwarded request body. Images travel
	// inline as base64, so this is generous.
	MaxRequestBodySize = 50 << 20

	// EnvConfigScript points the web client at the relay's own origin.
	EnvConfigScript = `window.MEDGEMMA_CONFIG = { apiBaseUrl: "" };`

	shutdownTimeout = 5 * time.Second
	copyBufferSize  = 32 * 1024
)

// hopHeaders are connection-scoped and never copied between hops.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the relay.
type Server struct {
	listen  string
	logger  *zap.Logger
	client  *http.Client
	limiter *ipLimiter
	handler http.Handler

	mu        sync.RWMutex
	backend   *url.URL
	logBodies bool
	staticDir string
}

// New creates a relay from its configuration section.
func New(cfg config.RelayConfig, logger *zap.Logger) (*Server, error) {
	backend, err := parseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listen: cfg.Listen,
		logger: logging.OrNop(logger).Named("relay"),
		// No overall timeout: streamed answers can run for minutes.
		client:    &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		limiter:   newIPLimiter(cfg.RateLimit, cfg.Burst),
		backend:   backend,
		logBodies: cfg.LogBodies,
		staticDir: cfg.StaticDir,
	}
	s.handler = s.routes()
	return s, nil
}

func parseBackend(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("relay backend: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("relay backend %q: must be an http(s) URL", raw)
	}
	return u, nil
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Backend returns the current backend URL.
func (s *Server) Backend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.String()
}

// Reconfigure applies a reloaded configuration section. The listen
// address is fixed for the life of the server.
func (s *Server) Reconfigure(cfg config.RelayConfig) error {
	backend, err := parseBackend(cfg.Backend)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.backend = backend
	s.logBodies = cfg.LogBodies
	s.staticDir = cfg.StaticDir
	s.mu.Unlock()

	s.limiter.set(cfg.RateLimit, cfg.Burst)

	if cfg.Listen != s.listen {
		s.logger.Warn("listen address change ignored until restart",
			zap.String("current", s.listen), zap.String("requested", cfg.Listen))
	}
	s.logger.Info("relay reconfigured",
		zap.String("backend", backend.String()),
		zap.Float64("rate_limit", cfg.RateLimit),
		zap.Int("burst", cfg.Burst),
		zap.Bool("log_bodies", cfg.LogBodies))
	return nil
}

func (s *Server) snapshot() (url.URL, bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.backend, s.logBodies, s.staticDir
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/env-config.js", s.handleEnvConfig)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.rateLimit)
		api.HandleFunc("/*", s.handleProxy)
	})

	r.Get("/*", s.handleStatic)
	return r
}

// accessLog writes one line per request once the response is complete.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr))
		}()
		next.ServeHTTP(ww, r)
	})
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleEnvConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, EnvConfigScript)
}

// handleProxy forwards the request to the backend at the same path and
// streams the response back, flushing after every chunk.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	target, logBodies, _ := s.snapshot()
	target.Path = strings.TrimRight(target.Path, "/") + r.URL.Path
	target.RawPath = ""
	target.RawQuery = r.URL.RawQuery

	proxyID := uuid.NewString()
	log := s.logger.With(
		zap.String("proxy_id", proxyID),
		zap.String("request_id", middleware.GetReqID(r.Context())))
	log.Info("proxy", zap.String("method", r.Method), zap.String("target", target.String()))

	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Request Too Large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad Request", "details": err.Error()})
			return
		}
	}

	if logBodies && r.Method == http.MethodPost && len(body) > 0 {
		if redacted, err := RedactBody(body); err != nil {
			log.Warn("could not serialize body for logging", zap.Error(err))
		} else {
			log.Info("request body", zap.String("body", string(redacted)))
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		writeProxyError(w, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", proxyID)
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			log.Info("client disconnected before backend answered")
			return
		}
		log.Error("proxy error", zap.Error(err))
		writeProxyError(w, err)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	n, err := streamCopy(w, resp.Body)
	switch {
	case err != nil && r.Context().Err() != nil:
		log.Info("client disconnected mid-stream", zap.Int64("bytes", n))
	case err != nil:
		log.Error("stream error", zap.Error(err), zap.Int64("bytes", n))
	default:
		log.Debug("proxy complete", zap.Int("status", resp.StatusCode), zap.Int64("bytes", n))
	}
}

// handleStatic serves static_dir, falling back to index.html for unknown
// paths so client-side routes resolve.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	_, _, dir := s.snapshot()
	if dir == "" {
		http.NotFound(w, r)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name))); err != nil {
		index := filepath.Join(dir, "index.html")
		if _, err := os.Stat(index); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, index)
		return
	}
	http.FileServer(http.Dir(dir)).ServeHTTP(w, r)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("relay listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("relay listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("backend", s.Backend()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("relay shutting down")
		err := srv.Shutdown(shutdownCtx)
		s.Close()
		return err
	})
	return g.Wait()
}

// Close releases idle backend connections.
func (s *Server) Close() {
	s.client.CloseIdleConnections()
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProxyError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "Proxy Error",
		"details": err.Error(),
	})
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append([]string(nil), vv...)
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

func streamCopy(w http.ResponseWriter, src io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
