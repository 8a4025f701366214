// Package web serves runtime values, field metadata and settings over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/settings"
	"github.com/sweeney/devicecore/internal/status"
)

// maxBody bounds a settings write request.
const maxBody = 4 << 10

// Settings is the view of the settings registry the server needs. Apply is
// expected to run the change on the scheduler goroutine.
type Settings interface {
	Entries() []settings.Entry
	Apply(key, raw string) error
}

// Server serves the runtime snapshot and settings over HTTP.
type Server struct {
	httpServer *http.Server
	runtime    *status.Registry
	settings   Settings
	logger     *zap.Logger
}

// New creates a Server. settings may be nil, which disables the settings
// endpoints.
func New(addr string, runtime *status.Registry, cfg Settings, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{runtime: runtime, settings: cfg, logger: logger.Named("web")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRuntime)
	mux.HandleFunc("GET /runtime.json", s.handleRuntime)
	mux.HandleFunc("GET /runtime_meta.json", s.handleMeta)
	if cfg != nil {
		mux.HandleFunc("GET /settings.json", s.handleSettings)
		mux.HandleFunc("POST /settings/{key}", s.handleApply)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, status.FormatJSON(s.runtime.Snapshot()))
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, status.FormatMetaJSON(s.runtime.Fields()))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, formatSettings(s.settings.Entries()))
}

// handleApply accepts either a bare value or {"value": "..."} as the body.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, formatError(err))
		return
	}
	raw, err := parseValue(body, r.Header.Get("Content-Type"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, formatError(err))
		return
	}

	if err := s.settings.Apply(key, raw); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, settings.ErrUnknownKey) {
			code = http.StatusNotFound
		}
		s.logger.Warn("setting rejected", zap.String("key", key), zap.Error(err))
		writeJSON(w, code, formatError(err))
		return
	}
	s.logger.Info("setting changed", zap.String("key", key), zap.String("value", raw))
	writeJSON(w, http.StatusOK, formatSetting(key, raw))
}

func parseValue(body []byte, contentType string) (string, error) {
	if !strings.HasPrefix(contentType, "application/json") {
		return strings.TrimSpace(string(body)), nil
	}
	var req struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return "", err
	}
	if len(req.Value) == 0 {
		return "", errors.New(`missing "value"`)
	}
	var str string
	if err := json.Unmarshal(req.Value, &str); err == nil {
		return str, nil
	}
	// Numbers and booleans are applied in their JSON spelling.
	return string(req.Value), nil
}
