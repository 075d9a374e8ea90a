package automation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/version"
)

const DefaultAddress = "127.0.0.1:8787"

// maxBodyBytes bounds request bodies; every request is a small JSON object.
const maxBodyBytes = 64 << 10

// TimeNow is a variable for mocking in tests.
var TimeNow = time.Now

// ServerOptions configures the HTTP server. Zero durations select the
// defaults applied by NewServer.
type ServerOptions struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration

	// Gatherer backs GET /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server hosts the automation HTTP API.
type Server struct {
	http    *http.Server
	handler *Handler
	ctrl    Controller
	opts    ServerOptions

	// mu orders event stream registration against Stop.
	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewServer wires the routes. The server does not listen until Start or
// Serve is called.
func NewServer(h *Handler, opts ServerOptions) *Server {
	if h == nil {
		panic("automation.NewServer: handler is nil")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddress
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 2 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		handler: h,
		ctrl:    h.ctrl,
		opts:    opts,
		stop:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("POST /trigger", s.handleTrigger)
	mux.HandleFunc("POST /burst", s.handleBurst)
	mux.HandleFunc("POST /connect", s.handleConnect)
	mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /connectivity", s.handleConnectivity)
	mux.HandleFunc("POST /listen", s.handleStartListening)
	mux.HandleFunc("DELETE /listen", s.handleStopListening)
	mux.HandleFunc("POST /link", s.handleLink)
	mux.HandleFunc("GET /presets", s.handleListPresets)
	mux.HandleFunc("PUT /presets/{name}", s.handlePutPreset)
	mux.HandleFunc("DELETE /presets/{name}", s.handleDeletePreset)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	// WriteTimeout is left unset; /events connections are long-lived.
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           withLogging(mux),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		IdleTimeout:       opts.IdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}
	return s
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start listens on the configured address and serves in a background
// goroutine. It returns once the listener is bound.
func (s *Server) Start() (net.Addr, error) {
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, err
	}
	go func() {
		slog.Info("Automation server listening", "addr", l.Addr().String())
		if err := s.http.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Automation server stopped", "error", err)
		}
	}()
	return l.Addr(), nil
}

// Stop closes event streams and gracefully shuts down, waiting up to
// ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	s.mu.Unlock()
	if timeout := s.opts.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := s.http.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.handler.SendPacket(r.Context(), req))
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.Trigger(r.Context()))
}

func (s *Server) handleBurst(w http.ResponseWriter, r *http.Request) {
	var req BurstRequest
	if !decodeBody(w, r, &req) {
		return
	}
	spec := transmit.NewBurstSpec(req.PacketCount, time.Duration(req.DelayMS)*time.Millisecond)
	err := s.ctrl.StartBurst(spec)
	switch {
	case errors.Is(err, transmit.ErrNotConnected), errors.Is(err, transmit.ErrBurstInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, BurstResponse{Started: true, Spec: spec})
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.Connect(r.Context()))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.Disconnect())
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.ConnectivityRegained(r.Context()))
}

func (s *Server) handleStartListening(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StartListening(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.handler.ConnectionStatus())
}

func (s *Server) handleStopListening(w http.ResponseWriter, r *http.Request) {
	s.ctrl.StopListening()
	writeJSON(w, http.StatusOK, s.handler.ConnectionStatus())
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.URI == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}
	res, err := s.handler.ExecuteLink(r.Context(), req.URI)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.Presets())
}

func (s *Server) handlePutPreset(w http.ResponseWriter, r *http.Request) {
	var cfg transmit.Config
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := s.handler.SavePreset(r.PathValue("name"), cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.handler.Presets())
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	if err := s.handler.DeletePreset(r.PathValue("name")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.handler.Presets())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	res := s.handler.ConnectionStatus()
	st := s.ctrl.Status()
	res.Detail = &st
	writeJSON(w, http.StatusOK, res)
}

// decodeBody decodes an optional JSON body into v, rejecting unknown
// fields. It writes a 400 and returns false on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := TimeNow()
		w.Header().Set("Server", version.UserAgent())
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIError{
		Error:     msg,
		Timestamp: TimeNow().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
