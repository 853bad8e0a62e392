// Package ws serves the relay over websocket next to the operational HTTP
// endpoints.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/server/gate"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/server/session"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type Admitter interface {
	Admit(ctx context.Context, authorization string) (models.Identity, error)
}

type Sessions interface {
	Serve(ctx context.Context, identity models.Identity, t session.Transport) error
}

const shutdownTimeout = 5 * time.Second

type HTTPServer struct {
	address  string
	gate     Admitter
	sessions Sessions
	metrics  http.Handler
	logger   logging.Logger
	upgrader websocket.Upgrader

	stopping chan struct{}
}

func NewHTTPServer(a string, l logging.Logger, gate Admitter, sessions Sessions, metrics http.Handler) *HTTPServer {
	return &HTTPServer{
		address:  a,
		logger:   l.With("module", "http_server"),
		gate:     gate,
		sessions: sessions,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// credentials travel in a header or query, never in cookies
			CheckOrigin: func(*http.Request) bool { return true },
		},
		stopping: make(chan struct{}),
	}
}

// Router wires the websocket endpoint and the operational endpoints.
func (s *HTTPServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleConnect).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// authorization reads the bearer header, falling back to a token query
// parameter for browser clients that cannot set headers.
func authorization(r *http.Request) string {
	if h := r.Header.Get(common.AuthorizationHeaderName); h != "" {
		return h
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return common.BearerPrefix + tok
	}
	return ""
}

func (s *HTTPServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	id, err := s.gate.Admit(r.Context(), authorization(r))
	if err != nil {
		var rej *gate.Rejection
		switch {
		case errors.As(err, &rej):
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": string(rej.Code)})
		case errors.Is(err, common.ErrStoreUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"code": "STORE_UNAVAILABLE"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "INTERNAL"})
		}
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	// a hijacked connection outlives Shutdown, so end sessions explicitly
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go func() {
		select {
		case <-s.stopping:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.sessions.Serve(ctx, id, newTransport(conn)); err != nil {
		s.logger.Debug(ctx, "websocket session ended", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(func() { close(s.stopping) })

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.logger.Warn(sctx, "HTTP shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
