// Package rest serves the public HTTP API: invoice creation and
// acceptance, settlement execution, queries, the health snapshot and
// the Prometheus metrics endpoint.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/core/orchestrator"
	"github.com/instanttrade/itnd/internal/core/sysmode"
	"github.com/instanttrade/itnd/internal/metrics"
)

// Config carries the listener settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	orch    *orchestrator.Orchestrator
	mode    *sysmode.Machine
	m       *metrics.Metrics
	version string
	log     *zap.Logger

	router *mux.Router
	http   *http.Server
}

// New wires the router. alertStream, when non-nil, is mounted at
// GET /ws/alerts.
func New(cfg Config, orch *orchestrator.Orchestrator, mode *sysmode.Machine, m *metrics.Metrics, version string, alertStream http.Handler, log *zap.Logger) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Settlement requests hold the connection through the auction
		// window plus the settlement deadline.
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		orch:    orch,
		mode:    mode,
		m:       m,
		version: version,
		log:     log.Named("rest"),
	}

	r := mux.NewRouter()
	r.Use(s.corsMiddleware, s.observeMiddleware)

	r.HandleFunc("/", s.handleBanner).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/invoices", s.handleCreateInvoice).Methods(http.MethodPost)
	api.HandleFunc("/invoices", s.handleListInvoices).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{id}", s.handleGetInvoice).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{id}/accept", s.handleAcceptInvoice).Methods(http.MethodPost)
	api.HandleFunc("/settlements", s.handleExecuteSettlement).Methods(http.MethodPost)

	if alertStream != nil {
		r.Handle("/ws/alerts", alertStream).Methods(http.MethodGet)
	}

	s.router = r
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", zap.String("addr", s.cfg.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
