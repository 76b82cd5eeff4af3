package server

import (
	"context"
	"net/http"
	"time"

	"pkt.systems/pslog"
)

// Config configures the signaling HTTP server.
type Config struct {
	ListenAddr string
	BasePath   string
	CertFile   string
	KeyFile    string
	Logger     pslog.Logger

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
}

// Server wraps http.Server with TLS selection and graceful shutdown.
type Server struct {
	srv      *http.Server
	certFile string
	keyFile  string
}

// New constructs a Server for the handler. When both cert and key files are
// configured, ListenAndServe serves TLS.
func New(cfg Config, handler http.Handler) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	return &Server{
		srv: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handler,
			ErrorLog:          pslog.LogLogger(logger),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
	}
}

// ListenAndServe serves until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	if s.certFile != "" && s.keyFile != "" {
		return s.srv.ListenAndServeTLS(s.certFile, s.keyFile)
	}
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
