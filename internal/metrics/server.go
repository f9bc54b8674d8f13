package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PathMetrics is the HTTP path the metrics are served on.
const PathMetrics = "/metrics"

// ServerConfig is the configuration of a [Server].
type ServerConfig struct {
	// Logger is used to log the server errors.  It must not be nil.
	Logger *slog.Logger

	// Gatherer provides the metrics to serve.  It must not be nil.
	Gatherer prometheus.Gatherer

	// Address is the address to serve the metrics on.  It must be valid.
	Address netip.AddrPort

	// Timeout is the timeout for reading requests and writing responses.
	Timeout time.Duration
}

// Server serves the metrics over HTTP.
type Server struct {
	logger *slog.Logger
	srv    *http.Server

	// mu protects addr.
	mu   *sync.Mutex
	addr net.Addr
}

// NewServer returns a new properly initialized *Server.  conf must not be nil.
func NewServer(conf *ServerConfig) (s *Server) {
	mux := http.NewServeMux()
	mux.Handle(PathMetrics, promhttp.HandlerFor(conf.Gatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(conf.Logger.Handler(), slog.LevelError),
	}))

	return &Server{
		logger: conf.Logger,
		srv: &http.Server{
			Addr:              conf.Address.String(),
			Handler:           mux,
			ReadTimeout:       conf.Timeout,
			WriteTimeout:      conf.Timeout,
			IdleTimeout:       conf.Timeout,
			ReadHeaderTimeout: conf.Timeout,
			ErrorLog:          slog.NewLogLogger(conf.Logger.Handler(), slog.LevelError),
		},
		mu: &sync.Mutex{},
	}
}

// type check
var _ service.Interface = (*Server)(nil)

// Start implements the [service.Interface] interface for *Server.  The
// listener is bound before Start returns.
func (s *Server) Start(ctx context.Context) (err error) {
	lc := &net.ListenConfig{}
	l, err := lc.Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}

	s.mu.Lock()
	s.addr = l.Addr()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "serving metrics", "addr", l.Addr())

	go s.serve(context.WithoutCancel(ctx), l)

	return nil
}

// serve serves the metrics on l until the server is shut down.  It is intended
// to be used as a goroutine.
func (s *Server) serve(ctx context.Context, l net.Listener) {
	defer slogutil.RecoverAndLog(ctx, s.logger)

	err := s.srv.Serve(l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.ErrorContext(ctx, "serving metrics", slogutil.KeyError, err)
	}
}

// Shutdown implements the [service.Interface] interface for *Server.
func (s *Server) Shutdown(ctx context.Context) (err error) {
	err = s.srv.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutting down metrics server: %w", err)
	}

	return nil
}

// LocalAddr returns the address the server listens on, or nil if it hasn't
// been started.
func (s *Server) LocalAddr() (addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addr
}
