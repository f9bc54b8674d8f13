package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/AdguardTeam/AdGuardDHCP/internal/configmgr"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/google/renameio/v2/maybe"
)

// namedService is a DHCP service along with its name for logs and errors.
type namedService struct {
	svc  service.Interface
	name string
}

// dhcpServices returns the services assembled by m in the order they must be
// started.  The bindings go first, so that the transport never dispatches to a
// closed storage.
func dhcpServices(m *configmgr.Manager) (svcs []namedService) {
	svcs = []namedService{{
		svc:  m.Bindings(),
		name: "bindings",
	}, {
		svc:  m.Transport(),
		name: "transport",
	}}

	if srv := m.Metrics(); srv != nil {
		svcs = append(svcs, namedService{
			svc:  srv,
			name: "metrics",
		})
	}

	return svcs
}

// startServices starts svcs in order.  If one of them fails, the already
// started ones are shut down in reverse order and started is nil.
func startServices(
	ctx context.Context,
	l *slog.Logger,
	svcs []namedService,
) (started []namedService, err error) {
	for i, s := range svcs {
		err = s.svc.Start(ctx)
		if err == nil {
			l.DebugContext(ctx, "service started", "name", s.name)

			continue
		}

		err = fmt.Errorf("starting %s: %w", s.name, err)

		return nil, errors.WithDeferred(err, shutdownServices(ctx, l, svcs[:i]))
	}

	return svcs, nil
}

// shutdownServices shuts svcs down in reverse order.  It keeps going after a
// failure and returns all errors.
func shutdownServices(ctx context.Context, l *slog.Logger, svcs []namedService) (err error) {
	var errs []error
	for _, s := range slices.Backward(svcs) {
		err = s.svc.Shutdown(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("shutting down %s: %w", s.name, err))

			continue
		}

		l.DebugContext(ctx, "service stopped", "name", s.name)
	}

	return errors.Join(errs...)
}

// serviceMgr manages AdGuard DHCP services.
type serviceMgr struct {
	// confMgrMu protects confMgr and running.
	confMgrMu *sync.RWMutex

	confMgr *configmgr.Manager

	// running are the services started by the last successful Start, in the
	// order of starting.
	running []namedService

	confMgrConf *configmgr.Config
	logger      *slog.Logger
	pidFilePath string
}

// serviceMgrConfig contains service manager configuration parameters.
type serviceMgrConfig struct {
	// confMgrConf is the configuration manager config, it must not be nil.
	confMgrConf *configmgr.Config

	// logger is the logger used to log services activity, it must not be nil.
	logger *slog.Logger

	// pidFilePath is the path to the file where to store the PID, if any.
	pidFilePath string
}

// newServiceMgr creates a new *serviceMgr.
func newServiceMgr(ctx context.Context, conf *serviceMgrConfig) (s *serviceMgr, err error) {
	confMgr, err := configmgr.New(ctx, conf.confMgrConf)
	if err != nil {
		return nil, fmt.Errorf("creating config manager: %w", err)
	}

	return &serviceMgr{
		confMgr:     confMgr,
		confMgrMu:   &sync.RWMutex{},
		confMgrConf: conf.confMgrConf,
		logger:      conf.logger,
		pidFilePath: conf.pidFilePath,
	}, nil
}

// type check
var _ service.Interface = (*serviceMgr)(nil)

// Start implements the [service.Interface] interface for *serviceMgr.
func (s *serviceMgr) Start(ctx context.Context) (err error) {
	s.writePID(ctx)

	s.confMgrMu.Lock()
	defer s.confMgrMu.Unlock()

	l := s.confMgr.Logger()
	s.running, err = startServices(ctx, l, dhcpServices(s.confMgr))
	if err != nil {
		return fmt.Errorf("starting services: %w", err)
	}

	l.InfoContext(ctx, "services started", "count", len(s.running))

	return nil
}

// writePID writes the PID to the file.  Any errors are reported to log.
func (s *serviceMgr) writePID(ctx context.Context) {
	if s.pidFilePath == "" {
		return
	}

	pid := os.Getpid()
	data := strconv.AppendInt(nil, int64(pid), 10)
	data = append(data, '\n')

	err := maybe.WriteFile(s.pidFilePath, data, 0o644)
	if err != nil {
		s.logger.ErrorContext(ctx, "writing pidfile", slogutil.KeyError, err)

		return
	}

	s.logger.DebugContext(ctx, "wrote pid", "file", s.pidFilePath, "pid", pid)
}

// Shutdown implements the [service.Interface] interface for *serviceMgr.
func (s *serviceMgr) Shutdown(ctx context.Context) (err error) {
	s.confMgrMu.Lock()
	defer s.confMgrMu.Unlock()

	var errs []error

	err = shutdownServices(ctx, s.confMgr.Logger(), s.running)
	if err != nil {
		errs = append(errs, fmt.Errorf("shutting down services: %w", err))
	}

	s.running = nil

	err = s.confMgr.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("closing log: %w", err))
	}

	s.removePID(ctx)

	return errors.Join(errs...)
}

// removePID removes the PID file.  Any errors are reported to log.
func (s *serviceMgr) removePID(ctx context.Context) {
	if s.pidFilePath == "" {
		return
	}

	err := os.Remove(s.pidFilePath)
	if err != nil {
		s.logger.ErrorContext(ctx, "removing pidfile", slogutil.KeyError, err)

		return
	}

	s.logger.DebugContext(ctx, "removed pidfile", "file", s.pidFilePath)
}

// type check
var _ service.Refresher = (*serviceMgr)(nil)

// Refresh implements the [service.Refresher] interface for *serviceMgr.  It
// shuts the services down, rereads the configuration file, and starts the new
// services.  The bindings survive through the storage.
func (s *serviceMgr) Refresh(ctx context.Context) (err error) {
	s.logger.InfoContext(ctx, "reconfiguring started")

	err = s.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeoutStart)
	defer cancel()

	err = s.updConfMgr(ctx)
	if err != nil {
		return fmt.Errorf("updating configuration manager: %w", err)
	}

	err = s.Start(ctx)
	if err != nil {
		return fmt.Errorf("restarting services: %w", err)
	}

	s.logger.InfoContext(ctx, "reconfiguring finished")

	return nil
}

// updConfMgr updates the configuration manager.
func (s *serviceMgr) updConfMgr(ctx context.Context) (err error) {
	confMgr, err := configmgr.New(ctx, s.confMgrConf)
	if err != nil {
		return fmt.Errorf("creating config manager: %w", err)
	}

	s.confMgrMu.Lock()
	defer s.confMgrMu.Unlock()

	s.confMgr = confMgr

	return nil
}
