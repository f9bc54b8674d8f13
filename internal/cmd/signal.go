package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/service"
)

// signalHandler processes incoming signals.  It shuts the service down on
// SIGINT, SIGTERM, and SIGQUIT, and refreshes it on SIGHUP and on each value
// from reload.
type signalHandler struct {
	logger  *slog.Logger
	signal  chan os.Signal
	reload  <-chan struct{}
	service refreshableService
}

// refreshableService is a service that can reload its configuration.
type refreshableService interface {
	service.Interface
	service.Refresher
}

// signalHandlerConfig contains the configuration for a signal handler.
type signalHandlerConfig struct {
	// logger is used to log the signals.  It must not be nil.
	logger *slog.Logger

	// service is the service to shut down and refresh.  It must not be nil.
	service refreshableService

	// reload, if not nil, requests refreshing the service in addition to
	// SIGHUP.
	reload <-chan struct{}
}

// newSignalHandler returns a new signalHandler subscribed to the signals.
func newSignalHandler(c *signalHandlerConfig) (h *signalHandler) {
	h = &signalHandler{
		logger:  c.logger,
		signal:  make(chan os.Signal, 1),
		reload:  c.reload,
		service: c.service,
	}

	signal.Notify(h.signal, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	return h
}

// handle processes OS signals until a shutdown one comes.  status is the exit
// code to use.
func (h *signalHandler) handle(ctx context.Context) (status int) {
	defer slogutil.RecoverAndLog(ctx, h.logger)

	for {
		select {
		case sig := <-h.signal:
			h.logger.InfoContext(ctx, "received", "signal", sig)

			if !isReconfigureSignal(sig) {
				status = h.shutdown(ctx)
				h.logger.InfoContext(ctx, "exiting", "status", status)

				return status
			}
		case _, ok := <-h.reload:
			if !ok {
				h.reload = nil

				continue
			}

			h.logger.InfoContext(ctx, "config file changed")
		}

		status = h.refresh(ctx)
		if status != osutil.ExitCodeSuccess {
			return status
		}
	}
}

// isReconfigureSignal returns true if sig requests reloading the
// configuration.
func isReconfigureSignal(sig os.Signal) (ok bool) {
	return sig == syscall.SIGHUP
}

// refresh reloads the configuration.  The process exits if the services can't
// be restarted, since no configuration would be serving then.
func (h *signalHandler) refresh(ctx context.Context) (status int) {
	err := h.service.Refresh(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "refreshing", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	return osutil.ExitCodeSuccess
}

// shutdown gracefully shuts down the service.
func (h *signalHandler) shutdown(ctx context.Context) (status int) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeoutShutdown)
	defer cancel()

	h.logger.InfoContext(ctx, "shutting down")

	err := h.service.Shutdown(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "shutting down", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	return osutil.ExitCodeSuccess
}
