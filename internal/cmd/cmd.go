// Package cmd is the AdGuard DHCP entry point.  It parses the command-line
// options, assembles the services, and processes the signals.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/configmgr"
	"github.com/AdguardTeam/AdGuardDHCP/internal/version"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/timeutil"
)

// Timeouts for starting and shutting down the services.
const (
	defaultTimeoutStart    = 10 * time.Second
	defaultTimeoutShutdown = 5 * time.Second
)

// Main is the entry point of AdGuard DHCP.
func Main() {
	ctx := context.Background()

	cmdName := os.Args[0]
	opts, err := parseOptions(cmdName, os.Args[1:])
	exitCode, needExit := processOptions(opts, cmdName, err)
	if needExit {
		os.Exit(exitCode)
	}

	baseLogger := newBaseLogger(opts)

	baseLogger.InfoContext(
		ctx,
		"starting adguard dhcp",
		"version", version.Version(),
		"pid", os.Getpid(),
	)

	if opts.workDir != "" {
		baseLogger.InfoContext(ctx, "changing working directory", "dir", opts.workDir)
		err = os.Chdir(opts.workDir)
		check(ctx, baseLogger, err)
	}

	confMgrConf := &configmgr.Config{
		Logger:   baseLogger.With(slogutil.KeyPrefix, "configmgr"),
		Clock:    timeutil.SystemClock{},
		FileName: opts.confFile,
		Verbose:  opts.verbose,
	}

	startCtx, startCancel := context.WithTimeout(ctx, defaultTimeoutStart)
	defer startCancel()

	svcMgr, err := newServiceMgr(startCtx, &serviceMgrConfig{
		confMgrConf: confMgrConf,
		logger:      baseLogger.With(slogutil.KeyPrefix, "service_manager"),
		pidFilePath: opts.pidFile,
	})
	check(ctx, baseLogger, err)

	err = svcMgr.Start(startCtx)
	check(ctx, baseLogger, err)

	var reload <-chan struct{}
	if opts.watchConfig {
		reload = startConfWatcher(ctx, baseLogger, opts.confFile)
	}

	sigHdlr := newSignalHandler(&signalHandlerConfig{
		logger:  baseLogger.With(slogutil.KeyPrefix, "signal_handler"),
		service: svcMgr,
		reload:  reload,
	})

	os.Exit(sigHdlr.handle(ctx))
}

// startConfWatcher starts watching the configuration file and returns the
// channel of its changes.  It must only be used within Main.
func startConfWatcher(ctx context.Context, l *slog.Logger, confFile string) (ch <-chan struct{}) {
	w, err := newConfWatcher(l.With(slogutil.KeyPrefix, "conf_watcher"), confFile)
	check(ctx, l, err)

	err = w.Start(ctx)
	check(ctx, l, err)

	return w.Events()
}

// newBaseLogger returns the logger used until the configuration file is read.
func newBaseLogger(opts *options) (l *slog.Logger) {
	lvl := slog.LevelInfo
	if opts.verbose {
		lvl = slog.LevelDebug
	}

	return slogutil.New(&slogutil.Config{
		Output:       os.Stdout,
		Format:       slogutil.FormatDefault,
		Level:        lvl,
		AddTimestamp: true,
	})
}

// check is a simple error-checking helper.  It must only be used within Main.
func check(ctx context.Context, l *slog.Logger, err error) {
	if err != nil {
		l.ErrorContext(ctx, "fatal error", slogutil.KeyError, err)

		os.Exit(osutil.ExitCodeFailure)
	}
}
