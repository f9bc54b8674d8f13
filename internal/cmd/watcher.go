package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/fsnotify/fsnotify"
)

// confWatcher notifies about writes to the configuration file.
type confWatcher struct {
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	events  chan struct{}

	// fileName is the absolute path of the tracked file.
	fileName string
}

// newConfWatcher returns a watcher tracking writes to fileName.  The directory
// is watched instead of the file itself, since editors often replace the file
// on save.
func newConfWatcher(l *slog.Logger, fileName string) (w *confWatcher, err error) {
	defer func() { err = errors.Annotate(err, "conf watcher: %w") }()

	absName, err := filepath.Abs(fileName)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	err = watcher.Add(filepath.Dir(absName))
	if err != nil {
		return nil, errors.WithDeferred(fmt.Errorf("adding %q: %w", absName, err), watcher.Close())
	}

	return &confWatcher{
		logger:   l,
		watcher:  watcher,
		events:   make(chan struct{}, 1),
		fileName: absName,
	}, nil
}

// type check
var _ service.Interface = (*confWatcher)(nil)

// Start implements the [service.Interface] interface for *confWatcher.
func (w *confWatcher) Start(ctx context.Context) (err error) {
	go w.handleErrors(ctx)
	go w.handleEvents(ctx)

	return nil
}

// Shutdown implements the [service.Interface] interface for *confWatcher.
func (w *confWatcher) Shutdown(_ context.Context) (err error) {
	return w.watcher.Close()
}

// Events returns the channel receiving a value after each write to the
// configuration file.  It's closed after Shutdown.
func (w *confWatcher) Events() (e <-chan struct{}) {
	return w.events
}

// handleEvents forwards write events for the tracked file.  It is intended to
// be used as a goroutine.
func (w *confWatcher) handleEvents(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	defer close(w.events)

	ch := w.watcher.Events
	for e := range ch {
		if !isConfWrite(e, w.fileName) {
			continue
		}

		skipDuplicates(ch)

		select {
		case w.events <- struct{}{}:
			w.logger.DebugContext(ctx, "config file changed", "file", w.fileName)
		default:
			w.logger.DebugContext(ctx, "events buffer is full")
		}
	}
}

// isConfWrite returns true if e modifies or recreates the file name.
func isConfWrite(e fsnotify.Event, name string) (ok bool) {
	if filepath.Clean(e.Name) != name {
		return false
	}

	return e.Op&(fsnotify.Write|fsnotify.Create) != 0
}

// skipDuplicates drains the channel, since a single save often produces
// several events.
func skipDuplicates(ch <-chan fsnotify.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// handleErrors logs the watcher errors.  It is intended to be used as a
// goroutine.
func (w *confWatcher) handleErrors(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	for err := range w.watcher.Errors {
		w.logger.ErrorContext(ctx, "watching config", slogutil.KeyError, err)
	}
}
