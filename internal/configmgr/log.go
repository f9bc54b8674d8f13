package configmgr

import (
	"io"
	"log/slog"
	"os"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger returns a new logger configured with c, with the debug level
// forced if verbose is true.  closer is not nil when the output is a file that
// must be closed.
func newLogger(c *logConfig, verbose bool) (l *slog.Logger, closer io.Closer) {
	var out io.Writer
	switch c.File {
	case logFileStdout:
		out = os.Stdout
	case logFileStderr:
		out = os.Stderr
	default:
		lj := &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
			Compress:   c.Compress,
		}

		out, closer = lj, lj
	}

	lvl := slog.LevelInfo
	if verbose || c.Verbose {
		lvl = slog.LevelDebug
	}

	l = slogutil.New(&slogutil.Config{
		Output:       out,
		Format:       slogutil.FormatDefault,
		Level:        lvl,
		AddTimestamp: true,
	})

	return l, closer
}
