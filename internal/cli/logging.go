package cli

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/roach88/crewflow/internal/config"
)

// setupLogging installs the default logger from the global flags. It is
// replaced by applyLogConfig once a command loads configuration.
func setupLogging(w io.Writer, opts *RootOptions) {
	opts.logWriter = w
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(newLogHandler(w, "text", level)))
}

// applyLogConfig installs the logger described by log.level and
// log.format. --verbose wins over the configured level.
func applyLogConfig(w io.Writer, cfg *config.Config, verbose bool) {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(newLogHandler(w, cfg.Log.Format, level)))
}

func newLogHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return tint.NewHandler(w, &tint.Options{
		NoColor:    !isTerminal(w),
		TimeFormat: time.Kitchen,
		Level:      level,
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
