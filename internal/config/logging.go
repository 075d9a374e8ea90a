package config

import (
	"io"
	"log/slog"
	"os"
)

// SetupLogging configures the global slog logger based on args
// Returns the log file handle (caller must close it) or nil if no file
func SetupLogging(args Args) (*os.File, error) {
	var logFile *os.File
	if args.Log != "" {
		f, err := os.OpenFile(args.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		logFile = f
	}

	var file io.Writer
	if logFile != nil {
		file = logFile
	}
	slog.SetDefault(slog.New(newHandler(args, logWriter(args.Mode(), file, os.Stderr))))

	return logFile, nil
}

// logWriter picks the log destination for a mode. The TUI owns the
// terminal, so it only logs to file (or nowhere). Other modes write events
// to stdout and logs to stderr, plus the file when given.
func logWriter(mode string, file, stderr io.Writer) io.Writer {
	switch {
	case mode == "tui" && file == nil:
		return io.Discard
	case mode == "tui":
		return file
	case file == nil:
		return stderr
	default:
		return io.MultiWriter(file, stderr)
	}
}

func newHandler(args Args, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(args.LogLevel),
	}
	if opts.Level == slog.LevelDebug {
		opts.AddSource = true
	}

	// JSON events get JSON logs
	if args.Mode() == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLogLevel converts string to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
