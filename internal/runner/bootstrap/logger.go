package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/isseis/go-boxps/internal/logging"
	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/isseis/go-boxps/internal/safefileio"
	"github.com/isseis/go-boxps/internal/terminal"
	"github.com/lmittmann/tint"
)

const (
	// File permissions for log files
	logFilePerm = 0o600
	// logSchemaVersion is bumped when the JSON log attributes change.
	logSchemaVersion = 1
)

// LoggerConfig holds all configuration for logger setup
type LoggerConfig struct {
	Level  slog.Level
	LogDir string
	RunID  string
	// Console receives human-readable output. Defaults to os.Stderr.
	Console *os.File
	// ConsoleWriter overrides Console for tests; colour is then disabled.
	ConsoleWriter io.Writer
	Color         terminal.Options
}

// Logger is the result of SetupLogger.
type Logger struct {
	*slog.Logger
	LogPath string
	closer  io.Closer
}

// Close flushes and closes the per-run log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// SetupLogger builds the run logger: a tint console handler, coloured only
// on an interactive terminal, plus a per-run JSON file in LogDir when set.
// The logger is also installed as the slog default.
func SetupLogger(cfg LoggerConfig) (*Logger, error) {
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}

	var consoleWriter io.Writer = console
	noColor := !terminal.NewDetector(console, cfg.Color).SupportsColor()
	if cfg.ConsoleWriter != nil {
		consoleWriter = cfg.ConsoleWriter
		noColor = !cfg.Color.ForceColor
	}

	handlers := []slog.Handler{
		tint.NewHandler(consoleWriter, &tint.Options{
			Level:      cfg.Level,
			TimeFormat: time.Kitchen,
			NoColor:    noColor,
		}),
	}

	result := &Logger{}
	if cfg.LogDir != "" {
		jsonHandler, file, path, err := openJSONLog(cfg)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, jsonHandler)
		result.closer = file
		result.LogPath = path
	}

	result.Logger = slog.New(logging.NewMultiHandler(handlers...))
	slog.SetDefault(result.Logger)

	result.Debug("Logger initialized",
		"log_level", cfg.Level.String(),
		"log_path", result.LogPath,
		"run_id", cfg.RunID,
		"color", !noColor)

	return result, nil
}

func openJSONLog(cfg LoggerConfig) (slog.Handler, *os.File, string, error) {
	if err := os.MkdirAll(cfg.LogDir, 0o750); err != nil {
		return nil, nil, "", boxerrors.Wrap(boxerrors.KindBadEnvVar,
			fmt.Sprintf("cannot create log directory %s", cfg.LogDir), err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	timestamp := time.Now().UTC().Format("20060102T150405Z")
	path := filepath.Join(cfg.LogDir, fmt.Sprintf("%s_%s_%s.json", hostname, timestamp, cfg.RunID))

	file, err := safefileio.SafeCreate(path, logFilePerm)
	if err != nil {
		return nil, nil, "", boxerrors.Wrap(boxerrors.KindBadEnvVar,
			fmt.Sprintf("cannot open log file %s", path), err)
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: cfg.Level}).
		WithAttrs([]slog.Attr{
			slog.String("hostname", hostname),
			slog.Int("pid", os.Getpid()),
			slog.Int("schema_version", logSchemaVersion),
			slog.String("run_id", cfg.RunID),
		})
	return handler, file, path, nil
}
