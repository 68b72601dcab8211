// Package main provides the boxps command, which runs untrusted PowerShell
// scripts in the BoxPS sandbox and reports what they did.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/isseis/go-boxps/internal/logging"
	"github.com/isseis/go-boxps/internal/runner/bootstrap"
	"github.com/isseis/go-boxps/internal/runner/config"
	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/isseis/go-boxps/internal/terminal"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes
const (
	exitOK       = 0
	exitFailure  = 1
	exitEnv      = 2
	exitSandbox  = 3
	exitReport   = 4
	exitUsageErr = 64
)

// CLI is the command-line interface.
type CLI struct {
	Config   string           `short:"c" help:"TOML configuration file" type:"path"`
	EnvFile  string           `name:"env-file" help:".env file with BOXPS_* variables" type:"path"`
	LogLevel string           `name:"log-level" help:"Log level" enum:"debug,info,warn,error" default:"info"`
	LogDir   string           `name:"log-dir" help:"Directory for the per-run JSON log" type:"path"`
	Color    bool             `help:"Force coloured console output"`
	NoColor  bool             `name:"no-color" help:"Disable coloured console output"`
	Version  kong.VersionFlag `help:"Show version and exit"`

	Run     RunCmd     `cmd:"" help:"Run a guest script in the sandbox and deliver its report"`
	Check   CheckCmd   `cmd:"" help:"Validate the BoxPS installation without running a guest"`
	History HistoryCmd `cmd:"" help:"List recent runs"`

	runID  string    `kong:"-"`
	stdout io.Writer `kong:"-"`
	stderr io.Writer `kong:"-"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, executes the selected command and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cli := &CLI{runID: logging.GenerateRunID(), stdout: stdout, stderr: stderr}

	parser, err := kong.New(cli,
		kong.Name("boxps"),
		kong.Description("Run untrusted PowerShell scripts in the BoxPS sandbox."),
		kong.Vars{"version": version},
		kong.Writers(stdout, stderr),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintf(stderr, "boxps: %v\n", err)
		return exitFailure
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "boxps: %v\n", err)
		return exitUsageErr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	err = kctx.Run(cli)
	return exitCode(err)
}

// exitCode maps an error onto the process exit status by taxonomy category.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case boxerrors.Classify(err, boxerrors.KindEnv):
		return exitEnv
	case boxerrors.Classify(err, boxerrors.KindSandbox):
		return exitSandbox
	case boxerrors.Classify(err, boxerrors.KindReport):
		return exitReport
	default:
		return exitFailure
	}
}

// setup initialises logging and loads the configuration shared by all
// commands. The returned logger must be closed.
func (c *CLI) setup() (*bootstrap.Logger, *config.Config, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	loggerCfg := bootstrap.LoggerConfig{
		Level:  level,
		LogDir: c.LogDir,
		RunID:  c.runID,
		Color:  terminal.Options{ForceColor: c.Color, DisableColor: c.NoColor},
	}
	if f, ok := c.stderr.(*os.File); ok {
		loggerCfg.Console = f
	} else {
		loggerCfg.ConsoleWriter = c.stderr
	}

	logger, err := bootstrap.SetupLogger(loggerCfg)
	if err != nil {
		fmt.Fprintf(c.stderr, "boxps: %v\n", err)
		return nil, nil, err
	}

	cfg, err := config.NewLoader().Load(c.Config, c.EnvFile)
	if err != nil {
		boxerrors.LogClassifiedError(logger.Logger, "Invalid configuration", err)
		_ = logger.Close()
		return nil, nil, err
	}
	return logger, cfg, nil
}

var errInvalidLogLevel = errors.New("invalid log level")

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: %q", errInvalidLogLevel, s)
	}
	return level, nil
}
