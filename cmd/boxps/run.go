package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/isseis/go-boxps/internal/runner"
	"github.com/isseis/go-boxps/internal/runner/bootstrap"
	"github.com/isseis/go-boxps/internal/runner/config"
	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/isseis/go-boxps/internal/runner/history"
	"github.com/isseis/go-boxps/internal/runner/metrics"
	"github.com/isseis/go-boxps/internal/runner/report"
	"github.com/isseis/go-boxps/internal/runner/sandbox"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	Script    string `arg:"" help:"Guest PowerShell script" type:"existingfile"`
	Timeout   string `help:"Guest time budget in seconds or as a duration (0 = unlimited)"`
	ReportDir string `name:"report-dir" help:"Directory receiving the JSON report" type:"path"`
	Stdout    bool   `help:"Write the report to stdout instead of the report directory"`
	Stream    bool   `help:"Copy guest output to the console while it runs"`
}

// Run executes the guest script.
func (r *RunCmd) Run(ctx context.Context, root *CLI) error {
	logger, cfg, err := root.setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	if r.Stdout {
		cfg.Report.Stdout = true
	}
	overrides := config.Overrides{Timeout: r.Timeout, ReportDir: r.ReportDir}
	if err := overrides.Apply(cfg); err != nil {
		boxerrors.LogClassifiedError(logger.Logger, "Invalid command line", err)
		return err
	}

	recorder := metrics.NewRecorder(nil)
	if path := cfg.Metrics.Textfile; path != "" {
		if err := recorder.LoadTextfile(path); err != nil {
			logger.Warn("Metrics restart from zero", "path", path, "error", err)
		}
	}

	opts := []runner.Option{
		runner.WithRunID(root.runID),
		runner.WithLogger(logger.Logger),
		runner.WithMetrics(recorder),
	}
	if cfg.Report.Stdout {
		opts = append(opts, runner.WithDeliverer(report.NewWriterDeliverer(root.stdout, "stdout")))
	}
	if r.Stream {
		opts = append(opts, runner.WithSandboxFactory(func(env *bootstrap.Environment) sandbox.Sandbox {
			return sandbox.NewPwshSandbox(env, sandbox.WithOutputWriter(&sandbox.ConsoleOutputWriter{}))
		}))
	}

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			boxerrors.LogClassifiedError(logger.Logger, "Cannot open run history", err)
			return err
		}
		defer store.Close()
		opts = append(opts, runner.WithHistory(store))
	}

	rn, err := runner.NewRunner(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	out, err := rn.Run(ctx, r.Script)
	logger.Info("Run complete",
		slog.String("status", string(out.Status)),
		slog.Bool("report_delivered", out.ReportDelivered),
		slog.String("report", out.ReportLocation),
		slog.Int64("duration_ms", out.Duration.Milliseconds()))
	return err
}
