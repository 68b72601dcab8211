// Package runner drives a guest script through the BoxPS pipeline:
// environment setup, sandboxed execution and reporting. Each stage fails
// with its own category of the error taxonomy, and the runner turns that
// category into a run status and a handling policy.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/isseis/go-boxps/internal/runner/bootstrap"
	"github.com/isseis/go-boxps/internal/runner/config"
	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/isseis/go-boxps/internal/runner/history"
	"github.com/isseis/go-boxps/internal/runner/metrics"
	"github.com/isseis/go-boxps/internal/runner/report"
	"github.com/isseis/go-boxps/internal/runner/sandbox"
	"github.com/isseis/go-boxps/internal/safefileio"
)

// ErrRunIDRequired is returned by NewRunner when no run ID was supplied.
var ErrRunIDRequired = errors.New("runID is required")

const defaultReportRetryDelay = 500 * time.Millisecond

// EnvironmentBootstrapper validates the configuration against the system.
type EnvironmentBootstrapper interface {
	Bootstrap(ctx context.Context, cfg *config.Config) (*bootstrap.Environment, error)
}

// SandboxFactory creates the sandbox for a validated environment.
type SandboxFactory func(env *bootstrap.Environment) sandbox.Sandbox

// HistoryRecorder stores finished runs.
type HistoryRecorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Outcome is everything known about a finished run.
type Outcome struct {
	RunID  string
	Status Status
	// Err is the setup or execution error, nil if the guest succeeded.
	Err    error
	Policy Policy
	Result *sandbox.Result
	Report *report.Report

	ReportLocation  string
	ReportDelivered bool
	ReportAttempts  int
	// ReportErr is the last report failure. It never changes Status.
	ReportErr error

	Duration time.Duration
}

// Error returns the error a caller should act on: the guest error if there
// was one, otherwise the report error.
func (o *Outcome) Error() error {
	if o.Err != nil {
		return o.Err
	}
	return o.ReportErr
}

// Runner executes guest scripts.
type Runner struct {
	config           *config.Config
	runID            string
	bootstrapper     EnvironmentBootstrapper
	newSandbox       SandboxFactory
	deliverer        report.Deliverer
	history          HistoryRecorder
	metrics          *metrics.Recorder
	reportRetryDelay time.Duration
	logger           *slog.Logger
}

// Option is a function type for configuring Runner instances
type Option func(*runnerOptions)

type runnerOptions struct {
	runID            string
	bootstrapper     EnvironmentBootstrapper
	sandboxFactory   SandboxFactory
	deliverer        report.Deliverer
	history          HistoryRecorder
	metrics          *metrics.Recorder
	reportRetryDelay *time.Duration
	logger           *slog.Logger
}

// WithRunID sets the run ID used for logs, reports and history.
func WithRunID(runID string) Option {
	return func(opts *runnerOptions) { opts.runID = runID }
}

// WithBootstrapper replaces the default environment bootstrapper.
func WithBootstrapper(b EnvironmentBootstrapper) Option {
	return func(opts *runnerOptions) { opts.bootstrapper = b }
}

// WithSandboxFactory replaces the default PowerShell sandbox.
func WithSandboxFactory(f SandboxFactory) Option {
	return func(opts *runnerOptions) { opts.sandboxFactory = f }
}

// WithDeliverer replaces the deliverer derived from the report config.
func WithDeliverer(d report.Deliverer) Option {
	return func(opts *runnerOptions) { opts.deliverer = d }
}

// WithHistory records every run in h.
func WithHistory(h HistoryRecorder) Option {
	return func(opts *runnerOptions) { opts.history = h }
}

// WithMetrics counts every run in m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(opts *runnerOptions) { opts.metrics = m }
}

// WithReportRetryDelay sets the pause between report delivery attempts.
func WithReportRetryDelay(d time.Duration) Option {
	return func(opts *runnerOptions) { opts.reportRetryDelay = &d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(opts *runnerOptions) { opts.logger = l }
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg *config.Config, options ...Option) (*Runner, error) {
	opts := &runnerOptions{}
	for _, option := range options {
		option(opts)
	}

	if opts.runID == "" {
		return nil, ErrRunIDRequired
	}

	if opts.bootstrapper == nil {
		opts.bootstrapper = bootstrap.New()
	}
	if opts.sandboxFactory == nil {
		opts.sandboxFactory = func(env *bootstrap.Environment) sandbox.Sandbox {
			return sandbox.NewPwshSandbox(env)
		}
	}
	if opts.deliverer == nil {
		opts.deliverer = report.NewFileDeliverer(cfg.Report.Dir)
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}

	delay := defaultReportRetryDelay
	if opts.reportRetryDelay != nil {
		delay = *opts.reportRetryDelay
	}

	return &Runner{
		config:           cfg,
		runID:            opts.runID,
		bootstrapper:     opts.bootstrapper,
		newSandbox:       opts.sandboxFactory,
		deliverer:        opts.deliverer,
		history:          opts.history,
		metrics:          opts.metrics,
		reportRetryDelay: delay,
		logger:           opts.logger.With("run_id", opts.runID),
	}, nil
}

// Run executes the script at scriptPath. The returned Outcome is never nil;
// the error is Outcome.Error().
func (r *Runner) Run(ctx context.Context, scriptPath string) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{RunID: r.runID}
	script := &sandbox.Script{Name: filepath.Base(scriptPath)}

	defer func() {
		out.Duration = time.Since(start)
		r.finish(ctx, out, script)
	}()

	// Setup
	r.logger.Debug("Bootstrapping environment")
	env, err := r.bootstrapper.Bootstrap(ctx, r.config)
	if err != nil {
		r.fail(out, err)
		return out, out.Error()
	}
	r.logger.Info("Environment ready",
		"install_dir", env.InstallDir,
		"interpreter", env.Interpreter,
		"interpreter_version", env.InterpreterVersion)

	// Execute
	if err := r.execute(ctx, env, scriptPath, script, out); err != nil {
		r.fail(out, err)
	} else {
		out.Status = StatusSuccess
		r.logger.Info("Guest finished", "script", script.Name, "exit_code", out.Result.ExitCode)
	}

	// Report runs after sandbox failures too.
	r.report(ctx, env, script, out)
	return out, out.Error()
}

func (r *Runner) execute(ctx context.Context, env *bootstrap.Environment, scriptPath string, script *sandbox.Script, out *Outcome) error {
	content, err := safefileio.SafeReadFile(scriptPath)
	if err != nil {
		return boxerrors.Wrap(boxerrors.KindSandbox, fmt.Sprintf("cannot read guest script %s", scriptPath), err)
	}
	script.Content = content

	r.logger.Info("Executing guest", "script", script.Name, "size", len(content))
	result, err := r.newSandbox(env).Execute(ctx, script)
	out.Result = result
	return err
}

func (r *Runner) fail(out *Outcome, err error) {
	out.Err = err
	out.Status = statusFor(err)
	out.Policy = PolicyFor(err)
	boxerrors.LogClassifiedError(r.logger, "Run failed", err)
	r.logger.Info("Failure policy",
		"stage", out.Policy.Stage,
		"retry", out.Policy.Retry.String(),
		"remediation", out.Policy.Remediation)
}

// report builds the report once and retries only its delivery.
func (r *Runner) report(ctx context.Context, env *bootstrap.Environment, script *sandbox.Script, out *Outcome) {
	rep, err := report.Build(report.Run{
		RunID:              r.runID,
		Script:             script,
		Status:             string(out.Status),
		InterpreterVersion: env.InterpreterVersion,
		Result:             out.Result,
		Err:                out.Err,
	})
	out.Report = rep
	if err != nil {
		r.reportFailed(out, err)
		return
	}

	attempts := 1 + r.config.Report.Retries
	for attempt := 1; attempt <= attempts; attempt++ {
		out.ReportAttempts = attempt
		location, err := r.deliverer.Deliver(ctx, rep)
		if r.metrics != nil {
			r.metrics.IncReportAttempt(err == nil)
		}
		if err == nil {
			out.ReportLocation = location
			out.ReportDelivered = true
			out.ReportErr = nil
			r.logger.Info("Report delivered", "location", location, "attempt", attempt)
			return
		}

		out.ReportErr = err
		r.logger.Warn("Report delivery failed", "attempt", attempt, "max_attempts", attempts, "error", err)
		if attempt < attempts && !sleepContext(ctx, r.reportRetryDelay) {
			break
		}
	}
	r.reportFailed(out, out.ReportErr)
}

func (r *Runner) reportFailed(out *Outcome, err error) {
	out.ReportErr = err
	if out.Err == nil {
		out.Policy = PolicyFor(err)
	}
	boxerrors.LogClassifiedError(r.logger, "Report not delivered", err)
}

// finish records the run in history and metrics. Failures there are logged
// and never change the outcome.
func (r *Runner) finish(ctx context.Context, out *Outcome, script *sandbox.Script) {
	if r.metrics != nil {
		r.metrics.ObserveRun(string(out.Status), out.Duration)
		r.metrics.IncError(out.Err)
		r.metrics.IncError(out.ReportErr)
		if path := r.config.Metrics.Textfile; path != "" {
			if err := r.metrics.WriteTextfile(path); err != nil {
				r.logger.Warn("Cannot export metrics", "path", path, "error", err)
			}
		}
	}

	if r.history == nil {
		return
	}
	entry := history.Entry{
		RunID:           r.runID,
		ScriptName:      script.Name,
		Status:          string(out.Status),
		ExitCode:        sandbox.ExitCodeUnknown,
		StartedAt:       time.Now().Add(-out.Duration).UTC(),
		Duration:        out.Duration,
		ReportLocation:  out.ReportLocation,
		ReportDelivered: out.ReportDelivered,
	}
	if out.Report != nil {
		entry.ScriptSHA256 = out.Report.Script.SHA256
	}
	if out.Result != nil {
		entry.ExitCode = out.Result.ExitCode
	}
	if kind, ok := boxerrors.KindOf(out.Err); ok {
		entry.ErrorKind = kind.String()
	}
	if err := r.history.Record(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Warn("Cannot record run history", "error", err)
	}
}

// sleepContext waits for d or until ctx is done, and reports whether the
// full duration elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
