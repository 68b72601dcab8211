package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/isseis/go-boxps/internal/runner/bootstrap"
	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the guest
// has been killed.
const waitDelay = 2 * time.Second

// passthroughEnv lists the variables copied from the runner's environment
// into the guest's.
var passthroughEnv = []string{"PATH", "HOME", "LANG", "LC_ALL", "TZ"}

// PwshSandbox runs the BoxPS entry script with a PowerShell interpreter.
type PwshSandbox struct {
	env            *bootstrap.Environment
	timeout        time.Duration
	syntaxExitCode int
	outputLimit    int64
	out            OutputWriter
	tempDir        string
}

// Option configures a PwshSandbox.
type Option func(*PwshSandbox)

// WithOutputWriter streams guest output to w while it is captured.
func WithOutputWriter(w OutputWriter) Option {
	return func(s *PwshSandbox) { s.out = w }
}

// WithTempDir sets the parent directory of per-run work directories.
func WithTempDir(dir string) Option {
	return func(s *PwshSandbox) { s.tempDir = dir }
}

// NewPwshSandbox creates a sandbox for a bootstrapped environment.
func NewPwshSandbox(env *bootstrap.Environment, opts ...Option) *PwshSandbox {
	cfg := env.Config.Sandbox
	s := &PwshSandbox{
		env:            env,
		timeout:        cfg.Timeout(),
		syntaxExitCode: cfg.SyntaxExitCode,
		outputLimit:    cfg.OutputSizeLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute implements Sandbox.
func (s *PwshSandbox) Execute(ctx context.Context, script *Script) (*Result, error) {
	wd, err := newWorkDir(s.tempDir, script)
	if err != nil {
		return nil, boxerrors.Wrap(boxerrors.KindSandbox, "cannot prepare guest work directory", err)
	}
	defer wd.cleanup()

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// #nosec G204 - interpreter and entry script were validated by bootstrap
	cmd := exec.CommandContext(runCtx, s.env.Interpreter,
		"-NoProfile", "-NonInteractive",
		"-File", s.env.EntryScript,
		"-InFile", wd.scriptPath(),
		"-OutFile", wd.outputPath())
	cmd.Dir = wd.path
	cmd.Env = guestEnvironment(s.env.InstallDir)
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	stdout := newOutputWrapper(s.out, StdoutStream, s.outputLimit)
	stderr := newOutputWrapper(s.out, StderrStream, s.outputLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	result := &Result{ExitCode: ExitCodeUnknown, Started: time.Now()}
	runErr := s.run(runCtx, cmd, script.Name)
	result.Duration = time.Since(result.Started)

	result.Stdout, result.StdoutTruncated = stdout.contents()
	result.Stderr, result.StderrTruncated = stderr.contents()
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	slog.Debug("Guest finished",
		"script", script.Name,
		"exit_code", result.ExitCode,
		"duration_ms", result.Duration.Milliseconds(),
		"stdout_truncated", result.StdoutTruncated,
		"stderr_truncated", result.StderrTruncated)

	if err := s.classify(ctx, runCtx, result, runErr); err != nil {
		return result, err
	}

	result.Output, result.OutputErr = wd.readOutput(s.outputLimit)
	return result, nil
}

// run starts cmd, applies the memory limit to the child and waits for it.
func (s *PwshSandbox) run(ctx context.Context, cmd *exec.Cmd, script string) error {
	if err := cmd.Start(); err != nil {
		return &startError{err: err}
	}

	if s.timeout == 0 {
		stop := monitorUnlimited(ctx, cmd.Process.Pid, script, unlimitedWarningInterval)
		defer stop()
	}

	if s.env.MemoryLimit > 0 {
		if err := applyMemoryLimit(cmd.Process.Pid, s.env.MemoryLimit); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return &limitError{err: err}
		}
	}

	return cmd.Wait()
}

// classify maps how the guest ended onto the sandbox branch of the taxonomy.
func (s *PwshSandbox) classify(parent, runCtx context.Context, result *Result, runErr error) error {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return boxerrors.Newf(boxerrors.KindTimeout, "guest exceeded %s", s.timeout)
	}
	if parent.Err() != nil {
		return boxerrors.Wrap(boxerrors.KindSandbox, "guest run cancelled", parent.Err())
	}

	var se *startError
	if errors.As(runErr, &se) {
		return boxerrors.Wrap(boxerrors.KindSandbox, "cannot start interpreter", se.err)
	}
	var le *limitError
	if errors.As(runErr, &le) {
		return boxerrors.Wrap(boxerrors.KindSandbox, "cannot apply memory limit to guest", le.err)
	}

	if runErr == nil && result.ExitCode == 0 {
		return nil
	}

	// Only the entry script's exit status counts; guest output is untrusted.
	if result.ExitCode == s.syntaxExitCode {
		return boxerrors.Newf(boxerrors.KindScriptSyntax,
			"guest script could not be parsed (exit code %d)", result.ExitCode)
	}

	if runErr == nil {
		runErr = fmt.Errorf("exit status %d", result.ExitCode)
	}
	return boxerrors.Wrap(boxerrors.KindSandbox,
		fmt.Sprintf("guest failed with exit code %d", result.ExitCode), runErr)
}

type startError struct{ err error }

func (e *startError) Error() string { return e.err.Error() }
func (e *startError) Unwrap() error { return e.err }

type limitError struct{ err error }

func (e *limitError) Error() string { return e.err.Error() }
func (e *limitError) Unwrap() error { return e.err }

// guestEnvironment builds the guest's environment from an allowlist.
func guestEnvironment(installDir string) []string {
	env := make([]string, 0, len(passthroughEnv)+1)
	for _, name := range passthroughEnv {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return append(env, "BOXPS="+installDir)
}
