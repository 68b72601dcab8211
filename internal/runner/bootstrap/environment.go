// Package bootstrap implements the setup stage of a run: it validates the
// BoxPS installation, its interpreter and the memory limit before any guest
// script is executed, and it initialises logging. Every failure it returns
// belongs to the environment category of the error taxonomy.
package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/isseis/go-boxps/internal/runner/config"
	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
)

const (
	// MinMemoryLimitMB is the smallest guest memory limit the interpreter
	// can start with.
	MinMemoryLimitMB = 64

	// MaxMemoryLimitMB is the largest limit whose byte count fits in a uint64.
	MaxMemoryLimitMB = math.MaxUint64 >> 20

	// MinInterpreterVersion is the oldest PowerShell release BoxPS supports.
	MinInterpreterVersion = "7.0.0"

	probeTimeout = 10 * time.Second
)

// Environment is the validated execution environment handed to the sandbox.
type Environment struct {
	Config             *config.Config
	InstallDir         string
	EntryScript        string
	Interpreter        string
	InterpreterVersion string
	MemoryLimit        uint64
}

// ProbeFunc runs the interpreter's version query and returns its output.
type ProbeFunc func(ctx context.Context, interpreter string) (string, error)

// Bootstrapper validates the environment. The zero value is not usable; use New.
type Bootstrapper struct {
	lookPath    func(file string) (string, error)
	probe       ProbeFunc
	totalMemory func() (uint64, bool, error)
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithLookPath replaces exec.LookPath.
func WithLookPath(f func(string) (string, error)) Option {
	return func(b *Bootstrapper) { b.lookPath = f }
}

// WithProbe replaces the interpreter version probe.
func WithProbe(f ProbeFunc) Option {
	return func(b *Bootstrapper) { b.probe = f }
}

// WithTotalMemory replaces the system memory query. The boolean result
// reports whether the platform can answer it.
func WithTotalMemory(f func() (uint64, bool, error)) Option {
	return func(b *Bootstrapper) { b.totalMemory = f }
}

// New creates a Bootstrapper that inspects the real system.
func New(opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		lookPath:    exec.LookPath,
		probe:       probeInterpreterVersion,
		totalMemory: systemTotalMemory,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bootstrap validates cfg against the system, in order: installation
// directory, entry script, interpreter, memory limit, report directory.
func (b *Bootstrapper) Bootstrap(ctx context.Context, cfg *config.Config) (*Environment, error) {
	installDir, err := resolveInstallDir(cfg.Sandbox.InstallDir)
	if err != nil {
		return nil, err
	}

	entry, err := resolveEntryScript(installDir, cfg.Sandbox.EntryScript)
	if err != nil {
		return nil, err
	}

	interpreter, ver, err := b.resolveInterpreter(ctx, cfg.Sandbox.Interpreter)
	if err != nil {
		return nil, err
	}

	limit, err := b.checkMemoryLimit(cfg.Sandbox.MemoryLimitMB)
	if err != nil {
		return nil, err
	}

	if err := checkReportDir(cfg.Report); err != nil {
		return nil, err
	}

	return &Environment{
		Config:             cfg,
		InstallDir:         installDir,
		EntryScript:        entry,
		Interpreter:        interpreter,
		InterpreterVersion: ver,
		MemoryLimit:        limit,
	}, nil
}

func resolveInstallDir(dir string) (string, error) {
	if dir == "" {
		return "", boxerrors.Newf(boxerrors.KindNoEnvVar,
			"%s is not set and sandbox.install_dir is empty", config.InstallDirEnvVar)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", boxerrors.Wrap(boxerrors.KindBadEnvVar, fmt.Sprintf("invalid install directory %q", dir), err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", boxerrors.Wrap(boxerrors.KindBadEnvVar,
			fmt.Sprintf("%s points to %s, which cannot be accessed", config.InstallDirEnvVar, abs), err)
	}
	if !info.IsDir() {
		return "", boxerrors.Newf(boxerrors.KindBadEnvVar,
			"%s points to %s, which is not a directory", config.InstallDirEnvVar, abs)
	}
	return abs, nil
}

func resolveEntryScript(installDir, name string) (string, error) {
	path := filepath.Join(installDir, name)
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", boxerrors.Newf(boxerrors.KindBadInstall,
				"entry script %s not found in %s", name, installDir)
		}
		return "", boxerrors.Wrap(boxerrors.KindBadInstall, fmt.Sprintf("cannot inspect entry script %s", path), err)
	}
	if !info.Mode().IsRegular() {
		return "", boxerrors.Newf(boxerrors.KindBadInstall, "entry script %s is not a regular file", path)
	}
	if info.Size() == 0 {
		return "", boxerrors.Newf(boxerrors.KindBadInstall, "entry script %s is empty", path)
	}
	return path, nil
}

func (b *Bootstrapper) resolveInterpreter(ctx context.Context, name string) (string, string, error) {
	path, err := b.lookPath(name)
	if err != nil {
		return "", "", boxerrors.Wrap(boxerrors.KindDependency,
			fmt.Sprintf("interpreter %s is not available", name), err)
	}

	out, err := b.probe(ctx, path)
	if err != nil {
		return "", "", boxerrors.Wrap(boxerrors.KindDependency,
			fmt.Sprintf("interpreter %s did not answer a version query", path), err)
	}

	ver, err := checkInterpreterVersion(out)
	if err != nil {
		return "", "", boxerrors.Wrap(boxerrors.KindDependency,
			fmt.Sprintf("interpreter %s is incompatible", path), err)
	}
	return path, ver, nil
}

// checkInterpreterVersion accepts "PowerShell 7.4.1" style banners at or
// above MinInterpreterVersion. Other banners are accepted as-is so a custom
// wrapper can stand in for pwsh.
func checkInterpreterVersion(output string) (string, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty version output")
	}

	raw, ok := strings.CutPrefix(line, "PowerShell ")
	if !ok {
		return line, nil
	}

	got, err := version.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("unparsable version %q: %w", raw, err)
	}
	if got.LessThan(version.Must(version.NewVersion(MinInterpreterVersion))) {
		return "", fmt.Errorf("PowerShell %s is older than required %s", got, MinInterpreterVersion)
	}
	return line, nil
}

func probeInterpreterVersion(ctx context.Context, interpreter string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	// #nosec G204 - interpreter was resolved through exec.LookPath
	cmd := exec.CommandContext(ctx, interpreter, "-Version")
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

func (b *Bootstrapper) checkMemoryLimit(limitMB int64) (uint64, error) {
	if limitMB == 0 {
		return 0, nil
	}
	if limitMB < MinMemoryLimitMB {
		return 0, boxerrors.Newf(boxerrors.KindMem,
			"memory limit %d MB is below the minimum of %d MB", limitMB, MinMemoryLimitMB)
	}

	if limitMB > MaxMemoryLimitMB {
		return 0, boxerrors.Newf(boxerrors.KindMem,
			"memory limit %d MB is above the maximum of %d MB", limitMB, uint64(MaxMemoryLimitMB))
	}

	limit := uint64(limitMB) << 20 // #nosec G115 -- limitMB is in [MinMemoryLimitMB, MaxMemoryLimitMB]
	total, known, err := b.totalMemory()
	if err != nil {
		return 0, boxerrors.Wrap(boxerrors.KindMem, "cannot determine system memory", err)
	}
	if known && limit > total {
		return 0, boxerrors.Newf(boxerrors.KindMem,
			"memory limit %d MB exceeds system memory of %d MB", limitMB, total/(1024*1024))
	}
	return limit, nil
}

func checkReportDir(r config.ReportConfig) error {
	if r.Stdout || r.Dir == "" {
		return nil
	}
	info, err := os.Stat(r.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return boxerrors.Wrap(boxerrors.KindBadEnvVar, fmt.Sprintf("cannot access report directory %s", r.Dir), err)
	}
	if !info.IsDir() {
		return boxerrors.Newf(boxerrors.KindBadEnvVar, "report directory %s is not a directory", r.Dir)
	}
	return nil
}
