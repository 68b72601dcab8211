package config

import (
	"path/filepath"

	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
)

// Validate checks the values of cfg. It does not touch the filesystem; the
// existence of the installation and its dependencies is checked by the
// bootstrap stage. All failures are BadEnvVar errors.
func Validate(cfg *Config) error {
	s := cfg.Sandbox

	if s.Interpreter == "" {
		return boxerrors.NewBadEnvVarError("sandbox.interpreter must not be empty")
	}
	if s.EntryScript == "" {
		return boxerrors.NewBadEnvVarError("sandbox.entry_script must not be empty")
	}
	if !filepath.IsLocal(s.EntryScript) {
		return boxerrors.Newf(boxerrors.KindBadEnvVar,
			"sandbox.entry_script %q must be a path inside the installation directory", s.EntryScript)
	}
	if s.TimeoutSeconds < 0 || s.TimeoutSeconds > MaxTimeoutSeconds {
		return boxerrors.Newf(boxerrors.KindBadEnvVar,
			"sandbox.timeout %d out of range [0, %d]", s.TimeoutSeconds, MaxTimeoutSeconds)
	}
	if s.MemoryLimitMB < 0 {
		return boxerrors.Newf(boxerrors.KindBadEnvVar,
			"sandbox.memory_limit_mb %d must not be negative", s.MemoryLimitMB)
	}
	if s.SyntaxExitCode < 1 || s.SyntaxExitCode > 255 {
		return boxerrors.Newf(boxerrors.KindBadEnvVar,
			"sandbox.syntax_exit_code %d out of range [1, 255]", s.SyntaxExitCode)
	}
	if s.OutputSizeLimit <= 0 {
		return boxerrors.Newf(boxerrors.KindBadEnvVar,
			"sandbox.output_size_limit %d must be positive", s.OutputSizeLimit)
	}

	r := cfg.Report
	if r.Retries < 0 || r.Retries > MaxReportRetries {
		return boxerrors.Newf(boxerrors.KindBadEnvVar,
			"report.retries %d out of range [0, %d]", r.Retries, MaxReportRetries)
	}
	if !r.Stdout && r.Dir == "" {
		return boxerrors.NewBadEnvVarError("report.dir must be set unless report.stdout is enabled")
	}

	return nil
}
