// Package config loads the runner configuration from a TOML file, an optional
// .env file and the process environment. Invalid values are reported as
// taxonomy environment errors so that callers can stop before any guest runs.
package config

import (
	"time"
)

// Environment variable names
const (
	// InstallDirEnvVar points at the BoxPS sandbox installation directory.
	InstallDirEnvVar = "BOXPS"
	// TimeoutEnvVar overrides sandbox.timeout. Accepts seconds or a Go duration.
	TimeoutEnvVar = "BOXPS_TIMEOUT"
	// MemoryLimitEnvVar overrides sandbox.memory_limit_mb.
	MemoryLimitEnvVar = "BOXPS_MEMORY_LIMIT_MB"
	// InterpreterEnvVar overrides sandbox.interpreter.
	InterpreterEnvVar = "BOXPS_INTERPRETER"
	// ReportDirEnvVar overrides report.dir.
	ReportDirEnvVar = "BOXPS_REPORT_DIR"
	// HistoryPathEnvVar overrides history.path.
	HistoryPathEnvVar = "BOXPS_HISTORY"
	// MetricsTextfileEnvVar overrides metrics.textfile.
	MetricsTextfileEnvVar = "BOXPS_METRICS_TEXTFILE"
)

// Default values for configuration fields
const (
	DefaultInterpreter     = "pwsh"
	DefaultEntryScript     = "box-ps.ps1"
	DefaultTimeoutSeconds  = 30
	DefaultMemoryLimitMB   = 1024
	DefaultSyntaxExitCode  = 2
	DefaultOutputSizeLimit = 10 * 1024 * 1024
	DefaultReportDir       = "./reports"
	DefaultReportRetries   = 2

	// MaxTimeoutSeconds caps sandbox.timeout at 24 hours.
	MaxTimeoutSeconds = 86400
	// MaxReportRetries caps report.retries.
	MaxReportRetries = 10
)

// Config is the complete runner configuration.
type Config struct {
	Sandbox SandboxConfig `toml:"sandbox"`
	Report  ReportConfig  `toml:"report"`
	History HistoryConfig `toml:"history"`
	Metrics MetricsConfig `toml:"metrics"`
}

// SandboxConfig describes the BoxPS installation and the limits applied to
// each guest run.
type SandboxConfig struct {
	InstallDir  string `toml:"install_dir"`
	Interpreter string `toml:"interpreter"`
	EntryScript string `toml:"entry_script"`
	// TimeoutSeconds is the guest time budget. 0 means unlimited.
	TimeoutSeconds int64 `toml:"timeout"`
	// MemoryLimitMB is the guest address-space limit. 0 means unlimited.
	MemoryLimitMB int64 `toml:"memory_limit_mb"`
	// SyntaxExitCode is the exit status the entry script uses to signal a
	// guest parse failure.
	SyntaxExitCode  int   `toml:"syntax_exit_code"`
	OutputSizeLimit int64 `toml:"output_size_limit"`
}

// ReportConfig controls report delivery.
type ReportConfig struct {
	Dir     string `toml:"dir"`
	Retries int    `toml:"retries"`
	// Stdout writes the report to standard output instead of Dir.
	Stdout bool `toml:"stdout"`
}

// HistoryConfig controls the run history store. An empty Path disables it.
type HistoryConfig struct {
	Path string `toml:"path"`
}

// MetricsConfig controls metrics export. An empty Textfile disables it.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// Default returns a configuration populated with default values.
func Default() Config {
	return Config{
		Sandbox: SandboxConfig{
			Interpreter:     DefaultInterpreter,
			EntryScript:     DefaultEntryScript,
			TimeoutSeconds:  DefaultTimeoutSeconds,
			MemoryLimitMB:   DefaultMemoryLimitMB,
			SyntaxExitCode:  DefaultSyntaxExitCode,
			OutputSizeLimit: DefaultOutputSizeLimit,
		},
		Report: ReportConfig{
			Dir:     DefaultReportDir,
			Retries: DefaultReportRetries,
		},
	}
}

// Timeout returns the guest time budget. Zero means unlimited.
func (c SandboxConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MemoryLimitBytes returns the guest memory limit in bytes. Zero means unlimited.
func (c SandboxConfig) MemoryLimitBytes() uint64 {
	if c.MemoryLimitMB <= 0 {
		return 0
	}
	return uint64(c.MemoryLimitMB) * 1024 * 1024 // #nosec G115 -- checked positive above
}
