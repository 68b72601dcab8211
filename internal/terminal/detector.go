// Package terminal decides whether console log output should be coloured,
// based on whether stderr is a terminal, CI markers and the NO_COLOR and
// CLICOLOR_FORCE conventions.
package terminal

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ciEnvVars contains common CI environment variables
var ciEnvVars = []string{
	"CI",                     // Generic CI indicator
	"CONTINUOUS_INTEGRATION", // Generic CI indicator
	"GITHUB_ACTIONS",         // GitHub Actions
	"GITLAB_CI",              // GitLab CI
	"JENKINS_URL",            // Jenkins
	"BUILDKITE",              // Buildkite
	"TF_BUILD",               // Azure DevOps
}

// Options overrides detection from the command line.
type Options struct {
	ForceColor   bool
	DisableColor bool
}

// Detector inspects the process environment and the file descriptor of the
// console stream.
type Detector struct {
	options    Options
	fd         int
	lookupEnv  func(string) (string, bool)
	isTerminal func(fd int) bool
}

// NewDetector creates a detector for the console stream f.
func NewDetector(f *os.File, options Options) *Detector {
	return &Detector{
		options:    options,
		fd:         int(f.Fd()), // #nosec G115 -- file descriptors fit in int
		lookupEnv:  os.LookupEnv,
		isTerminal: term.IsTerminal,
	}
}

// IsTerminal reports whether the console stream is a terminal.
func (d *Detector) IsTerminal() bool {
	return d.isTerminal(d.fd)
}

// IsCIEnvironment reports whether a CI marker variable is set. CI=false,
// CI=0 and CI=no do not count.
func (d *Detector) IsCIEnvironment() bool {
	for _, name := range ciEnvVars {
		value, ok := d.lookupEnv(name)
		if !ok || value == "" {
			continue
		}
		if name == "CI" {
			return isTruthy(value)
		}
		return true
	}
	return false
}

// IsInteractive reports whether a human is likely watching the console.
func (d *Detector) IsInteractive() bool {
	return d.IsTerminal() && !d.IsCIEnvironment()
}

// SupportsColor applies, in order: command-line options, CLICOLOR_FORCE,
// NO_COLOR, then interactive detection.
func (d *Detector) SupportsColor() bool {
	if d.options.ForceColor {
		return true
	}
	if d.options.DisableColor {
		return false
	}
	if v, ok := d.lookupEnv("CLICOLOR_FORCE"); ok && isTruthy(v) {
		return true
	}
	if _, ok := d.lookupEnv("NO_COLOR"); ok {
		return false
	}
	if v, ok := d.lookupEnv("TERM"); ok && v == "dumb" {
		return false
	}
	return d.IsInteractive()
}

func isTruthy(value string) bool {
	lower := strings.ToLower(strings.TrimSpace(value))
	return lower != "" && lower != "false" && lower != "0" && lower != "no"
}
