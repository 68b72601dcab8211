// Package sandbox runs guest scripts inside the BoxPS PowerShell sandbox and
// classifies how each run ended.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// Stream names for guest output
const (
	// StdoutStream is the name of the standard output stream
	StdoutStream = "stdout"
	// StderrStream is the name of the standard error stream
	StderrStream = "stderr"
)

// ExitCodeUnknown is reported when the guest never produced an exit status.
const ExitCodeUnknown = -1

// OutputFileName is the file the entry script writes its analysis to,
// relative to the run's work directory.
const OutputFileName = "sandbox.json"

// Script is a guest script submitted for execution.
type Script struct {
	// Name is the display name, usually the base name of the input file.
	Name    string
	Content []byte
}

// Result describes a finished guest run. It is returned alongside an error
// when the guest failed, so the report stage can still include its output.
type Result struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	// Output holds the entry script's JSON output, nil if it wrote none.
	Output []byte
	// OutputErr is set when the output file exists but could not be read.
	OutputErr error
	Started   time.Time
	Duration  time.Duration
}

// OutputTooLargeError reports an entry script output file above the
// configured size limit.
type OutputTooLargeError struct {
	Limit int64
	err   error
}

func (e *OutputTooLargeError) Error() string {
	return fmt.Sprintf("sandbox output exceeds %d bytes", e.Limit)
}

func (e *OutputTooLargeError) Unwrap() error { return e.err }

// Sandbox executes guest scripts.
type Sandbox interface {
	// Execute runs script to completion. Failures are taxonomy sandbox errors.
	Execute(ctx context.Context, script *Script) (*Result, error)
}

// OutputWriter receives guest output as it is produced.
type OutputWriter interface {
	Write(stream string, data []byte) error
}
