// Package report assembles the JSON report of a guest run and delivers it.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/isseis/go-boxps/internal/runner/sandbox"
)

// SchemaVersion is bumped whenever the report layout changes.
const SchemaVersion = 1

// Report is the document written for every run that reached the sandbox.
type Report struct {
	SchemaVersion      int             `json:"schema_version"`
	RunID              string          `json:"run_id"`
	Script             ScriptInfo      `json:"script"`
	Status             string          `json:"status"`
	Error              *ErrorInfo      `json:"error,omitempty"`
	InterpreterVersion string          `json:"interpreter_version,omitempty"`
	StartedAt          time.Time       `json:"started_at"`
	DurationMS         int64           `json:"duration_ms"`
	ExitCode           int             `json:"exit_code"`
	Stdout             string          `json:"stdout"`
	Stderr             string          `json:"stderr"`
	StdoutTruncated    bool            `json:"stdout_truncated,omitempty"`
	StderrTruncated    bool            `json:"stderr_truncated,omitempty"`
	Sandbox            json.RawMessage `json:"sandbox,omitempty"`
}

// ScriptInfo identifies the guest script.
type ScriptInfo struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

// ErrorInfo describes a failed run in taxonomy terms.
type ErrorInfo struct {
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Run is everything the report stage knows about a finished guest run.
type Run struct {
	RunID              string
	Script             *sandbox.Script
	Status             string
	InterpreterVersion string
	// Result may be nil when the sandbox failed before starting the guest.
	Result *sandbox.Result
	Err    error
}

// Build assembles the report for run. A guest that succeeded must have left
// valid JSON output; otherwise Build fails with a report error. For failed
// runs unusable output is simply left out.
func Build(run Run) (*Report, error) {
	r := &Report{
		SchemaVersion:      SchemaVersion,
		RunID:              run.RunID,
		Script:             describeScript(run.Script),
		Status:             run.Status,
		InterpreterVersion: run.InterpreterVersion,
		ExitCode:           sandbox.ExitCodeUnknown,
	}

	if run.Err != nil {
		r.Error = describeError(run.Err)
	}

	res := run.Result
	if res != nil {
		r.StartedAt = res.Started.UTC()
		r.DurationMS = res.Duration.Milliseconds()
		r.ExitCode = res.ExitCode
		r.Stdout = res.Stdout
		r.Stderr = res.Stderr
		r.StdoutTruncated = res.StdoutTruncated
		r.StderrTruncated = res.StderrTruncated
		if json.Valid(res.Output) {
			r.Sandbox = json.RawMessage(res.Output)
		}
	}

	if run.Err == nil {
		var tooLarge *sandbox.OutputTooLargeError
		switch {
		case res != nil && errors.As(res.OutputErr, &tooLarge):
			return r, boxerrors.Wrap(boxerrors.KindReport, tooLarge.Error(), res.OutputErr)
		case res != nil && res.OutputErr != nil:
			return r, boxerrors.Wrap(boxerrors.KindReport, "cannot read sandbox output", res.OutputErr)
		case res == nil || res.Output == nil:
			return r, boxerrors.New(boxerrors.KindReport, "sandbox produced no output")
		case r.Sandbox == nil:
			return r, boxerrors.New(boxerrors.KindReport, "sandbox output is not valid JSON")
		}
	}
	return r, nil
}

// Marshal encodes r as indented JSON.
func (r *Report) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, boxerrors.Wrap(boxerrors.KindReport, "cannot encode report", err)
	}
	return append(data, '\n'), nil
}

func describeScript(s *sandbox.Script) ScriptInfo {
	if s == nil {
		return ScriptInfo{}
	}
	sum := sha256.Sum256(s.Content)
	return ScriptInfo{
		Name:   s.Name,
		SHA256: hex.EncodeToString(sum[:]),
		Size:   len(s.Content),
	}
}

func describeError(err error) *ErrorInfo {
	info := &ErrorInfo{
		Kind:     "unclassified",
		Category: "unclassified",
		Message:  boxerrors.Message(err),
	}
	if kind, ok := boxerrors.KindOf(err); ok {
		info.Kind = kind.String()
	}
	if cat, ok := boxerrors.CategoryOf(err); ok {
		info.Category = cat.String()
	}
	return info
}
