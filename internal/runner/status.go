package runner

import (
	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
)

// Status is the final state of a run as seen by the guest's owner.
type Status string

// Run statuses
const (
	StatusSuccess       Status = "success"
	StatusEnvFailed     Status = "env_failed"
	StatusTimedOut      Status = "timed_out"
	StatusInvalidInput  Status = "invalid_input"
	StatusSandboxFailed Status = "sandbox_failed"
)

// statusFor derives the run status from the setup or execute error. Report
// errors never reach it.
func statusFor(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case boxerrors.Classify(err, boxerrors.KindEnv):
		return StatusEnvFailed
	case boxerrors.Classify(err, boxerrors.KindTimeout):
		return StatusTimedOut
	case boxerrors.Classify(err, boxerrors.KindScriptSyntax):
		return StatusInvalidInput
	default:
		return StatusSandboxFailed
	}
}
