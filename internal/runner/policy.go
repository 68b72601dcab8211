package runner

import (
	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
)

// Stage names a step of the run pipeline.
type Stage string

// Pipeline stages
const (
	StageSetup   Stage = "setup"
	StageExecute Stage = "execute"
	StageReport  Stage = "report"
	StageUnknown Stage = "unknown"
)

// RetryPolicy tells a caller whether and how a failed run may be retried.
type RetryPolicy int

const (
	// RetryNever means the run must not be retried until something changes.
	RetryNever RetryPolicy = iota
	// RetryFreshSandbox means the guest may be re-run in a new sandbox.
	RetryFreshSandbox
	// RetryReportOnly means only report delivery may be retried.
	RetryReportOnly
)

// String returns the policy name.
func (p RetryPolicy) String() string {
	switch p {
	case RetryNever:
		return "never"
	case RetryFreshSandbox:
		return "fresh_sandbox"
	case RetryReportOnly:
		return "report_only"
	default:
		return "unknown"
	}
}

// Policy is the handling a caller should apply to a run error.
type Policy struct {
	Stage       Stage
	Retry       RetryPolicy
	Remediation string
}

// PolicyFor maps err onto its handling policy. The stage and remediation
// follow from the error's category alone.
func PolicyFor(err error) Policy {
	switch {
	case err == nil:
		return Policy{Stage: StageUnknown, Retry: RetryNever}

	case boxerrors.Classify(err, boxerrors.KindEnv):
		return Policy{
			Stage:       StageSetup,
			Retry:       RetryNever,
			Remediation: "fix the BoxPS installation or runner configuration, then run again",
		}

	case boxerrors.Classify(err, boxerrors.KindSandbox):
		retry := RetryFreshSandbox
		if boxerrors.Classify(err, boxerrors.KindScriptSyntax) {
			retry = RetryNever
		}
		return Policy{
			Stage:       StageExecute,
			Retry:       retry,
			Remediation: "the guest was torn down; review the report for its behaviour",
		}

	case boxerrors.Classify(err, boxerrors.KindReport):
		return Policy{
			Stage:       StageReport,
			Retry:       RetryReportOnly,
			Remediation: "the guest outcome stands; retry report delivery",
		}

	default:
		return Policy{
			Stage:       StageUnknown,
			Retry:       RetryNever,
			Remediation: "unexpected failure; see the log for details",
		}
	}
}
