//nolint:revive // package name conflicts with standard library
package errors

import (
	goerrors "errors"
)

// Classify reports whether err, or any error in its wrap chain, is a
// taxonomy error whose kind is kind or a descendant of kind. It has no side
// effects and is safe for concurrent use.
func Classify(err error, kind Kind) bool {
	if err == nil || !kind.Valid() {
		return false
	}
	return goerrors.Is(err, kind)
}

// KindOf returns the kind of the outermost taxonomy error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !goerrors.As(err, &e) {
		return noParent, false
	}
	return e.kind, true
}

// Message returns the construction-time message of the outermost taxonomy
// error in err's chain. For errors outside the taxonomy it falls back to
// err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if goerrors.As(err, &e) {
		return e.message
	}
	return err.Error()
}

// CategoryOf returns the top-level category of err: KindEnv, KindSandbox,
// KindReport, or KindBase for root-kind errors.
func CategoryOf(err error) (Kind, bool) {
	kind, ok := KindOf(err)
	if !ok {
		return noParent, false
	}
	return kind.Category(), true
}
