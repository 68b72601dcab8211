// Package errors defines the closed error taxonomy shared by every stage of a
// BoxPS run: environment setup, sandboxed guest execution and reporting.
//
// Each failure carries a Kind. Kinds form a fixed tree rooted at KindBase, and
// a caller can test membership at any level of that tree with Classify (or
// errors.Is from the standard library) without enumerating the leaves.
//
//nolint:revive // package name conflicts with standard library
package errors

// Kind identifies one node of the error taxonomy.
type Kind int

// The taxonomy. The order of the constants is not significant; the tree is
// defined by the parents table below.
const (
	// KindBase is the root: any failure originating in this system.
	KindBase Kind = iota

	// KindEnv covers failures establishing or validating the execution
	// environment, before any guest script runs.
	KindEnv
	// KindNoEnvVar: a required configuration value is absent.
	KindNoEnvVar
	// KindBadEnvVar: a configuration value is present but invalid.
	KindBadEnvVar
	// KindBadInstall: the sandbox installation is missing or malformed.
	KindBadInstall
	// KindMem: memory limit setup failed.
	KindMem
	// KindDependency: a required library, binary or service is unavailable
	// or incompatible.
	KindDependency

	// KindSandbox covers failures during guest execution. It is also raised
	// directly for execution failures without a more specific leaf.
	KindSandbox
	// KindTimeout: the guest exceeded its time budget.
	KindTimeout
	// KindScriptSyntax: the guest script failed to parse.
	KindScriptSyntax

	// KindReport covers failures producing or delivering the run report
	// after the guest concluded.
	KindReport

	kindCount
)

// noParent marks the root in the parents table.
const noParent Kind = -1

var parents = [kindCount]Kind{
	KindBase:         noParent,
	KindEnv:          KindBase,
	KindNoEnvVar:     KindEnv,
	KindBadEnvVar:    KindEnv,
	KindBadInstall:   KindEnv,
	KindMem:          KindEnv,
	KindDependency:   KindEnv,
	KindSandbox:      KindBase,
	KindTimeout:      KindSandbox,
	KindScriptSyntax: KindSandbox,
	KindReport:       KindBase,
}

var names = [kindCount]string{
	KindBase:         "boxps_error",
	KindEnv:          "env_error",
	KindNoEnvVar:     "no_env_var",
	KindBadEnvVar:    "bad_env_var",
	KindBadInstall:   "bad_install",
	KindMem:          "mem_error",
	KindDependency:   "dependency_error",
	KindSandbox:      "sandbox_error",
	KindTimeout:      "timeout",
	KindScriptSyntax: "script_syntax",
	KindReport:       "report_error",
}

// Kinds returns every kind of the taxonomy, root first.
func Kinds() []Kind {
	kinds := make([]Kind, 0, kindCount)
	for k := KindBase; k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= KindBase && k < kindCount
}

// String returns the snake_case name of the kind, as used in log attributes
// and reports.
func (k Kind) String() string {
	if !k.Valid() {
		return "unknown_kind"
	}
	return names[k]
}

// Error makes a Kind usable as an errors.Is target:
//
//	if errors.Is(err, boxerrors.KindEnv) { ... }
func (k Kind) Error() string {
	return k.String()
}

// Parent returns the parent kind. The root and invalid kinds have none.
func (k Kind) Parent() (Kind, bool) {
	if !k.Valid() || parents[k] == noParent {
		return noParent, false
	}
	return parents[k], true
}

// IsA reports whether k equals ancestor or descends from it.
func (k Kind) IsA(ancestor Kind) bool {
	if !k.Valid() || !ancestor.Valid() {
		return false
	}
	for cur := k; cur != noParent; cur = parents[cur] {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// Ancestors returns the proper ancestors of k, nearest first, ending with
// KindBase.
func (k Kind) Ancestors() []Kind {
	if !k.Valid() {
		return nil
	}
	var out []Kind
	for cur := parents[k]; cur != noParent; cur = parents[cur] {
		out = append(out, cur)
	}
	return out
}

// Category returns the top-level category below the root that k belongs
// to: KindEnv, KindSandbox or KindReport. The root is its own category.
func (k Kind) Category() Kind {
	if !k.Valid() {
		return noParent
	}
	cur := k
	for parents[cur] != noParent && parents[cur] != KindBase {
		cur = parents[cur]
	}
	return cur
}
