// Package testhelpers provides a fake BoxPS installation for tests.
package testhelpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// EntryScriptName matches the default sandbox.entry_script.
const EntryScriptName = "box-ps.ps1"

// FakeInterpreter stands in for pwsh. It answers -Version like PowerShell
// 7.4.1; otherwise it sources the -InFile guest as shell code with $out set
// to the -OutFile path, so each test's guest decides what happens.
const FakeInterpreter = `#!/bin/sh
if [ "$1" = "-Version" ]; then
  echo "PowerShell 7.4.1"
  exit 0
fi
while [ $# -gt 0 ]; do
  case "$1" in
    -InFile) in="$2"; shift ;;
    -OutFile) out="$2"; shift ;;
  esac
  shift
done
. "$in"
`

// NewInstall creates an installation directory holding a non-empty entry
// script and returns its path.
func NewInstall(tb testing.TB) string {
	tb.Helper()
	dir := tb.TempDir()
	require.NoError(tb, os.WriteFile(filepath.Join(dir, EntryScriptName), []byte("param($InFile, $OutFile)\n"), 0o600))
	return dir
}

// WriteFakeInterpreter writes FakeInterpreter to a fresh directory and
// returns its path. Tests using it are skipped where /bin/sh is missing.
func WriteFakeInterpreter(tb testing.TB) string {
	tb.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		tb.Skip("fake interpreter needs /bin/sh")
	}
	path := filepath.Join(tb.TempDir(), "pwsh")
	require.NoError(tb, os.WriteFile(path, []byte(FakeInterpreter), 0o700)) // #nosec G306 -- must be executable
	return path
}
