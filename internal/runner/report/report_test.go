package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/isseis/go-boxps/internal/runner/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleScript() *sandbox.Script {
	return &sandbox.Script{Name: "dropper.ps1", Content: []byte("Write-Host hi")}
}

func sampleResult(output string) *sandbox.Result {
	r := &sandbox.Result{
		ExitCode: 0,
		Stdout:   "hi\n",
		Started:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration: 1500 * time.Millisecond,
	}
	if output != "" {
		r.Output = []byte(output)
	}
	return r
}

func TestBuild_Success(t *testing.T) {
	r, err := Build(Run{
		RunID:              "01RUN",
		Script:             sampleScript(),
		Status:             "success",
		InterpreterVersion: "PowerShell 7.4.1",
		Result:             sampleResult(`{"actions":[{"behavior":"network"}]}`),
	})
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, r.SchemaVersion)
	assert.Equal(t, "dropper.ps1", r.Script.Name)
	sum := sha256.Sum256([]byte("Write-Host hi"))
	assert.Equal(t, hex.EncodeToString(sum[:]), r.Script.SHA256)
	assert.Equal(t, 13, r.Script.Size)
	assert.Nil(t, r.Error)
	assert.Equal(t, int64(1500), r.DurationMS)
	assert.JSONEq(t, `{"actions":[{"behavior":"network"}]}`, string(r.Sandbox))

	data, err := r.Marshal()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "success", decoded["status"])
	assert.NotContains(t, decoded, "error")
	assert.Contains(t, decoded, "sandbox")
}

func TestBuild_SandboxOutputProblems(t *testing.T) {
	tests := []struct {
		name   string
		result *sandbox.Result
	}{
		{name: "no output", result: sampleResult("")},
		{name: "invalid json", result: sampleResult("{not json")},
		{name: "no result", result: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Build(Run{RunID: "01RUN", Script: sampleScript(), Status: "success", Result: tt.result})
			require.Error(t, err)
			assert.True(t, boxerrors.Classify(err, boxerrors.KindReport))
			require.NotNil(t, r)
			assert.Equal(t, "success", r.Status, "a report failure never rewrites the guest status")
			assert.Nil(t, r.Sandbox)
		})
	}
}

func TestBuild_SandboxOutputTooLarge(t *testing.T) {
	res := sampleResult("")
	res.OutputErr = &sandbox.OutputTooLargeError{Limit: 1024}

	r, err := Build(Run{RunID: "01RUN", Script: sampleScript(), Status: "success", Result: res})
	require.Error(t, err)
	assert.True(t, boxerrors.Classify(err, boxerrors.KindReport))
	assert.Equal(t, "sandbox output exceeds 1024 bytes", boxerrors.Message(err))
	require.NotNil(t, r)
	assert.Equal(t, "success", r.Status)
}

func TestBuild_FailedRun(t *testing.T) {
	guestErr := boxerrors.NewTimeoutError("guest exceeded 30s")
	res := sampleResult("{partial")
	res.ExitCode = -1

	r, err := Build(Run{RunID: "01RUN", Script: sampleScript(), Status: "timed_out", Result: res, Err: guestErr})
	require.NoError(t, err, "failed runs are reported even without sandbox output")

	require.NotNil(t, r.Error)
	assert.Equal(t, "timeout", r.Error.Kind)
	assert.Equal(t, "sandbox_error", r.Error.Category)
	assert.Equal(t, "guest exceeded 30s", r.Error.Message)
	assert.Equal(t, -1, r.ExitCode)
	assert.Nil(t, r.Sandbox)
}

func TestBuild_UnclassifiedError(t *testing.T) {
	r, err := Build(Run{RunID: "01RUN", Script: sampleScript(), Status: "sandbox_failed", Err: assert.AnError})
	require.NoError(t, err)

	assert.Equal(t, "unclassified", r.Error.Kind)
	assert.Equal(t, "unclassified", r.Error.Category)
	assert.Equal(t, assert.AnError.Error(), r.Error.Message)
	assert.Equal(t, sandbox.ExitCodeUnknown, r.ExitCode)
}
