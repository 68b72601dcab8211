package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/isseis/go-boxps/internal/runner/bootstrap"
	"github.com/isseis/go-boxps/internal/runner/config"
	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/isseis/go-boxps/internal/runner/history"
	"github.com/isseis/go-boxps/internal/runner/metrics"
	"github.com/isseis/go-boxps/internal/runner/report"
	"github.com/isseis/go-boxps/internal/runner/sandbox"
	sandboxtesting "github.com/isseis/go-boxps/internal/runner/sandbox/testing"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testRunID = "01HZXKQ3V6J8E5W0M1N2P3Q4R5"

type stubBootstrapper struct {
	env *bootstrap.Environment
	err error
}

func (s *stubBootstrapper) Bootstrap(_ context.Context, cfg *config.Config) (*bootstrap.Environment, error) {
	if s.err != nil {
		return nil, s.err
	}
	env := *s.env
	env.Config = cfg
	return &env, nil
}

// flakyDeliverer fails the first failures deliveries.
type flakyDeliverer struct {
	mu        sync.Mutex
	failures  int
	calls     int
	delivered []*report.Report
}

func (d *flakyDeliverer) Deliver(_ context.Context, r *report.Report) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return "", boxerrors.NewReportError("disk full")
	}
	d.delivered = append(d.delivered, r)
	return "memory://" + r.RunID, nil
}

type fixture struct {
	cfg       *config.Config
	script    string
	sandbox   *sandboxtesting.MockSandbox
	deliverer *flakyDeliverer
	history   *history.Store
	metrics   *metrics.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Report.Retries = 2

	script := filepath.Join(t.TempDir(), "sample.ps1")
	require.NoError(t, os.WriteFile(script, []byte("Invoke-WebRequest http://example.invalid"), 0o600))

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &fixture{
		cfg:       &cfg,
		script:    script,
		sandbox:   sandboxtesting.NewMockSandbox(),
		deliverer: &flakyDeliverer{},
		history:   store,
		metrics:   metrics.NewRecorder(prom.NewRegistry()),
	}
}

func (f *fixture) runner(t *testing.T, bootErr error) *Runner {
	t.Helper()
	r, err := NewRunner(f.cfg,
		WithRunID(testRunID),
		WithBootstrapper(&stubBootstrapper{
			env: &bootstrap.Environment{InstallDir: "/opt/boxps", InterpreterVersion: "PowerShell 7.4.1"},
			err: bootErr,
		}),
		WithSandboxFactory(func(*bootstrap.Environment) sandbox.Sandbox { return f.sandbox }),
		WithDeliverer(f.deliverer),
		WithHistory(f.history),
		WithMetrics(f.metrics),
		WithReportRetryDelay(0),
	)
	require.NoError(t, err)
	return r
}

func (f *fixture) lastHistory(t *testing.T) history.Entry {
	t.Helper()
	entries, err := f.history.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func okResult() *sandbox.Result {
	return &sandbox.Result{
		ExitCode: 0,
		Stdout:   "done\n",
		Output:   []byte(`{"actions":[]}`),
		Started:  time.Now(),
		Duration: time.Second,
	}
}

func TestNewRunner_RequiresRunID(t *testing.T) {
	cfg := config.Default()
	_, err := NewRunner(&cfg)
	assert.ErrorIs(t, err, ErrRunIDRequired)
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t)
	f.sandbox.On("Execute", mock.Anything, mock.MatchedBy(func(s *sandbox.Script) bool {
		return s.Name == "sample.ps1" && string(s.Content) == "Invoke-WebRequest http://example.invalid"
	})).Return(okResult(), nil).Once()

	out, err := f.runner(t, nil).Run(context.Background(), f.script)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.ReportDelivered)
	assert.Equal(t, 1, out.ReportAttempts)
	assert.Equal(t, "memory://"+testRunID, out.ReportLocation)
	require.Len(t, f.deliverer.delivered, 1)
	assert.Equal(t, "success", f.deliverer.delivered[0].Status)
	f.sandbox.AssertExpectations(t)

	entry := f.lastHistory(t)
	assert.Equal(t, testRunID, entry.RunID)
	assert.Equal(t, "success", entry.Status)
	assert.Equal(t, out.Report.Script.SHA256, entry.ScriptSHA256)
	assert.True(t, entry.ReportDelivered)

	count, err := testutil.GatherAndCount(f.metrics.Registry(), "boxps_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRun_EnvErrorStopsBeforeExecution(t *testing.T) {
	f := newFixture(t)
	bootErr := boxerrors.NewDependencyError("missing libX")

	out, err := f.runner(t, bootErr).Run(context.Background(), f.script)
	require.Error(t, err)

	assert.True(t, boxerrors.Classify(err, boxerrors.KindEnv))
	assert.False(t, boxerrors.Classify(err, boxerrors.KindSandbox))
	assert.Equal(t, "missing libX", boxerrors.Message(err))
	assert.Equal(t, StatusEnvFailed, out.Status)
	assert.Equal(t, Policy{
		Stage:       StageSetup,
		Retry:       RetryNever,
		Remediation: PolicyFor(bootErr).Remediation,
	}, out.Policy)
	assert.Nil(t, out.Report)
	f.sandbox.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assert.Zero(t, f.deliverer.calls)

	entry := f.lastHistory(t)
	assert.Equal(t, "env_failed", entry.Status)
	assert.Equal(t, "dependency_error", entry.ErrorKind)
}

func TestRun_SandboxFailuresAreReported(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     Status
		retry      RetryPolicy
		reportKind string
	}{
		{
			name:       "timeout",
			err:        boxerrors.NewTimeoutError("exceeded 30s"),
			status:     StatusTimedOut,
			retry:      RetryFreshSandbox,
			reportKind: "timeout",
		},
		{
			name:       "syntax",
			err:        boxerrors.NewScriptSyntaxError("unexpected token"),
			status:     StatusInvalidInput,
			retry:      RetryNever,
			reportKind: "script_syntax",
		},
		{
			name:       "generic sandbox failure",
			err:        boxerrors.Wrap(boxerrors.KindSandbox, "guest failed with exit code 5", errors.New("exit status 5")),
			status:     StatusSandboxFailed,
			retry:      RetryFreshSandbox,
			reportKind: "sandbox_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := okResult()
			res.ExitCode = 5
			res.Output = nil
			f.sandbox.On("Execute", mock.Anything, mock.Anything).Return(res, tt.err).Once()

			out, err := f.runner(t, nil).Run(context.Background(), f.script)
			require.Error(t, err)
			assert.Same(t, tt.err, err, "errors propagate unmodified")
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, StageExecute, out.Policy.Stage)
			assert.Equal(t, tt.retry, out.Policy.Retry)

			require.True(t, out.ReportDelivered, "sandbox failures still produce a report")
			require.Len(t, f.deliverer.delivered, 1)
			rep := f.deliverer.delivered[0]
			assert.Equal(t, string(tt.status), rep.Status)
			require.NotNil(t, rep.Error)
			assert.Equal(t, tt.reportKind, rep.Error.Kind)
			assert.Equal(t, "sandbox_error", rep.Error.Category)
		})
	}
}

func TestRun_ReportRetriedWithoutRerunningGuest(t *testing.T) {
	f := newFixture(t)
	f.deliverer.failures = 2
	f.sandbox.On("Execute", mock.Anything, mock.Anything).Return(okResult(), nil).Once()

	out, err := f.runner(t, nil).Run(context.Background(), f.script)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.ReportDelivered)
	assert.Equal(t, 3, out.ReportAttempts)
	assert.NoError(t, out.ReportErr)
	f.sandbox.AssertNumberOfCalls(t, "Execute", 1)
}

func TestRun_ReportErrorKeepsGuestOutcome(t *testing.T) {
	f := newFixture(t)
	f.deliverer.failures = 100
	f.sandbox.On("Execute", mock.Anything, mock.Anything).Return(okResult(), nil).Once()

	out, err := f.runner(t, nil).Run(context.Background(), f.script)
	require.Error(t, err)

	assert.True(t, boxerrors.Classify(err, boxerrors.KindReport))
	assert.Equal(t, "disk full", boxerrors.Message(err))
	assert.Equal(t, StatusSuccess, out.Status, "guest success is unaffected by report failure")
	assert.NoError(t, out.Err)
	assert.False(t, out.ReportDelivered)
	assert.Equal(t, 1+f.cfg.Report.Retries, out.ReportAttempts)
	assert.Equal(t, StageReport, out.Policy.Stage)
	assert.Equal(t, RetryReportOnly, out.Policy.Retry)
	f.sandbox.AssertNumberOfCalls(t, "Execute", 1)

	entry := f.lastHistory(t)
	assert.Equal(t, "success", entry.Status)
	assert.False(t, entry.ReportDelivered)
}

func TestRun_MissingSandboxOutputIsReportError(t *testing.T) {
	f := newFixture(t)
	res := okResult()
	res.Output = nil
	f.sandbox.On("Execute", mock.Anything, mock.Anything).Return(res, nil).Once()

	out, err := f.runner(t, nil).Run(context.Background(), f.script)
	require.Error(t, err)

	assert.True(t, boxerrors.Classify(err, boxerrors.KindReport))
	assert.Equal(t, StatusSuccess, out.Status)
	assert.False(t, out.ReportDelivered)
	assert.Zero(t, f.deliverer.calls)
}

func TestRun_UnreadableScript(t *testing.T) {
	f := newFixture(t)

	out, err := f.runner(t, nil).Run(context.Background(), filepath.Join(t.TempDir(), "absent.ps1"))
	require.Error(t, err)

	kind, ok := boxerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, boxerrors.KindSandbox, kind)
	assert.Equal(t, StatusSandboxFailed, out.Status)
	f.sandbox.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assert.True(t, out.ReportDelivered)
}

type failingHistory struct{}

func (failingHistory) Record(context.Context, history.Entry) error { return errors.New("database is locked") }

func TestRun_SideChannelFailuresAreNotRaised(t *testing.T) {
	f := newFixture(t)
	f.cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "absent", "boxps.prom")
	f.sandbox.On("Execute", mock.Anything, mock.Anything).Return(okResult(), nil).Once()

	r, err := NewRunner(f.cfg,
		WithRunID(testRunID),
		WithBootstrapper(&stubBootstrapper{env: &bootstrap.Environment{}}),
		WithSandboxFactory(func(*bootstrap.Environment) sandbox.Sandbox { return f.sandbox }),
		WithDeliverer(f.deliverer),
		WithHistory(failingHistory{}),
		WithMetrics(f.metrics),
		WithReportRetryDelay(0),
	)
	require.NoError(t, err)

	out, err := r.Run(context.Background(), f.script)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
}

func TestRun_MetricsTextfile(t *testing.T) {
	f := newFixture(t)
	f.cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "boxps.prom")
	f.sandbox.On("Execute", mock.Anything, mock.Anything).
		Return(okResult(), boxerrors.NewTimeoutError("exceeded 30s")).Once()

	_, err := f.runner(t, nil).Run(context.Background(), f.script)
	require.Error(t, err)

	data, err := os.ReadFile(f.cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `boxps_runs_total{status="timed_out"} 1`)
	assert.Contains(t, string(data), `boxps_errors_total{category="sandbox_error",kind="timeout"} 1`)
}
