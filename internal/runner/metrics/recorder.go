// Package metrics exposes run counters through a Prometheus registry that
// can be exported to a node_exporter textfile. Each boxps process is short
// lived, so the counters are carried from one process to the next through
// the textfile itself.
package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/isseis/go-boxps/internal/safefileio"
	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

const namespace = "boxps"

// Metric names
var (
	runsName           = prom.BuildFQName(namespace, "", "runs_total")
	errorsName         = prom.BuildFQName(namespace, "", "errors_total")
	runDurationName    = prom.BuildFQName(namespace, "", "run_duration_seconds")
	reportAttemptsName = prom.BuildFQName(namespace, "", "report_attempts_total")
)

// Recorder records run outcomes.
type Recorder struct {
	reg            *prom.Registry
	runs           *prom.CounterVec
	errs           *prom.CounterVec
	runDuration    *durationHistogram
	reportAttempts *prom.CounterVec
}

// NewRecorder registers the run metrics on reg, or on a fresh registry
// when reg is nil.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		reg: reg,
		runs: prom.NewCounterVec(prom.CounterOpts{
			Name: runsName,
			Help: "Guest runs by final status",
		}, []string{"status"}),
		errs: prom.NewCounterVec(prom.CounterOpts{
			Name: errorsName,
			Help: "Run errors by taxonomy kind and category",
		}, []string{"kind", "category"}),
		runDuration: newDurationHistogram(runDurationName,
			"Wall-clock duration of guest runs",
			prom.ExponentialBuckets(0.5, 2, 10)),
		reportAttempts: prom.NewCounterVec(prom.CounterOpts{
			Name: reportAttemptsName,
			Help: "Report delivery attempts by result",
		}, []string{"result"}),
	}
	reg.MustRegister(r.runs, r.errs, r.runDuration, r.reportAttempts)
	return r
}

// Registry returns the registry the metrics live in.
func (r *Recorder) Registry() *prom.Registry { return r.reg }

// ObserveRun counts a finished run and its duration.
func (r *Recorder) ObserveRun(status string, d time.Duration) {
	r.runs.WithLabelValues(status).Inc()
	if d > 0 {
		r.runDuration.Observe(d.Seconds())
	}
}

// IncError counts err under its kind and category. Errors outside the
// taxonomy are counted as "unclassified".
func (r *Recorder) IncError(err error) {
	if err == nil {
		return
	}
	kind, category := "unclassified", "unclassified"
	if k, ok := boxerrors.KindOf(err); ok {
		kind = k.String()
	}
	if c, ok := boxerrors.CategoryOf(err); ok {
		category = c.String()
	}
	r.errs.WithLabelValues(kind, category).Inc()
}

// IncReportAttempt counts one report delivery attempt.
func (r *Recorder) IncReportAttempt(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	r.reportAttempts.WithLabelValues(result).Inc()
}

// WriteTextfile writes every metric in the registry to path in the text
// exposition format, replacing the file atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prom.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// LoadTextfile adds the values from a textfile written by an earlier process,
// so counters keep growing across runs instead of restarting at zero. A
// missing file is not an error. Call it before writing the textfile.
func (r *Recorder) LoadTextfile(path string) error {
	data, err := safefileio.SafeReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read metrics textfile %s: %w", path, err)
	}

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse metrics textfile %s: %w", path, err)
	}

	for name, mf := range families {
		switch name {
		case runsName:
			addCounters(r.runs, mf, "status")
		case errorsName:
			addCounters(r.errs, mf, "kind", "category")
		case reportAttemptsName:
			addCounters(r.reportAttempts, mf, "result")
		case runDurationName:
			for _, m := range mf.GetMetric() {
				r.runDuration.add(m.GetHistogram())
			}
		}
	}
	return nil
}

func addCounters(vec *prom.CounterVec, mf *dto.MetricFamily, labels ...string) {
	for _, m := range mf.GetMetric() {
		values := make([]string, len(labels))
		for _, lp := range m.GetLabel() {
			if i := slices.Index(labels, lp.GetName()); i >= 0 {
				values[i] = lp.GetValue()
			}
		}
		if v := m.GetCounter().GetValue(); v > 0 {
			vec.WithLabelValues(values...).Add(v)
		}
	}
}
