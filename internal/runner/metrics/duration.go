package metrics

import (
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// durationHistogram is a run-duration histogram that can be seeded with the
// state exported by an earlier process.
type durationHistogram struct {
	desc  *prom.Desc
	upper []float64

	mu sync.Mutex
	// cumulative[i] counts observations <= upper[i].
	cumulative []uint64
	count      uint64
	sum        float64
}

func newDurationHistogram(name, help string, buckets []float64) *durationHistogram {
	return &durationHistogram{
		desc:       prom.NewDesc(name, help, nil, nil),
		upper:      buckets,
		cumulative: make([]uint64, len(buckets)),
	}
}

// Describe implements prometheus.Collector.
func (h *durationHistogram) Describe(ch chan<- *prom.Desc) { ch <- h.desc }

// Collect implements prometheus.Collector.
func (h *durationHistogram) Collect(ch chan<- prom.Metric) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buckets := make(map[float64]uint64, len(h.upper))
	for i, u := range h.upper {
		buckets[u] = h.cumulative[i]
	}
	ch <- prom.MustNewConstHistogram(h.desc, h.count, h.sum, buckets)
}

// Observe adds one duration in seconds.
func (h *durationHistogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, u := range h.upper {
		if v <= u {
			h.cumulative[i]++
		}
	}
	h.count++
	h.sum += v
}

// add merges a previously exported histogram. Buckets with an upper bound
// this histogram does not have are ignored.
func (h *durationHistogram) add(prev *dto.Histogram) {
	if prev == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count += prev.GetSampleCount()
	h.sum += prev.GetSampleSum()
	for _, b := range prev.GetBucket() {
		for i, u := range h.upper {
			if u == b.GetUpperBound() {
				h.cumulative[i] += b.GetCumulativeCount()
			}
		}
	}
}
