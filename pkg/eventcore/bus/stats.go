package bus

import (
	"maps"
	"sync"
	"time"
)

// latencyAlpha is the smoothing factor of the running latency averages.
const latencyAlpha = 0.1

// Stats are best-effort bus counters. They are not used for correctness.
type Stats struct {
	Published int
	Handled   int
	Batches   int
	Invalid   int
	Failures  int
	Ignored   int

	// AvgPublishLatency covers persistence and the full fan-out join.
	AvgPublishLatency time.Duration
	// AvgHandlerLatency covers single handler invocations.
	AvgHandlerLatency time.Duration

	PublishedByType map[string]int
	HandlersByType  map[string]int
}

type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{stats: Stats{
		PublishedByType: make(map[string]int),
		HandlersByType:  make(map[string]int),
	}}
}

func ewma(avg, sample time.Duration, first bool) time.Duration {
	if first {
		return sample
	}
	return time.Duration(latencyAlpha*float64(sample) + (1-latencyAlpha)*float64(avg))
}

func (r *statsRecorder) recordPublish(eventType string, handlers int, valid bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.AvgPublishLatency = ewma(r.stats.AvgPublishLatency, d, r.stats.Published == 0)
	r.stats.Published++
	r.stats.PublishedByType[eventType]++
	r.stats.HandlersByType[eventType] += handlers
	if !valid {
		r.stats.Invalid++
	}
}

func (r *statsRecorder) recordHandler(status Status, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.AvgHandlerLatency = ewma(r.stats.AvgHandlerLatency, d, r.stats.Handled == 0)
	r.stats.Handled++
	switch status {
	case StatusFailure:
		r.stats.Failures++
	case StatusIgnored:
		r.stats.Ignored++
	}
}

func (r *statsRecorder) recordBatch() {
	r.mu.Lock()
	r.stats.Batches++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.stats
	out.PublishedByType = maps.Clone(r.stats.PublishedByType)
	out.HandlersByType = maps.Clone(r.stats.HandlersByType)
	return out
}
