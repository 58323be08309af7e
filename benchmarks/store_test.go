package benchmarks

import (
	"testing"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/store"
)

// BenchmarkStore_Append measures single-event appends.
func BenchmarkStore_Append(b *testing.B) {
	st := store.New()
	events := createEvents(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		st.Append(events[i%len(events)])
	}
}

// BenchmarkStore_AppendBatch measures appending 100 events under one lock.
func BenchmarkStore_AppendBatch(b *testing.B) {
	st := store.New()
	events := createEvents(100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		st.AppendBatch(events)
	}
}

// BenchmarkStore_ByType measures an indexed type query over 10k events.
func BenchmarkStore_ByType(b *testing.B) {
	st := store.New()
	st.AppendBatch(createEvents(10000))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = st.ByType("bench.alert")
	}
}

// BenchmarkStore_BySource measures a scanning source query over 10k events.
func BenchmarkStore_BySource(b *testing.B) {
	st := store.New()
	st.AppendBatch(createEvents(10000))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = st.BySource("sensor-1")
	}
}

// BenchmarkStore_Stream measures a filtered stream over 10k events.
func BenchmarkStore_Stream(b *testing.B) {
	st := store.New()
	st.AppendBatch(createEvents(10000))
	filter := store.Filter{Types: []string{"bench.reading"}, Sources: []string{"sensor-2"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n := 0
		for range st.Stream(filter) {
			n++
		}
		_ = n
	}
}

// BenchmarkProject measures folding readings into a running sum.
func BenchmarkProject(b *testing.B) {
	st := store.New()
	st.AppendBatch(createEvents(10000))
	types := []string{"bench.reading"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Project(st, 0.0, types, func(sum float64, evt event.Event) float64 {
			r, _ := event.PayloadAs[reading](evt)
			return sum + r.Value
		})
	}
}

// BenchmarkStore_Cleanup measures removing half of a 10k log and rebuilding
// the index.
func BenchmarkStore_Cleanup(b *testing.B) {
	base := time.Now()
	events := make([]event.Event, 10000)
	for i := range events {
		events[i] = event.New("bench", reading{Value: float64(i)},
			event.WithTimestamp(base.Add(time.Duration(i)*time.Millisecond)))
	}
	cutoff := base.Add(5000 * time.Millisecond)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		st := store.New()
		st.AppendBatch(events)
		b.StartTimer()

		_ = st.Cleanup(cutoff)
	}
}
