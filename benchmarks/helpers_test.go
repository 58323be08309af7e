package benchmarks

import (
	"fmt"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// reading is a small payload used to fill the log.
type reading struct {
	Sensor string  `json:"sensor"`
	Value  float64 `json:"value"`
}

func (reading) EventType() string { return "bench.reading" }

// alert is a second payload type so type queries have something to skip.
type alert struct {
	Level string `json:"level"`
}

func (alert) EventType() string { return "bench.alert" }

// createEvents returns n events, one alert for every ten readings.
func createEvents(n int) []event.Event {
	events := make([]event.Event, 0, n)
	for i := 0; i < n; i++ {
		if i%10 == 9 {
			events = append(events, event.New("bench", alert{Level: "warn"}))
			continue
		}
		events = append(events, event.New(sensorID(i%4), reading{Sensor: sensorID(i % 4), Value: float64(i)}))
	}
	return events
}

func sensorID(i int) string {
	return fmt.Sprintf("sensor-%d", i)
}
