package fsm

import "time"

// stabilityWindow is the dwell time after which a state counts as settled.
const stabilityWindow = 5 * time.Minute

var stateWeight = map[Kind]float64{
	Uninitialized:        0.5,
	Initializing:         0.6,
	WaitingForPermission: 0.6,
	PermissionDenied:     0.3,
	Authorized:           0.8,
	FetchingInitialData:  0.8,
	Ready:                1.0,
	FetchingData:         0.9,
	ProcessingData:       0.9,
	Error:                0.1,
	Recovering:           0.5,
	Degraded:             0.4,
}

// Diagnostics is a point-in-time view of the controller.
type Diagnostics struct {
	State       State
	TimeInState time.Duration
	Transitions int
	// Retries maps error classification names to failure counts.
	Retries         map[string]int
	RecoveryPending bool
	Health          float64
}

// Diagnostics returns a snapshot of the controller's state and health.
func (c *Controller) Diagnostics() Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := Diagnostics{
		State:           c.state.detached(),
		TimeInState:     max(c.sched.Now().Sub(c.enteredAt), 0),
		Transitions:     c.transitions,
		Retries:         make(map[string]int, len(c.retries)),
		RecoveryPending: c.state.Kind == Recovering && len(c.timers) > 0,
	}
	total := 0
	for kind, n := range c.retries {
		d.Retries[kind.String()] = n
		total += n
	}
	d.Health = HealthScore(c.state.Kind, total, d.TimeInState)
	return d
}

// HealthScore combines state weight, retry pressure, and dwell time into a
// score in [0, 1].
//
// Each outstanding retry costs 0.1, up to 0.5. Settling for longer than the
// stability window earns 0.1 in an operational state and costs 0.1 in
// error, degraded, or permission denied.
func HealthScore(kind Kind, retries int, dwell time.Duration) float64 {
	score := stateWeight[kind]
	score -= min(0.1*float64(retries), 0.5)

	if dwell >= stabilityWindow {
		switch {
		case At(kind).IsOperational() && kind != Degraded:
			score += 0.1
		case kind == Error, kind == Degraded, kind == PermissionDenied:
			score -= 0.1
		}
	}

	return min(max(score, 0), 1)
}
