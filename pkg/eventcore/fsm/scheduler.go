package fsm

import "time"

// Timer is a cancellable scheduled task.
type Timer interface {
	// Stop cancels the task. It reports false if the task already ran or
	// was already stopped.
	Stop() bool
}

// Scheduler runs delayed tasks on their own goroutine and tells time.
// Controllers take one so tests can drive time by hand.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

// RealScheduler schedules with time.AfterFunc.
type RealScheduler struct{}

// AfterFunc calls fn in its own goroutine after d.
func (RealScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Now returns the current time.
func (RealScheduler) Now() time.Time {
	return time.Now()
}
