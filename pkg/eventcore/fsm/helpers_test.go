package fsm_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventcore/pkg/eventcore/bus"
	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/fsm"
)

// manualScheduler runs timers only when the test advances time.
type manualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) fsm.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now.Add(d), seq: len(s.tasks), fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *manualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, running due timers in deadline order.
// Timers are run without holding the scheduler lock.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		due := s.dueLocked(target)
		if due == nil {
			if s.now.Before(target) {
				s.now = target
			}
			s.mu.Unlock()
			return
		}
		if due.at.After(s.now) {
			s.now = due.at
		}
		due.fired = true
		s.mu.Unlock()

		due.fn()
	}
}

func (s *manualScheduler) dueLocked(target time.Time) *manualTimer {
	var pending []*manualTimer
	for _, t := range s.tasks {
		if !t.stopped && !t.fired && !t.at.After(target) {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].at.Equal(pending[j].at) {
			return pending[i].seq < pending[j].seq
		}
		return pending[i].at.Before(pending[j].at)
	})
	return pending[0]
}

// Pending returns the number of armed timers.
func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(_ context.Context, evt event.Event) bus.Receipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return bus.Receipt{EventID: evt.ID(), EventType: evt.Type()}
}

func (r *recorder) changes() []fsm.StateChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fsm.StateChanged, 0, len(r.events))
	for _, evt := range r.events {
		if sc, ok := event.PayloadAs[fsm.StateChanged](evt); ok {
			out = append(out, sc)
		}
	}
	return out
}

func newController(t *testing.T, opts ...fsm.Option) (*fsm.Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := fsm.New(rec, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, rec
}

func waitIdle(t *testing.T, c *fsm.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Sync(ctx))
}

// drive applies inputs and requires each to transition.
func drive(t *testing.T, c *fsm.Controller, inputs ...fsm.Input) {
	t.Helper()
	for _, in := range inputs {
		res := c.Handle(context.Background(), in)
		require.Equal(t, fsm.OutcomeTransitioned, res.Outcome, "input %s from %s", in.Kind, res.From)
	}
}

func toReady(t *testing.T, c *fsm.Controller) {
	t.Helper()
	drive(t, c,
		fsm.Initialize(),
		fsm.RequestPermission(),
		fsm.GrantPermission(),
		fsm.StartDataFetch(),
		fsm.CompleteDataFetch(),
	)
}
