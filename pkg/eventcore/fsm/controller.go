package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/bus"
	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
)

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = errors.New("fsm: controller closed")

// Publisher receives StateChanged events. *bus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event) bus.Receipt
}

// Outcome classifies the result of handling one input.
type Outcome int

const (
	// OutcomeTransitioned means the state changed.
	OutcomeTransitioned Outcome = iota
	// OutcomeNoOp means the input led to the current state kind.
	OutcomeNoOp
	// OutcomeUnhandled means the input has no meaning in the current state.
	OutcomeUnhandled
	// OutcomeRejected means the candidate state is not reachable.
	OutcomeRejected
	// OutcomeStale means a timer-originated input outlived its recovery cycle.
	OutcomeStale
	// OutcomeClosed means the controller was closed.
	OutcomeClosed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeTransitioned:
		return "transitioned"
	case OutcomeNoOp:
		return "no_op"
	case OutcomeUnhandled:
		return "unhandled"
	case OutcomeRejected:
		return "rejected"
	case OutcomeStale:
		return "stale"
	case OutcomeClosed:
		return "closed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result reports what Handle did.
type Result struct {
	Outcome Outcome
	From    State
	// To is the committed state for OutcomeTransitioned and the candidate
	// for OutcomeNoOp and OutcomeRejected. Otherwise it equals From.
	To    State
	Input InputKind
}

// Changed reports whether the state changed.
func (r Result) Changed() bool {
	return r.Outcome == OutcomeTransitioned
}

// Transition is one history entry.
type Transition struct {
	From      State
	To        State
	Input     InputKind
	TriggerID string
	At        time.Time
}

// Controller is the lifecycle state machine. All state is guarded by one
// mutex; StateChanged events are published in commit order from a separate
// goroutine so a bus handler may call back into the controller.
type Controller struct {
	mu            sync.Mutex
	state         State
	enteredAt     time.Time
	history       []Transition
	transitions   int
	retries       map[ecerrors.Kind]int
	epoch         uint64
	timers        []Timer
	cancelAttempt context.CancelFunc
	closed        bool

	policy     Policy
	procedures map[ecerrors.Kind]RecoveryProcedure
	fallback   RecoveryProcedure
	publisher  Publisher
	sched      Scheduler
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager

	inbox     *mailbox
	outbox    *mailbox
	closeOnce sync.Once
}

// New creates a controller in the uninitialized state. StateChanged events
// go to publisher, which may be nil.
func New(publisher Publisher, opts ...Option) *Controller {
	c := &Controller{
		state:      At(Uninitialized),
		retries:    make(map[ecerrors.Kind]int),
		policy:     DefaultPolicy(),
		procedures: defaultProcedures(),
		fallback:   genericRecovery,
		publisher:  publisher,
		sched:      RealScheduler{},
		logger:     slog.Default(),
		metrics:    observability.NoopMetrics{},
		spans:      observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy = c.policy.normalized()
	c.enteredAt = c.sched.Now()
	c.inbox = newMailbox()
	c.outbox = newMailbox()
	return c
}

// Handle applies in synchronously and reports the result.
func (c *Controller) Handle(ctx context.Context, in Input) Result {
	ctx, span := c.spans.StartTransitionSpan(ctx, c.State().Kind.String(), in.Kind.String())

	c.mu.Lock()
	res := c.applyLocked(ctx, in)
	c.mu.Unlock()
	res.From, res.To = res.From.detached(), res.To.detached()

	c.report(ctx, res)

	var spanErr error
	if res.Outcome == OutcomeRejected {
		spanErr = fmt.Errorf("transition %s -> %s rejected", res.From.Kind, res.To.Kind)
	}
	c.spans.EndSpanWithError(span, spanErr)
	return res
}

// Enqueue queues in for asynchronous handling in arrival order. It reports
// false if the controller is closed.
func (c *Controller) Enqueue(in Input) bool {
	return c.inbox.post(func() {
		c.Handle(context.Background(), in)
	})
}

// HandleEvent is a bus handler that turns lifecycle events into queued
// inputs. It never handles inputs on the publishing goroutine.
func (c *Controller) HandleEvent(_ context.Context, evt event.Event) bus.Outcome {
	in, ok := InputFromEvent(evt)
	if !ok {
		return bus.Ignored("no lifecycle input for " + evt.Type())
	}
	if !c.Enqueue(in) {
		return bus.Failure(ErrClosed)
	}
	return bus.Success()
}

// Attach subscribes the controller to every lifecycle input event on b.
func (c *Controller) Attach(b *bus.Bus) {
	for _, t := range InputEventTypes() {
		b.Subscribe(t, bus.HandlerFunc(c.HandleEvent), bus.WithName("fsm.controller"))
	}
}

// Transition forces a transition to target, subject to the reachability
// table.
func (c *Controller) Transition(ctx context.Context, target Kind) Result {
	return c.Handle(ctx, TransitionTo(target))
}

// Reset returns the machine to uninitialized, clearing retry counters and
// cancelling pending recovery.
func (c *Controller) Reset(ctx context.Context) Result {
	return c.Handle(ctx, ResetInput())
}

// Sync waits until every input queued before the call has been handled and
// every resulting StateChanged event has been published.
// It must not be called from a bus handler.
func (c *Controller) Sync(ctx context.Context) error {
	done := make(chan struct{})
	posted := c.inbox.post(func() {
		if !c.outbox.post(func() { close(done) }) {
			close(done)
		}
	})
	if !posted {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued inputs, cancels pending recovery, and waits for
// outstanding StateChanged events to be published. Inputs handled afterwards
// report OutcomeClosed. It must not be called from a bus handler.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.inbox.close()

		c.mu.Lock()
		c.closed = true
		c.stopTimersLocked()
		c.mu.Unlock()

		c.outbox.close()
	})
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.detached()
}

// History returns up to n most recent transitions, oldest first.
// n <= 0 returns the whole retained history.
func (c *Controller) History(n int) []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.history
	if n > 0 && n < len(h) {
		h = h[len(h)-n:]
	}
	out := make([]Transition, len(h))
	for i, t := range h {
		t.From, t.To = t.From.detached(), t.To.detached()
		out[i] = t
	}
	return out
}

// CanPerform reports whether op is allowed in the current state.
func (c *Controller) CanPerform(op Operation) bool {
	return c.State().Allows(op)
}

// Policy returns the effective policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

func (c *Controller) applyLocked(ctx context.Context, in Input) Result {
	from := c.state
	res := Result{From: from, To: from, Input: in.Kind}

	if c.closed {
		res.Outcome = OutcomeClosed
		return res
	}
	if in.epoch != 0 && in.epoch != c.epoch {
		res.Outcome = OutcomeStale
		return res
	}

	next, counted, ok := c.candidateLocked(in)
	if !ok {
		res.Outcome = OutcomeUnhandled
		return res
	}
	res.To = next

	if next.SameKind(from) {
		res.Outcome = OutcomeNoOp
		return res
	}
	if !CanTransition(from.Kind, next.Kind) {
		res.Outcome = OutcomeRejected
		return res
	}

	if counted != nil {
		c.retries[counted.Kind]++
	}
	c.commitLocked(ctx, from, next, in)
	res.Outcome = OutcomeTransitioned
	return res
}

// candidateLocked computes the next state for in. counted is the failure
// that increments a retry counter if the transition commits.
func (c *Controller) candidateLocked(in Input) (next State, counted *ecerrors.DataError, ok bool) {
	s := c.state

	switch in.Kind {
	case InputReset:
		return At(Uninitialized), nil, true

	case InputInitialize:
		if s.Kind == Uninitialized {
			return At(Initializing), nil, true
		}

	case InputPermissionRequested:
		if s.CanRequestPermission() {
			return At(WaitingForPermission), nil, true
		}

	case InputPermissionGranted:
		switch s.Kind {
		case WaitingForPermission, Initializing, PermissionDenied:
			return At(Authorized), nil, true
		}

	case InputPermissionDenied:
		switch s.Kind {
		case WaitingForPermission, Initializing, Authorized, Ready, Degraded:
			return State{Kind: PermissionDenied, Reason: in.Err}, nil, true
		}

	case InputStartDataFetch:
		switch s.Kind {
		case Authorized:
			return At(FetchingInitialData), nil, true
		case Ready, Degraded:
			return At(FetchingData), nil, true
		}

	case InputDataFetchCompleted:
		if s.Kind == FetchingInitialData || s.Kind == FetchingData {
			return At(Ready), nil, true
		}

	case InputDataFetchFailed:
		if s.Kind == FetchingInitialData || s.Kind == FetchingData {
			err := orSystem(in.Err, "data fetch failed")
			if c.retries[err.Kind]+1 < c.policy.MaxRetries {
				return State{Kind: Recovering, Reason: err}, err, true
			}
			return State{Kind: Degraded, Reason: err}, err, true
		}

	case InputStartProcessing:
		if s.CanProcess() {
			return At(ProcessingData), nil, true
		}

	case InputProcessingCompleted:
		if s.Kind == ProcessingData {
			return At(Ready), nil, true
		}

	case InputProcessingFailed:
		if s.Kind == ProcessingData {
			err := orSystem(in.Err, "processing failed")
			if c.retries[err.Kind]+1 < c.policy.MaxRetries {
				return State{Kind: Recovering, Reason: err}, err, true
			}
			return State{Kind: Error, Reason: err}, err, true
		}

	case InputErrorOccurred:
		if s.Kind != Uninitialized {
			return State{Kind: Error, Reason: orSystem(in.Err, "error reported")}, nil, true
		}

	case InputRecoveryRequested:
		if s.CanRecover() {
			return State{Kind: Recovering, Reason: s.Reason}, nil, true
		}

	case InputRecoverySucceeded:
		if s.Kind == Recovering {
			return State{Kind: resumeKind(s.Reason)}, nil, true
		}

	case InputRecoveryFailed:
		if s.Kind == Recovering {
			if recoveryKind(s.Reason) == ecerrors.KindProcessing {
				return State{Kind: Error, Reason: s.Reason}, nil, true
			}
			return State{Kind: Degraded, Reason: s.Reason}, nil, true
		}

	case InputRecoveryTimeout:
		if s.Kind == Recovering {
			return State{Kind: Error, Reason: ecerrors.RecoveryTimeout(s.Reason)}, nil, true
		}

	case InputDegradeRequested:
		switch s.Kind {
		case Error, Ready, FetchingInitialData, FetchingData, ProcessingData, Recovering, PermissionDenied:
			r := in.Err
			if r == nil {
				r = s.Reason
			}
			return State{Kind: Degraded, Reason: r}, nil, true
		}

	case InputTransitionTo:
		next := At(in.Target)
		switch in.Target {
		case Error, Recovering, Degraded, PermissionDenied:
			next.Reason = s.Reason
		}
		return next, nil, true
	}

	return s, nil, false
}

func (c *Controller) commitLocked(ctx context.Context, from, to State, in Input) {
	now := c.sched.Now()

	c.stopTimersLocked()
	c.state = to
	c.enteredAt = now
	c.transitions++

	c.history = append(c.history, Transition{
		From:      from,
		To:        to,
		Input:     in.Kind,
		TriggerID: in.triggerID(),
		At:        now,
	})
	if over := len(c.history) - c.policy.HistoryLimit; over > 0 {
		copy(c.history, c.history[over:])
		c.history = c.history[:c.policy.HistoryLimit]
	}

	c.enterLocked(to)
	c.announceLocked(ctx, from, to, in, now)
}

// enterLocked runs the entry actions of s.
func (c *Controller) enterLocked(s State) {
	switch s.Kind {
	case Uninitialized, Ready, Degraded:
		clear(c.retries)
	case Recovering:
		c.scheduleRecoveryLocked(s.Reason)
	case Error:
		if c.policy.DegradeAfter > 0 {
			epoch := c.epoch
			c.timers = append(c.timers, c.sched.AfterFunc(c.policy.DegradeAfter, func() {
				in := RequestDegrade("")
				in.epoch = epoch
				c.Handle(context.Background(), in)
			}))
		}
	}
}

// stopTimersLocked cancels pending timers and any running recovery attempt,
// and starts a new epoch so late timer inputs are recognized as stale.
func (c *Controller) stopTimersLocked() {
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	c.epoch++
}

// announceLocked queues the StateChanged event. Queueing under the lock keeps
// publish order equal to commit order; the publish itself runs on the outbox.
func (c *Controller) announceLocked(ctx context.Context, from, to State, in Input, at time.Time) {
	if c.publisher == nil {
		return
	}

	payload := StateChanged{
		From:       from.Kind.String(),
		To:         to.Kind.String(),
		FromReason: detach(from.Reason),
		ToReason:   detach(to.Reason),
		Input:      in.Kind.String(),
		TriggerID:  in.triggerID(),
		At:         at,
	}
	trigger := in.Trigger
	ctx = context.WithoutCancel(ctx)

	c.outbox.post(func() {
		var evt event.Event
		if trigger != nil {
			evt = event.NewFromParent(trigger, Source, payload, event.WithTimestamp(at))
		} else {
			evt = event.New(Source, payload, event.WithTimestamp(at))
		}
		c.publisher.Publish(ctx, evt)
	})
}

func (c *Controller) report(ctx context.Context, res Result) {
	input := res.Input.String()
	switch res.Outcome {
	case OutcomeTransitioned:
		observability.LogTransition(c.logger, res.From.String(), res.To.String(), input)
		c.metrics.RecordTransition(ctx, res.From.Kind.String(), res.To.Kind.String())
	case OutcomeRejected:
		observability.LogTransitionRejected(c.logger, res.From.String(), res.To.String(), input)
		c.metrics.RecordRejection(ctx, res.From.Kind.String(), res.To.Kind.String())
	case OutcomeUnhandled:
		observability.LogUnhandledInput(c.logger, res.From.String(), input)
	case OutcomeStale:
		c.logger.Debug("stale input ignored",
			slog.String("state", res.From.String()),
			slog.String("input", input),
		)
	}
}

func orSystem(err *ecerrors.DataError, message string) *ecerrors.DataError {
	if err == nil {
		return ecerrors.System(nil, message)
	}
	return err
}
