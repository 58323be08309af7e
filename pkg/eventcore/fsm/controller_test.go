package fsm_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/fsm"
)

func TestHappyPathReachesReady(t *testing.T) {
	c, rec := newController(t)
	toReady(t, c)

	assert.Equal(t, fsm.Ready, c.State().Kind)

	waitIdle(t, c)
	changes := rec.changes()
	require.Len(t, changes, 5)

	want := [][2]string{
		{"uninitialized", "initializing"},
		{"initializing", "waiting_for_permission"},
		{"waiting_for_permission", "authorized"},
		{"authorized", "fetching_initial_data"},
		{"fetching_initial_data", "ready"},
	}
	for i, w := range want {
		assert.Equal(t, w[0], changes[i].From)
		assert.Equal(t, w[1], changes[i].To)
	}
	assert.Equal(t, "data_fetch_completed", changes[4].Input)

	for _, evt := range rec.events {
		assert.Equal(t, fsm.Source, evt.Source())
	}
}

func TestRejectedTransition(t *testing.T) {
	c, rec := newController(t)

	res := c.Transition(context.Background(), fsm.Ready)
	assert.Equal(t, fsm.OutcomeRejected, res.Outcome)
	assert.Equal(t, fsm.Ready, res.To.Kind)
	assert.Equal(t, fsm.Uninitialized, c.State().Kind)
	assert.Empty(t, c.History(0))

	toReady(t, c)
	res = c.Transition(context.Background(), fsm.Recovering)
	assert.Equal(t, fsm.OutcomeRejected, res.Outcome)
	assert.Equal(t, fsm.Ready, c.State().Kind)

	waitIdle(t, c)
	assert.Len(t, rec.changes(), 5, "rejections publish nothing")
}

func TestForcedTransition(t *testing.T) {
	c, _ := newController(t)
	toReady(t, c)

	res := c.Transition(context.Background(), fsm.Degraded)
	assert.True(t, res.Changed())
	assert.Equal(t, fsm.Degraded, c.State().Kind)
}

func TestUnhandledInput(t *testing.T) {
	c, _ := newController(t)
	ctx := context.Background()

	for _, in := range []fsm.Input{
		fsm.StartDataFetch(),
		fsm.GrantPermission(),
		fsm.ReportError(errors.New("early")),
		fsm.RecoverySucceeded(),
	} {
		res := c.Handle(ctx, in)
		assert.Equal(t, fsm.OutcomeUnhandled, res.Outcome, in.Kind)
	}
	assert.Equal(t, fsm.Uninitialized, c.State().Kind)
}

func TestNoOpComparesKindOnly(t *testing.T) {
	c, _ := newController(t)
	ctx := context.Background()

	assert.Equal(t, fsm.OutcomeNoOp, c.Reset(ctx).Outcome)

	toReady(t, c)
	first := c.Handle(ctx, fsm.ReportError(ecerrors.Network(nil, "offline")))
	require.True(t, first.Changed())

	second := c.Handle(ctx, fsm.ReportError(ecerrors.Processing(nil, "bad data")))
	assert.Equal(t, fsm.OutcomeNoOp, second.Outcome)
	assert.Equal(t, ecerrors.KindNetwork, c.State().Reason.Kind, "reason of the committed state is kept")
}

func TestFetchFailuresEscalateToDegraded(t *testing.T) {
	s := newManualScheduler()
	attempts := 0
	c, _ := newController(t,
		fsm.WithScheduler(s),
		fsm.WithRecoveryProcedure(ecerrors.KindNetwork, func(ctx context.Context, cause *ecerrors.DataError) bool {
			attempts++
			return true
		}),
	)
	ctx := context.Background()
	toReady(t, c)
	drive(t, c, fsm.StartDataFetch())

	offline := ecerrors.Network(nil, "offline")

	for i := 1; i <= 2; i++ {
		res := c.Handle(ctx, fsm.FailDataFetch(offline))
		require.Equal(t, fsm.Recovering, res.To.Kind, "failure %d", i)
		assert.Equal(t, i, c.Diagnostics().Retries["network"])
		assert.Equal(t, 2, s.Pending(), "attempt and timeout armed")

		s.Advance(time.Minute)
		assert.Equal(t, fsm.FetchingData, c.State().Kind, "network recovery resumes fetching")
		assert.Zero(t, s.Pending())
	}

	res := c.Handle(ctx, fsm.FailDataFetch(offline))
	assert.Equal(t, fsm.Degraded, res.To.Kind)
	assert.Equal(t, ecerrors.KindNetwork, c.State().Reason.Kind)
	assert.Empty(t, c.Diagnostics().Retries, "degraded resets retry counters")
	assert.Equal(t, 2, attempts)
}

func TestFetchFailureFromInitialFetch(t *testing.T) {
	c, _ := newController(t, fsm.WithScheduler(newManualScheduler()), fsm.WithPolicy(fsm.Policy{MaxRetries: 1}))
	drive(t, c, fsm.Initialize(), fsm.GrantPermission(), fsm.StartDataFetch())

	res := c.Handle(context.Background(), fsm.FailDataFetch(ecerrors.DataUnavailable("no samples yet")))
	assert.Equal(t, fsm.Degraded, res.To.Kind, "max retries of one escalates immediately")
}

func TestProcessingFailuresEscalateToError(t *testing.T) {
	s := newManualScheduler()
	c, _ := newController(t, fsm.WithScheduler(s))
	ctx := context.Background()
	toReady(t, c)
	drive(t, c, fsm.StartProcessing())

	for i := 1; i <= 2; i++ {
		res := c.Handle(ctx, fsm.FailProcessing(errors.New("malformed sample")))
		require.Equal(t, fsm.Recovering, res.To.Kind)
		assert.Equal(t, ecerrors.KindProcessing, res.To.Reason.Kind, "unclassified errors count as processing")

		s.Advance(time.Minute)
		require.Equal(t, fsm.ProcessingData, c.State().Kind, "processing recovery resumes processing")
	}

	res := c.Handle(ctx, fsm.FailProcessing(errors.New("malformed sample")))
	assert.Equal(t, fsm.Error, res.To.Kind)
	assert.Equal(t, 3, c.Diagnostics().Retries["processing"], "error keeps retry pressure")

	drive(t, c, fsm.RequestRecovery())
	s.Advance(time.Minute)
	assert.Equal(t, fsm.ProcessingData, c.State().Kind)
}

func TestRecoveryFailed(t *testing.T) {
	failing := func(context.Context, *ecerrors.DataError) bool { return false }

	t.Run("fetch failure degrades", func(t *testing.T) {
		s := newManualScheduler()
		c, _ := newController(t, fsm.WithScheduler(s), fsm.WithRecoveryProcedure(ecerrors.KindNetwork, failing))
		toReady(t, c)
		drive(t, c, fsm.StartDataFetch(), fsm.FailDataFetch(ecerrors.Network(nil, "offline")))

		s.Advance(time.Minute)
		assert.Equal(t, fsm.Degraded, c.State().Kind)
	})

	t.Run("processing failure errors", func(t *testing.T) {
		s := newManualScheduler()
		c, _ := newController(t, fsm.WithScheduler(s), fsm.WithRecoveryProcedure(ecerrors.KindProcessing, failing))
		toReady(t, c)
		drive(t, c, fsm.StartProcessing(), fsm.FailProcessing(nil))

		s.Advance(time.Minute)
		assert.Equal(t, fsm.Error, c.State().Kind)
	})

	t.Run("panicking procedure fails", func(t *testing.T) {
		s := newManualScheduler()
		c, _ := newController(t, fsm.WithScheduler(s), fsm.WithRecoveryProcedure(ecerrors.KindNetwork,
			func(context.Context, *ecerrors.DataError) bool { panic("recovery procedure crashed") }))
		toReady(t, c)
		drive(t, c, fsm.StartDataFetch(), fsm.FailDataFetch(ecerrors.Network(nil, "offline")))

		s.Advance(time.Minute)
		assert.Equal(t, fsm.Degraded, c.State().Kind)
	})
}

func TestRecoveryDelayDependsOnClassification(t *testing.T) {
	s := newManualScheduler()
	c, _ := newController(t, fsm.WithScheduler(s))
	toReady(t, c)
	drive(t, c, fsm.StartDataFetch(), fsm.FailDataFetch(ecerrors.DataUnavailable("not synced")))

	s.Advance(4 * time.Second)
	assert.Equal(t, fsm.Recovering, c.State().Kind, "data unavailable waits five seconds")
	s.Advance(time.Second)
	assert.Equal(t, fsm.FetchingData, c.State().Kind)
}

func TestRecoveryTimeout(t *testing.T) {
	s := newManualScheduler()
	started := make(chan struct{})
	c, _ := newController(t,
		fsm.WithScheduler(s),
		fsm.WithRecoveryProcedure(ecerrors.KindNetwork, func(ctx context.Context, _ *ecerrors.DataError) bool {
			close(started)
			<-ctx.Done()
			return false
		}),
	)
	toReady(t, c)
	drive(t, c, fsm.StartDataFetch(), fsm.FailDataFetch(ecerrors.Network(nil, "offline")))

	done := make(chan struct{})
	go func() {
		s.Advance(2 * time.Second)
		close(done)
	}()
	<-started

	s.Advance(c.Policy().RecoveryTimeout)
	<-done

	st := c.State()
	require.Equal(t, fsm.Error, st.Kind)
	assert.Equal(t, ecerrors.KindRecoveryTimeout, st.Reason.Kind)
	assert.ErrorIs(t, st.Reason, ecerrors.New(ecerrors.KindNetwork, ""), "timeout wraps the interrupted failure")
	assert.Equal(t, 1, s.Pending(), "only the degrade timer of the error state remains")
}

func TestRecoveryAfterTimeoutUsesInterruptedClassification(t *testing.T) {
	s := newManualScheduler()
	c, _ := newController(t, fsm.WithScheduler(s))
	toReady(t, c)
	drive(t, c, fsm.StartDataFetch(), fsm.FailDataFetch(ecerrors.Network(nil, "offline")), fsm.RecoveryTimedOut())
	require.Equal(t, fsm.Error, c.State().Kind)

	drive(t, c, fsm.RequestRecovery())
	s.Advance(time.Minute)
	assert.Equal(t, fsm.FetchingData, c.State().Kind)
}

func TestTimersSuperseded(t *testing.T) {
	s := newManualScheduler()
	c, _ := newController(t, fsm.WithScheduler(s))
	toReady(t, c)

	drive(t, c, fsm.StartDataFetch(), fsm.FailDataFetch(ecerrors.Network(nil, "offline")))
	assert.Equal(t, 2, s.Pending())

	drive(t, c, fsm.RequestDegrade("operator"))
	assert.Zero(t, s.Pending(), "leaving recovering cancels its timers")

	drive(t, c, fsm.RequestRecovery())
	assert.Equal(t, 2, s.Pending(), "at most one attempt and one timeout")

	s.Advance(time.Minute)
	assert.Equal(t, fsm.Ready, c.State().Kind, "generic recovery resumes at ready")
}

func TestDegradeAfter(t *testing.T) {
	s := newManualScheduler()
	c, _ := newController(t, fsm.WithScheduler(s), fsm.WithPolicy(fsm.Policy{DegradeAfter: 10 * time.Minute}))
	toReady(t, c)
	drive(t, c, fsm.ReportError(ecerrors.Network(nil, "offline")))

	s.Advance(9 * time.Minute)
	assert.Equal(t, fsm.Error, c.State().Kind)

	s.Advance(time.Minute)
	st := c.State()
	assert.Equal(t, fsm.Degraded, st.Kind)
	assert.Equal(t, ecerrors.KindNetwork, st.Reason.Kind)
}

func TestDegradeAfterByDefault(t *testing.T) {
	s := newManualScheduler()
	c, _ := newController(t, fsm.WithScheduler(s))
	toReady(t, c)
	drive(t, c, fsm.ReportError(nil))
	assert.Equal(t, 1, s.Pending())

	s.Advance(c.Policy().DegradeAfter)
	assert.Equal(t, fsm.Degraded, c.State().Kind, "error degrades without a manual trigger")
}

func TestDegradeAfterDisabled(t *testing.T) {
	s := newManualScheduler()
	c, _ := newController(t, fsm.WithScheduler(s), fsm.WithPolicy(fsm.Policy{DegradeAfter: -1}))
	toReady(t, c)
	drive(t, c, fsm.ReportError(nil))
	assert.Zero(t, s.Pending())

	s.Advance(time.Hour)
	assert.Equal(t, fsm.Error, c.State().Kind)
}

func TestReasonIsolatedFromCallersAndPayloads(t *testing.T) {
	s := newManualScheduler()
	c, rec := newController(t, fsm.WithScheduler(s))
	toReady(t, c)

	cause := ecerrors.Network(nil, "offline")
	fault := event.New("platform", fsm.SystemFault{Error: cause})
	in, ok := fsm.InputFromEvent(fault)
	require.True(t, ok)
	drive(t, c, in)

	cause.Kind = ecerrors.KindPermissionDenied
	cause.Message = "rewritten by caller"
	assert.Equal(t, ecerrors.KindNetwork, c.State().Reason.Kind)
	assert.Equal(t, "offline", c.State().Reason.Message)

	waitIdle(t, c)
	changes := rec.changes()
	require.NotEmpty(t, changes)
	announced := changes[len(changes)-1]
	require.NotNil(t, announced.ToReason)
	announced.ToReason.Message = "rewritten by handler"

	c.State().Reason.Message = "rewritten through State"
	h := c.History(1)
	require.Len(t, h, 1)
	h[0].To.Reason.Message = "rewritten through History"

	assert.Equal(t, "offline", c.State().Reason.Message)
	assert.Equal(t, "offline", c.History(1)[0].To.Reason.Message)
}

func TestReset(t *testing.T) {
	s := newManualScheduler()
	c, _ := newController(t, fsm.WithScheduler(s))
	toReady(t, c)
	drive(t, c, fsm.StartDataFetch(), fsm.FailDataFetch(ecerrors.Network(nil, "offline")))

	res := c.Reset(context.Background())
	require.True(t, res.Changed())
	assert.Equal(t, fsm.Uninitialized, c.State().Kind)
	assert.Zero(t, s.Pending())
	assert.Empty(t, c.Diagnostics().Retries)

	s.Advance(time.Hour)
	assert.Equal(t, fsm.Uninitialized, c.State().Kind, "cancelled recovery never fires")

	toReady(t, c)
}

func TestHistoryBounded(t *testing.T) {
	c, _ := newController(t, fsm.WithPolicy(fsm.Policy{HistoryLimit: 4}))
	toReady(t, c)

	h := c.History(0)
	require.Len(t, h, 4)
	assert.Equal(t, fsm.Initializing, h[0].From.Kind)
	assert.Equal(t, fsm.Ready, h[3].To.Kind)
	assert.Equal(t, fsm.InputDataFetchCompleted, h[3].Input)

	last := c.History(2)
	require.Len(t, last, 2)
	assert.Equal(t, fsm.FetchingInitialData, last[0].To.Kind)
	assert.Equal(t, 5, c.Diagnostics().Transitions, "transition count is not bounded")
}

func TestCanPerform(t *testing.T) {
	c, _ := newController(t)
	for _, op := range []fsm.Operation{fsm.OpFetchData, fsm.OpProcessData, fsm.OpRequestPermission, fsm.OpRecover} {
		assert.False(t, c.CanPerform(op), op.String())
	}

	toReady(t, c)
	assert.True(t, c.CanPerform(fsm.OpFetchData))
	assert.True(t, c.CanPerform(fsm.OpProcessData))
	assert.True(t, c.CanPerform(fsm.OpRequestPermission))
	assert.False(t, c.CanPerform(fsm.OpRecover))

	drive(t, c, fsm.ReportError(nil))
	assert.False(t, c.CanPerform(fsm.OpFetchData))
	assert.True(t, c.CanPerform(fsm.OpRecover))
}

func TestDiagnostics(t *testing.T) {
	s := newManualScheduler()
	c, _ := newController(t, fsm.WithScheduler(s))
	toReady(t, c)

	s.Advance(6 * time.Minute)
	d := c.Diagnostics()
	assert.Equal(t, fsm.Ready, d.State.Kind)
	assert.Equal(t, 6*time.Minute, d.TimeInState)
	assert.Equal(t, 5, d.Transitions)
	assert.InDelta(t, 1.0, d.Health, 1e-9)
	assert.False(t, d.RecoveryPending)

	drive(t, c, fsm.StartDataFetch(), fsm.FailDataFetch(ecerrors.Network(nil, "offline")))
	d = c.Diagnostics()
	assert.Equal(t, map[string]int{"network": 1}, d.Retries)
	assert.Zero(t, d.TimeInState)
	assert.True(t, d.RecoveryPending)
	assert.InDelta(t, 0.4, d.Health, 1e-9)
}

func TestHealthScore(t *testing.T) {
	tests := []struct {
		name    string
		kind    fsm.Kind
		retries int
		dwell   time.Duration
		want    float64
	}{
		{"fresh ready", fsm.Ready, 0, 0, 1.0},
		{"settled ready is capped", fsm.Ready, 0, time.Hour, 1.0},
		{"settled fetching", fsm.FetchingData, 0, time.Hour, 1.0},
		{"recovering with pressure", fsm.Recovering, 2, 0, 0.3},
		{"pressure is capped", fsm.Ready, 20, 0, 0.5},
		{"settled degraded", fsm.Degraded, 0, time.Hour, 0.3},
		{"stuck error floors at zero", fsm.Error, 10, time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fsm.HealthScore(tt.kind, tt.retries, tt.dwell)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestConcurrentHandlePublishesInCommitOrder(t *testing.T) {
	c, rec := newController(t, fsm.WithScheduler(newManualScheduler()))
	toReady(t, c)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			for i := 0; i < 50; i++ {
				c.Handle(ctx, fsm.StartDataFetch())
				c.Handle(ctx, fsm.StartProcessing())
				c.Handle(ctx, fsm.CompleteProcessing())
				c.Handle(ctx, fsm.CompleteDataFetch())
			}
		}()
	}
	wg.Wait()
	waitIdle(t, c)

	changes := rec.changes()
	require.Equal(t, c.Diagnostics().Transitions, len(changes))
	for i := 1; i < len(changes); i++ {
		require.Equal(t, changes[i-1].To, changes[i].From, "change %d breaks the chain", i)
	}
}

func TestEnqueueAndSync(t *testing.T) {
	c, rec := newController(t)

	for _, in := range []fsm.Input{fsm.Initialize(), fsm.RequestPermission(), fsm.GrantPermission()} {
		require.True(t, c.Enqueue(in))
	}
	waitIdle(t, c)

	assert.Equal(t, fsm.Authorized, c.State().Kind)
	assert.Len(t, rec.changes(), 3)
}

func TestClose(t *testing.T) {
	c, _ := newController(t)
	require.True(t, c.Enqueue(fsm.Initialize()))
	require.NoError(t, c.Close())

	assert.Equal(t, fsm.Initializing, c.State().Kind, "queued inputs are drained on close")
	assert.Equal(t, fsm.OutcomeClosed, c.Handle(context.Background(), fsm.RequestPermission()).Outcome)
	assert.False(t, c.Enqueue(fsm.RequestPermission()))
	assert.ErrorIs(t, c.Sync(context.Background()), fsm.ErrClosed)
	assert.NoError(t, c.Close())
}

func TestNilPublisher(t *testing.T) {
	c := fsm.New(nil)
	defer c.Close()
	toReady(t, c)
	assert.Equal(t, fsm.Ready, c.State().Kind)
}
