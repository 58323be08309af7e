package fsm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
)

// idleScheduler arms timers that never fire.
type idleScheduler struct{}

type idleTimer struct{ stopped bool }

func (t *idleTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

func (idleScheduler) AfterFunc(time.Duration, func()) Timer { return &idleTimer{} }
func (idleScheduler) Now() time.Time                        { return time.Unix(0, 0) }

func currentEpoch(c *Controller) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func TestStaleTimerInput(t *testing.T) {
	c := New(nil, WithScheduler(idleScheduler{}))
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	for _, in := range []Input{
		Initialize(), RequestPermission(), GrantPermission(), StartDataFetch(),
		FailDataFetch(ecerrors.Network(nil, "offline")),
	} {
		require.True(t, c.Handle(ctx, in).Changed(), in.Kind)
	}
	require.Equal(t, Recovering, c.State().Kind)
	oldEpoch := currentEpoch(c)

	// A newer recovery cycle supersedes the first one.
	require.True(t, c.Handle(ctx, RequestDegrade("operator")).Changed())
	require.True(t, c.Handle(ctx, RequestRecovery()).Changed())

	late := RecoverySucceeded()
	late.epoch = oldEpoch
	res := c.Handle(ctx, late)
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.Equal(t, Recovering, c.State().Kind)

	current := RecoveryFailed()
	current.epoch = currentEpoch(c)
	assert.Equal(t, OutcomeTransitioned, c.Handle(ctx, current).Outcome)
	assert.Equal(t, Degraded, c.State().Kind)
}

func TestMailboxOrderAndDrain(t *testing.T) {
	m := newMailbox()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		require.True(t, m.post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	m.close()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.False(t, m.post(func() {}))
}

func TestMailboxPostFromTask(t *testing.T) {
	m := newMailbox()
	done := make(chan struct{})
	m.post(func() {
		m.post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested post was not run")
	}
	m.close()
}

func TestRecoveryKind(t *testing.T) {
	assert.Equal(t, ecerrors.KindSystem, recoveryKind(nil))
	assert.Equal(t, ecerrors.KindNetwork, recoveryKind(ecerrors.Network(nil, "x")))
	assert.Equal(t, ecerrors.KindProcessing,
		recoveryKind(ecerrors.RecoveryTimeout(ecerrors.Processing(nil, "x"))))
	assert.Equal(t, ecerrors.KindRecoveryTimeout, recoveryKind(ecerrors.RecoveryTimeout(nil)))

	assert.Equal(t, FetchingData, resumeKind(ecerrors.DataUnavailable("x")))
	assert.Equal(t, ProcessingData, resumeKind(ecerrors.Processing(nil, "x")))
	assert.Equal(t, Ready, resumeKind(ecerrors.PermissionDenied("x")))
}
