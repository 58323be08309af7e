package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
)

// RecoveryProcedure attempts to clear cause. It reports whether recovery
// succeeded. ctx is cancelled when the machine leaves recovering.
type RecoveryProcedure func(ctx context.Context, cause *ecerrors.DataError) bool

func defaultProcedures() map[ecerrors.Kind]RecoveryProcedure {
	return map[ecerrors.Kind]RecoveryProcedure{
		ecerrors.KindNetwork:         checkConnectivity,
		ecerrors.KindDataUnavailable: retryFetch,
		ecerrors.KindProcessing:      retryProcessing,
	}
}

// The default procedures succeed unless the attempt was cancelled. Real
// deployments install their own with WithRecoveryProcedure.

func checkConnectivity(ctx context.Context, _ *ecerrors.DataError) bool {
	return ctx.Err() == nil
}

func retryFetch(ctx context.Context, _ *ecerrors.DataError) bool {
	return ctx.Err() == nil
}

func retryProcessing(ctx context.Context, _ *ecerrors.DataError) bool {
	return ctx.Err() == nil
}

func genericRecovery(ctx context.Context, _ *ecerrors.DataError) bool {
	return ctx.Err() == nil
}

// recoveryKind returns the classification that picks the recovery
// procedure. A recovery timeout is classified by the failure it interrupted.
func recoveryKind(cause *ecerrors.DataError) ecerrors.Kind {
	if cause == nil {
		return ecerrors.KindSystem
	}
	if cause.Kind == ecerrors.KindRecoveryTimeout {
		var inner *ecerrors.DataError
		if errors.As(cause.Cause, &inner) {
			return recoveryKind(inner)
		}
	}
	return cause.Kind
}

// resumeKind is where a successful recovery continues.
func resumeKind(cause *ecerrors.DataError) Kind {
	switch recoveryKind(cause) {
	case ecerrors.KindNetwork, ecerrors.KindDataUnavailable:
		return FetchingData
	case ecerrors.KindProcessing:
		return ProcessingData
	default:
		return Ready
	}
}

// scheduleRecoveryLocked arms the attempt timer and the timeout timer for
// the current epoch.
func (c *Controller) scheduleRecoveryLocked(cause *ecerrors.DataError) {
	kind := recoveryKind(cause)
	attempt := max(c.retries[kind], 1)
	delay := c.policy.Delay(kind, attempt)
	timeout := delay + c.policy.RecoveryTimeout
	epoch := c.epoch

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelAttempt = cancel

	c.timers = append(c.timers,
		c.sched.AfterFunc(delay, func() {
			c.attemptRecovery(ctx, epoch, kind, cause)
		}),
		c.sched.AfterFunc(timeout, func() {
			in := RecoveryTimedOut()
			in.epoch = epoch
			c.Handle(context.Background(), in)
		}),
	)

	observability.LogRecoveryScheduled(c.logger, kind.String(), attempt, delay, timeout)
}

func (c *Controller) attemptRecovery(ctx context.Context, epoch uint64, kind ecerrors.Kind, cause *ecerrors.DataError) {
	proc, ok := c.procedures[kind]
	if !ok {
		proc = c.fallback
	}

	elapsed := observability.TimedOperation()
	succeeded := c.runProcedure(ctx, proc, cause)
	if ctx.Err() != nil {
		// Superseded while running; a newer cycle owns the machine now.
		return
	}

	c.metrics.RecordRecovery(ctx, kind.String(), succeeded)
	observability.LogRecoveryOutcome(c.logger, kind.String(), succeeded, elapsed())

	in := RecoveryFailed()
	if succeeded {
		in = RecoverySucceeded()
	}
	in.epoch = epoch
	c.Handle(context.Background(), in)
}

// runProcedure calls proc, treating a panic as a failed attempt.
func (c *Controller) runProcedure(ctx context.Context, proc RecoveryProcedure, cause *ecerrors.DataError) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovery procedure panicked",
				slog.String("kind", recoveryKind(cause).String()),
				slog.String("panic", fmt.Sprint(r)),
			)
			ok = false
		}
	}()
	return proc(ctx, cause)
}
