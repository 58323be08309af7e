package fsm

import (
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/config"
	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
)

// Policy configures retries and recovery.
type Policy struct {
	// MaxRetries is the per-classification failure count at which fetch
	// failures escalate to degraded and processing failures to error.
	MaxRetries int

	// RecoveryTimeout bounds a recovery attempt. The timeout timer starts
	// when recovering is entered and also covers the attempt delay.
	RecoveryTimeout time.Duration

	// HistoryLimit bounds the transition history.
	HistoryLimit int

	// DegradeAfter moves the machine from error to degraded after this long.
	// Zero means the default; a negative value disables time-based
	// degradation.
	DegradeAfter time.Duration

	// Delays holds the recovery delay per error classification.
	Delays map[ecerrors.Kind]ecerrors.Backoff

	// DefaultDelay is used for classifications without an entry in Delays.
	DefaultDelay ecerrors.Backoff
}

// DefaultPolicy returns the standard policy: three retries, a 30s recovery
// timeout, 100 history entries, degradation after ten minutes in error, and
// classification-dependent delays that are longest for unavailable data and
// shortest for processing errors.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		RecoveryTimeout: 30 * time.Second,
		HistoryLimit:    100,
		DegradeAfter:    10 * time.Minute,
		Delays: map[ecerrors.Kind]ecerrors.Backoff{
			ecerrors.KindNetwork: ecerrors.NewBackoff(
				ecerrors.WithInitial(2*time.Second),
				ecerrors.WithMax(20*time.Second),
			),
			ecerrors.KindDataUnavailable: ecerrors.NewBackoff(
				ecerrors.WithInitial(5*time.Second),
				ecerrors.WithMax(60*time.Second),
			),
			ecerrors.KindProcessing: ecerrors.NewBackoff(
				ecerrors.WithInitial(time.Second),
				ecerrors.WithMax(10*time.Second),
			),
			ecerrors.KindPermissionDenied: ecerrors.NewBackoff(
				ecerrors.WithInitial(10*time.Second),
				ecerrors.WithMax(60*time.Second),
			),
		},
		DefaultDelay: ecerrors.DefaultBackoff,
	}
}

// Delay returns the recovery delay for the given classification and
// attempt number (1-based).
func (p Policy) Delay(kind ecerrors.Kind, attempt int) time.Duration {
	if b, ok := p.Delays[kind]; ok {
		return b.Delay(attempt)
	}
	return p.DefaultDelay.Delay(attempt)
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.RecoveryTimeout <= 0 {
		p.RecoveryTimeout = def.RecoveryTimeout
	}
	if p.HistoryLimit <= 0 {
		p.HistoryLimit = def.HistoryLimit
	}
	if p.DegradeAfter == 0 {
		p.DegradeAfter = def.DegradeAfter
	}
	if p.Delays == nil {
		p.Delays = def.Delays
	}
	if p.DefaultDelay.Initial <= 0 {
		p.DefaultDelay = def.DefaultDelay
	}
	return p
}

// PolicyFromConfig builds a policy from the "fsm" configuration section.
// Missing keys keep their DefaultPolicy values.
//
//	fsm:
//	  max_retries: 3
//	  recovery_timeout: 30s
//	  history_limit: 100
//	  degrade_after: 10m        # negative disables
//	  delays:
//	    network: 2s             # initial delay only
//	    processing:             # full backoff
//	      initial: 500ms
//	      max: 5s
//	      factor: 1.5
//	      jitter: 0.1
func PolicyFromConfig(cfg config.Config) Policy {
	p := DefaultPolicy()
	p.MaxRetries = cfg.Int("max_retries", p.MaxRetries)
	p.RecoveryTimeout = cfg.Duration("recovery_timeout", p.RecoveryTimeout)
	p.HistoryLimit = cfg.Int("history_limit", p.HistoryLimit)
	p.DegradeAfter = cfg.Duration("degrade_after", p.DegradeAfter)

	delays := cfg.Section("delays")
	for _, kind := range ecerrors.Kinds() {
		name := kind.String()
		if !delays.Has(name) {
			continue
		}
		b, ok := p.Delays[kind]
		if !ok {
			b = p.DefaultDelay
		}
		if section := delays.Section(name); len(section.Keys()) > 0 {
			b.Initial = section.Duration("initial", b.Initial)
			b.Max = section.Duration("max", b.Max)
			b.Factor = section.Float("factor", b.Factor)
			b.Jitter = section.Float("jitter", b.Jitter)
		} else {
			b.Initial = delays.Duration(name, b.Initial)
		}
		p.Delays[kind] = b
	}
	return p.normalized()
}
