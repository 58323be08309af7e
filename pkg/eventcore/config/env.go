package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env holds the environment overrides understood by eventcore.
// Unset variables leave file values untouched.
type Env struct {
	MaxRetries      *int           `env:"EVENTCORE_FSM_MAX_RETRIES"`
	RecoveryTimeout *time.Duration `env:"EVENTCORE_FSM_RECOVERY_TIMEOUT"`
	DegradeAfter    *time.Duration `env:"EVENTCORE_FSM_DEGRADE_AFTER"`
	HistoryLimit    *int           `env:"EVENTCORE_FSM_HISTORY_LIMIT"`
	BytesPerEvent   *int           `env:"EVENTCORE_STORE_BYTES_PER_EVENT"`
	ValidateEvents  *bool          `env:"EVENTCORE_BUS_VALIDATE_EVENTS"`
}

// LoadEnv parses EVENTCORE_* variables from the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// LoadEnvFrom parses EVENTCORE_* variables from the given map.
func LoadEnvFrom(vars map[string]string) (Env, error) {
	var e Env
	if err := env.ParseWithOptions(&e, env.Options{Environment: vars}); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Apply returns cfg with the set overrides written into their sections.
func (e Env) Apply(cfg Config) Config {
	fsm := cfg.Section("fsm")
	if e.MaxRetries != nil {
		fsm = fsm.With("max_retries", *e.MaxRetries)
	}
	if e.RecoveryTimeout != nil {
		fsm = fsm.With("recovery_timeout", *e.RecoveryTimeout)
	}
	if e.DegradeAfter != nil {
		fsm = fsm.With("degrade_after", *e.DegradeAfter)
	}
	if e.HistoryLimit != nil {
		fsm = fsm.With("history_limit", *e.HistoryLimit)
	}

	store := cfg.Section("store")
	if e.BytesPerEvent != nil {
		store = store.With("bytes_per_event", *e.BytesPerEvent)
	}

	bus := cfg.Section("bus")
	if e.ValidateEvents != nil {
		bus = bus.With("validate_events", *e.ValidateEvents)
	}

	return cfg.With("fsm", fsm.data).With("store", store.data).With("bus", bus.data)
}

// ApplyEnv applies process environment overrides to cfg.
// Malformed variables are reported as an error and cfg is returned unchanged.
func ApplyEnv(cfg Config) (Config, error) {
	e, err := LoadEnv()
	if err != nil {
		return cfg, err
	}
	return e.Apply(cfg), nil
}
