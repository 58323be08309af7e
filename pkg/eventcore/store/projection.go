package store

import (
	"context"
	"slices"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// Project folds the events whose type is in types, in log order, starting
// from initial. An empty types set selects no events and returns initial.
//
// The fold runs over a view taken at call time, without holding the store
// lock, so fold may read from the store.
func Project[S any](s *Store, initial S, types []string, fold func(S, event.Event) S) S {
	state := initial
	if len(types) == 0 {
		return state
	}
	for evt := range s.Stream(Filter{Types: types}) {
		state = fold(state, evt)
	}
	return state
}

// ProjectContext is Project with cancellation and a fallible fold.
// It stops at the first fold error or when ctx is done and returns the state
// accumulated so far together with the error.
func ProjectContext[S any](
	ctx context.Context,
	s *Store,
	initial S,
	types []string,
	fold func(context.Context, S, event.Event) (S, error),
) (S, error) {
	state := initial
	if len(types) == 0 {
		return state, nil
	}
	for evt := range s.Stream(Filter{Types: slices.Clone(types)}) {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		next, err := fold(ctx, state, evt)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}
