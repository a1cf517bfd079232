package trainer

import (
	"context"
	"errors"
	"fmt"
)

// Engine dispatches lifecycle events to callbacks in registration order.
type Engine struct {
	State  *State
	Logger *Logger
}

func NewEngine(state *State, logger *Logger) *Engine {
	if state == nil {
		state = &State{}
	}
	if logger == nil {
		logger = NewLogger()
	}
	return &Engine{State: state, Logger: logger}
}

// Run delivers event to every callback. A failing callback does not stop the
// remaining ones; all errors are returned joined.
func (e *Engine) Run(ctx context.Context, event Event) error {
	var errs []error
	for i, cb := range e.State.Callbacks {
		if cb == nil {
			continue
		}
		if err := cb.Run(ctx, event, e.State, e.Logger); err != nil {
			errs = append(errs, fmt.Errorf("callback %d on %s: %w", i, event, err))
		}
	}
	return errors.Join(errs...)
}
