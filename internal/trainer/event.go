package trainer

import (
	"context"
	"fmt"
)

// Event names a lifecycle notification emitted by the host trainer.
type Event string

const (
	EventEvalStart         Event = "eval_start"
	EventEvalEnd           Event = "eval_end"
	EventEvalAfterAll      Event = "eval_after_all"
	EventEvalStandaloneEnd Event = "eval_standalone_end"
	EventBatchStart        Event = "batch_start"
	EventBatchEnd          Event = "batch_end"
	EventEpochEnd          Event = "epoch_end"
	EventFitEnd            Event = "fit_end"
	EventPredictEnd        Event = "predict_end"
	EventClose             Event = "close"
	EventAfterLoad         Event = "after_load"
)

var knownEvents = map[Event]struct{}{
	EventEvalStart:         {},
	EventEvalEnd:           {},
	EventEvalAfterAll:      {},
	EventEvalStandaloneEnd: {},
	EventBatchStart:        {},
	EventBatchEnd:          {},
	EventEpochEnd:          {},
	EventFitEnd:            {},
	EventPredictEnd:        {},
	EventClose:             {},
	EventAfterLoad:         {},
}

// ParseEvent validates a raw event name.
func ParseEvent(raw string) (Event, error) {
	ev := Event(raw)
	if _, ok := knownEvents[ev]; !ok {
		return "", fmt.Errorf("unknown event %q", raw)
	}
	return ev, nil
}

// Callback reacts to lifecycle events. Implementations ignore events they do not handle.
type Callback interface {
	Run(ctx context.Context, event Event, state *State, logger *Logger) error
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(ctx context.Context, event Event, state *State, logger *Logger) error

func (f CallbackFunc) Run(ctx context.Context, event Event, state *State, logger *Logger) error {
	return f(ctx, event, state, logger)
}
