package platform

import (
	"fmt"

	"trainhooks/internal/trainer"
)

// trainingProgress renders progress against the max duration:
//
//	tokens:  training_progress=[token=x/N]
//	batches: training_progress=[batch=x/N]
//	epochs:  training_progress=[epoch=x/N], training_sub_progress=[batch=x/M]
//
// For epochs, M is inferred from completed epochs, else the dataloader length
// seen on batch start; without either only the current batch is shown.
func (l *Logger) trainingProgress(state *trainer.State) map[string]any {
	if !l.enabled || state == nil || state.MaxDuration == nil {
		return nil
	}
	maxDur := state.MaxDuration
	ts := state.Timestamp
	switch maxDur.Unit {
	case trainer.TimeUnitToken:
		return map[string]any{
			"training_progress": fmt.Sprintf("[token=%d/%d]", ts.Token, maxDur.Value),
		}
	case trainer.TimeUnitBatch:
		return map[string]any{
			"training_progress": fmt.Sprintf("[batch=%d/%d]", ts.Batch, maxDur.Value),
		}
	case trainer.TimeUnitEpoch:
		var sub string
		switch {
		case ts.Epoch >= 1:
			perEpoch := (ts.Batch - ts.BatchInEpoch) / ts.Epoch
			sub = fmt.Sprintf("[batch=%d/%d]", ts.BatchInEpoch, perEpoch)
		case l.trainDataloaderLen != nil:
			sub = fmt.Sprintf("[batch=%d/%d]", ts.BatchInEpoch, *l.trainDataloaderLen)
		default:
			sub = fmt.Sprintf("[batch=%d]", ts.BatchInEpoch)
		}
		epoch := ts.Epoch
		if epoch < maxDur.Value {
			epoch++
		}
		return map[string]any{
			"training_sub_progress": sub,
			"training_progress":     fmt.Sprintf("[epoch=%d/%d]", epoch, maxDur.Value),
		}
	}
	return nil
}
