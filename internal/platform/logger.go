// Package platform buffers run metadata and metrics and flushes them to the
// training platform at a bounded rate.
package platform

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"trainhooks/internal/metrics"
	"trainhooks/internal/trainer"
	"trainhooks/internal/util/jsonutil"
)

const (
	keyPrefix          = "mosaicml/"
	defaultLogInterval = 60 * time.Second
	maxAllowedFails    = 3
	failRecoveryPeriod = time.Hour
)

type Options struct {
	RunName string
	// Rank is the global process rank; only rank 0 logs.
	Rank int
	// LogInterval bounds how often buffered metadata is sent.
	LogInterval time.Duration
	// IgnoreKeys are shell-style patterns of keys that are never sent.
	IgnoreKeys []string
}

type Option func(*Logger)

func WithLogger(log logr.Logger) Option {
	return func(l *Logger) { l.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithMetrics(rec *metrics.Recorder) Option {
	return func(l *Logger) { l.rec = rec }
}

// Logger is a trainer destination and callback that forwards metadata to the
// platform. It is not safe for concurrent use; the trainer calls it from its
// callback loop only.
type Logger struct {
	client   MetadataClient
	log      logr.Logger
	now      func() time.Time
	rec      *metrics.Recorder
	runName  string
	interval time.Duration
	ignore   keyFilter

	enabled                 bool
	allowedFailsLeft        int
	timeLastLogged          time.Time
	timeFailedCountAdjusted time.Time
	trainDataloaderLen      *int64
	buffered                map[string]any
}

var (
	_ trainer.Destination = (*Logger)(nil)
	_ trainer.Callback    = (*Logger)(nil)
)

// New returns a logger that is enabled only on rank 0 with a run name. An
// invalid ignore pattern is the only error.
func New(opts Options, client MetadataClient, options ...Option) (*Logger, error) {
	ignore, err := newKeyFilter(opts.IgnoreKeys)
	if err != nil {
		return nil, err
	}
	interval := opts.LogInterval
	if interval <= 0 {
		interval = defaultLogInterval
	}
	l := &Logger{
		client:           client,
		log:              logr.Discard(),
		now:              time.Now,
		runName:          opts.RunName,
		interval:         interval,
		ignore:           ignore,
		enabled:          opts.Rank == 0,
		allowedFailsLeft: maxAllowedFails,
		buffered:         make(map[string]any),
	}
	for _, o := range options {
		o(l)
	}
	if !l.enabled {
		return l, nil
	}
	if l.runName == "" {
		l.log.Info("Platform logger disabled", "reason", "run name not set, unable to identify which run to log to")
		l.enabled = false
		l.rec.LoggerDisabled("missing_run_name")
		return l, nil
	}
	if l.client == nil {
		l.log.Info("Platform logger disabled", "reason", "no metadata client configured")
		l.enabled = false
		l.rec.LoggerDisabled("missing_client")
		return l, nil
	}
	l.log.Info("Logging to platform run", "run", l.runName)
	return l, nil
}

func (l *Logger) Enabled() bool { return l.enabled }

// Buffered returns a copy of the metadata waiting to be flushed.
func (l *Logger) Buffered() map[string]any {
	out := make(map[string]any, len(l.buffered))
	for k, v := range l.buffered {
		out[k] = v
	}
	return out
}

func (l *Logger) LogHyperparameters(ctx context.Context, hparams map[string]any) {
	l.logMetadata(ctx, hparams)
}

func (l *Logger) LogMetrics(ctx context.Context, m map[string]any, _ *int64) {
	l.logMetadata(ctx, m)
}

func (l *Logger) LogTable(context.Context, []string, [][]any, string) error {
	return nil
}

func (l *Logger) Run(ctx context.Context, event trainer.Event, state *trainer.State, _ *trainer.Logger) error {
	switch event {
	case trainer.EventAfterLoad:
		l.afterLoad(ctx, state)
	case trainer.EventBatchStart:
		if l.enabled && state != nil && state.DataloaderLen != nil {
			n := *state.DataloaderLen
			l.trainDataloaderLen = &n
		}
	case trainer.EventBatchEnd:
		l.logMetadata(ctx, l.trainingProgress(state))
		l.flush(ctx, false)
	case trainer.EventEpochEnd:
		l.flush(ctx, false)
	case trainer.EventFitEnd:
		l.logMetadata(ctx, l.trainingProgress(state))
		l.flush(ctx, true)
	case trainer.EventEvalEnd, trainer.EventPredictEnd, trainer.EventClose:
		l.flush(ctx, true)
	}
	return nil
}

func (l *Logger) afterLoad(ctx context.Context, state *trainer.State) {
	now := l.now()
	l.logMetadata(ctx, map[string]any{
		"model_initialized_time": float64(now.UnixNano()) / float64(time.Second),
	})
	if state == nil {
		return
	}
	for _, cb := range state.Callbacks {
		p, ok := cb.(trainer.RunURLProvider)
		if !ok {
			continue
		}
		if url, ok := p.RunURL(); ok && url != "" {
			l.logMetadata(ctx, map[string]any{"wandb/run_url": url})
		}
	}
}

// logMetadata buffers metadata under the platform prefix and attempts a flush.
func (l *Logger) logMetadata(ctx context.Context, metadata map[string]any) {
	if !l.enabled {
		return
	}
	for key, val := range metadata {
		if l.ignore.ignored(key) {
			l.rec.MetadataIgnored()
			continue
		}
		l.buffered[keyPrefix+key] = jsonutil.Normalize(l.log, val)
	}
	l.flush(ctx, false)
}

// Flush forces buffered metadata out.
func (l *Logger) Flush(ctx context.Context) {
	l.flush(ctx, true)
}

func (l *Logger) flush(ctx context.Context, force bool) {
	if !l.enabled || len(l.buffered) == 0 {
		return
	}
	now := l.now()
	if !force && now.Sub(l.timeLastLogged) <= l.interval {
		return
	}
	if err := l.client.UpdateRunMetadata(ctx, l.runName, l.buffered); err != nil {
		l.log.Error(err, "Failed to log metadata to platform", "run", l.runName, "allowedFailsLeft", l.allowedFailsLeft-1)
		l.rec.MetadataFlush(false)
		l.allowedFailsLeft--
		l.timeFailedCountAdjusted = now
		if l.allowedFailsLeft <= 0 {
			l.log.Info("Platform logger disabled", "reason", "repeated flush failures", "run", l.runName)
			l.enabled = false
			l.rec.LoggerDisabled("failures")
		}
		return
	}
	l.rec.MetadataFlush(true)
	l.buffered = make(map[string]any)
	l.timeLastLogged = l.now()
	// An hour without failures earns back one allowed failure.
	if l.now().Sub(l.timeFailedCountAdjusted) > failRecoveryPeriod && l.allowedFailsLeft < maxAllowedFails {
		l.allowedFailsLeft++
		l.timeFailedCountAdjusted = l.now()
	}
}
