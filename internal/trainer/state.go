package trainer

// State is the subset of trainer state exposed to callbacks.
type State struct {
	MaxDuration     *Duration
	Timestamp       Timestamp
	DataloaderLen   *int64
	DataloaderLabel string
	Dataloader      Dataloader
	// EvalMetrics maps a benchmark label to its metrics keyed by metric name.
	EvalMetrics map[string]map[string]Metric
	Callbacks   []Callback
}

// Tokenizer is opaque to callbacks; it is handed back to metric formatters.
type Tokenizer any

// Dataset is anything a dataloader iterates over.
type Dataset any

type Dataloader interface {
	Dataset() Dataset
}

// ICLDataset is implemented by in-context-learning datasets that carry a tokenizer.
type ICLDataset interface {
	Tokenizer() Tokenizer
}

type Metric interface {
	Name() string
}

// ResponseCacheFormatter renders cached responses as a table. A nil columns or rows
// result means there is nothing to report.
type ResponseCacheFormatter func(tok Tokenizer) (columns []string, rows [][]any, err error)

// ResponseCacheMetric is implemented by metrics that can cache model responses.
// ResponseCacheFormatter returns nil when the metric cannot render its cache.
type ResponseCacheMetric interface {
	Metric
	SetResponseCache(enabled bool)
	ResponseCacheFormatter() ResponseCacheFormatter
}

// RunURLProvider is implemented by experiment-tracker callbacks exposing a run URL.
type RunURLProvider interface {
	RunURL() (string, bool)
}

// BenchmarkMetrics returns the metrics registered for the current dataloader label.
func (s *State) BenchmarkMetrics() map[string]Metric {
	if s == nil || s.EvalMetrics == nil {
		return nil
	}
	return s.EvalMetrics[s.DataloaderLabel]
}
