// Package replay drives trainer callbacks from a recorded JSONL event stream.
//
// Each line holds one record:
//
//	{"event": "eval_end",
//	 "state": {"dataloader_label": "jeopardy", "timestamp": {"batch": 20}},
//	 "metrics": {"loss": 0.3},
//	 "table": {"metric": "accuracy", "columns": ["question", "correct"], "rows": [["q", true]]}}
//
// State fields are applied before hyperparameters and metrics are logged;
// the event, if any, is dispatched last.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"

	"trainhooks/internal/trainer"
)

const maxLineSize = 16 << 20

type Record struct {
	Event   string         `json:"event,omitempty"`
	State   *StateRecord   `json:"state,omitempty"`
	Hparams map[string]any `json:"hparams,omitempty"`
	Metrics map[string]any `json:"metrics,omitempty"`
	Table   *TableRecord   `json:"table,omitempty"`
	RunURL  string         `json:"run_url,omitempty"`
}

type StateRecord struct {
	MaxDuration     *trainer.Duration  `json:"max_duration,omitempty"`
	Timestamp       *trainer.Timestamp `json:"timestamp,omitempty"`
	DataloaderLen   *int64             `json:"dataloader_len,omitempty"`
	DataloaderLabel *string            `json:"dataloader_label,omitempty"`
}

// TableRecord is the response cache a metric reports for the current benchmark.
type TableRecord struct {
	Metric  string   `json:"metric"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Driver applies records to an engine.
type Driver struct {
	engine *trainer.Engine
	log    logr.Logger
	runURL *runURLSource
}

func NewDriver(engine *trainer.Engine, log logr.Logger) *Driver {
	src := &runURLSource{}
	engine.State.Callbacks = append(engine.State.Callbacks, src)
	return &Driver{engine: engine, log: log, runURL: src}
}

// Apply replays a single record.
func (d *Driver) Apply(ctx context.Context, rec Record) error {
	state := d.engine.State
	if s := rec.State; s != nil {
		if s.MaxDuration != nil {
			md := *s.MaxDuration
			state.MaxDuration = &md
		}
		if s.Timestamp != nil {
			state.Timestamp = *s.Timestamp
		}
		if s.DataloaderLen != nil {
			n := *s.DataloaderLen
			state.DataloaderLen = &n
		}
		if s.DataloaderLabel != nil {
			state.DataloaderLabel = *s.DataloaderLabel
		}
	}
	if rec.RunURL != "" {
		d.runURL.url = rec.RunURL
	}
	if rec.Table != nil {
		d.installTable(*rec.Table)
	}
	if len(rec.Hparams) > 0 {
		d.engine.Logger.LogHyperparameters(ctx, decodeValues(rec.Hparams))
	}
	if len(rec.Metrics) > 0 {
		step := state.Timestamp.Batch
		d.engine.Logger.LogMetrics(ctx, decodeValues(rec.Metrics), &step)
	}
	if rec.Event == "" {
		return nil
	}
	event, err := trainer.ParseEvent(rec.Event)
	if err != nil {
		return err
	}
	return d.engine.Run(ctx, event)
}

func (d *Driver) installTable(t TableRecord) {
	state := d.engine.State
	name := strings.TrimSpace(t.Metric)
	if name == "" {
		name = "accuracy"
	}
	state.Dataloader = iclLoader{}
	if state.EvalMetrics == nil {
		state.EvalMetrics = make(map[string]map[string]trainer.Metric)
	}
	state.EvalMetrics[state.DataloaderLabel] = map[string]trainer.Metric{
		name: &recordedMetric{name: name, columns: t.Columns, rows: t.Rows},
	}
}

// Run reads records from r line by line and applies them in order. Blank
// lines are skipped. It stops at the first malformed line or failing event.
func Run(ctx context.Context, r io.Reader, d *Driver) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return fmt.Errorf("line %d: decode record: %w", line, err)
		}
		d.log.V(1).Info("replaying record", "line", line, "event", rec.Event)
		if err := d.Apply(ctx, rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	return nil
}

// decodeValues turns {"tensor": {"data": [...], "dims": [...]}} objects into
// tensors so recorded metrics keep their shape.
func decodeValues(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = decodeValue(v)
	}
	return out
}

func decodeValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v
	}
	raw, ok := m["tensor"].(map[string]any)
	if !ok {
		return v
	}
	data, ok := raw["data"].([]any)
	if !ok {
		return v
	}
	t := trainer.Tensor{Data: make([]float64, 0, len(data))}
	for _, x := range data {
		f, ok := x.(float64)
		if !ok {
			return v
		}
		t.Data = append(t.Data, f)
	}
	if dims, ok := raw["dims"].([]any); ok {
		for _, x := range dims {
			f, ok := x.(float64)
			if !ok {
				return v
			}
			t.Dims = append(t.Dims, int(f))
		}
	} else {
		t.Dims = []int{len(t.Data)}
	}
	return t
}

type replayTokenizer struct{}

type iclDataset struct{}

func (iclDataset) Tokenizer() trainer.Tokenizer { return replayTokenizer{} }

type iclLoader struct{}

func (iclLoader) Dataset() trainer.Dataset { return iclDataset{} }

// recordedMetric serves a recorded response cache.
type recordedMetric struct {
	name    string
	columns []string
	rows    [][]any
	caching bool
}

func (m *recordedMetric) Name() string { return m.name }

func (m *recordedMetric) SetResponseCache(enabled bool) { m.caching = enabled }

func (m *recordedMetric) ResponseCacheFormatter() trainer.ResponseCacheFormatter {
	return func(trainer.Tokenizer) ([]string, [][]any, error) {
		return m.columns, m.rows, nil
	}
}

// runURLSource exposes the recorded experiment-tracker URL.
type runURLSource struct {
	url string
}

func (s *runURLSource) Run(context.Context, trainer.Event, *trainer.State, *trainer.Logger) error {
	return nil
}

func (s *runURLSource) RunURL() (string, bool) {
	return s.url, s.url != ""
}
