// Package evaloutput records per-sample outputs of in-context-learning
// evaluations and exports them as one TSV file per evaluation phase.
package evaloutput

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"trainhooks/internal/metrics"
	"trainhooks/internal/objectstore"
	"trainhooks/internal/trainer"
)

// ErrMissingCorrectColumn is returned when a metric renders its response cache
// without a "correct" column.
var ErrMissingCorrectColumn = errors.New("response cache should have column named `correct`")

const correctColumn = "correct"

type Options struct {
	// PrintOnlyIncorrect drops rows the model got right.
	PrintOnlyIncorrect bool
	// SubsetSample keeps a random sample of at most this many rows per
	// benchmark. Zero or negative keeps every row.
	SubsetSample int
	// OutputDirectory is a local directory or an object store URI such as
	// s3://bucket/prefix. Defaults to the working directory.
	OutputDirectory string
	// WorkDir holds temporary files. Defaults to the working directory.
	WorkDir string
}

type Option func(*Callback)

func WithLogger(log logr.Logger) Option {
	return func(c *Callback) { c.log = log }
}

func WithRand(rng *rand.Rand) Option {
	return func(c *Callback) {
		if rng != nil {
			c.rng = rng
		}
	}
}

func WithResolver(r *objectstore.Resolver) Option {
	return func(c *Callback) {
		if r != nil {
			c.resolver = r
		}
	}
}

func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *Callback) { c.rec = rec }
}

type table struct {
	columns []string
	rows    [][]any
}

// Callback collects response caches of ICL metrics at the end of each
// benchmark and writes them out once all evaluations of a phase finished.
type Callback struct {
	opts     Options
	log      logr.Logger
	rng      *rand.Rand
	resolver *objectstore.Resolver
	rec      *metrics.Recorder

	tables map[string]table
	order  []string
}

var _ trainer.Callback = (*Callback)(nil)

func New(opts Options, options ...Option) (*Callback, error) {
	if opts.OutputDirectory == "" || opts.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		if opts.OutputDirectory == "" {
			opts.OutputDirectory = wd
		}
		if opts.WorkDir == "" {
			opts.WorkDir = wd
		}
	}
	seed := uint64(time.Now().UnixNano())
	c := &Callback{
		opts:   opts,
		log:    logr.Discard(),
		rng:    rand.New(rand.NewPCG(seed, seed>>1)),
		tables: make(map[string]table),
	}
	for _, o := range options {
		o(c)
	}
	if c.resolver == nil {
		r, err := objectstore.NewResolver(objectstore.S3Config{UseSSL: true})
		if err != nil {
			return nil, err
		}
		c.resolver = r
	}
	return c, nil
}

func (c *Callback) Run(ctx context.Context, event trainer.Event, state *trainer.State, logger *trainer.Logger) error {
	switch event {
	case trainer.EventEvalStart:
		c.prepResponseCache(state, true)
	case trainer.EventEvalEnd:
		return c.evalEnd(ctx, state, logger)
	case trainer.EventEvalAfterAll, trainer.EventEvalStandaloneEnd:
		err := c.WriteTables(ctx, state)
		c.reset()
		return err
	}
	return nil
}

// Benchmarks lists benchmarks collected since the last write, in collection order.
func (c *Callback) Benchmarks() []string {
	return append([]string(nil), c.order...)
}

func (c *Callback) reset() {
	c.tables = make(map[string]table)
	c.order = nil
}

func (c *Callback) prepResponseCache(state *trainer.State, enabled bool) {
	for _, m := range state.BenchmarkMetrics() {
		if rc, ok := m.(trainer.ResponseCacheMetric); ok {
			rc.SetResponseCache(enabled)
		}
	}
}

func (c *Callback) evalEnd(ctx context.Context, state *trainer.State, logger *trainer.Logger) error {
	if state == nil || state.Dataloader == nil {
		return fmt.Errorf("eval_end without an eval dataloader")
	}
	defer c.prepResponseCache(state, false)

	icl, ok := state.Dataloader.Dataset().(trainer.ICLDataset)
	if !ok {
		return nil
	}
	tok := icl.Tokenizer()
	if tok == nil {
		return nil
	}
	benchmark := state.DataloaderLabel
	if benchmark == "" {
		return fmt.Errorf("eval_end without a dataloader label")
	}

	metricsByName := state.BenchmarkMetrics()
	names := make([]string, 0, len(metricsByName))
	for name := range metricsByName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rc, ok := metricsByName[name].(trainer.ResponseCacheMetric)
		if !ok {
			continue
		}
		format := rc.ResponseCacheFormatter()
		if format == nil {
			continue
		}
		columns, rows, err := format(tok)
		if err != nil {
			return fmt.Errorf("format response cache of %s: %w", name, err)
		}
		if columns == nil || rows == nil {
			continue
		}
		rows, err = c.selectRows(name, columns, rows)
		if err != nil {
			return err
		}
		c.log.V(1).Info("collected eval outputs", "benchmark", benchmark, "metric", name, "rows", len(rows), "columns", columns)
		c.rec.EvalRows(benchmark, len(rows))

		if err := logTable(ctx, logger, columns, rows, "icl_outputs/"+benchmark); err != nil {
			return err
		}
		if _, seen := c.tables[benchmark]; !seen {
			c.order = append(c.order, benchmark)
		}
		c.tables[benchmark] = table{columns: columns, rows: rows}
	}
	return nil
}

// selectRows validates the table shape and applies incorrect-only filtering
// and subsampling.
func (c *Callback) selectRows(metric string, columns []string, rows [][]any) ([][]any, error) {
	correctIdx := -1
	for i, col := range columns {
		if col == correctColumn {
			correctIdx = i
			break
		}
	}
	if correctIdx < 0 {
		return nil, fmt.Errorf("%s: %w", metric, ErrMissingCorrectColumn)
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%s: row %d has %d values, want %d", metric, i, len(row), len(columns))
		}
	}

	if c.opts.PrintOnlyIncorrect {
		kept := make([][]any, 0, len(rows))
		for _, row := range rows {
			if !truthy(row[correctIdx]) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	if c.opts.SubsetSample > 0 {
		rows = sample(c.rng, rows, c.opts.SubsetSample)
	}
	return rows, nil
}

// sample returns min(n, len(rows)) rows chosen uniformly without replacement.
func sample(rng *rand.Rand, rows [][]any, n int) [][]any {
	shuffled := append([][]any(nil), rows...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if n < len(shuffled) {
		shuffled = shuffled[:n]
	}
	return shuffled
}

func logTable(ctx context.Context, logger *trainer.Logger, columns []string, rows [][]any, name string) error {
	if logger == nil {
		return nil
	}
	var errs []error
	for _, d := range logger.Destinations {
		if _, console := d.(*trainer.ConsoleDestination); console {
			continue
		}
		if err := d.LogTable(ctx, columns, rows, name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("log table %s: %w", name, err)
	}
	return nil
}
