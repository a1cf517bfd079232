package evaloutput

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainhooks/internal/metrics"
	"trainhooks/internal/objectstore"
	"trainhooks/internal/trainer"
)

type fakeTokenizer struct{ name string }

type iclDataset struct{ tok trainer.Tokenizer }

func (d iclDataset) Tokenizer() trainer.Tokenizer { return d.tok }

type plainDataset struct{}

type loader struct{ ds trainer.Dataset }

func (l loader) Dataset() trainer.Dataset { return l.ds }

type cacheMetric struct {
	name      string
	columns   []string
	rows      [][]any
	err       error
	noFormat  bool
	caching   []bool
	seenToken trainer.Tokenizer
}

func (m *cacheMetric) Name() string { return m.name }

func (m *cacheMetric) SetResponseCache(enabled bool) { m.caching = append(m.caching, enabled) }

func (m *cacheMetric) ResponseCacheFormatter() trainer.ResponseCacheFormatter {
	if m.noFormat {
		return nil
	}
	return func(tok trainer.Tokenizer) ([]string, [][]any, error) {
		m.seenToken = tok
		return m.columns, m.rows, m.err
	}
}

type plainMetric struct{}

func (plainMetric) Name() string { return "accuracy" }

type tableSink struct {
	trainer.NopDestination
	names []string
	rows  [][][]any
}

func (s *tableSink) LogTable(_ context.Context, _ []string, rows [][]any, name string) error {
	s.names = append(s.names, name)
	s.rows = append(s.rows, rows)
	return nil
}

var qaColumns = []string{"context", "answer", "correct"}

func qaRows() [][]any {
	return [][]any{
		{"Q: 1+1?", "2", true},
		{"Q: capital of France?", "Lyon", false},
		{"Q: 2*3?", "5", false},
		{"Q: sky?", "blue", true},
		{"Q: ice?", "hot", false},
	}
}

func newCallback(t *testing.T, opts Options) *Callback {
	t.Helper()
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	if opts.OutputDirectory == "" {
		opts.OutputDirectory = t.TempDir()
	}
	c, err := New(opts, WithRand(rand.New(rand.NewPCG(1, 2))))
	require.NoError(t, err)
	return c
}

func evalState(label string, ds trainer.Dataset, ms ...trainer.Metric) *trainer.State {
	byName := make(map[string]trainer.Metric, len(ms))
	for _, m := range ms {
		byName[m.Name()] = m
	}
	return &trainer.State{
		DataloaderLabel: label,
		Dataloader:      loader{ds: ds},
		EvalMetrics:     map[string]map[string]trainer.Metric{label: byName},
		Timestamp:       trainer.Timestamp{Batch: 42},
	}
}

func TestEvalStartAndEndToggleResponseCache(t *testing.T) {
	m := &cacheMetric{name: "qa", columns: qaColumns, rows: qaRows()}
	tok := fakeTokenizer{name: "gpt2"}
	state := evalState("triviaqa", iclDataset{tok: tok}, m, plainMetric{})
	c := newCallback(t, Options{})
	ctx := context.Background()

	require.NoError(t, c.Run(ctx, trainer.EventEvalStart, state, nil))
	require.NoError(t, c.Run(ctx, trainer.EventEvalEnd, state, nil))

	assert.Equal(t, []bool{true, false}, m.caching)
	assert.Equal(t, tok, m.seenToken)
	assert.Equal(t, []string{"triviaqa"}, c.Benchmarks())
	assert.Len(t, c.tables["triviaqa"].rows, 5)
}

func TestEvalEndSkipsNonICLDatasets(t *testing.T) {
	m := &cacheMetric{name: "qa", columns: qaColumns, rows: qaRows()}
	c := newCallback(t, Options{})
	ctx := context.Background()

	require.NoError(t, c.Run(ctx, trainer.EventEvalEnd, evalState("lm", plainDataset{}, m), nil))
	require.NoError(t, c.Run(ctx, trainer.EventEvalEnd, evalState("lm", iclDataset{}, m), nil))
	assert.Empty(t, c.Benchmarks())

	err := c.Run(ctx, trainer.EventEvalEnd, &trainer.State{}, nil)
	assert.Error(t, err)
}

func TestEvalEndSkipsMetricsWithoutFormatter(t *testing.T) {
	m := &cacheMetric{name: "qa", noFormat: true}
	empty := &cacheMetric{name: "empty"}
	c := newCallback(t, Options{})

	require.NoError(t, c.Run(context.Background(), trainer.EventEvalEnd, evalState("b", iclDataset{tok: fakeTokenizer{}}, m, empty), nil))
	assert.Empty(t, c.Benchmarks())
}

func TestEvalEndRequiresCorrectColumn(t *testing.T) {
	m := &cacheMetric{name: "qa", columns: []string{"context", "answer"}, rows: [][]any{{"a", "b"}}}
	c := newCallback(t, Options{})
	state := evalState("b", iclDataset{tok: fakeTokenizer{}}, m)

	err := c.Run(context.Background(), trainer.EventEvalEnd, state, nil)
	require.ErrorIs(t, err, ErrMissingCorrectColumn)
	// Response caching is still switched off.
	assert.Equal(t, []bool{false}, m.caching)
}

func TestEvalEndRejectsMisalignedRows(t *testing.T) {
	m := &cacheMetric{name: "qa", columns: qaColumns, rows: [][]any{{"a", true}}}
	c := newCallback(t, Options{})

	err := c.Run(context.Background(), trainer.EventEvalEnd, evalState("b", iclDataset{tok: fakeTokenizer{}}, m), nil)
	assert.ErrorContains(t, err, "row 0 has 2 values, want 3")
}

func TestEvalEndPropagatesFormatterError(t *testing.T) {
	m := &cacheMetric{name: "qa", err: errors.New("detokenize failed")}
	c := newCallback(t, Options{})

	err := c.Run(context.Background(), trainer.EventEvalEnd, evalState("b", iclDataset{tok: fakeTokenizer{}}, m), nil)
	assert.ErrorContains(t, err, "detokenize failed")
}

func TestPrintOnlyIncorrect(t *testing.T) {
	m := &cacheMetric{name: "qa", columns: qaColumns, rows: qaRows()}
	c := newCallback(t, Options{PrintOnlyIncorrect: true})

	require.NoError(t, c.Run(context.Background(), trainer.EventEvalEnd, evalState("b", iclDataset{tok: fakeTokenizer{}}, m), nil))
	rows := c.tables["b"].rows
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.False(t, truthy(r[2]))
	}
}

func TestSubsetSample(t *testing.T) {
	cases := []struct {
		sample int
		want   int
	}{
		{sample: 2, want: 2},
		{sample: 5, want: 5},
		{sample: 50, want: 5},
		{sample: -1, want: 5},
		{sample: 0, want: 5},
	}
	for _, tc := range cases {
		m := &cacheMetric{name: "qa", columns: qaColumns, rows: qaRows()}
		c := newCallback(t, Options{SubsetSample: tc.sample})
		require.NoError(t, c.Run(context.Background(), trainer.EventEvalEnd, evalState("b", iclDataset{tok: fakeTokenizer{}}, m), nil))
		rows := c.tables["b"].rows
		assert.Len(t, rows, tc.want, "sample=%d", tc.sample)

		// Sampled rows come from the source without repetition.
		seen := map[string]bool{}
		for _, r := range rows {
			key := r[0].(string)
			assert.False(t, seen[key])
			seen[key] = true
		}
	}
}

func TestSubsetSampleAfterFiltering(t *testing.T) {
	m := &cacheMetric{name: "qa", columns: qaColumns, rows: qaRows()}
	c := newCallback(t, Options{PrintOnlyIncorrect: true, SubsetSample: 2})
	require.NoError(t, c.Run(context.Background(), trainer.EventEvalEnd, evalState("b", iclDataset{tok: fakeTokenizer{}}, m), nil))
	rows := c.tables["b"].rows
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, false, r[2])
	}
}

func TestEvalEndLogsTablesToNonConsoleDestinations(t *testing.T) {
	m := &cacheMetric{name: "qa", columns: qaColumns, rows: qaRows()}
	sink := &tableSink{}
	logger := trainer.NewLogger(sink, trainer.NewConsoleDestination(logr.Discard()))
	c := newCallback(t, Options{})

	require.NoError(t, c.Run(context.Background(), trainer.EventEvalEnd, evalState("arc_easy", iclDataset{tok: fakeTokenizer{}}, m), logger))
	assert.Equal(t, []string{"icl_outputs/arc_easy"}, sink.names)
	assert.Len(t, sink.rows[0], 5)
}

func TestWriteTablesLocal(t *testing.T) {
	out := filepath.Join(t.TempDir(), "outputs")
	work := t.TempDir()
	rec := metrics.New()
	c, err := New(Options{OutputDirectory: out, WorkDir: work}, WithMetrics(rec))
	require.NoError(t, err)
	ctx := context.Background()

	qa := &cacheMetric{name: "qa", columns: qaColumns, rows: [][]any{
		{"Q: ünïcode\tand\nnewline", "Paris", true},
		{`say "hi"`, nil, false},
	}}
	mc := &cacheMetric{name: "mc", columns: []string{"context", "correct", "score"}, rows: [][]any{
		{"pick one", 1, 0.5},
	}}
	require.NoError(t, c.Run(ctx, trainer.EventEvalEnd, evalState("triviaqa", iclDataset{tok: fakeTokenizer{}}, qa), nil))
	require.NoError(t, c.Run(ctx, trainer.EventEvalEnd, evalState("hellaswag", iclDataset{tok: fakeTokenizer{}}, mc), nil))

	state := &trainer.State{Timestamp: trainer.Timestamp{Batch: 1200}}
	require.NoError(t, c.Run(ctx, trainer.EventEvalAfterAll, state, nil))
	assert.Empty(t, c.Benchmarks())

	raw, err := os.ReadFile(filepath.Join(out, "eval-outputs-ba1200.tsv"))
	require.NoError(t, err)
	want := strings.Join([]string{
		"context\tanswer\tcorrect\tbenchmark\tscore",
		`Q: \xfcn\xefcode\tand\nnewline` + "\tParis\tTrue\ttriviaqa\t",
		`"say ""hi"""` + "\t\tFalse\ttriviaqa\t",
		"pick one\t\t1\thellaswag\t0.5",
		"",
	}, "\n")
	if diff := cmp.Diff(want, string(raw)); diff != "" {
		t.Fatalf("unexpected tsv (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files must be removed")
}

func TestWriteTablesObjectStore(t *testing.T) {
	resolver, err := objectstore.NewResolver(objectstore.S3Config{})
	require.NoError(t, err)
	store := objectstore.NewMemoryStore()
	resolver.Register("s3", func(bucket string) (objectstore.Store, error) {
		assert.Equal(t, "evals", bucket)
		return store, nil
	})
	work := t.TempDir()
	c, err := New(Options{OutputDirectory: "s3://evals/runs/run-1/", WorkDir: work}, WithResolver(resolver))
	require.NoError(t, err)
	ctx := context.Background()

	m := &cacheMetric{name: "qa", columns: qaColumns, rows: qaRows()}
	require.NoError(t, c.Run(ctx, trainer.EventEvalEnd, evalState("b", iclDataset{tok: fakeTokenizer{}}, m), nil))
	require.NoError(t, c.Run(ctx, trainer.EventEvalStandaloneEnd, &trainer.State{Timestamp: trainer.Timestamp{Batch: 7}}, nil))

	raw, err := store.Get(ctx, "runs/run-1/eval-outputs-ba7.tsv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(t, lines, 6)
	assert.Equal(t, "context\tanswer\tcorrect\tbenchmark", lines[0])

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteTablesCleansUpOnFailure(t *testing.T) {
	resolver, err := objectstore.NewResolver(objectstore.S3Config{})
	require.NoError(t, err)
	work := t.TempDir()
	c, err := New(Options{OutputDirectory: "gs://nope/prefix", WorkDir: work}, WithResolver(resolver))
	require.NoError(t, err)
	ctx := context.Background()

	m := &cacheMetric{name: "qa", columns: qaColumns, rows: qaRows()}
	require.NoError(t, c.Run(ctx, trainer.EventEvalEnd, evalState("b", iclDataset{tok: fakeTokenizer{}}, m), nil))
	err = c.Run(ctx, trainer.EventEvalAfterAll, &trainer.State{}, nil)
	require.ErrorIs(t, err, objectstore.ErrUnsupportedScheme)
	// Tables are cleared even when the export fails.
	assert.Empty(t, c.Benchmarks())

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteTablesWithoutTablesIsNoop(t *testing.T) {
	out := t.TempDir()
	c := newCallback(t, Options{OutputDirectory: out})
	require.NoError(t, c.Run(context.Background(), trainer.EventEvalAfterAll, &trainer.State{}, nil))
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
