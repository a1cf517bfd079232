package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts plugin activity on a private registry. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	metadataFlushes *prometheus.CounterVec
	metadataIgnored prometheus.Counter
	loggerDisabled  *prometheus.CounterVec
	evalTables      prometheus.Counter
	evalRows        *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		metadataFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trainhooks_metadata_flushes_total",
				Help: "Total number of run metadata flushes by result",
			},
			[]string{"result"},
		),
		metadataIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainhooks_metadata_keys_ignored_total",
			Help: "Total number of metadata keys dropped by ignore patterns",
		}),
		loggerDisabled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trainhooks_metadata_logger_disabled_total",
				Help: "Total number of times the metadata logger disabled itself",
			},
			[]string{"reason"},
		),
		evalTables: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainhooks_eval_output_tables_written_total",
			Help: "Total number of eval output tables written to their destination",
		}),
		evalRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trainhooks_eval_output_rows_total",
				Help: "Total number of eval output rows collected per benchmark",
			},
			[]string{"benchmark"},
		),
	}
	r.registry.MustRegister(r.metadataFlushes, r.metadataIgnored, r.loggerDisabled, r.evalTables, r.evalRows)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) MetadataFlush(ok bool) {
	if r == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	r.metadataFlushes.WithLabelValues(result).Inc()
}

func (r *Recorder) MetadataIgnored() {
	if r == nil {
		return
	}
	r.metadataIgnored.Inc()
}

func (r *Recorder) LoggerDisabled(reason string) {
	if r == nil {
		return
	}
	r.loggerDisabled.WithLabelValues(reason).Inc()
}

func (r *Recorder) EvalTableWritten() {
	if r == nil {
		return
	}
	r.evalTables.Inc()
}

func (r *Recorder) EvalRows(benchmark string, n int) {
	if r == nil {
		return
	}
	r.evalRows.WithLabelValues(benchmark).Add(float64(n))
}

// WriteTextfile dumps the registry in the text exposition format, for batch
// jobs scraped through a node exporter textfile directory.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
