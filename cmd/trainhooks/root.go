package main

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"trainhooks/internal/config"
	"trainhooks/internal/logging"
	"trainhooks/internal/metrics"
)

type rootOptions struct {
	configPath  string
	logLevel    string
	metricsFile string
	development bool
}

// session bundles what every subcommand needs.
type session struct {
	cfg  *config.Config
	log  logr.Logger
	rec  *metrics.Recorder
	opts *rootOptions
	sync func()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "trainhooks",
		Short:         "Training callbacks for eval output export and platform metadata logging",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file applied over the environment")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.metricsFile, "metrics-file", "", "write prometheus counters to this file on exit")
	root.PersistentFlags().BoolVar(&opts.development, "dev", false, "human readable logs")
	root.AddCommand(newReplayCmd(opts))
	root.AddCommand(newUploadCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func openSession(opts *rootOptions) (*session, error) {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log, sync, err := logging.New(opts.logLevel, opts.development)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, log: log, rec: metrics.New(), opts: opts, sync: sync}, nil
}

// close writes the metrics textfile, if requested, and flushes logs.
func (s *session) close() error {
	defer s.sync()
	if s.opts.metricsFile == "" {
		return nil
	}
	if err := s.rec.WriteTextfile(s.opts.metricsFile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
