package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"trainhooks/internal/evaloutput"
	"trainhooks/internal/objectstore"
	"trainhooks/internal/platform"
	"trainhooks/internal/replay"
	"trainhooks/internal/trainer"
)

func newReplayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Drive the callbacks from a recorded event stream",
		Long:  "Read one JSON record per line, apply its state, metrics and response cache, and dispatch its event to the configured callbacks.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.close(); err == nil {
					err = cerr
				}
			}()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open events: %w", err)
			}
			defer f.Close()

			engine, closer, err := buildEngine(s)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			driver := replay.NewDriver(engine, s.log.WithName("replay"))
			if err := replay.Run(ctx, f, driver); err != nil {
				return fmt.Errorf("replay %s: %w", args[0], err)
			}
			for _, cb := range engine.State.Callbacks {
				if pl, ok := cb.(*platform.Logger); ok {
					pl.Flush(ctx)
				}
			}
			return nil
		},
	}
}

// buildEngine wires the enabled callbacks and destinations. The console
// destination is always present.
func buildEngine(s *session) (*trainer.Engine, io.Closer, error) {
	var callbacks []trainer.Callback
	var closer io.Closer = nopCloser{}
	destinations := []trainer.Destination{trainer.NewConsoleDestination(s.log.WithName("console"))}

	if s.cfg.Platform.Enabled {
		pl, c, err := platform.NewFromConfig(s.cfg.Platform,
			platform.WithLogger(s.log.WithName("platform")),
			platform.WithMetrics(s.rec),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("platform logger: %w", err)
		}
		callbacks = append(callbacks, pl)
		destinations = append(destinations, pl)
		closer = c
	}

	if eo := s.cfg.EvalOutput; eo.Enabled {
		resolver, err := objectstore.NewResolver(s3Config(s.cfg.ObjectStore))
		if err != nil {
			_ = closer.Close()
			return nil, nil, err
		}
		cb, err := evaloutput.New(evaloutput.Options{
			PrintOnlyIncorrect: eo.PrintOnlyIncorrect,
			SubsetSample:       eo.SubsetSample,
			OutputDirectory:    eo.OutputDirectory,
		},
			evaloutput.WithLogger(s.log.WithName("evaloutput")),
			evaloutput.WithResolver(resolver),
			evaloutput.WithMetrics(s.rec),
		)
		if err != nil {
			_ = closer.Close()
			return nil, nil, fmt.Errorf("eval output callback: %w", err)
		}
		callbacks = append(callbacks, cb)
	}

	state := &trainer.State{Callbacks: callbacks}
	return trainer.NewEngine(state, trainer.NewLogger(destinations...)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
