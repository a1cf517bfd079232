package trainer

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
)

// Destination receives logged data from the trainer.
type Destination interface {
	LogHyperparameters(ctx context.Context, hparams map[string]any)
	LogMetrics(ctx context.Context, metrics map[string]any, step *int64)
	LogTable(ctx context.Context, columns []string, rows [][]any, name string) error
}

// NopDestination can be embedded to implement only some Destination methods.
type NopDestination struct{}

func (NopDestination) LogHyperparameters(context.Context, map[string]any) {}
func (NopDestination) LogMetrics(context.Context, map[string]any, *int64) {}
func (NopDestination) LogTable(context.Context, []string, [][]any, string) error { return nil }

// ConsoleDestination prints metrics through a logger. Tables are not printed.
type ConsoleDestination struct {
	NopDestination
	Log logr.Logger
}

func NewConsoleDestination(log logr.Logger) *ConsoleDestination {
	return &ConsoleDestination{Log: log}
}

func (c *ConsoleDestination) LogHyperparameters(_ context.Context, hparams map[string]any) {
	c.Log.Info("hyperparameters", "values", hparams)
}

func (c *ConsoleDestination) LogMetrics(_ context.Context, metrics map[string]any, step *int64) {
	if step != nil {
		c.Log.Info("metrics", "step", *step, "values", metrics)
		return
	}
	c.Log.Info("metrics", "values", metrics)
}

// Logger fans logged data out to every destination.
type Logger struct {
	Destinations []Destination
}

func NewLogger(destinations ...Destination) *Logger {
	return &Logger{Destinations: destinations}
}

func (l *Logger) LogHyperparameters(ctx context.Context, hparams map[string]any) {
	if l == nil {
		return
	}
	for _, d := range l.Destinations {
		d.LogHyperparameters(ctx, hparams)
	}
}

func (l *Logger) LogMetrics(ctx context.Context, metrics map[string]any, step *int64) {
	if l == nil {
		return
	}
	for _, d := range l.Destinations {
		d.LogMetrics(ctx, metrics, step)
	}
}

// LogTable forwards the table to every destination and joins their errors.
func (l *Logger) LogTable(ctx context.Context, columns []string, rows [][]any, name string) error {
	if l == nil {
		return nil
	}
	var errs []error
	for _, d := range l.Destinations {
		if err := d.LogTable(ctx, columns, rows, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
