package platform

import (
	"fmt"
	"io"

	"trainhooks/internal/config"
)

// NewFromConfig builds a logger and its metadata client from configuration.
// The client is a Postgres sink when a DSN is configured, otherwise the
// platform HTTP API. The returned closer releases the client.
func NewFromConfig(cfg config.PlatformConfig, options ...Option) (*Logger, io.Closer, error) {
	opts := Options{
		RunName:     cfg.RunName,
		Rank:        cfg.Rank,
		LogInterval: cfg.LogInterval,
		IgnoreKeys:  cfg.IgnoreKeys,
	}
	if cfg.Rank != 0 || cfg.RunName == "" {
		l, err := New(opts, nil, options...)
		return l, nopCloser{}, err
	}

	var (
		client MetadataClient
		closer io.Closer = nopCloser{}
	)
	if cfg.MetadataDSN != "" {
		pg, err := NewPostgresClient(cfg.MetadataDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open metadata database: %w", err)
		}
		client, closer = pg, pg
	} else {
		hc, err := NewHTTPClient(cfg.Endpoint, cfg.AccessTokenFile, cfg.APIKey)
		if err != nil {
			return nil, nil, err
		}
		client = hc
	}
	l, err := New(opts, client, options...)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return l, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
