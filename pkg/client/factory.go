package client

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/config"
)

// NewFactory builds backend clients from the contexts of cfg. Every client
// is wrapped with retries and a circuit breaker.
func NewFactory(cfg *config.Config, version string, opts backend.ResilienceOptions) backend.Factory {
	return func(ctx context.Context, profile string) (backend.Client, error) {
		c, err := cfg.Context(profile)
		if err != nil {
			return nil, errors.Wrapf(backend.ErrBackendUnavailable, "%v", err)
		}
		var raw backend.Client
		switch c.Backend {
		case config.BackendCloudWatch:
			cw, err := NewCloudWatch(ctx, *c)
			if err != nil {
				return nil, err
			}
			raw = cw
		default:
			raw = NewClickHouse(*c, version)
		}
		return backend.NewResilient(raw, opts), nil
	}
}

// NewHolder returns a lazily connected client for the context named by
// resolver.
func NewHolder(cfg *config.Config, version string, resolver backend.ProfileResolver) *backend.Holder {
	return backend.NewHolder(resolver, NewFactory(cfg, version, backend.ResilienceOptions{}))
}
