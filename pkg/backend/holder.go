package backend

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ProfileResolver picks the connection profile a client is built for.
type ProfileResolver interface {
	ResolveProfile(ctx context.Context) (string, error)
}

// ProfileResolverFunc adapts a function to ProfileResolver.
type ProfileResolverFunc func(ctx context.Context) (string, error)

func (f ProfileResolverFunc) ResolveProfile(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticProfile always resolves to the same profile name.
type StaticProfile string

func (p StaticProfile) ResolveProfile(context.Context) (string, error) {
	if p == "" {
		return "", errors.Wrap(ErrBackendUnavailable, "no connection profile selected")
	}
	return string(p), nil
}

// Factory builds a client for a named profile.
type Factory func(ctx context.Context, profile string) (Client, error)

// Holder owns a lazily constructed client. Reset drops it so the next call
// rebuilds it, e.g. after the profile changed. Holder itself is a Client.
type Holder struct {
	resolver ProfileResolver
	factory  Factory

	mu      sync.Mutex
	client  Client
	profile string
}

// NewHolder returns a Holder that builds clients on first use.
func NewHolder(resolver ProfileResolver, factory Factory) *Holder {
	return &Holder{resolver: resolver, factory: factory}
}

// Get returns the current client, building it when needed.
func (h *Holder) Get(ctx context.Context) (Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		return h.client, nil
	}
	profile, err := h.resolver.ResolveProfile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolve profile")
	}
	c, err := h.factory(ctx, profile)
	if err != nil {
		return nil, errors.Wrapf(err, "create client for profile %s", profile)
	}
	log.Debug().Str("profile", profile).Msg("backend client created")
	h.client = c
	h.profile = profile
	return c, nil
}

// Profile is the profile of the current client, empty before first use.
func (h *Holder) Profile() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.profile
}

// Reset releases the current client. Sessions keep working: the next call builds a new one.
func (h *Holder) Reset() {
	h.mu.Lock()
	c := h.client
	h.client = nil
	h.profile = ""
	h.mu.Unlock()

	if closer, ok := c.(Closer); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("close backend client")
		}
	}
}

func (h *Holder) ListLogGroups(ctx context.Context) ([]string, error) {
	c, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return c.ListLogGroups(ctx)
}

func (h *Holder) StartQuery(ctx context.Context, req StartRequest) (string, error) {
	c, err := h.Get(ctx)
	if err != nil {
		return "", err
	}
	return c.StartQuery(ctx, req)
}

func (h *Holder) PollResults(ctx context.Context, token string) (ResultPage, error) {
	c, err := h.Get(ctx)
	if err != nil {
		return ResultPage{}, err
	}
	return c.PollResults(ctx, token)
}

func (h *Holder) StopQuery(ctx context.Context, token string) error {
	c, err := h.Get(ctx)
	if err != nil {
		return err
	}
	return c.StopQuery(ctx, token)
}

func (h *Holder) FetchRecord(ctx context.Context, pointer string) (map[string]string, error) {
	c, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return c.FetchRecord(ctx, pointer)
}

// Close releases the current client.
func (h *Holder) Close() error {
	h.Reset()
	return nil
}
