package models

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/client"
	"github.com/Slach/logs-insights/pkg/config"
	"github.com/Slach/logs-insights/pkg/document"
	"github.com/Slach/logs-insights/pkg/insights"
	"github.com/Slach/logs-insights/pkg/session"
	"github.com/Slach/logs-insights/pkg/types"
)

// AppState holds what every host shares: configuration, the selected
// connection, the backend client and the open sessions.
type AppState struct {
	Config  *config.Config
	Version string
	CLI     *types.CLI

	Backend  *backend.Holder
	Sessions *session.Registry

	mu              sync.Mutex
	selectedContext *config.Context
}

// NewAppState creates the state; the backend connects on first use.
func NewAppState(cfg *config.Config, cli *types.CLI, version string) *AppState {
	if cli == nil {
		cli = &types.CLI{}
	}
	s := &AppState{
		Config:   cfg,
		Version:  version,
		CLI:      cli,
		Sessions: session.NewRegistry(),
	}
	s.Backend = client.NewHolder(cfg, version, backend.ProfileResolverFunc(s.resolveProfile))
	return s
}

func (s *AppState) resolveProfile(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedContext == nil {
		return "", errors.Wrap(backend.ErrBackendUnavailable, "no connection selected, use --connect or default_context")
	}
	return s.selectedContext.Name, nil
}

// SelectContext switches the connection. The backend client is rebuilt on
// next use.
func (s *AppState) SelectContext(name string) error {
	ctx, err := s.Config.Context(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.selectedContext = ctx
	s.mu.Unlock()
	s.Backend.Reset()
	return nil
}

// SelectedContext is the current connection, nil when none is selected.
func (s *AppState) SelectedContext() *config.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedContext
}

// ConnectionInfo returns formatted connection information
func (s *AppState) ConnectionInfo() string {
	ctx := s.SelectedContext()
	if ctx == nil {
		return "not connected"
	}
	if ctx.Backend == config.BackendCloudWatch {
		profile := ctx.Profile
		if profile == "" {
			profile = "default"
		}
		return fmt.Sprintf("%s (cloudwatch %s/%s)", ctx.Name, profile, ctx.Region)
	}
	return fmt.Sprintf("%s (clickhouse %s:%d/%s)", ctx.Name, ctx.Host, ctx.Port, ctx.Database)
}

// IsConnected returns true if a connection is selected
func (s *AppState) IsConnected() bool {
	return s.SelectedContext() != nil
}

// PollInterval is the --poll-interval flag, or the configured interval.
func (s *AppState) PollInterval() time.Duration {
	if s.CLI.PollInterval > 0 {
		return s.CLI.PollInterval
	}
	return s.Config.PollInterval
}

// CorrelationTemplate is the query of documents opened from a record.
func (s *AppState) CorrelationTemplate() string {
	if ctx := s.SelectedContext(); ctx != nil && ctx.CorrelationTemplate != "" {
		return ctx.CorrelationTemplate
	}
	return insights.DefaultCorrelationTemplate
}

// SessionOptions wires a session for doc and view to the shared backend.
func (s *AppState) SessionOptions(doc document.Document, view session.View, picker session.Picker, opener session.Opener) session.Options {
	return session.Options{
		Document:            doc,
		View:                view,
		Client:              s.Backend,
		Picker:              picker,
		Opener:              opener,
		PollInterval:        s.PollInterval(),
		CorrelationTemplate: s.CorrelationTemplate(),
	}
}

// Close closes every session, then the backend.
func (s *AppState) Close() error {
	s.Sessions.CloseAll()
	return s.Backend.Close()
}
