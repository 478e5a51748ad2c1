// Package session implements the controller pairing one query document
// with one view. It keeps both in sync and drives the start, poll and stop
// life cycle of the remote query.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/document"
	"github.com/Slach/logs-insights/pkg/insights"
	"github.com/Slach/logs-insights/pkg/protocol"
	"github.com/Slach/logs-insights/pkg/timespan"
)

// DefaultPollInterval is the wait between two polls of a running query.
const DefaultPollInterval = time.Second

// stopTimeout bounds the best-effort remote stop issued by Close.
const stopTimeout = 5 * time.Second

var (
	// ErrQueryRunning rejects execute while a query is in flight.
	ErrQueryRunning = errors.New("query already running")
	// ErrClosed is returned by sessions after Close.
	ErrClosed = errors.New("session closed")
)

// Level is the severity of a Notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is a user-visible notification.
type Notice struct {
	Level   Level
	Action  string
	Message string
	Err     error
}

// View is the UI side of a session.
type View interface {
	// ID distinguishes views bound to the same document.
	ID() string
	Post(msg protocol.Outbound) error
	Notify(n Notice)
}

// Picker lets the user choose log groups. An empty result means no change.
type Picker interface {
	PickLogGroups(ctx context.Context, available, selected []string) ([]string, error)
}

// Opener spawns a new document and session for a derived query.
type Opener interface {
	Open(ctx context.Context, q insights.Query) error
}

// Options wires a Session to its collaborators.
type Options struct {
	Document document.Document
	View     View
	Client   backend.Client
	Picker   Picker
	Opener   Opener

	// Now anchors relative time spans; nil means the wall clock.
	Now          func() time.Time
	PollInterval time.Duration
	// CorrelationTemplate is the query of documents spawned by open_request.
	CorrelationTemplate string
}

// run is one execution. token is the active query id; cancelled is the
// cancel request. Both are guarded by Session.mu.
type run struct {
	token     string
	cancelled bool
	stopped   chan struct{}
	last      backend.ResultPage
}

func (r *run) cancel() {
	if !r.cancelled {
		r.cancelled = true
		close(r.stopped)
	}
}

// Session is the controller of one (document, view) pair.
type Session struct {
	doc      document.Document
	view     View
	client   backend.Client
	picker   Picker
	opener   Opener
	resolver timespan.Resolver
	interval time.Duration
	template string
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	current     *run
	closed      bool
	unsubscribe func()
	onClose     func()
}

// New creates a session living at most as long as ctx. Call Attach to start syncing.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.Document == nil || opts.View == nil || opts.Client == nil {
		return nil, errors.New("session requires a document, a view and a backend client")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	template := opts.CorrelationTemplate
	if template == "" {
		template = insights.DefaultCorrelationTemplate
	}
	sctx, cancel := context.WithCancel(ctx)
	return &Session{
		doc:      opts.Document,
		view:     opts.View,
		client:   opts.Client,
		picker:   opts.Picker,
		opener:   opts.Opener,
		resolver: timespan.NewResolver(opts.Now),
		interval: interval,
		template: template,
		logger:   log.With().Str("document", opts.Document.URI()).Str("view", opts.View.ID()).Logger(),
		ctx:      sctx,
		cancel:   cancel,
	}, nil
}

// Attach subscribes to document changes and pushes the first snapshot.
func (s *Session) Attach() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.unsubscribe == nil {
		s.unsubscribe = s.doc.Subscribe(s.documentChanged)
	}
	s.mu.Unlock()

	s.logger.Debug().Msg("session attached")
	s.documentChanged()
	return nil
}

// Handle dispatches one view message.
func (s *Session) Handle(ctx context.Context, msg protocol.Inbound) error {
	s.logger.Debug().Str("type", msg.Type()).Msg("message from view")
	return msg.Dispatch(ctx, s)
}

// Running reports whether a query is in flight.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// ActiveQueryID is the token of the running query, empty when idle or still starting.
func (s *Session) ActiveQueryID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.token
}

// URI is the document this session is bound to.
func (s *Session) URI() string { return s.doc.URI() }

// ViewID is the view this session is bound to.
func (s *Session) ViewID() string { return s.view.ID() }

// Close detaches from the document and abandons polling. A running query
// is stopped remotely on a best-effort basis.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	r := s.current
	s.current = nil
	var token string
	if r != nil {
		token = r.token
		r.cancel()
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	onClose := s.onClose
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if token != "" {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := s.client.StopQuery(ctx, token); err != nil {
			s.logger.Warn().Err(err).Str("query_id", token).Msg("stop query on close")
		}
		cancel()
	}
	s.wg.Wait()
	if onClose != nil {
		onClose()
	}
	s.logger.Debug().Msg("session closed")
}

// guard logs a failed action and surfaces it to the user.
func (s *Session) guard(action string, err error) error {
	if err == nil {
		return nil
	}
	s.logger.Error().Stack().Err(err).Str("action", action).Msg("action failed")
	s.view.Notify(Notice{Level: LevelError, Action: action, Message: err.Error(), Err: err})
	return err
}

func (s *Session) post(msg protocol.Outbound) {
	if err := s.view.Post(msg); err != nil {
		s.logger.Warn().Err(err).Str("type", msg.Type()).Msg("post message to view")
	}
}

func (s *Session) readQuery() (insights.Query, error) {
	text, err := s.doc.Text()
	if err != nil {
		return insights.Query{}, err
	}
	return insights.Parse(text)
}

func (s *Session) writeQuery(ctx context.Context, q insights.Query) error {
	text, err := insights.Serialize(q.Normalize().MigrateLegacy())
	if err != nil {
		return err
	}
	return errors.Wrap(s.doc.Replace(ctx, text), "update document")
}

func (s *Session) documentChanged() {
	q, err := s.readQuery()
	if err != nil {
		_ = s.guard("document", err)
		return
	}
	s.post(protocol.QuerySnapshot{Query: q})
}

// finish returns to Idle if r is still the current run.
func (s *Session) finish(r *run) {
	s.mu.Lock()
	if s.current == r {
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *Session) cancelled(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.cancelled
}
