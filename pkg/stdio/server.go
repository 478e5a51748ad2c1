// Package stdio hosts one session over JSON lines on stdin and stdout, the
// way an editor extension talks to it. Besides the protocol messages it
// speaks a few host messages: notice, pick/picked and opened.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Slach/logs-insights/pkg/document"
	"github.com/Slach/logs-insights/pkg/insights"
	"github.com/Slach/logs-insights/pkg/protocol"
	"github.com/Slach/logs-insights/pkg/session"
)

const (
	TypeNotice = "notice"
	TypePick   = "pick"
	TypePicked = "picked"
	TypeOpened = "opened"

	maxLine = 4 << 20
)

type notice struct {
	Level   session.Level `json:"level"`
	Action  string        `json:"action,omitempty"`
	Message string        `json:"message"`
}

type pickRequest struct {
	Available []string `json:"available"`
	Selected  []string `json:"selected"`
}

type pickReply struct {
	Groups []string `json:"groups"`
}

type opened struct {
	Path string `json:"path"`
}

// Server is the view, picker and opener of a stdio session.
type Server struct {
	id      string
	docPath string

	outMu sync.Mutex
	out   io.Writer

	pickMu  sync.Mutex
	pending chan []string
}

// NewServer writes to out. docPath locates documents created by open_request.
func NewServer(out io.Writer, docPath string) *Server {
	return &Server{id: "stdio", docPath: docPath, out: out}
}

func (s *Server) ID() string { return s.id }

func (s *Server) Post(msg protocol.Outbound) error {
	data, err := protocol.EncodeOutbound(msg)
	if err != nil {
		return err
	}
	return s.writeLine(data)
}

func (s *Server) Notify(n session.Notice) {
	if err := s.send(TypeNotice, notice{Level: n.Level, Action: n.Action, Message: n.Message}); err != nil {
		log.Warn().Err(err).Msg("send notice")
	}
}

// PickLogGroups asks the client to pick and waits for its picked message.
func (s *Server) PickLogGroups(ctx context.Context, available, selected []string) ([]string, error) {
	reply := make(chan []string, 1)
	s.pickMu.Lock()
	if s.pending != nil {
		s.pickMu.Unlock()
		return nil, errors.New("a log group pick is already pending")
	}
	s.pending = reply
	s.pickMu.Unlock()
	defer func() {
		s.pickMu.Lock()
		s.pending = nil
		s.pickMu.Unlock()
	}()

	if available == nil {
		available = []string{}
	}
	if selected == nil {
		selected = []string{}
	}
	if err := s.send(TypePick, pickRequest{Available: available, Selected: selected}); err != nil {
		return nil, err
	}
	select {
	case groups := <-reply:
		return groups, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Open writes q next to the served document and tells the client its path.
func (s *Server) Open(_ context.Context, q insights.Query) error {
	text, err := insights.Serialize(q)
	if err != nil {
		return err
	}
	doc, err := createSibling(s.docPath, text)
	if err != nil {
		return err
	}
	log.Info().Str("path", doc.Path()).Msg("related query written")
	return s.send(TypeOpened, opened{Path: doc.Path()})
}

// createSibling creates <stem>.related-<n>.insights beside path.
func createSibling(path, text string) (*document.File, error) {
	dir := filepath.Dir(path)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for n := 1; n < 1000; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s.related-%d.insights", stem, n))
		doc, err := document.CreateFile(candidate, text)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	return nil, errors.Errorf("too many related documents next to %s", path)
}

func (s *Server) deliverPick(groups []string) bool {
	s.pickMu.Lock()
	defer s.pickMu.Unlock()
	if s.pending == nil {
		return false
	}
	select {
	case s.pending <- groups:
		return true
	default:
		return false
	}
}

func (s *Server) send(kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s", kind)
	}
	data, err := json.Marshal(protocol.Envelope{Type: kind, Payload: raw})
	if err != nil {
		return errors.Wrapf(err, "encode %s", kind)
	}
	return s.writeLine(data)
}

func (s *Server) writeLine(data []byte) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Serve reads messages from in until it is exhausted or ctx is done.
// Edits and executes are handled one at a time in arrival order. Stop,
// select, expand and open_request run on their own so a pending pick never
// holds back a stop. Picked replies are delivered directly.
func (s *Server) Serve(ctx context.Context, in io.Reader, sess *session.Session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan protocol.Inbound, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range queue {
			_ = sess.Handle(ctx, msg)
		}
	}()
	var side sync.WaitGroup
	defer func() {
		close(queue)
		<-done
		// a pick still waiting for its reply is abandoned
		cancel()
		side.Wait()
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		for scanner.Scan() {
			line := append([]byte(nil), bytes.TrimSpace(scanner.Bytes())...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return errors.Wrap(err, "read messages")
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			msg, ok := s.decode(line)
			if !ok {
				continue
			}
			if !ordered(msg) {
				side.Add(1)
				go func() {
					defer side.Done()
					_ = sess.Handle(ctx, msg)
				}()
				continue
			}
			select {
			case queue <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// ordered reports whether msg must wait for the messages before it.
func ordered(msg protocol.Inbound) bool {
	switch msg.(type) {
	case protocol.QueryEdit, protocol.Execute:
		return true
	}
	return false
}

// decode routes host messages and reports protocol messages.
func (s *Server) decode(line []byte) (protocol.Inbound, bool) {
	var env protocol.Envelope
	if err := json.Unmarshal(line, &env); err == nil && env.Type == TypePicked {
		var reply pickReply
		if err := json.Unmarshal(env.Payload, &reply); err != nil {
			s.Notify(session.Notice{Level: session.LevelError, Action: TypePicked, Message: err.Error()})
			return nil, false
		}
		if !s.deliverPick(reply.Groups) {
			log.Warn().Msg("picked message without a pending pick")
		}
		return nil, false
	}
	msg, err := protocol.DecodeInbound(line)
	if err != nil {
		log.Warn().Err(err).Msg("bad message from client")
		s.Notify(session.Notice{Level: session.LevelError, Action: "decode", Message: err.Error()})
		return nil, false
	}
	return msg, true
}
