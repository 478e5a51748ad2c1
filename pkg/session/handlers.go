package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/insights"
	"github.com/Slach/logs-insights/pkg/protocol"
)

var _ protocol.InboundHandler = (*Session)(nil)

func (s *Session) HandleExecute(ctx context.Context, _ protocol.Execute) error {
	return s.guard(protocol.TypeExecute, s.execute(ctx))
}

func (s *Session) HandleStop(ctx context.Context, _ protocol.Stop) error {
	return s.guard(protocol.TypeStop, s.stop(ctx))
}

func (s *Session) HandleQuery(ctx context.Context, msg protocol.QueryEdit) error {
	return s.guard(protocol.TypeQuery, s.writeQuery(ctx, msg.Query))
}

func (s *Session) HandleSelect(ctx context.Context, _ protocol.Select) error {
	return s.guard(protocol.TypeSelect, s.selectGroups(ctx))
}

func (s *Session) HandleExpand(ctx context.Context, msg protocol.Expand) error {
	return s.guard(protocol.TypeExpand, s.expand(ctx, msg.ID))
}

func (s *Session) HandleOpenRequest(ctx context.Context, msg protocol.OpenRequest) error {
	return s.guard(protocol.TypeOpenRequest, s.openRequest(ctx, msg))
}

func (s *Session) execute(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.current != nil {
		s.mu.Unlock()
		return errors.WithStack(ErrQueryRunning)
	}
	r := &run{stopped: make(chan struct{})}
	s.current = r
	s.mu.Unlock()

	q, err := s.readQuery()
	if err != nil {
		s.finish(r)
		return err
	}
	req, err := insights.ToStartRequest(q, s.resolver)
	if err != nil {
		s.finish(r)
		return err
	}
	token, err := s.client.StartQuery(ctx, req)
	if err != nil {
		s.finish(r)
		return errors.Wrap(err, "start query")
	}

	s.mu.Lock()
	if r.cancelled {
		// stopped or closed while the start was in flight
		s.mu.Unlock()
		s.logger.Info().Str("query_id", token).Msg("query cancelled before polling")
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := s.client.StopQuery(stopCtx, token); err != nil {
			s.logger.Warn().Err(err).Str("query_id", token).Msg("stop query")
		}
		s.postCancelled(r)
		return nil
	}
	r.token = token
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info().Str("query_id", token).Strs("log_groups", req.LogGroupNames).
		Int64("start", req.StartTime).Int64("end", req.EndTime).Msg("query started")
	go s.poll(r)
	return nil
}

// poll drives one run until it reaches a terminal status, is cancelled, or
// the session is closed. It never polls again once a cancel was requested.
func (s *Session) poll(r *run) {
	defer s.wg.Done()
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-r.stopped:
			s.postCancelled(r)
			return
		case <-timer.C:
		}
		if s.cancelled(r) {
			s.postCancelled(r)
			return
		}

		page, err := s.client.PollResults(s.ctx, r.token)
		if s.ctx.Err() != nil {
			return
		}
		if s.cancelled(r) {
			// the in-flight result is discarded
			s.postCancelled(r)
			return
		}
		if err != nil {
			s.mu.Lock()
			last := r.last
			s.mu.Unlock()
			s.finish(r)
			last.Status = backend.StatusFailed
			s.post(protocol.Result{Page: last})
			_ = s.guard("poll", errors.Wrapf(err, "poll query %s", r.token))
			return
		}

		s.mu.Lock()
		r.last = page
		s.mu.Unlock()
		s.post(protocol.Result{Page: page})
		if page.Status.Terminal() {
			s.finish(r)
			s.logger.Info().Str("query_id", r.token).Str("status", string(page.Status)).
				Int("records", len(page.Results)).Msg("query finished")
			return
		}
		timer.Reset(s.interval)
	}
}

// postCancelled pushes the last page seen with status Cancelled.
func (s *Session) postCancelled(r *run) {
	if s.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	page := r.last
	s.mu.Unlock()
	page.Status = backend.StatusCancelled
	if page.Results == nil {
		page.Results = []backend.Record{}
	}
	s.logger.Info().Str("query_id", r.token).Msg("query cancelled")
	s.post(protocol.Result{Page: page})
}

func (s *Session) stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.current
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	s.current = nil
	r.cancel()
	token := r.token
	s.mu.Unlock()

	if token == "" {
		// execute stops the query once the start returns
		return nil
	}
	if err := s.client.StopQuery(ctx, token); err != nil {
		return errors.Wrapf(err, "stop query %s", token)
	}
	return nil
}

func (s *Session) selectGroups(ctx context.Context) error {
	if s.picker == nil {
		return errors.New("no log group picker available")
	}
	q, err := s.readQuery()
	if err != nil {
		return err
	}
	available, err := s.client.ListLogGroups(ctx)
	if err != nil {
		return errors.Wrap(err, "list log groups")
	}
	picked, err := s.picker.PickLogGroups(ctx, available, q.GroupNames())
	if err != nil {
		return errors.Wrap(err, "pick log groups")
	}
	if len(picked) == 0 {
		return nil
	}
	return s.writeQuery(ctx, q.WithGroups(picked))
}

func (s *Session) expand(ctx context.Context, id string) error {
	record, err := s.client.FetchRecord(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "expand record %s", id)
	}
	s.post(protocol.ExpandResult{ID: id, Record: record})
	return nil
}

func (s *Session) openRequest(ctx context.Context, msg protocol.OpenRequest) error {
	if s.opener == nil {
		return errors.New("opening related queries is not available")
	}
	q, err := s.readQuery()
	if err != nil {
		return err
	}
	ts, err := insights.ParseRecordTimestamp(string(msg.Timestamp))
	if err != nil {
		return err
	}
	return errors.Wrap(s.opener.Open(ctx, insights.Correlated(q, ts, msg.ID, s.template)), "open related query")
}
