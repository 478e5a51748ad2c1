// Package backendtest provides a scripted backend.Client for tests.
package backendtest

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/Slach/logs-insights/pkg/backend"
)

// Fake is a scripted backend.Client. Pages are returned in order; the last
// page repeats once the script is exhausted. Gates, when set, block the
// matching call until something is sent on (or the gate is closed).
type Fake struct {
	mu sync.Mutex

	Groups   []string
	GroupErr error

	Token    string
	StartErr error
	Pages    []backend.ResultPage
	PollErr  error
	StopErr  error
	Records  map[string]map[string]string

	StartGate chan struct{}
	PollGate  chan struct{}

	StartRequests []backend.StartRequest
	Polls         []string
	Stops         []string
	Fetches       []string
	ListCalls     int

	pollIndex int
	polled    chan struct{}
}

// NewFake returns a Fake answering StartQuery with token.
func NewFake(token string, pages ...backend.ResultPage) *Fake {
	return &Fake{Token: token, Pages: pages, Records: map[string]map[string]string{}, polled: make(chan struct{}, 64)}
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) ListLogGroups(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if f.GroupErr != nil {
		return nil, f.GroupErr
	}
	return append([]string(nil), f.Groups...), nil
}

func (f *Fake) StartQuery(ctx context.Context, req backend.StartRequest) (string, error) {
	f.mu.Lock()
	f.StartRequests = append(f.StartRequests, req)
	gate := f.StartGate
	f.mu.Unlock()

	if err := wait(ctx, gate); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return "", f.StartErr
	}
	return f.Token, nil
}

func (f *Fake) PollResults(ctx context.Context, token string) (backend.ResultPage, error) {
	f.mu.Lock()
	f.Polls = append(f.Polls, token)
	gate := f.PollGate
	f.mu.Unlock()
	if f.polled != nil {
		select {
		case f.polled <- struct{}{}:
		default:
		}
	}

	if err := wait(ctx, gate); err != nil {
		return backend.ResultPage{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PollErr != nil {
		return backend.ResultPage{}, f.PollErr
	}
	if len(f.Pages) == 0 {
		return backend.ResultPage{Status: backend.StatusComplete}, nil
	}
	page := f.Pages[f.pollIndex]
	if f.pollIndex < len(f.Pages)-1 {
		f.pollIndex++
	}
	return page, nil
}

func (f *Fake) StopQuery(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stops = append(f.Stops, token)
	return f.StopErr
}

func (f *Fake) FetchRecord(_ context.Context, pointer string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fetches = append(f.Fetches, pointer)
	record, ok := f.Records[pointer]
	if !ok {
		return nil, errors.Wrapf(backend.ErrRecordNotFound, "pointer %s", pointer)
	}
	return record, nil
}

// Polled signals each time PollResults is entered.
func (f *Fake) Polled() <-chan struct{} {
	return f.polled
}

// StartCount returns the number of StartQuery calls so far.
func (f *Fake) StartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.StartRequests)
}

// PollCount returns the number of PollResults calls so far.
func (f *Fake) PollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Polls)
}

// StopCount returns the number of StopQuery calls so far.
func (f *Fake) StopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Stops)
}

// LastStart returns the most recent start request.
func (f *Fake) LastStart() backend.StartRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.StartRequests) == 0 {
		return backend.StartRequest{}
	}
	return f.StartRequests[len(f.StartRequests)-1]
}
