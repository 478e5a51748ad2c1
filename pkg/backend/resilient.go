package backend

import (
	"context"
	"time"

	"github.com/eapache/go-resiliency/breaker"
	"github.com/eapache/go-resiliency/retrier"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ResilienceOptions tunes Resilient. Zero values pick the defaults below.
type ResilienceOptions struct {
	Retries          int
	InitialBackoff   time.Duration
	ErrorThreshold   int
	SuccessThreshold int
	BreakerTimeout   time.Duration
}

func (o ResilienceOptions) withDefaults() ResilienceOptions {
	if o.Retries == 0 {
		o.Retries = 3
	}
	if o.InitialBackoff == 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.ErrorThreshold == 0 {
		o.ErrorThreshold = 5
	}
	if o.SuccessThreshold == 0 {
		o.SuccessThreshold = 1
	}
	if o.BreakerTimeout == 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	return o
}

// transientClassifier retries only ErrBackendUnavailable.
type transientClassifier struct{}

func (transientClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retrier.Fail
	case errors.Is(err, ErrBackendUnavailable):
		return retrier.Retry
	}
	return retrier.Fail
}

// Resilient decorates a Client with retries for idempotent calls and a
// circuit breaker shared by all calls. StartQuery is never retried.
type Resilient struct {
	next    Client
	retrier *retrier.Retrier
	breaker *breaker.Breaker
}

// NewResilient wraps next.
func NewResilient(next Client, opts ResilienceOptions) *Resilient {
	opts = opts.withDefaults()
	return &Resilient{
		next:    next,
		retrier: retrier.New(retrier.ExponentialBackoff(opts.Retries, opts.InitialBackoff), transientClassifier{}),
		breaker: breaker.New(opts.ErrorThreshold, opts.SuccessThreshold, opts.BreakerTimeout),
	}
}

// guarded runs work behind the breaker. Only transport failures count
// against it; rejections such as ErrInvalidQuery pass through untouched.
func (r *Resilient) guarded(work func() error) error {
	var workErr error
	err := r.breaker.Run(func() error {
		workErr = work()
		if errors.Is(workErr, ErrBackendUnavailable) {
			return workErr
		}
		return nil
	})
	if errors.Is(err, breaker.ErrBreakerOpen) {
		log.Warn().Msg("backend circuit breaker is open")
		return errors.Wrap(ErrBackendUnavailable, err.Error())
	}
	return workErr
}

func (r *Resilient) retried(ctx context.Context, work func(ctx context.Context) error) error {
	return r.retrier.RunCtx(ctx, func(ctx context.Context) error {
		return r.guarded(func() error { return work(ctx) })
	})
}

func (r *Resilient) ListLogGroups(ctx context.Context) ([]string, error) {
	var groups []string
	err := r.retried(ctx, func(ctx context.Context) error {
		var err error
		groups, err = r.next.ListLogGroups(ctx)
		return err
	})
	return groups, err
}

func (r *Resilient) StartQuery(ctx context.Context, req StartRequest) (string, error) {
	var token string
	err := r.guarded(func() error {
		var err error
		token, err = r.next.StartQuery(ctx, req)
		return err
	})
	return token, err
}

func (r *Resilient) PollResults(ctx context.Context, token string) (ResultPage, error) {
	var page ResultPage
	err := r.retried(ctx, func(ctx context.Context) error {
		var err error
		page, err = r.next.PollResults(ctx, token)
		return err
	})
	return page, err
}

func (r *Resilient) StopQuery(ctx context.Context, token string) error {
	return r.retried(ctx, func(ctx context.Context) error {
		return r.next.StopQuery(ctx, token)
	})
}

func (r *Resilient) FetchRecord(ctx context.Context, pointer string) (map[string]string, error) {
	var record map[string]string
	err := r.retried(ctx, func(ctx context.Context) error {
		var err error
		record, err = r.next.FetchRecord(ctx, pointer)
		return err
	})
	return record, err
}

// Close closes the wrapped client when it holds connections.
func (r *Resilient) Close() error {
	if c, ok := r.next.(Closer); ok {
		return c.Close()
	}
	return nil
}
