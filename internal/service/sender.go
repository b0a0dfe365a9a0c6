package service

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/LeventeLantos/funnel-messaging/internal/delivery"
	"github.com/LeventeLantos/funnel-messaging/internal/model"
)

// Telegram limits.
const (
	DefaultTextMax    = 4096
	DefaultCaptionMax = 1024
)

type SenderOptions struct {
	Workers    int
	RatePerSec float64
	Timeout    time.Duration
	TextMax    int
	CaptionMax int
}

// Delivery is one attempt: ID names the work item (entry id or contact id).
type Delivery struct {
	ID        int64
	Recipient int64
	Payload   model.Payload
}

type BatchResult struct {
	Sent        int
	Unreachable int
	Failed      int
	// Skipped items were never attempted because the batch was cancelled
	// or aborted by a hook.
	Skipped int
}

func (r BatchResult) Attempted() int { return r.Sent + r.Unreachable + r.Failed }

type Sender struct {
	client     delivery.Client
	limiter    *rate.Limiter
	workers    int
	timeout    time.Duration
	textMax    int
	captionMax int

	onSent   func(ctx context.Context, d Delivery) error
	onFailed func(ctx context.Context, d Delivery, err error) error
}

func NewSender(client delivery.Client, opts SenderOptions) *Sender {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.TextMax <= 0 {
		opts.TextMax = DefaultTextMax
	}
	if opts.CaptionMax <= 0 {
		opts.CaptionMax = DefaultCaptionMax
	}

	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}

	return &Sender{
		client:     client,
		limiter:    rate.NewLimiter(limit, opts.Workers),
		workers:    opts.Workers,
		timeout:    opts.Timeout,
		textMax:    opts.TextMax,
		captionMax: opts.CaptionMax,
	}
}

// WithHooks returns a copy of s that calls the given hooks after each
// attempt. The copy shares the rate limiter with s. A hook error stops the
// batch from starting further attempts.
func (s *Sender) WithHooks(
	onSent func(ctx context.Context, d Delivery) error,
	onFailed func(ctx context.Context, d Delivery, err error) error,
) *Sender {
	cp := *s
	cp.onSent = onSent
	cp.onFailed = onFailed
	return &cp
}

// Send makes a single attempt. It runs under its own timeout and is not
// aborted by cancellation of ctx.
func (s *Sender) Send(ctx context.Context, recipient int64, p model.Payload) error {
	if err := s.check(p); err != nil {
		return err
	}
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return delivery.Deliver(attemptCtx, s.client, recipient, p)
}

func (s *Sender) check(p model.Payload) error {
	if p == nil {
		return &delivery.Error{Kind: delivery.Invalid, Err: fmt.Errorf("payload is required")}
	}
	if err := p.Validate(); err != nil {
		return &delivery.Error{Kind: delivery.Invalid, Err: err}
	}
	switch v := p.(type) {
	case model.Text:
		if utf8.RuneCountInString(v.Body) > s.textMax {
			return &delivery.Error{Kind: delivery.Invalid, Err: fmt.Errorf("text exceeds %d chars", s.textMax)}
		}
	case model.Media:
		if utf8.RuneCountInString(v.Caption) > s.captionMax {
			return &delivery.Error{Kind: delivery.Invalid, Err: fmt.Errorf("caption exceeds %d chars", s.captionMax)}
		}
	}
	return nil
}

// ProcessBatch fans the batch out over the worker pool and returns once
// every started attempt and its hook have finished. Cancelling ctx stops
// new attempts; in-flight attempts complete. The error is the first hook
// error, if any.
func (s *Sender) ProcessBatch(ctx context.Context, batch []Delivery) (BatchResult, error) {
	var (
		mu      sync.Mutex
		res     BatchResult
		hookErr error
		started int
		g       errgroup.Group
	)
	g.SetLimit(s.workers)
	hookCtx := context.WithoutCancel(ctx)

	aborted := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hookErr != nil
	}

	for _, d := range batch {
		if ctx.Err() != nil || aborted() {
			break
		}
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		started++

		g.Go(func() error {
			err := s.Send(ctx, d.Recipient, d.Payload)

			var herr error
			if err == nil {
				if s.onSent != nil {
					herr = s.onSent(hookCtx, d)
				}
			} else if s.onFailed != nil {
				herr = s.onFailed(hookCtx, d, err)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Sent++
			case delivery.IsUnreachable(err):
				res.Unreachable++
			default:
				res.Failed++
			}
			if herr != nil && hookErr == nil {
				hookErr = herr
			}
			return nil
		})
	}

	_ = g.Wait()
	res.Skipped = len(batch) - started
	return res, hookErr
}
