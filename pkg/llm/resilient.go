package llm

import (
	"context"
	"log/slog"

	"github.com/argus-audit/argus/pkg/breaker"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/ratelimit"
	"github.com/argus-audit/argus/pkg/retry"
)

// DefaultMaxReductions bounds how many times one call may shrink its
// conversation before giving up on the context-length fallback.
const DefaultMaxReductions = 2

// ResilientConfig wires the resilience fabric around a provider client.
// Every field is optional; nil layers are skipped.
type ResilientConfig struct {
	Limiter        ratelimit.Limiter
	Breaker        *breaker.Breaker
	RetryOptions   []retry.Option
	ReduceFraction float64
	MaxReductions  int
	Log            *slog.Logger
}

// Resilient wraps a Client so every call passes the rate limiter, then the
// circuit breaker, then reaches the provider; the retry engine re-drives
// failed attempts through that whole path, and a context-length failure
// falls back to a reduced conversation rather than retrying verbatim.
type Resilient struct {
	inner         Client
	limiter       ratelimit.Limiter
	breaker       *breaker.Breaker
	retryOpts     []retry.Option
	fraction      float64
	maxReductions int
	log           *slog.Logger
}

// NewResilient wraps inner with the configured fabric.
func NewResilient(inner Client, cfg ResilientConfig) *Resilient {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	maxReductions := cfg.MaxReductions
	if maxReductions <= 0 {
		maxReductions = DefaultMaxReductions
	}
	return &Resilient{
		inner:         inner,
		limiter:       cfg.Limiter,
		breaker:       cfg.Breaker,
		retryOpts:     cfg.RetryOptions,
		fraction:      cfg.ReduceFraction,
		maxReductions: maxReductions,
		log:           log.With("component", "llm_resilient"),
	}
}

// admit gates one attempt on the limiter and breaker.
func (r *Resilient) admit(ctx context.Context) error {
	if r.limiter != nil {
		if err := r.limiter.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	if r.breaker != nil {
		if err := r.breaker.Allow(); err != nil {
			return err
		}
	}
	return nil
}

// record pairs every admitted call with its outcome. The breaker itself
// discounts cancellations and excluded kinds.
func (r *Resilient) record(err error) {
	if r.breaker == nil {
		return
	}
	r.breaker.Record(err)
}

// ChatCompletion performs a completion through the full fabric.
func (r *Resilient) ChatCompletion(ctx context.Context, req *Request) (*Response, error) {
	msgs := req.Messages
	for reduction := 0; ; reduction++ {
		attempt := &Request{
			Messages:    msgs,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			Model:       req.Model,
		}

		resp, err := retry.DoValue(ctx, func(ctx context.Context) (*Response, error) {
			if err := r.admit(ctx); err != nil {
				return nil, err
			}
			resp, err := r.inner.ChatCompletion(ctx, attempt)
			r.record(err)
			return resp, err
		}, r.retryOpts...)
		if err == nil {
			return resp, nil
		}

		if !faults.IsKind(err, faults.LLMContextLength) || reduction >= r.maxReductions {
			return nil, err
		}
		reduced := ReduceMessages(msgs, r.fraction)
		if len(reduced) >= len(msgs) {
			return nil, err
		}
		r.log.Warn("context window exceeded, reducing conversation",
			"messages_before", len(msgs), "messages_after", len(reduced), "reduction", reduction+1)
		msgs = reduced
	}
}

// Stream performs a streamed completion through the fabric. Attempts that
// fail before any content escapes are retried; once chunks have been
// forwarded the stream fails rather than duplicating output.
func (r *Resilient) Stream(ctx context.Context, req *Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, streamBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		msgs := req.Messages
		for reduction := 0; ; reduction++ {
			attempt := &Request{
				Messages:    msgs,
				Temperature: req.Temperature,
				MaxTokens:   req.MaxTokens,
				Model:       req.Model,
			}

			err := retry.Do(ctx, func(ctx context.Context) error {
				if err := r.admit(ctx); err != nil {
					return err
				}
				emitted, err := r.forward(ctx, attempt, out)
				r.record(err)
				if err != nil && emitted {
					// Output already escaped; a retry would duplicate it.
					return retry.Permanent(err)
				}
				return err
			}, r.retryOpts...)
			if err == nil {
				return
			}

			if !faults.IsKind(err, faults.LLMContextLength) || reduction >= r.maxReductions {
				errs <- err
				return
			}
			reduced := ReduceMessages(msgs, r.fraction)
			if len(reduced) >= len(msgs) {
				errs <- err
				return
			}
			r.log.Warn("context window exceeded, reducing conversation",
				"messages_before", len(msgs), "messages_after", len(reduced), "reduction", reduction+1)
			msgs = reduced
		}
	}()

	return out, errs
}

// forward pipes one inner stream attempt to out, reporting whether any chunk
// escaped before failure.
func (r *Resilient) forward(ctx context.Context, req *Request, out chan<- Chunk) (emitted bool, err error) {
	chunks, errc := r.inner.Stream(ctx, req)
	for chunks != nil || errc != nil {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			select {
			case out <- ch:
				emitted = true
			case <-ctx.Done():
				return emitted, faults.Wrap(faults.AgentCancelled, "llm stream cancelled", ctx.Err())
			}
		case e, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if e != nil {
				return emitted, e
			}
		case <-ctx.Done():
			return emitted, faults.Wrap(faults.AgentCancelled, "llm stream cancelled", ctx.Err())
		}
	}
	return emitted, nil
}
