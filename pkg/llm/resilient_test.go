package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/breaker"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/retry"
)

type fakeResult struct {
	resp *Response
	err  error
}

// fakeStream scripts one Stream attempt: chunks first, then an optional
// trailing error.
type fakeStream struct {
	chunks []Chunk
	err    error
}

type fakeClient struct {
	mu      sync.Mutex
	results []fakeResult
	streams []fakeStream
	calls   [][]Message
}

func (f *fakeClient) ChatCompletion(ctx context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]Message(nil), req.Messages...))
	if len(f.results) == 0 {
		return &Response{Content: "done"}, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.resp, r.err
}

func (f *fakeClient) Stream(ctx context.Context, req *Request) (<-chan Chunk, <-chan error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]Message(nil), req.Messages...))
	s := fakeStream{chunks: []Chunk{{Content: "done"}, {Done: true}}}
	if len(f.streams) > 0 {
		s = f.streams[0]
		f.streams = f.streams[1:]
	}
	f.mu.Unlock()

	chunks := make(chan Chunk, len(s.chunks)+1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, ch := range s.chunks {
			chunks <- ch
		}
		if s.err != nil {
			errs <- s.err
		}
	}()
	return chunks, errs
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) callMessages(i int) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

type countingLimiter struct {
	acquired atomic.Int64
}

func (l *countingLimiter) Acquire(ctx context.Context, n int) error {
	l.acquired.Add(int64(n))
	return nil
}

func (l *countingLimiter) TryAcquire(n int) bool {
	l.acquired.Add(int64(n))
	return true
}

func fastRetry(attempts int) []retry.Option {
	return []retry.Option{
		retry.MaxAttempts(attempts),
		retry.BaseDelay(time.Millisecond),
		retry.JitterFraction(0),
	}
}

func longConversation() []Message {
	msgs := []Message{{Role: RoleSystem, Content: "auditor"}}
	for i := 0; i < 8; i++ {
		role := RoleAssistant
		if i%2 == 0 {
			role = RoleUser
		}
		msgs = append(msgs, Message{Role: role, Content: "turn"})
	}
	return msgs
}

func TestResilientRetriesRecoverable(t *testing.T) {
	fake := &fakeClient{results: []fakeResult{
		{err: faults.New(faults.LLMTimeout, "slow")},
		{err: faults.New(faults.LLMConnection, "refused")},
		{resp: &Response{Content: "recovered"}},
	}}
	r := NewResilient(fake, ResilientConfig{RetryOptions: fastRetry(3)})

	resp, err := r.ChatCompletion(context.Background(), &Request{Messages: longConversation()})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 3, fake.callCount())
}

func TestResilientAbortsNonRetryable(t *testing.T) {
	fake := &fakeClient{results: []fakeResult{
		{err: faults.New(faults.LLMAuth, "bad key")},
	}}
	r := NewResilient(fake, ResilientConfig{RetryOptions: fastRetry(3)})

	_, err := r.ChatCompletion(context.Background(), &Request{Messages: longConversation()})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.LLMAuth))
	assert.Equal(t, 1, fake.callCount())
}

func TestResilientLimiterGatesEveryAttempt(t *testing.T) {
	fake := &fakeClient{results: []fakeResult{
		{err: faults.New(faults.LLMTimeout, "slow")},
		{resp: &Response{Content: "ok"}},
	}}
	limiter := &countingLimiter{}
	r := NewResilient(fake, ResilientConfig{
		Limiter:      limiter,
		RetryOptions: fastRetry(2),
	})

	_, err := r.ChatCompletion(context.Background(), &Request{Messages: longConversation()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), limiter.acquired.Load())
}

func TestResilientBreakerOpensAndShortCircuits(t *testing.T) {
	fake := &fakeClient{results: []fakeResult{
		{err: faults.New(faults.LLMAuth, "bad key")},
		{err: faults.New(faults.LLMAuth, "bad key")},
	}}
	br := breaker.New("llm", breaker.Config{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	})
	r := NewResilient(fake, ResilientConfig{
		Breaker:      br,
		RetryOptions: fastRetry(1),
	})

	req := &Request{Messages: longConversation()}
	_, err := r.ChatCompletion(context.Background(), req)
	require.True(t, faults.IsKind(err, faults.LLMAuth))
	_, err = r.ChatCompletion(context.Background(), req)
	require.True(t, faults.IsKind(err, faults.LLMAuth))

	// Circuit is open now; the provider must not be reached again.
	_, err = r.ChatCompletion(context.Background(), req)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ResourceCircuitOpen), "got %v", err)
	assert.Equal(t, 2, fake.callCount())
}

func TestResilientReducesOnContextLength(t *testing.T) {
	fake := &fakeClient{results: []fakeResult{
		{err: faults.New(faults.LLMContextLength, "too long")},
		{resp: &Response{Content: "fits now"}},
	}}
	r := NewResilient(fake, ResilientConfig{
		RetryOptions:   fastRetry(1),
		ReduceFraction: 0.5,
	})

	resp, err := r.ChatCompletion(context.Background(), &Request{Messages: longConversation()})
	require.NoError(t, err)
	assert.Equal(t, "fits now", resp.Content)
	require.Equal(t, 2, fake.callCount())

	first := fake.callMessages(0)
	second := fake.callMessages(1)
	assert.Less(t, len(second), len(first))
	assert.Equal(t, RoleSystem, second[0].Role)

	var sawNotice bool
	for _, m := range second {
		if m.Role == RoleUser && len(m.Content) > 0 && m.Content[0] == '[' {
			sawNotice = true
		}
	}
	assert.True(t, sawNotice, "reduced conversation should carry the truncation notice")
}

func TestResilientReductionCapGivesUp(t *testing.T) {
	ctxLen := faults.New(faults.LLMContextLength, "too long")
	fake := &fakeClient{results: []fakeResult{
		{err: ctxLen}, {err: ctxLen}, {err: ctxLen}, {err: ctxLen},
	}}
	r := NewResilient(fake, ResilientConfig{
		RetryOptions:   fastRetry(1),
		ReduceFraction: 0.5,
		MaxReductions:  2,
	})

	_, err := r.ChatCompletion(context.Background(), &Request{Messages: longConversation()})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.LLMContextLength))

	// Initial attempt plus two reduced attempts.
	assert.Equal(t, 3, fake.callCount())
}

func TestResilientStreamForwards(t *testing.T) {
	fake := &fakeClient{streams: []fakeStream{
		{chunks: []Chunk{{Content: "a"}, {Content: "b"}, {Done: true}}},
	}}
	r := NewResilient(fake, ResilientConfig{RetryOptions: fastRetry(1)})

	chunks, errs := r.Stream(context.Background(), &Request{Messages: longConversation()})
	resp, err := Collect(context.Background(), chunks, errs)
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.Content)
}

func TestResilientStreamRetriesBeforeOutput(t *testing.T) {
	fake := &fakeClient{streams: []fakeStream{
		{err: faults.New(faults.LLMConnection, "refused")},
		{chunks: []Chunk{{Content: "ok"}, {Done: true}}},
	}}
	r := NewResilient(fake, ResilientConfig{RetryOptions: fastRetry(2)})

	chunks, errs := r.Stream(context.Background(), &Request{Messages: longConversation()})
	resp, err := Collect(context.Background(), chunks, errs)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, fake.callCount())
}

func TestResilientStreamDoesNotRetryAfterOutput(t *testing.T) {
	fake := &fakeClient{streams: []fakeStream{
		{chunks: []Chunk{{Content: "partial"}}, err: faults.New(faults.LLMConnection, "dropped")},
		{chunks: []Chunk{{Content: "never"}, {Done: true}}},
	}}
	r := NewResilient(fake, ResilientConfig{RetryOptions: fastRetry(3)})

	chunks, errs := r.Stream(context.Background(), &Request{Messages: longConversation()})
	_, err := Collect(context.Background(), chunks, errs)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.LLMConnection), "got %v", err)

	// Content already escaped, so the attempt must not be repeated.
	assert.Equal(t, 1, fake.callCount())
}

func TestResilientStreamReducesOnContextLength(t *testing.T) {
	fake := &fakeClient{streams: []fakeStream{
		{err: faults.New(faults.LLMContextLength, "too long")},
		{chunks: []Chunk{{Content: "fits"}, {Done: true}}},
	}}
	r := NewResilient(fake, ResilientConfig{
		RetryOptions:   fastRetry(1),
		ReduceFraction: 0.5,
	})

	chunks, errs := r.Stream(context.Background(), &Request{Messages: longConversation()})
	resp, err := Collect(context.Background(), chunks, errs)
	require.NoError(t, err)
	assert.Equal(t, "fits", resp.Content)

	require.Equal(t, 2, fake.callCount())
	assert.Less(t, len(fake.callMessages(1)), len(fake.callMessages(0)))
}
