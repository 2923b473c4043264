// Package llm is the shim between agent loops and the model provider. It
// exposes a minimal chat-completion interface, an OpenAI-compatible
// implementation, and a resilience wrapper layering rate limiting, circuit
// breaking, retry and context-length fallback around any Client.
package llm

import (
	"context"

	"github.com/argus-audit/argus/pkg/models"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat-completion call.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// Model overrides the client default when set.
	Model string `json:"model,omitempty"`
}

// Response is the aggregated completion.
type Response struct {
	Content      string            `json:"content"`
	Usage        models.TokenUsage `json:"usage"`
	FinishReason string            `json:"finish_reason,omitempty"`
	// UsageEstimated marks usage derived from local token counting because
	// the provider omitted it.
	UsageEstimated bool `json:"usage_estimated,omitempty"`
}

// Chunk is one unit of a streamed completion. The final chunk has Done set
// and carries the aggregate usage.
type Chunk struct {
	Content string             `json:"content,omitempty"`
	Done    bool               `json:"done,omitempty"`
	Usage   *models.TokenUsage `json:"usage,omitempty"`
}

// Client is the provider-facing interface. Stream returns a chunk channel
// and an error channel; both close when the call finishes. Implementations
// close the chunk channel after the final Done chunk.
type Client interface {
	ChatCompletion(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (<-chan Chunk, <-chan error)
}

// Collect drains a stream into a Response. It is how loop code consumes
// Stream when it has no use for incremental chunks.
func Collect(ctx context.Context, chunks <-chan Chunk, errs <-chan error) (*Response, error) {
	var resp Response
	for chunks != nil || errs != nil {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			resp.Content += ch.Content
			if ch.Usage != nil {
				resp.Usage = *ch.Usage
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &resp, nil
}
