package e2e

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/argus-audit/argus/pkg/llm"
	"github.com/argus-audit/argus/pkg/models"
)

// ScriptEntry is one scripted model response.
type ScriptEntry struct {
	// Text is the full response body (exactly one of Text/Err is set).
	Text string
	// Err is returned instead of a response.
	Err error

	// BlockUntilCancelled holds the call open until the context ends.
	BlockUntilCancelled bool
	// WaitCh holds the call open until closed, then returns Text.
	WaitCh <-chan struct{}
	// OnBlock receives a signal when the call enters its blocking path.
	OnBlock chan<- struct{}
}

// ScriptedLLM implements llm.Client with dual dispatch: per-role scripts
// matched on the role heading in the system prompt, plus a sequential
// fallback for calls no route claims. Role routing keeps the root's and
// its children's conversations independent even though they interleave on
// one client.
type ScriptedLLM struct {
	mu         sync.Mutex
	sequential []ScriptEntry
	seqIndex   int
	routes     map[string][]ScriptEntry
	routeIndex map[string]int
	requests   []*llm.Request
}

// NewScriptedLLM creates an empty script.
func NewScriptedLLM() *ScriptedLLM {
	return &ScriptedLLM{
		routes:     make(map[string][]ScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// Script adds per-role entries. Role is the prompt heading title:
// Orchestrator, Reconnaissance, Analysis, Verification, Specialist.
func (c *ScriptedLLM) Script(role string, entries ...ScriptEntry) *ScriptedLLM {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[role] = append(c.routes[role], entries...)
	return c
}

// Say is shorthand for scripting plain text turns for one role.
func (c *ScriptedLLM) Say(role string, texts ...string) *ScriptedLLM {
	for _, text := range texts {
		c.Script(role, ScriptEntry{Text: text})
	}
	return c
}

// AddSequential adds an entry consumed in order when no route matches.
func (c *ScriptedLLM) AddSequential(entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, entry)
}

// CallCount returns how many model calls were made.
func (c *ScriptedLLM) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns a snapshot of every captured request.
func (c *ScriptedLLM) Requests() []*llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*llm.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// ChatCompletion implements llm.Client.
func (c *ScriptedLLM) ChatCompletion(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	chunks, errs := c.Stream(ctx, req)
	return llm.Collect(ctx, chunks, errs)
}

// Stream implements llm.Client.
func (c *ScriptedLLM) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, <-chan error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	entry, err := c.nextEntry(req)
	c.mu.Unlock()

	chunks := make(chan llm.Chunk, 2)
	errs := make(chan error, 1)

	if err != nil {
		errs <- err
		close(chunks)
		close(errs)
		return chunks, errs
	}

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		go func() {
			<-ctx.Done()
			errs <- ctx.Err()
			close(chunks)
			close(errs)
		}()
		return chunks, errs
	}

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		go func() {
			defer close(chunks)
			defer close(errs)
			select {
			case <-entry.WaitCh:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			sendEntry(chunks, errs, entry)
		}()
		return chunks, errs
	}

	sendEntry(chunks, errs, entry)
	close(chunks)
	close(errs)
	return chunks, errs
}

func sendEntry(chunks chan<- llm.Chunk, errs chan<- error, entry *ScriptEntry) {
	if entry.Err != nil {
		errs <- entry.Err
		return
	}
	chunks <- llm.Chunk{Content: entry.Text}
	chunks <- llm.Chunk{Done: true, Usage: &models.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
}

// nextEntry picks the next script entry, routed first, sequential second.
// Caller holds c.mu.
func (c *ScriptedLLM) nextEntry(req *llm.Request) (*ScriptEntry, error) {
	role := extractRole(req)
	if role != "" {
		if entries, ok := c.routes[role]; ok {
			idx := c.routeIndex[role]
			if idx < len(entries) {
				c.routeIndex[role] = idx + 1
				return &entries[idx], nil
			}
		}
	}
	if c.seqIndex < len(c.sequential) {
		entry := &c.sequential[c.seqIndex]
		c.seqIndex++
		return entry, nil
	}
	return nil, fmt.Errorf("scripted llm: no entry left (role=%q, sequential=%d/%d)",
		role, c.seqIndex, len(c.sequential))
}

// extractRole pulls the role title from the system prompt's role heading.
func extractRole(req *llm.Request) string {
	const marker = "## Your Role: "
	for _, msg := range req.Messages {
		if msg.Role != "system" {
			continue
		}
		idx := strings.Index(msg.Content, marker)
		if idx < 0 {
			return ""
		}
		rest := msg.Content[idx+len(marker):]
		if end := strings.IndexByte(rest, '\n'); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return ""
}
