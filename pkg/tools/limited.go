package tools

import (
	"context"

	"github.com/argus-audit/argus/pkg/ratelimit"
)

// limited gates another tool behind a rate limiter. External surfaces
// (scanners, sandbox runs, file reads) are paced centrally so a looping
// model cannot hammer them.
type limited struct {
	Tool
	limiter ratelimit.Limiter
}

// Limited wraps t so every execution first acquires one permit from l.
// A nil limiter returns t unchanged.
func Limited(t Tool, l ratelimit.Limiter) Tool {
	if l == nil {
		return t
	}
	return &limited{Tool: t, limiter: l}
}

func (t *limited) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	if err := t.limiter.Acquire(ctx, 1); err != nil {
		return Fail(err)
	}
	return t.Tool.Execute(ctx, args)
}
