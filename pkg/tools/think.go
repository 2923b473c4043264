package tools

import (
	"context"
	"time"
)

// ThinkTool records an explicit reasoning step. No I/O; the thought is
// echoed back so it lands in the conversation as an observation.
type ThinkTool struct{}

func NewThinkTool() *ThinkTool { return &ThinkTool{} }

func (t *ThinkTool) Name() string { return "think" }

func (t *ThinkTool) Description() string {
	return "Record a reasoning step before acting. Arguments: thought (required)."
}

func (t *ThinkTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"thought": map[string]any{"type": "string"},
		},
		"required": []string{"thought"},
	}
}

func (t *ThinkTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	thought, _ := FirstStringArg(args, "thought", "content", "text")
	return Ok(map[string]any{
		"status":  "recorded",
		"thought": thought,
	}).Since(start), nil
}

// ReflectTool asks the model to critique its own progress, returning a
// fixed verification checklist with the echoed reflection.
type ReflectTool struct{}

func NewReflectTool() *ReflectTool { return &ReflectTool{} }

func (t *ReflectTool) Name() string { return "reflect" }

func (t *ReflectTool) Description() string {
	return "Reflect on progress so far and decide what evidence is still missing. Arguments: reflection (required)."
}

func (t *ReflectTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reflection": map[string]any{"type": "string"},
		},
		"required": []string{"reflection"},
	}
}

func (t *ReflectTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	reflection, _ := FirstStringArg(args, "reflection", "thought", "content")
	return Ok(map[string]any{
		"status":     "recorded",
		"reflection": reflection,
		"checklist": []string{
			"Does each suspected issue have a concrete file and line?",
			"Has the data flow from source to sink been traced, not assumed?",
			"Which findings still lack verification or a proof of concept?",
			"Is any high-risk area from the recon phase still unexamined?",
		},
	}).Since(start), nil
}
