package sandboxed

import (
	"context"
	"fmt"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/sandbox"
	"github.com/argus-audit/argus/pkg/tools"
)

// testLanguages are the interpreters that get a pinned wrapper tool.
var testLanguages = []string{"php", "python", "javascript", "java", "go", "ruby", "shell"}

// langTestTool is run_code with the language pinned, so a
// proof-of-concept loop never mixes up the language argument.
type langTestTool struct {
	sub      Substrate
	language string
}

// LanguageTestTools returns one pinned proof-of-concept runner per
// supported interpreter.
func LanguageTestTools(sub Substrate) []tools.Tool {
	out := make([]tools.Tool, 0, len(testLanguages))
	for _, language := range testLanguages {
		out = append(out, &langTestTool{sub: sub, language: language})
	}
	return out
}

func (t *langTestTool) Name() string { return t.language + "_test" }

func (t *langTestTool) Description() string {
	return fmt.Sprintf("Run a %s snippet in the sandbox to test a hypothesis or build a proof of concept. Arguments: source (required), timeout (seconds).", t.language)
}

func (t *langTestTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source":  map[string]any{"type": "string"},
			"timeout": map[string]any{"type": "integer", "description": "wall-clock limit in seconds"},
		},
		"required": []string{"source"},
	}
}

func (t *langTestTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	start := time.Now()
	source, ok := tools.FirstStringArg(args, "source", "code", "script")
	if !ok {
		return tools.Fail(faults.Newf(faults.ToolInputInvalid, "%s needs source code", t.Name()))
	}

	res, err := t.sub.RunCode(ctx, t.language, source, sandbox.ExecOptions{Timeout: timeoutArg(args)})
	return passthrough(start, res, err)
}
