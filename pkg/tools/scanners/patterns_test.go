package scanners

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/tools"
)

func newPatternTool(t *testing.T) (*PatternMatchTool, string) {
	t.Helper()
	root := t.TempDir()
	guard, err := tools.NewPathGuard(root, tools.GuardConfig{})
	require.NoError(t, err)
	return NewPatternMatchTool(guard), root
}

func patternMatches(t *testing.T, result *tools.Result) []PatternMatch {
	t.Helper()
	require.True(t, result.Success)
	return result.Data.(map[string]any)["matches"].([]PatternMatch)
}

func TestPatternMatchInlineCode(t *testing.T) {
	tool, _ := newPatternTool(t)

	code := "import os, pickle\n" +
		"os.system('ls ' + user_input)\n" +
		"data = pickle.loads(blob)\n"

	result, err := tool.Execute(context.Background(), map[string]any{
		"code":     code,
		"language": "python",
	})
	require.NoError(t, err)

	matches := patternMatches(t, result)
	byType := make(map[string]int)
	for _, m := range matches {
		byType[m.Type]++
	}
	assert.GreaterOrEqual(t, byType["command_injection"], 1)
	assert.GreaterOrEqual(t, byType["deserialization"], 1)

	for _, m := range matches {
		if m.Type == "command_injection" && m.Line == 2 {
			assert.Contains(t, m.Text, "os.system")
		}
	}
}

func TestPatternMatchLanguageFilter(t *testing.T) {
	tool, _ := newPatternTool(t)
	code := "element.innerHTML = userValue"

	result, err := tool.Execute(context.Background(), map[string]any{
		"code":     code,
		"types":    []any{"xss"},
		"language": "javascript",
	})
	require.NoError(t, err)
	assert.Len(t, patternMatches(t, result), 1)

	// Same code tagged as Python: the javascript-only pattern is skipped.
	result, err = tool.Execute(context.Background(), map[string]any{
		"code":     code,
		"types":    []any{"xss"},
		"language": "python",
	})
	require.NoError(t, err)
	assert.Empty(t, patternMatches(t, result))
}

func TestPatternMatchTypeFilter(t *testing.T) {
	tool, _ := newPatternTool(t)
	code := "password = \"hunter22\"\nh = hashlib.md5(data)\n"

	result, err := tool.Execute(context.Background(), map[string]any{
		"code":  code,
		"types": []any{"hardcoded_secret"},
	})
	require.NoError(t, err)

	matches := patternMatches(t, result)
	require.Len(t, matches, 1)
	assert.Equal(t, "hardcoded_secret", matches[0].Type)

	data := result.Data.(map[string]any)
	assert.Equal(t, []string{"hardcoded_secret"}, data["types_checked"])
}

func TestPatternMatchFile(t *testing.T) {
	tool, root := newPatternTool(t)

	source := "require 'yaml'\nobj = Marshal.load(params[:data])\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "loader.rb"), []byte(source), 0o644))

	result, err := tool.Execute(context.Background(), map[string]any{
		"scan_file": "loader.rb",
		"types":     []any{"deserialization"},
		"language":  "ruby",
	})
	require.NoError(t, err)

	matches := patternMatches(t, result)
	require.Len(t, matches, 1)
	assert.Equal(t, "loader.rb", matches[0].FilePath)
	assert.Equal(t, 2, matches[0].Line)
}

func TestPatternMatchValidation(t *testing.T) {
	tool, _ := newPatternTool(t)

	_, err := tool.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ToolInputInvalid))

	_, err = tool.Execute(context.Background(), map[string]any{"scan_file": "../../etc/passwd"})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ValidationPathTraversal))
}

func TestPatternMatchUnknownTypesIgnored(t *testing.T) {
	tool, _ := newPatternTool(t)

	result, err := tool.Execute(context.Background(), map[string]any{
		"code":  "x = eval(input())",
		"types": []any{"made_up_vuln", "Command Injection", "command_injection"},
	})
	require.NoError(t, err)

	data := result.Data.(map[string]any)
	assert.Equal(t, []string{"command_injection"}, data["types_checked"])
	assert.Equal(t, 1, data["count"])
}

func TestPatternMatchDefaultsToAllTypes(t *testing.T) {
	tool, _ := newPatternTool(t)

	result, err := tool.Execute(context.Background(), map[string]any{"code": "nothing suspicious here"})
	require.NoError(t, err)

	data := result.Data.(map[string]any)
	types := data["types_checked"].([]string)
	assert.Len(t, types, len(vulnPatterns))
	assert.Equal(t, 0, data["count"])
	assert.Equal(t, false, data["truncated"])
}

func TestPatternMatchTruncation(t *testing.T) {
	tool, _ := newPatternTool(t)

	line := "db.execute(\"SELECT * FROM t WHERE id=\" + id)\n"
	var code string
	for i := 0; i < maxPatternMatches+50; i++ {
		code += line
	}

	result, err := tool.Execute(context.Background(), map[string]any{
		"code":  code,
		"types": []any{"sql_injection"},
	})
	require.NoError(t, err)

	data := result.Data.(map[string]any)
	assert.Equal(t, maxPatternMatches, data["count"])
	assert.Equal(t, true, data["truncated"])
}
