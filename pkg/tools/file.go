package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
)

// DefaultMaxReadLines caps one read_file call.
const DefaultMaxReadLines = 500

// maxSearchResults caps search_code hits per call.
const maxSearchResults = 100

// maxListEntries caps list_files entries per call.
const maxListEntries = 500

// skipDirs are directory names never descended into. They hold generated
// or third-party content that drowns out the project's own code.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".idea":        true,
	".vscode":      true,
	"dist":         true,
	"build":        true,
	".tox":         true,
}

// ReadFileTool reads a slice of one project file with line numbers, so the
// model can cite exact locations in findings.
type ReadFileTool struct {
	guard    *PathGuard
	maxLines int
}

// NewReadFileTool builds the tool; maxLines <= 0 uses the default.
func NewReadFileTool(guard *PathGuard, maxLines int) *ReadFileTool {
	if maxLines <= 0 {
		maxLines = DefaultMaxReadLines
	}
	return &ReadFileTool{guard: guard, maxLines: maxLines}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the project with line numbers. Arguments: file_path (required), start_line, end_line, max_lines."
}

func (t *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path":  map[string]any{"type": "string", "description": "path relative to the project root"},
			"start_line": map[string]any{"type": "integer", "description": "first line, 1-based"},
			"end_line":   map[string]any{"type": "integer", "description": "last line, inclusive"},
			"max_lines":  map[string]any{"type": "integer", "description": "cap on returned lines"},
		},
		"required": []string{"file_path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	path, ok := FirstStringArg(args, "file_path", "path", "file")
	if !ok {
		return Fail(faults.New(faults.ToolInputInvalid, "missing required argument \"file_path\""))
	}

	abs, err := t.guard.Validate(path)
	if err != nil {
		return Fail(err)
	}
	if _, err := t.guard.CheckFileSize(abs); err != nil {
		return Fail(err)
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return Fail(faults.Wrap(faults.ToolExecution, "reading file", err).WithTool(t.Name()))
	}
	if isBinary(raw) {
		return Fail(faults.Newf(faults.ToolInputInvalid, "%q is a binary file", path))
	}

	lines := strings.Split(string(raw), "\n")
	total := len(lines)

	startLine := IntArg(args, "start_line", 1)
	if startLine < 1 {
		startLine = 1
	}
	endLine := IntArg(args, "end_line", total)
	if endLine > total {
		endLine = total
	}
	if endLine < startLine {
		return Fail(faults.Newf(faults.ToolInputInvalid,
			"end_line %d is before start_line %d", endLine, startLine))
	}

	maxLines := IntArg(args, "max_lines", t.maxLines)
	if maxLines <= 0 || maxLines > t.maxLines {
		maxLines = t.maxLines
	}
	truncated := false
	if endLine-startLine+1 > maxLines {
		endLine = startLine + maxLines - 1
		truncated = true
	}

	var b strings.Builder
	for i := startLine; i <= endLine; i++ {
		fmt.Fprintf(&b, "%4d | %s\n", i, lines[i-1])
	}

	return Ok(map[string]any{
		"file_path":   path,
		"content":     b.String(),
		"start_line":  startLine,
		"end_line":    endLine,
		"total_lines": total,
		"truncated":   truncated,
	}).Since(start), nil
}

// ListFilesTool lists project files under a directory, optionally
// recursively and filtered by a glob on the base name.
type ListFilesTool struct {
	guard *PathGuard
}

func NewListFilesTool(guard *PathGuard) *ListFilesTool {
	return &ListFilesTool{guard: guard}
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files in a project directory. Arguments: dir (default \".\"), pattern (glob on file name), recursive (bool)."
}

func (t *ListFilesTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dir":       map[string]any{"type": "string", "description": "directory relative to the project root"},
			"pattern":   map[string]any{"type": "string", "description": "glob matched against file names, e.g. *.py"},
			"recursive": map[string]any{"type": "boolean"},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	dir, ok := FirstStringArg(args, "dir", "directory", "path")
	if !ok {
		dir = "."
	}
	pattern, _ := StringArg(args, "pattern")
	recursive := BoolArg(args, "recursive", false)

	abs, err := t.guard.Validate(dir)
	if err != nil {
		return Fail(err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Fail(faults.Wrap(faults.ToolExecution, "directory not found", err).WithTool(t.Name()))
	}
	if !info.IsDir() {
		return Fail(faults.Newf(faults.ToolInputInvalid, "%q is not a directory", dir))
	}

	var entries []string
	truncated := false
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if path == abs {
				return nil
			}
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if pattern != "" {
			if matched, _ := filepath.Match(pattern, d.Name()); !matched {
				return nil
			}
		}
		rel, err := filepath.Rel(t.guard.Root(), path)
		if err != nil {
			return nil
		}
		if len(entries) >= maxListEntries {
			truncated = true
			return filepath.SkipAll
		}
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return Fail(faults.Wrap(faults.ToolExecution, "listing files", walkErr).WithTool(t.Name()))
	}
	sort.Strings(entries)

	return Ok(map[string]any{
		"dir":       dir,
		"files":     entries,
		"count":     len(entries),
		"truncated": truncated,
	}).Since(start), nil
}

// SearchCodeTool greps project files for a keyword or regular expression.
type SearchCodeTool struct {
	guard *PathGuard
}

func NewSearchCodeTool(guard *PathGuard) *SearchCodeTool {
	return &SearchCodeTool{guard: guard}
}

func (t *SearchCodeTool) Name() string { return "search_code" }

func (t *SearchCodeTool) Description() string {
	return "Search project files for a keyword. Arguments: keyword (required), pattern (file glob), case_sensitive (bool), regex (bool), max_results."
}

func (t *SearchCodeTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"keyword":        map[string]any{"type": "string"},
			"pattern":        map[string]any{"type": "string", "description": "glob matched against file names"},
			"case_sensitive": map[string]any{"type": "boolean"},
			"regex":          map[string]any{"type": "boolean"},
			"max_results":    map[string]any{"type": "integer"},
		},
		"required": []string{"keyword"},
	}
}

type searchMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchCodeTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()
	keyword, err := RequireString(args, "keyword")
	if err != nil {
		return Fail(err)
	}
	filePattern, _ := StringArg(args, "pattern")
	caseSensitive := BoolArg(args, "case_sensitive", false)
	useRegex := BoolArg(args, "regex", false)
	maxResults := IntArg(args, "max_results", maxSearchResults)
	if maxResults <= 0 || maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	var re *regexp.Regexp
	if useRegex {
		expr := keyword
		if !caseSensitive {
			expr = "(?i)" + expr
		}
		re, err = regexp.Compile(expr)
		if err != nil {
			return Fail(faults.Wrap(faults.ToolInputInvalid, "invalid regex", err))
		}
	}
	needle := keyword
	if !caseSensitive {
		needle = strings.ToLower(keyword)
	}

	var matches []searchMatch
	truncated := false
	walkErr := filepath.WalkDir(t.guard.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if filePattern != "" {
			if matched, _ := filepath.Match(filePattern, d.Name()); !matched {
				return nil
			}
		}
		if !t.guard.WithinSizeCap(path) {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, relErr := filepath.Rel(t.guard.Root(), path)
		if relErr != nil {
			return nil
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if lineNo == 1 && isBinary([]byte(line)) {
				return nil
			}
			var hit bool
			if re != nil {
				hit = re.MatchString(line)
			} else if caseSensitive {
				hit = strings.Contains(line, needle)
			} else {
				hit = strings.Contains(strings.ToLower(line), needle)
			}
			if !hit {
				continue
			}
			if len(matches) >= maxResults {
				truncated = true
				return filepath.SkipAll
			}
			matches = append(matches, searchMatch{
				File: filepath.ToSlash(rel),
				Line: lineNo,
				Text: strings.TrimSpace(line),
			})
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return Fail(faults.Wrap(faults.AgentCancelled, "search interrupted", ctx.Err()))
	}

	return Ok(map[string]any{
		"keyword":   keyword,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}).Since(start), nil
}

// isBinary reports whether the content looks like a binary blob (NUL byte in
// the first 8 KiB).
func isBinary(content []byte) bool {
	probe := content
	if len(probe) > 8*1024 {
		probe = probe[:8*1024]
	}
	return bytes.IndexByte(probe, 0) >= 0
}
