package scanners

import (
	"context"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/tools"
)

const maxPatternMatches = 200

// vulnPattern is one heuristic: a regex plus the languages it makes
// sense for. No langs means language-agnostic.
type vulnPattern struct {
	re    *regexp.Regexp
	desc  string
	langs []string
}

var vulnPatterns = map[string][]vulnPattern{
	"sql_injection": {
		{re: regexp.MustCompile(`(?i)["'](SELECT|INSERT|UPDATE|DELETE)\b[^"']*["']\s*[+%]`), desc: "SQL string built with concatenation or formatting"},
		{re: regexp.MustCompile(`(?i)f["'][^"']*(select|insert|update|delete)[^"']*\{`), desc: "SQL inside an f-string with interpolation", langs: []string{"python"}},
		{re: regexp.MustCompile(`(?i)\.(execute|query)\s*\([^)]*\+`), desc: "query call with concatenated argument"},
	},
	"command_injection": {
		{re: regexp.MustCompile(`(?i)os\.system\s*\(`), desc: "os.system call", langs: []string{"python"}},
		{re: regexp.MustCompile(`(?i)subprocess\.(call|run|Popen)\s*\([^)]*shell\s*=\s*True`), desc: "subprocess with shell=True", langs: []string{"python"}},
		{re: regexp.MustCompile(`(?i)\b(eval|exec)\s*\(`), desc: "dynamic code evaluation"},
		{re: regexp.MustCompile(`(?i)\b(execSync|child_process)\b`), desc: "node child process execution", langs: []string{"javascript"}},
		{re: regexp.MustCompile(`(?i)\b(shell_exec|passthru|proc_open|popen)\s*\(`), desc: "PHP shell execution", langs: []string{"php"}},
	},
	"xss": {
		{re: regexp.MustCompile(`(?i)\.innerHTML\s*=`), desc: "direct innerHTML assignment", langs: []string{"javascript"}},
		{re: regexp.MustCompile(`(?i)document\.write\s*\(`), desc: "document.write call", langs: []string{"javascript"}},
		{re: regexp.MustCompile(`dangerouslySetInnerHTML`), desc: "React dangerouslySetInnerHTML", langs: []string{"javascript"}},
		{re: regexp.MustCompile(`\|\s*safe\b`), desc: "template autoescape bypass"},
		{re: regexp.MustCompile(`(?i)echo\s+\$_(GET|POST|REQUEST)`), desc: "request parameter echoed unescaped", langs: []string{"php"}},
	},
	"path_traversal": {
		{re: regexp.MustCompile(`(?i)(open|file_get_contents|readFile|sendFile|send_file)\s*\([^)]*(request\.|params|\$_GET|\$_POST|req\.query|req\.params)`), desc: "file access with request-controlled path"},
		{re: regexp.MustCompile(`(?i)os\.path\.join\s*\([^)]*request\.`), desc: "path join with request input", langs: []string{"python"}},
	},
	"ssti": {
		{re: regexp.MustCompile(`(?i)render_template_string\s*\(`), desc: "render_template_string call", langs: []string{"python"}},
		{re: regexp.MustCompile(`(?i)Template\s*\([^)]*request\.`), desc: "template constructed from request input"},
	},
	"deserialization": {
		{re: regexp.MustCompile(`(?i)pickle\.loads?\s*\(`), desc: "pickle deserialization", langs: []string{"python"}},
		{re: regexp.MustCompile(`yaml\.load\s*\(`), desc: "unsafe yaml.load", langs: []string{"python"}},
		{re: regexp.MustCompile(`(?i)unserialize\s*\(`), desc: "PHP unserialize", langs: []string{"php"}},
		{re: regexp.MustCompile(`(?i)(ObjectInputStream|\breadObject\s*\()`), desc: "Java native deserialization", langs: []string{"java"}},
		{re: regexp.MustCompile(`Marshal\.load`), desc: "Ruby Marshal.load", langs: []string{"ruby"}},
	},
	"weak_crypto": {
		{re: regexp.MustCompile(`(?i)(hashlib\.md5|\bmd5\s*\(|Digest::MD5)`), desc: "MD5 in use"},
		{re: regexp.MustCompile(`(?i)(hashlib\.sha1|\bsha1\s*\()`), desc: "SHA-1 in use"},
		{re: regexp.MustCompile(`\b(DES|RC4|ECB)\b`), desc: "weak cipher or mode"},
	},
	"hardcoded_secret": {
		{re: regexp.MustCompile(`(?i)(password|passwd|secret|api_key|apikey|auth_token)\s*[:=]\s*["'][^"']{4,}["']`), desc: "credential literal in source"},
	},
}

// PatternMatch is one heuristic hit. Hits are leads for the agent to
// chase, not findings; reporting still goes through
// create_vulnerability_report after verification.
type PatternMatch struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	FilePath    string `json:"file_path,omitempty"`
	Line        int    `json:"line"`
	Text        string `json:"text"`
}

// PatternMatchTool greps source for vulnerability idioms. Works on an
// inline code snippet or on a project file.
type PatternMatchTool struct {
	guard *tools.PathGuard
}

func NewPatternMatchTool(guard *tools.PathGuard) *PatternMatchTool {
	return &PatternMatchTool{guard: guard}
}

func (t *PatternMatchTool) Name() string { return "pattern_match" }

func (t *PatternMatchTool) Description() string {
	return "Match source code against known vulnerability patterns. Arguments: code or scan_file, types (optional list), language (optional)."
}

func (t *PatternMatchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":      map[string]any{"type": "string"},
			"scan_file": map[string]any{"type": "string"},
			"types":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"language":  map[string]any{"type": "string"},
		},
	}
}

func (t *PatternMatchTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	start := time.Now()

	code, _ := tools.FirstStringArg(args, "code", "source", "content")
	file, _ := tools.FirstStringArg(args, "scan_file", "file", "path", "file_path")
	if code == "" && file == "" {
		return tools.Fail(faults.New(faults.ToolInputInvalid, "pattern_match needs code or scan_file"))
	}

	if code == "" {
		resolved, err := t.guard.Validate(file)
		if err != nil {
			return tools.Fail(err)
		}
		if _, err := t.guard.CheckFileSize(resolved); err != nil {
			return tools.Fail(err)
		}
		raw, err := os.ReadFile(resolved)
		if err != nil {
			return tools.Fail(faults.Wrap(faults.ToolExecution, "read failed", err).WithTool(t.Name()))
		}
		code = string(raw)
	}

	types := requestedTypes(args)
	language := normalizeLanguage(args)

	matches := make([]PatternMatch, 0, 16)
	truncated := false
	lines := strings.Split(code, "\n")

scan:
	for _, vulnType := range types {
		for _, pat := range vulnPatterns[vulnType] {
			if language != "" && len(pat.langs) > 0 && !containsString(pat.langs, language) {
				continue
			}
			for i, line := range lines {
				if !pat.re.MatchString(line) {
					continue
				}
				matches = append(matches, PatternMatch{
					Type:        vulnType,
					Description: pat.desc,
					FilePath:    file,
					Line:        i + 1,
					Text:        clipLine(line),
				})
				if len(matches) >= maxPatternMatches {
					truncated = true
					break scan
				}
			}
		}
	}

	return tools.Ok(map[string]any{
		"matches":       matches,
		"count":         len(matches),
		"types_checked": types,
		"truncated":     truncated,
	}).Since(start), nil
}

func requestedTypes(args map[string]any) []string {
	requested := tools.StringSliceArg(args, "types")
	if len(requested) == 0 {
		requested = tools.StringSliceArg(args, "vuln_types")
	}

	var types []string
	if len(requested) == 0 {
		for vulnType := range vulnPatterns {
			types = append(types, vulnType)
		}
	} else {
		seen := make(map[string]struct{}, len(requested))
		for _, r := range requested {
			name := strings.ToLower(strings.TrimSpace(r))
			name = strings.ReplaceAll(name, " ", "_")
			if _, known := vulnPatterns[name]; !known {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			types = append(types, name)
		}
	}
	sort.Strings(types)
	return types
}

func normalizeLanguage(args map[string]any) string {
	lang, _ := tools.StringArg(args, "language")
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch lang {
	case "py", "python3":
		return "python"
	case "js", "node", "nodejs", "typescript", "ts":
		return "javascript"
	case "rb":
		return "ruby"
	}
	return lang
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func clipLine(line string) string {
	line = strings.TrimSpace(line)
	if len(line) > 200 {
		line = line[:200]
	}
	return line
}
