package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/argus-audit/argus/pkg/faults"
)

// ExecResult is the outcome of one sandboxed run. A non-zero exit code is
// not a Go error; scanners routinely exit non-zero when they find issues.
type ExecResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// ExecuteCommand runs a shell command in a fresh container.
func (s *Sandbox) ExecuteCommand(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, faults.New(faults.ToolInputInvalid, "empty command")
	}
	s.log.Debug("sandbox exec", "command", firstLine(command), "network", opts.Network)
	return s.run(ctx, []string{"/bin/sh", "-c", command}, opts)
}

// HTTPRequest describes a probe sent from inside the sandbox via curl.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// ExecuteHTTPRequest performs the request from a containerized curl with
// bridged networking enabled just for this run. The response, status line
// and headers included, lands on stdout.
func (s *Sandbox) ExecuteHTTPRequest(ctx context.Context, req HTTPRequest) (*ExecResult, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, faults.New(faults.ToolInputInvalid, "missing url")
	}
	timeout := req.Timeout
	if timeout <= 0 || timeout > s.cfg.Timeout {
		timeout = s.cfg.Timeout
	}
	args := buildCurlArgs(req, timeout)
	s.log.Debug("sandbox http", "url", req.URL)
	// Give curl's own --max-time room to fire before the container cap.
	return s.run(ctx, args, ExecOptions{Network: true, Timeout: timeout + 10*time.Second})
}

func buildCurlArgs(req HTTPRequest, timeout time.Duration) []string {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	args := []string{"curl", "-sS", "-i", "--max-time", strconv.Itoa(int(timeout.Seconds())), "-X", method}
	for _, k := range sortedHeaderKeys(req.Headers) {
		args = append(args, "-H", k+": "+req.Headers[k])
	}
	if req.Body != "" {
		args = append(args, "--data", req.Body)
	}
	return append(args, req.URL)
}

func sortedHeaderKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// runner maps a language to its in-container source path and launch
// command. Sources land on the /tmp tmpfs; interpreters read them, so the
// read-only workspace mount is never touched.
type runner struct {
	file string
	cmd  string
}

var codeRunners = map[string]runner{
	"python":     {"/tmp/main.py", "python3 /tmp/main.py"},
	"javascript": {"/tmp/main.js", "node /tmp/main.js"},
	"php":        {"/tmp/main.php", "php /tmp/main.php"},
	"ruby":       {"/tmp/main.rb", "ruby /tmp/main.rb"},
	"go":         {"/tmp/main.go", "cd /tmp && GOCACHE=/tmp/.gocache go run main.go"},
	"java":       {"/tmp/Main.java", "java /tmp/Main.java"},
	"shell":      {"/tmp/main.sh", "sh /tmp/main.sh"},
}

var languageAliases = map[string]string{
	"py":      "python",
	"python3": "python",
	"js":      "javascript",
	"node":    "javascript",
	"nodejs":  "javascript",
	"rb":      "ruby",
	"golang":  "go",
	"bash":    "shell",
	"sh":      "shell",
}

func runnerFor(language string) (runner, bool) {
	name := strings.ToLower(strings.TrimSpace(language))
	if alias, ok := languageAliases[name]; ok {
		name = alias
	}
	r, ok := codeRunners[name]
	return r, ok
}

func supportedLanguages() []string {
	names := make([]string, 0, len(codeRunners))
	for name := range codeRunners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunCode writes source to the container tmpfs and executes it with the
// language's interpreter. This is the preferred verification path; the
// model writes a proof-of-concept and the exit status plus output decide.
func (s *Sandbox) RunCode(ctx context.Context, language, source string, opts ExecOptions) (*ExecResult, error) {
	r, ok := runnerFor(language)
	if !ok {
		return nil, faults.Newf(faults.ToolInputInvalid, "unsupported language %q (supported: %s)",
			language, strings.Join(supportedLanguages(), ", "))
	}
	if strings.TrimSpace(source) == "" {
		return nil, faults.New(faults.ToolInputInvalid, "empty source")
	}
	script := buildRunScript(r, source)
	s.log.Debug("sandbox run_code", "language", language, "bytes", len(source))
	return s.run(ctx, []string{"/bin/sh", "-c", script}, opts)
}

// buildRunScript stages the source with printf so no byte of it is ever
// interpreted by the shell. The source travels as an argument, not as the
// format string.
func buildRunScript(r runner, source string) string {
	return fmt.Sprintf("printf '%%s' %s > %s && %s", shellQuote(source), r.file, r.cmd)
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`!*?[]{}()<>|&;~#=%") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	return s
}

// excerpt returns the first n bytes of s, backed up to a rune boundary.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
