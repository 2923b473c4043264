// Package tools defines the uniform tool contract the agent loop dispatches
// against: every tool is addressable by name, takes a loose argument map and
// returns a Result carrying both data and error. Tools never panic on bad
// input; they return tool.input_invalid so the loop can feed the problem
// back to the model as an observation.
package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
)

// Tool is the contract every builtin implements.
type Tool interface {
	// Name is the unique dispatch name.
	Name() string
	// Description is one or two sentences shown to the model.
	Description() string
	// Schema describes the argument object (JSON-schema-ish map). May be nil.
	Schema() map[string]any
	// Execute runs the tool. Implementations must populate Result even on
	// failure; callers surface both data and error.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Result is the uniform tool outcome.
type Result struct {
	Success    bool           `json:"success"`
	Data       any            `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Ok builds a successful result.
func Ok(data any) *Result {
	return &Result{Success: true, Data: data}
}

// Fail builds a failed result carrying the error text, and returns the error
// alongside so callers can propagate both.
func Fail(err error) (*Result, error) {
	return &Result{Success: false, Error: err.Error()}, err
}

// FailWithData builds a failed result that still carries partial data, for
// tools that produced something before hitting the error.
func FailWithData(data any, err error) (*Result, error) {
	return &Result{Success: false, Data: data, Error: err.Error()}, err
}

// Since fills DurationMS from a start time and returns the result for
// chaining.
func (r *Result) Since(start time.Time) *Result {
	r.DurationMS = time.Since(start).Milliseconds()
	return r
}

// WithMeta sets one metadata key, allocating the map on first use.
func (r *Result) WithMeta(key string, value any) *Result {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// Argument coercion. LLM-produced argument maps are loosely typed: numbers
// arrive as float64 from JSON, sometimes as strings; booleans as strings.
// These helpers normalize without panicking.

// StringArg returns args[key] as a trimmed string if present and non-empty.
func StringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if s == "" {
		return "", false
	}
	return s, true
}

// FirstStringArg tries keys in order, returning the first present value.
// Models routinely alias argument names (path vs file_path).
func FirstStringArg(args map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := StringArg(args, key); ok {
			return s, true
		}
	}
	return "", false
}

// RequireString returns args[key] or a tool.input_invalid error naming the
// missing key.
func RequireString(args map[string]any, key string) (string, error) {
	if s, ok := StringArg(args, key); ok {
		return s, nil
	}
	return "", faults.Newf(faults.ToolInputInvalid, "missing required argument %q", key)
}

// IntArg returns args[key] as an int, tolerating float64 and numeric
// strings. Missing or unparseable values return the default.
func IntArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return def
}

// BoolArg returns args[key] as a bool, tolerating "true"/"false" strings.
func BoolArg(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed
		}
	}
	return def
}

// StringSliceArg returns args[key] as a string slice, tolerating a single
// string, []any of strings, or a comma-separated string.
func StringSliceArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok || v == nil {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str := strings.TrimSpace(fmt.Sprintf("%v", item)); str != "" {
				out = append(out, str)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// MapArg returns args[key] as a map if it is one.
func MapArg(args map[string]any, key string) (map[string]any, bool) {
	v, ok := args[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}
