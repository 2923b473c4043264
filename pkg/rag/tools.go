package rag

import (
	"context"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/tools"
)

// Tools returns the three semantic-search tools bound to the client.
func Tools(client Client) []tools.Tool {
	return []tools.Tool{
		NewQueryTool(client),
		NewSecuritySearchTool(client),
		NewFunctionContextTool(client),
	}
}

// QueryTool is free-text semantic retrieval over the project index.
type QueryTool struct {
	client Client
}

func NewQueryTool(client Client) *QueryTool { return &QueryTool{client: client} }

func (t *QueryTool) Name() string { return "rag_query" }

func (t *QueryTool) Description() string {
	return "Search the semantic index of the project for code matching a natural-language query. Arguments: text (required), top_k, filter_file, filter_language."
}

func (t *QueryTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":            map[string]any{"type": "string"},
			"top_k":           map[string]any{"type": "integer"},
			"filter_file":     map[string]any{"type": "string"},
			"filter_language": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}
}

func (t *QueryTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	start := time.Now()
	text, ok := tools.FirstStringArg(args, "text", "query", "q")
	if !ok {
		return tools.Fail(faults.New(faults.ToolInputInvalid, "missing required argument \"text\""))
	}
	filterFile, _ := tools.FirstStringArg(args, "filter_file", "file")
	filterLanguage, _ := tools.FirstStringArg(args, "filter_language", "language")

	results, err := t.client.Retrieve(ctx, Query{
		Text:           text,
		TopK:           tools.IntArg(args, "top_k", 0),
		FilterFile:     filterFile,
		FilterLanguage: filterLanguage,
	})
	if err != nil {
		return tools.Fail(err)
	}
	return resultsData(start, results), nil
}

// SecuritySearchTool retrieves chunks whose indexing flagged security
// indicators for one vulnerability class.
type SecuritySearchTool struct {
	client Client
}

func NewSecuritySearchTool(client Client) *SecuritySearchTool {
	return &SecuritySearchTool{client: client}
}

func (t *SecuritySearchTool) Name() string { return "security_search" }

func (t *SecuritySearchTool) Description() string {
	return "Search the semantic index for code relevant to a vulnerability class (sql_injection, xss, ...). Arguments: vuln_type (required), top_k."
}

func (t *SecuritySearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"vuln_type": map[string]any{"type": "string"},
			"top_k":     map[string]any{"type": "integer"},
		},
		"required": []string{"vuln_type"},
	}
}

func (t *SecuritySearchTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	start := time.Now()
	vulnType, ok := tools.FirstStringArg(args, "vuln_type", "type", "vulnerability")
	if !ok {
		return tools.Fail(faults.New(faults.ToolInputInvalid, "missing required argument \"vuln_type\""))
	}

	results, err := t.client.SecuritySearch(ctx, vulnType, tools.IntArg(args, "top_k", 0))
	if err != nil {
		return tools.Fail(err)
	}
	return resultsData(start, results), nil
}

// FunctionContextTool retrieves the definition and call sites of a named
// function, so data flow can be traced without grepping blind.
type FunctionContextTool struct {
	client Client
}

func NewFunctionContextTool(client Client) *FunctionContextTool {
	return &FunctionContextTool{client: client}
}

func (t *FunctionContextTool) Name() string { return "function_context" }

func (t *FunctionContextTool) Description() string {
	return "Retrieve the definition and call sites of a function from the semantic index. Arguments: name (required)."
}

func (t *FunctionContextTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
}

func (t *FunctionContextTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	start := time.Now()
	name, ok := tools.FirstStringArg(args, "name", "function", "function_name")
	if !ok {
		return tools.Fail(faults.New(faults.ToolInputInvalid, "missing required argument \"name\""))
	}

	results, err := t.client.FunctionContext(ctx, name)
	if err != nil {
		return tools.Fail(err)
	}
	return resultsData(start, results), nil
}

func resultsData(start time.Time, results []Result) *tools.Result {
	return tools.Ok(map[string]any{
		"results": results,
		"count":   len(results),
	}).Since(start)
}
