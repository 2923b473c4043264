package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/models"
)

// streamBuffer sizes the chunk channel so slow consumers do not stall the
// SSE reader immediately.
const streamBuffer = 100

// chatAPI is the subset of the go-openai client the shim uses.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// OpenAIConfig configures the provider client. BaseURL points at any
// OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key" json:"-"`
	BaseURL     string  `yaml:"base_url" json:"base_url,omitempty"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float32 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// OpenAI implements Client over the chat-completions API.
type OpenAI struct {
	api         chatAPI
	model       string
	temperature float32
	maxTokens   int
	est         *Estimator
	log         *slog.Logger
}

// NewOpenAI builds a provider client. The estimator backs usage numbers when
// the provider omits them.
func NewOpenAI(cfg OpenAIConfig, log *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, faults.New(faults.LLMAuth, "api key is required")
	}
	if cfg.Model == "" {
		return nil, faults.New(faults.ValidationInput, "model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	est, err := NewEstimator(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("building token estimator: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	return &OpenAI{
		api:         openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		est:         est,
		log:         log.With("component", "llm", "model", cfg.Model),
	}, nil
}

func (c *OpenAI) buildRequest(req *Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// ChatCompletion performs one synchronous completion.
func (c *OpenAI) ChatCompletion(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(req))
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, faults.New(faults.LLMInvalidResponse, "provider returned no choices")
	}

	content := resp.Choices[0].Message.Content
	out := &Response{
		Content:      content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: models.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if out.Usage.TotalTokens == 0 {
		out.Usage = c.estimateUsage(req.Messages, content)
		out.UsageEstimated = true
	}
	return out, nil
}

// Stream performs a streamed completion. The chunk channel closes after the
// final Done chunk; the error channel closes with it.
func (c *OpenAI) Stream(ctx context.Context, req *Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, streamBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		apiReq := c.buildRequest(req)
		apiReq.Stream = true
		apiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

		stream, err := c.api.CreateChatCompletionStream(ctx, apiReq)
		if err != nil {
			errs <- classifyOpenAIError(err)
			return
		}
		defer stream.Close()

		var content strings.Builder
		var usage *models.TokenUsage

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errs <- classifyOpenAIError(err)
				return
			}

			if resp.Usage != nil {
				usage = &models.TokenUsage{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
					TotalTokens:  resp.Usage.TotalTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			content.WriteString(delta)

			select {
			case chunks <- Chunk{Content: delta}:
			case <-ctx.Done():
				errs <- faults.Wrap(faults.AgentCancelled, "llm stream cancelled", ctx.Err())
				return
			}
		}

		if usage == nil {
			est := c.estimateUsage(req.Messages, content.String())
			usage = &est
		}
		select {
		case chunks <- Chunk{Done: true, Usage: usage}:
		case <-ctx.Done():
			errs <- faults.Wrap(faults.AgentCancelled, "llm stream cancelled", ctx.Err())
		}
	}()

	return chunks, errs
}

func (c *OpenAI) estimateUsage(msgs []Message, completion string) models.TokenUsage {
	in := c.est.CountMessages(msgs)
	out := c.est.CountText(completion)
	return models.TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

// retryAfterPattern extracts the provider's "try again in 1.2s" hint.
var retryAfterPattern = regexp.MustCompile(`try again in (\d+(?:\.\d+)?)(ms|s)`)

// classifyOpenAIError maps provider transport errors into the taxonomy.
func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return classifyStatus(apiErr.HTTPStatusCode, code, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, "", reqErr.Error(), err)
	}

	return faults.ClassifyLLM(err)
}

func classifyStatus(status int, code, message string, cause error) error {
	lower := strings.ToLower(message)
	switch {
	case status == 401 || status == 403:
		return faults.Wrap(faults.LLMAuth, "provider rejected credentials", cause)
	case status == 429:
		if strings.Contains(code, "insufficient_quota") || strings.Contains(lower, "quota") {
			return faults.Wrap(faults.LLMQuotaExceeded, "provider quota exhausted", cause)
		}
		fe := faults.Wrap(faults.LLMRateLimit, "provider rate limited", cause)
		if d, ok := parseRetryAfter(lower); ok {
			fe = fe.WithRetryAfter(d)
		}
		return fe
	case status == 400 && (code == "context_length_exceeded" ||
		strings.Contains(lower, "context length") || strings.Contains(lower, "maximum context")):
		return faults.Wrap(faults.LLMContextLength, "prompt exceeds model context window", cause)
	case status == 400 && (strings.Contains(code, "content_filter") ||
		strings.Contains(lower, "content management policy")):
		return faults.Wrap(faults.LLMContentFilter, "provider content filter triggered", cause)
	case status == 408 || status == 504:
		return faults.Wrap(faults.LLMTimeout, "provider timed out", cause)
	case status >= 500:
		return faults.Wrap(faults.LLMConnection, "provider unavailable", cause)
	default:
		return faults.ClassifyLLM(cause)
	}
}

func parseRetryAfter(message string) (time.Duration, bool) {
	m := retryAfterPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] == "ms" {
		return time.Duration(v * float64(time.Millisecond)), true
	}
	return time.Duration(v * float64(time.Second)), true
}
