package faults

// Kind is a stable error code. The dotted prefix groups kinds by subsystem.
type Kind string

// LLM provider errors.
const (
	LLMRateLimit       Kind = "llm.rate_limit"
	LLMTimeout         Kind = "llm.timeout"
	LLMConnection      Kind = "llm.connection"
	LLMAuth            Kind = "llm.auth"
	LLMContentFilter   Kind = "llm.content_filter"
	LLMContextLength   Kind = "llm.context_length"
	LLMInvalidResponse Kind = "llm.invalid_response"
	LLMQuotaExceeded   Kind = "llm.quota_exceeded"
)

// Tool execution errors.
const (
	ToolExecution    Kind = "tool.execution"
	ToolTimeout      Kind = "tool.timeout"
	ToolNotFound     Kind = "tool.not_found"
	ToolInputInvalid Kind = "tool.input_invalid"
	ToolPermission   Kind = "tool.permission"
	ToolResource     Kind = "tool.resource"
	ToolExternal     Kind = "tool.external"
)

// Agent lifecycle errors.
const (
	AgentCancelled      Kind = "agent.cancelled"
	AgentTimeout        Kind = "agent.timeout"
	AgentIterationLimit Kind = "agent.iteration_limit"
	AgentInit           Kind = "agent.init"
)

// State management errors.
const (
	StateRecovery          Kind = "state.recovery"
	StatePersistence       Kind = "state.persistence"
	StateInvalidTransition Kind = "state.invalid_transition"
)

// Inter-agent communication errors.
const (
	CommMessageDelivery Kind = "comm.message_delivery"
	CommAgentNotFound   Kind = "comm.agent_not_found"
)

// Resource protection errors.
const (
	ResourceCircuitOpen Kind = "resource.circuit_open"
	ResourceRateLimit   Kind = "resource.rate_limit"
	ResourceExhausted   Kind = "resource.exhausted"
)

// Input validation errors.
const (
	ValidationInput         Kind = "validation.input"
	ValidationPathTraversal Kind = "validation.path_traversal"
	ValidationFileSize      Kind = "validation.file_size"
)

// Strategy tells the caller how to recover from an error.
type Strategy string

// Recovery strategies.
const (
	StrategyRetry            Strategy = "retry"
	StrategyRetryWithBackoff Strategy = "retry_with_backoff"
	StrategySkip             Strategy = "skip"
	StrategyFallback         Strategy = "fallback"
	StrategyAbort            Strategy = "abort"
	StrategyManual           Strategy = "manual"
)

// Severity grades how bad an error is for the overall task.
type Severity string

// Error severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type policy struct {
	recoverable bool
	strategy    Strategy
	severity    Severity
}

// policies is the authoritative kind → recovery mapping. Constructors apply
// it; callers never guess. Notable entries: rate limits back off (honoring
// retry-after), auth never recovers, context-length falls back to
// conversation reduction instead of retrying.
var policies = map[Kind]policy{
	LLMRateLimit:       {true, StrategyRetryWithBackoff, SeverityLow},
	LLMTimeout:         {true, StrategyRetry, SeverityMedium},
	LLMConnection:      {true, StrategyRetryWithBackoff, SeverityMedium},
	LLMAuth:            {false, StrategyAbort, SeverityCritical},
	LLMContentFilter:   {false, StrategySkip, SeverityMedium},
	LLMContextLength:   {true, StrategyFallback, SeverityMedium},
	LLMInvalidResponse: {true, StrategyRetry, SeverityMedium},
	LLMQuotaExceeded:   {false, StrategyAbort, SeverityCritical},

	ToolExecution:    {true, StrategyRetry, SeverityLow},
	ToolTimeout:      {true, StrategyFallback, SeverityMedium},
	ToolNotFound:     {false, StrategySkip, SeverityLow},
	ToolInputInvalid: {false, StrategySkip, SeverityLow},
	ToolPermission:   {false, StrategySkip, SeverityMedium},
	ToolResource:     {true, StrategyRetryWithBackoff, SeverityMedium},
	ToolExternal:     {true, StrategyFallback, SeverityMedium},

	AgentCancelled:      {false, StrategyAbort, SeverityLow},
	AgentTimeout:        {false, StrategyAbort, SeverityHigh},
	AgentIterationLimit: {false, StrategyAbort, SeverityMedium},
	AgentInit:           {false, StrategyAbort, SeverityHigh},

	StateRecovery:          {true, StrategyRetry, SeverityMedium},
	StatePersistence:       {true, StrategyRetry, SeverityMedium},
	StateInvalidTransition: {false, StrategyAbort, SeverityHigh},

	CommMessageDelivery: {true, StrategyRetry, SeverityLow},
	CommAgentNotFound:   {false, StrategySkip, SeverityLow},

	ResourceCircuitOpen: {true, StrategyRetryWithBackoff, SeverityMedium},
	ResourceRateLimit:   {true, StrategyRetryWithBackoff, SeverityLow},
	ResourceExhausted:   {true, StrategyRetryWithBackoff, SeverityHigh},

	ValidationInput:         {false, StrategySkip, SeverityLow},
	ValidationPathTraversal: {false, StrategyAbort, SeverityCritical},
	ValidationFileSize:      {false, StrategySkip, SeverityLow},
}

// PolicyFor returns the recovery policy for a kind. Unknown kinds are
// treated as non-recoverable aborts.
func PolicyFor(kind Kind) (recoverable bool, strategy Strategy, severity Severity) {
	p, ok := policies[kind]
	if !ok {
		return false, StrategyAbort, SeverityHigh
	}
	return p.recoverable, p.strategy, p.severity
}
