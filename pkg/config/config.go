// Package config loads and validates the argus.yaml configuration file.
// User values are deep-merged over built-in defaults, environment variables
// are expanded with Go template syntax ({{.VAR_NAME}}), and secrets may be
// overridden from the environment after the file is parsed.
package config

import (
	"time"
)

// Config is the fully merged and validated configuration for one process.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Agents        AgentsConfig        `yaml:"agents"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Tools         ToolsConfig         `yaml:"tools"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Checkpoints   CheckpointsConfig   `yaml:"checkpoints"`
	Database      DatabaseConfig      `yaml:"database"`
	Events        EventsConfig        `yaml:"events"`
	Masking       MaskingConfig       `yaml:"masking"`
	RAG           RAGConfig           `yaml:"rag"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// LLMConfig selects the model provider and tunes the resilience fabric
// wrapped around it.
type LLMConfig struct {
	// Provider is informational; every provider speaks the
	// OpenAI-compatible chat completions API.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// BaseURL points at any OpenAI-compatible endpoint. Empty uses the
	// provider's public endpoint.
	BaseURL string `yaml:"base_url"`
	// APIKey is usually left empty in the file and supplied via the
	// ARGUS_LLM_API_KEY environment variable.
	APIKey      string  `yaml:"api_key"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// ReduceFraction is how much of the conversation to drop when the
	// provider reports a context-length overflow (capped at 0.5).
	ReduceFraction float64 `yaml:"reduce_fraction"`

	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RetryConfig tunes the retry engine for LLM calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	// Backoff is one of constant, linear, exponential.
	Backoff string `yaml:"backoff"`
	// Jitter is the symmetric fraction applied to computed delays.
	Jitter float64 `yaml:"jitter"`
}

// BreakerConfig tunes the circuit breaker guarding the provider.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

// RateLimitConfig throttles outbound LLM calls. Zero requests_per_minute
// disables the limiter.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// AgentsConfig holds the orchestrator's own limits and the catalog of
// dispatchable child agents. User catalog entries are merged over the
// built-in recon/analysis/verification set by name; new names add
// specialists.
type AgentsConfig struct {
	Orchestrator AgentLimits          `yaml:"orchestrator"`
	Catalog      map[string]AgentSpec `yaml:"catalog"`
}

// AgentLimits bounds a single agent run.
type AgentLimits struct {
	MaxIterations int `yaml:"max_iterations"`
	// TokenBudget caps total tokens across the run; 0 means unlimited.
	TokenBudget int `yaml:"token_budget"`
	// Timeout is the wall-clock cap for the whole run.
	Timeout time.Duration `yaml:"timeout"`
}

// AgentSpec describes one dispatchable agent in the catalog.
type AgentSpec struct {
	// Role is one of recon, analysis, verification, specialist.
	Role string `yaml:"role"`
	// Description is shown to the orchestrator model when it picks an
	// agent to dispatch.
	Description   string `yaml:"description"`
	MaxIterations int    `yaml:"max_iterations"`
	TokenBudget   int    `yaml:"token_budget"`
}

// OrchestrationConfig tunes dispatch of child agents.
type OrchestrationConfig struct {
	// MaxDispatchesPerChild caps how many times any one catalog agent may
	// be dispatched in a session.
	MaxDispatchesPerChild int `yaml:"max_dispatches_per_child"`
	// MaxParallel caps concurrently running children in batch execution.
	MaxParallel int64 `yaml:"max_parallel"`
	// ChildTimeout is the wall-clock cap per dispatched child.
	ChildTimeout time.Duration `yaml:"child_timeout"`
}

// ToolsConfig tunes the filesystem tool surface.
type ToolsConfig struct {
	// MaxFileBytes caps individual file reads.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	// BlockedExtensions replaces the built-in blocked set when non-empty.
	BlockedExtensions []string `yaml:"blocked_extensions"`
	// Scanners lists the sandboxed scanner tools to register. Unknown
	// names fail validation.
	Scanners []string `yaml:"scanners"`
}

// SandboxConfig shapes the container every sandboxed tool call runs in.
type SandboxConfig struct {
	Image    string        `yaml:"image"`
	MemoryMB int64         `yaml:"memory_mb"`
	CPUs     float64       `yaml:"cpus"`
	Timeout  time.Duration `yaml:"timeout"`
	// MaxConcurrent caps simultaneously running containers.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// CheckpointsConfig controls state snapshots and retention.
type CheckpointsConfig struct {
	// Store is one of file, postgres, none.
	Store string `yaml:"store"`
	// Dir is the snapshot directory for the file store.
	Dir string `yaml:"dir"`
	// Interval checkpoints every N iterations; 0 disables automatic
	// snapshots (terminal snapshots still happen).
	Interval int `yaml:"interval"`
	// Keep is how many checkpoints to retain per agent.
	Keep          int           `yaml:"keep"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DatabaseConfig holds Postgres connection and pool settings. An empty host
// disables the database entirely.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// Enabled reports whether a database is configured at all.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

// EventsConfig tunes the event fan-out.
type EventsConfig struct {
	// Buffer is the per-subscriber channel capacity.
	Buffer int `yaml:"buffer"`
	// Ring is how many recent events are kept for catch-up.
	Ring int `yaml:"ring"`
	// File appends every event as JSONL when non-empty.
	File string `yaml:"file"`
	// Persist writes events to the database when one is configured.
	Persist *bool `yaml:"persist,omitempty"`
	// TTL expires persisted event rows; the retention sweeper removes
	// older ones. Zero keeps rows forever.
	TTL time.Duration `yaml:"ttl"`
	// RetentionInterval is how often expired rows are swept.
	RetentionInterval time.Duration `yaml:"retention_interval"`
}

// MaskingConfig selects secret redaction applied to observations, events,
// and logs before anything leaves the process.
type MaskingConfig struct {
	// Enabled defaults to true; masking must be switched off explicitly.
	Enabled *bool `yaml:"enabled,omitempty"`
	// PatternGroup selects a built-in pattern set.
	PatternGroup   string           `yaml:"pattern_group,omitempty"`
	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
}

// MaskingPattern is one user-supplied redaction regex.
type MaskingPattern struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Description string `yaml:"description,omitempty"`
}

// RAGConfig points at the retrieval service. An empty endpoint disables the
// RAG tools.
type RAGConfig struct {
	Endpoint string `yaml:"endpoint"`
	TopK     int    `yaml:"top_k"`
}

// ServerConfig tunes the control-plane HTTP server.
type ServerConfig struct {
	Addr             string   `yaml:"addr"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// LoggingConfig shapes the process-wide slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}
