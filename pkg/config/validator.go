package config

import (
	"regexp"
	"slices"
	"strings"

	"github.com/argus-audit/argus/pkg/faults"
)

// validate fail-fasts on the first invalid field so the operator gets one
// actionable message instead of a wall of them.
func validate(cfg *Config) error {
	checks := []func(*Config) error{
		validateLLM,
		validateAgents,
		validateOrchestration,
		validateTools,
		validateSandbox,
		validateCheckpoints,
		validateDatabase,
		validateMasking,
		validateRAG,
		validateServer,
		validateLogging,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return faults.Newf(faults.ValidationInput, format, args...)
}

func validateLLM(cfg *Config) error {
	l := cfg.LLM
	if l.Model == "" {
		return invalid("llm.model is required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return invalid("llm.temperature %v out of range [0, 2]", l.Temperature)
	}
	if l.MaxTokens <= 0 {
		return invalid("llm.max_tokens must be positive, got %d", l.MaxTokens)
	}
	if l.ReduceFraction < 0 || l.ReduceFraction > 0.5 {
		return invalid("llm.reduce_fraction %v out of range [0, 0.5]", l.ReduceFraction)
	}
	if l.Retry.MaxAttempts < 1 {
		return invalid("llm.retry.max_attempts must be at least 1, got %d", l.Retry.MaxAttempts)
	}
	switch l.Retry.Backoff {
	case "constant", "linear", "exponential":
	default:
		return invalid("llm.retry.backoff %q is not one of constant, linear, exponential", l.Retry.Backoff)
	}
	if l.Retry.Jitter < 0 || l.Retry.Jitter > 1 {
		return invalid("llm.retry.jitter %v out of range [0, 1]", l.Retry.Jitter)
	}
	if l.Breaker.FailureThreshold < 1 {
		return invalid("llm.breaker.failure_threshold must be at least 1")
	}
	if l.Breaker.SuccessThreshold < 1 {
		return invalid("llm.breaker.success_threshold must be at least 1")
	}
	if l.RateLimit.RequestsPerMinute < 0 {
		return invalid("llm.rate_limit.requests_per_minute must not be negative")
	}
	return nil
}

func validateAgents(cfg *Config) error {
	if cfg.Agents.Orchestrator.MaxIterations < 1 {
		return invalid("agents.orchestrator.max_iterations must be at least 1")
	}
	if len(cfg.Agents.Catalog) == 0 {
		return invalid("agents.catalog must define at least one agent")
	}
	for name, spec := range cfg.Agents.Catalog {
		if strings.TrimSpace(name) == "" {
			return invalid("agents.catalog contains an agent with an empty name")
		}
		if !slices.Contains(knownRoles, spec.Role) {
			return invalid("agents.catalog.%s.role %q is not one of %s",
				name, spec.Role, strings.Join(knownRoles, ", "))
		}
		if spec.Description == "" {
			return invalid("agents.catalog.%s.description is required; the orchestrator picks agents by it", name)
		}
		if spec.MaxIterations < 1 {
			return invalid("agents.catalog.%s.max_iterations must be at least 1", name)
		}
		if spec.TokenBudget < 0 {
			return invalid("agents.catalog.%s.token_budget must not be negative", name)
		}
	}
	return nil
}

func validateOrchestration(cfg *Config) error {
	o := cfg.Orchestration
	if o.MaxDispatchesPerChild < 1 {
		return invalid("orchestration.max_dispatches_per_child must be at least 1")
	}
	if o.MaxParallel < 1 {
		return invalid("orchestration.max_parallel must be at least 1")
	}
	if o.ChildTimeout <= 0 {
		return invalid("orchestration.child_timeout must be positive")
	}
	return nil
}

func validateTools(cfg *Config) error {
	if cfg.Tools.MaxFileBytes <= 0 {
		return invalid("tools.max_file_bytes must be positive")
	}
	for _, s := range cfg.Tools.Scanners {
		if !slices.Contains(knownScanners, s) {
			return invalid("tools.scanners has unknown scanner %q; known: %s",
				s, strings.Join(knownScanners, ", "))
		}
	}
	return nil
}

func validateSandbox(cfg *Config) error {
	s := cfg.Sandbox
	if s.Image == "" {
		return invalid("sandbox.image is required")
	}
	if s.MemoryMB <= 0 {
		return invalid("sandbox.memory_mb must be positive")
	}
	if s.CPUs <= 0 {
		return invalid("sandbox.cpus must be positive")
	}
	if s.Timeout <= 0 {
		return invalid("sandbox.timeout must be positive")
	}
	if s.MaxConcurrent < 1 {
		return invalid("sandbox.max_concurrent must be at least 1")
	}
	return nil
}

func validateCheckpoints(cfg *Config) error {
	c := cfg.Checkpoints
	switch c.Store {
	case "file":
		if c.Dir == "" {
			return invalid("checkpoints.dir is required for the file store")
		}
	case "postgres":
		if !cfg.Database.Enabled() {
			return invalid("checkpoints.store postgres requires database.host")
		}
	case "none":
	default:
		return invalid("checkpoints.store %q is not one of file, postgres, none", c.Store)
	}
	if c.Interval < 0 {
		return invalid("checkpoints.interval must not be negative")
	}
	if c.Keep < 1 {
		return invalid("checkpoints.keep must be at least 1")
	}
	if c.SweepInterval <= 0 {
		return invalid("checkpoints.sweep_interval must be positive")
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	d := cfg.Database
	if !d.Enabled() {
		return nil
	}
	if d.Port <= 0 || d.Port > 65535 {
		return invalid("database.port %d out of range", d.Port)
	}
	if d.User == "" {
		return invalid("database.user is required when database.host is set")
	}
	if d.Database == "" {
		return invalid("database.database is required when database.host is set")
	}
	if d.MaxIdleConns > d.MaxOpenConns {
		return invalid("database.max_idle_conns (%d) exceeds max_open_conns (%d)",
			d.MaxIdleConns, d.MaxOpenConns)
	}
	return nil
}

func validateMasking(cfg *Config) error {
	for i, p := range cfg.Masking.CustomPatterns {
		if p.Pattern == "" {
			return invalid("masking.custom_patterns[%d].pattern is required", i)
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return invalid("masking.custom_patterns[%d]: %v", i, err)
		}
	}
	return nil
}

func validateRAG(cfg *Config) error {
	if cfg.RAG.Endpoint == "" {
		return nil
	}
	if !strings.HasPrefix(cfg.RAG.Endpoint, "http://") && !strings.HasPrefix(cfg.RAG.Endpoint, "https://") {
		return invalid("rag.endpoint %q must be an http(s) URL", cfg.RAG.Endpoint)
	}
	if cfg.RAG.TopK < 1 {
		return invalid("rag.top_k must be at least 1")
	}
	return nil
}

func validateServer(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return invalid("server.addr is required")
	}
	return nil
}

func validateLogging(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return invalid("logging.format %q is not one of text, json", cfg.Logging.Format)
	}
	return nil
}

// Redacted returns a copy safe for logging and the debug API: secrets are
// replaced, everything else is kept.
func (c Config) Redacted() Config {
	out := c
	if out.LLM.APIKey != "" {
		out.LLM.APIKey = "***"
	}
	if out.Database.Password != "" {
		out.Database.Password = "***"
	}
	return out
}
