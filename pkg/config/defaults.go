package config

import "time"

// knownScanners are the scanner tool names the sandbox image ships.
var knownScanners = []string{
	"bandit", "semgrep", "gitleaks", "trufflehog", "safety", "npm_audit", "osv",
}

// knownRoles are the roles a catalog entry may declare.
var knownRoles = []string{"recon", "analysis", "verification", "specialist"}

// builtinCatalog is the stock set of dispatchable agents. User entries with
// the same name override these; new names add specialists.
func builtinCatalog() map[string]AgentSpec {
	return map[string]AgentSpec{
		"recon": {
			Role:          "recon",
			Description:   "maps the project structure, tech stack, entry points, and high-risk areas",
			MaxIterations: 10,
			TokenBudget:   100_000,
		},
		"analysis": {
			Role:          "analysis",
			Description:   "hunts for concrete vulnerabilities in source code using tools and scanners",
			MaxIterations: 15,
			TokenBudget:   200_000,
		},
		"verification": {
			Role:          "verification",
			Description:   "reproduces reported findings in the sandbox to confirm or reject them",
			MaxIterations: 15,
			TokenBudget:   200_000,
		},
	}
}

// Default returns the built-in configuration. Every Load starts from this
// and merges the user file over it.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o",
			Temperature:    0.1,
			MaxTokens:      4096,
			ReduceFraction: 0.25,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
				MaxDelay:    30 * time.Second,
				Backoff:     "exponential",
				Jitter:      0.1,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				RecoveryTimeout:  30 * time.Second,
				HalfOpenMaxCalls: 1,
			},
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				Burst:             10,
			},
		},
		Agents: AgentsConfig{
			Orchestrator: AgentLimits{
				MaxIterations: 30,
				Timeout:       45 * time.Minute,
			},
			Catalog: builtinCatalog(),
		},
		Orchestration: OrchestrationConfig{
			MaxDispatchesPerChild: 2,
			MaxParallel:           5,
			ChildTimeout:          10 * time.Minute,
		},
		Tools: ToolsConfig{
			MaxFileBytes: 1 << 20,
			Scanners:     append([]string(nil), knownScanners...),
		},
		Sandbox: SandboxConfig{
			Image:         "ghcr.io/argus-audit/sandbox:latest",
			MemoryMB:      512,
			CPUs:          1.0,
			Timeout:       2 * time.Minute,
			MaxConcurrent: 4,
		},
		Checkpoints: CheckpointsConfig{
			Store:         "file",
			Dir:           ".argus/checkpoints",
			Interval:      5,
			Keep:          5,
			SweepInterval: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Events: EventsConfig{
			Buffer:            256,
			Ring:              1024,
			TTL:               7 * 24 * time.Hour,
			RetentionInterval: time.Hour,
		},
		Masking: MaskingConfig{
			PatternGroup: "secrets",
		},
		RAG: RAGConfig{
			TopK: 5,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// MaskingEnabled reports whether masking is on. Nil means on; a security
// auditor leaks secrets by default otherwise.
func (m MaskingConfig) MaskingEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// PersistEvents reports whether events should be written to the database.
// Nil means yes whenever a database is configured.
func (e EventsConfig) PersistEvents() bool {
	return e.Persist == nil || *e.Persist
}
