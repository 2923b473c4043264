package audit

import (
	"context"
	"log/slog"

	"github.com/argus-audit/argus/pkg/breaker"
	"github.com/argus-audit/argus/pkg/bus"
	"github.com/argus-audit/argus/pkg/checkpoint"
	"github.com/argus-audit/argus/pkg/cleanup"
	"github.com/argus-audit/argus/pkg/config"
	"github.com/argus-audit/argus/pkg/database"
	"github.com/argus-audit/argus/pkg/events"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/graph"
	"github.com/argus-audit/argus/pkg/llm"
	"github.com/argus-audit/argus/pkg/masking"
	"github.com/argus-audit/argus/pkg/rag"
	"github.com/argus-audit/argus/pkg/ratelimit"
	"github.com/argus-audit/argus/pkg/retry"
	"github.com/argus-audit/argus/pkg/sandbox"
	"github.com/argus-audit/argus/pkg/tools/sandboxed"
	"github.com/argus-audit/argus/pkg/tools/scanners"
)

// Substrate is the sandbox surface the tool layer consumes. *sandbox.Sandbox
// satisfies it; tests inject fakes.
type Substrate interface {
	sandboxed.Substrate
	scanners.Executor
}

// Options carries the injectable pieces of an engine. Zero values build the
// real thing from configuration.
type Options struct {
	Logger *slog.Logger
	// LLM replaces the provider client built from config. Used by tests
	// and by callers that already hold a wrapped client.
	LLM llm.Client
	// Substrate replaces the Docker sandbox. When nil, each audit run
	// connects to Docker; if that fails the run proceeds without
	// sandboxed tools.
	Substrate Substrate
}

// Engine holds the long-lived infrastructure shared by every audit run:
// the agent graph, message bus, event fan-out, masking, checkpointing,
// database, and the LLM stack. One engine serves both the CLI (one run,
// then Close) and the API server (runs triggered while serving).
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	bus       *bus.Bus
	registry  *graph.Registry
	graph     *graph.Controller
	emitter   *events.Emitter
	masker    *masking.Service
	store     checkpoint.Store
	sweeper   *checkpoint.Manager
	db        *database.Client
	retention *cleanup.Service
	rag       rag.Client
	llm       llm.Client
	limits    *ratelimit.Registry
	breakers  *breaker.Group

	substrate Substrate
	jsonl     *events.JSONLSink
	detach    []func()
}

// New assembles an engine from configuration. ctx bounds startup I/O
// (database connect, migrations) and the checkpoint sweeper's lifetime.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		cfg:       cfg,
		log:       log,
		substrate: opts.Substrate,
	}

	e.emitter = events.NewEmitter(cfg.Events.Buffer)
	e.detach = append(e.detach, events.AttachSlogSink(e.emitter, log))

	if cfg.Events.File != "" {
		sink, err := events.NewJSONLSink(cfg.Events.File)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.jsonl = sink
		e.detach = append(e.detach, sink.Attach(e.emitter))
	}

	if cfg.Database.Enabled() {
		db, err := database.NewClient(ctx, databaseConfig(cfg))
		if err != nil {
			e.Close()
			return nil, faults.Wrap(faults.StatePersistence, "database init failed", err)
		}
		e.db = db
		if cfg.Events.PersistEvents() {
			e.detach = append(e.detach, events.NewPGSink(db.DB(), log).Attach(e.emitter))
			e.retention = cleanup.NewService(db.DB(), cleanup.Config{
				TTL:      cfg.Events.TTL,
				Interval: cfg.Events.RetentionInterval,
			}, log)
			e.retention.Start(ctx)
		}
	}

	store, err := buildCheckpointStore(cfg, e.db)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.store = store
	if store != nil {
		e.sweeper = checkpoint.NewManager(store, checkpoint.Config{
			Interval:      cfg.Checkpoints.Interval,
			Keep:          cfg.Checkpoints.Keep,
			SweepInterval: cfg.Checkpoints.SweepInterval,
		}, log)
		e.sweeper.Start(ctx)
	}

	e.masker = masking.NewService(maskingConfig(cfg), log)
	e.bus = bus.New(log)
	e.registry = graph.New(e.bus, log)
	e.graph = graph.NewController(e.registry, e.emitter, log)

	if cfg.RAG.Endpoint != "" {
		e.rag = rag.NewHTTPClient(cfg.RAG.Endpoint, log).WithDefaultTopK(cfg.RAG.TopK)
	}

	e.limits = ratelimit.NewRegistry()
	if rl := cfg.LLM.RateLimit; rl.RequestsPerMinute > 0 {
		e.limits.Set(ratelimit.LimiterLLM, ratelimit.NewTokenBucket(rl.RequestsPerMinute/60, rl.Burst))
	}
	e.breakers = breaker.NewGroup(breaker.Config{
		FailureThreshold: cfg.LLM.Breaker.FailureThreshold,
		SuccessThreshold: cfg.LLM.Breaker.SuccessThreshold,
		RecoveryTimeout:  cfg.LLM.Breaker.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.LLM.Breaker.HalfOpenMaxCalls,
	})

	e.llm = opts.LLM
	if e.llm == nil {
		client, err := buildLLM(cfg, e.limits.Get(ratelimit.LimiterLLM), e.breakers.Get("llm"), log)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.llm = client
	}

	log.Info("audit engine ready",
		"model", cfg.LLM.Model,
		"agents", len(cfg.Agents.Catalog),
		"checkpoint_store", cfg.Checkpoints.Store,
		"database", cfg.Database.Enabled(),
		"rag", cfg.RAG.Endpoint != "")
	return e, nil
}

// Graph exposes the live agent graph controller for the control plane.
func (e *Engine) Graph() *graph.Controller { return e.graph }

// Emitter exposes the event stream for subscribers.
func (e *Engine) Emitter() *events.Emitter { return e.emitter }

// Database exposes the persistence client, nil when Postgres is not
// configured.
func (e *Engine) Database() *database.Client { return e.db }

// Breakers exposes the circuit-breaker group for health reporting.
func (e *Engine) Breakers() *breaker.Group { return e.breakers }

// Close tears the engine down: sinks are detached and drained, the trace
// file is flushed, the sweeper stopped, and connections closed.
func (e *Engine) Close() {
	for _, stop := range e.detach {
		stop()
	}
	e.detach = nil
	if e.jsonl != nil {
		if err := e.jsonl.Close(); err != nil {
			e.log.Warn("trace file close failed", "error", err)
		}
		e.jsonl = nil
	}
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.retention != nil {
		e.retention.Stop()
	}
	if e.emitter != nil {
		e.emitter.Close()
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.log.Warn("database close failed", "error", err)
		}
		e.db = nil
	}
}

// buildLLM stacks the resilience fabric around the provider client:
// rate limiter, then circuit breaker, then retries, then the
// context-length fallback. The limiter and breaker come from the engine's
// registries so health reporting sees them.
func buildLLM(cfg *config.Config, limiter ratelimit.Limiter, brk *breaker.Breaker, log *slog.Logger) (llm.Client, error) {
	base, err := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, log)
	if err != nil {
		return nil, err
	}

	retryOpts := []retry.Option{
		retry.MaxAttempts(cfg.LLM.Retry.MaxAttempts),
		retry.BaseDelay(cfg.LLM.Retry.BaseDelay),
		retry.MaxDelay(cfg.LLM.Retry.MaxDelay),
		retry.WithBackoff(retry.Backoff(cfg.LLM.Retry.Backoff)),
		retry.JitterFraction(cfg.LLM.Retry.Jitter),
		retry.WithLogger(log),
	}

	return llm.NewResilient(base, llm.ResilientConfig{
		Limiter:        limiter,
		Breaker:        brk,
		RetryOptions:   retryOpts,
		ReduceFraction: cfg.LLM.ReduceFraction,
		Log:            log,
	}), nil
}

func buildCheckpointStore(cfg *config.Config, db *database.Client) (checkpoint.Store, error) {
	switch cfg.Checkpoints.Store {
	case "file":
		return checkpoint.NewFSStore(cfg.Checkpoints.Dir)
	case "postgres":
		if db == nil {
			return nil, faults.New(faults.ValidationInput, "postgres checkpoint store requires a database")
		}
		return checkpoint.NewPGStore(db.DB()), nil
	default:
		return nil, nil
	}
}

func databaseConfig(cfg *config.Config) database.Config {
	d := cfg.Database
	return database.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

func maskingConfig(cfg *config.Config) masking.Config {
	specs := make([]masking.PatternSpec, 0, len(cfg.Masking.CustomPatterns))
	for _, p := range cfg.Masking.CustomPatterns {
		specs = append(specs, masking.PatternSpec{
			Pattern:     p.Pattern,
			Replacement: p.Replacement,
			Description: p.Description,
		})
	}
	return masking.Config{
		Enabled:        cfg.Masking.MaskingEnabled(),
		PatternGroup:   cfg.Masking.PatternGroup,
		CustomPatterns: specs,
	}
}

// sandboxConfig stamps the per-run container template for one project root.
func sandboxConfig(cfg *config.Config, projectRoot string) sandbox.Config {
	return sandbox.Config{
		Image:         cfg.Sandbox.Image,
		ProjectRoot:   projectRoot,
		Memory:        cfg.Sandbox.MemoryMB << 20,
		CPUs:          cfg.Sandbox.CPUs,
		Timeout:       cfg.Sandbox.Timeout,
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
	}
}
