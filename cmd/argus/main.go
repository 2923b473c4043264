// Argus audits a project for security vulnerabilities: an LLM-driven
// orchestrator dispatches recon, analysis, and verification agents over the
// project tree and merges what they find into one report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/argus-audit/argus/pkg/api"
	"github.com/argus-audit/argus/pkg/audit"
	"github.com/argus-audit/argus/pkg/config"
	"github.com/argus-audit/argus/pkg/database"
	"github.com/argus-audit/argus/pkg/eventstream"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/version"
)

// Exit codes. Scripts branch on these, so they are part of the interface.
const (
	exitOK         = 0
	exitInternal   = 1
	exitCancelled  = 2
	exitBudget     = 3
	exitValidation = 4
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", getEnv("ARGUS_CONFIG", ""), "path to configuration file")
		task        = flag.String("task", "", "audit task for the orchestrator")
		projectRoot = flag.String("project", ".", "project directory to audit")
		serve       = flag.Bool("serve", false, "serve the control-plane API while the audit runs")
		output      = flag.String("output", "", "write the report JSON to a file instead of stdout")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return exitOK
	}

	// Secrets come from the environment; a local .env is a convenience.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("configuration failed", "error", err)
		return codeForError(err)
	}
	log := setupLogger(cfg.Logging)

	// A database block in the config file wins; otherwise DB_* variables
	// enable persistence without one.
	if !cfg.Database.Enabled() {
		if envCfg, envErr := database.LoadConfigFromEnv(); envErr == nil {
			cfg.Database = config.DatabaseConfig{
				Host:            envCfg.Host,
				Port:            envCfg.Port,
				User:            envCfg.User,
				Password:        envCfg.Password,
				Database:        envCfg.Database,
				SSLMode:         envCfg.SSLMode,
				MaxOpenConns:    envCfg.MaxOpenConns,
				MaxIdleConns:    envCfg.MaxIdleConns,
				ConnMaxLifetime: envCfg.ConnMaxLifetime,
				ConnMaxIdleTime: envCfg.ConnMaxIdleTime,
			}
			log.Info("database configured from environment", "host", envCfg.Host)
		}
	}

	if strings.TrimSpace(*task) == "" {
		log.Error("a task is required, e.g. -task \"audit this service for injection flaws\"")
		flag.Usage()
		return exitValidation
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := audit.New(ctx, cfg, audit.Options{Logger: log})
	if err != nil {
		log.Error("engine init failed", "error", err)
		return codeForError(err)
	}
	defer eng.Close()

	// First signal stops the audit cooperatively; a second one kills the
	// process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", "signal", sig.String())
		eng.Graph().StopAllAgents(false)
		cancel()
		sig = <-sigCh
		log.Warn("second signal, exiting immediately", "signal", sig.String())
		os.Exit(exitCancelled)
	}()

	if *serve {
		hub := eventstream.New(eng.Emitter(), eventstream.Config{}, log)
		srv := api.NewServer(cfg.Server, eng.Graph(), hub, log)
		srv.SetConfigurationStats(api.ConfigurationStats{
			Agents:   len(cfg.Agents.Catalog),
			Scanners: len(cfg.Tools.Scanners),
		})
		if db := eng.Database(); db != nil {
			srv.SetDatabase(db)
		}
		srv.SetBreakers(eng.Breakers())
		go func() {
			if serr := srv.Start(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
				log.Error("control plane failed", "error", serr)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				log.Warn("control plane shutdown", "error", serr)
			}
		}()
	}

	rep, runErr := eng.Run(ctx, audit.Request{
		Task:        *task,
		ProjectRoot: *projectRoot,
	})
	if runErr != nil {
		log.Error("audit did not complete", "error", runErr)
	}
	if rep == nil {
		return codeForError(runErr)
	}

	if err := writeReport(rep, *output); err != nil {
		log.Error("writing report failed", "error", err)
		return exitInternal
	}

	log.Info("audit report written",
		"status", rep.Status,
		"findings", len(rep.Findings),
		"duration_ms", rep.DurationMS)

	switch rep.Status {
	case audit.StatusCompleted:
		return exitOK
	case audit.StatusCancelled:
		return exitCancelled
	case audit.StatusBudgetExceeded:
		return exitBudget
	default:
		return exitInternal
	}
}

// codeForError maps failures before or instead of a report to an exit code.
func codeForError(err error) int {
	switch {
	case faults.IsKind(err, faults.ValidationInput):
		return exitValidation
	case faults.IsKind(err, faults.AgentCancelled):
		return exitCancelled
	case faults.IsKind(err, faults.AgentIterationLimit), faults.IsKind(err, faults.AgentTimeout):
		return exitBudget
	default:
		return exitInternal
	}
}

// setupLogger builds the process-wide handler. Logs go to stderr so stdout
// stays clean for the report.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func writeReport(rep *audit.Report, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
