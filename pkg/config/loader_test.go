package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/faults"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "argus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWhenDefaultFileAbsent(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 2, cfg.Orchestration.MaxDispatchesPerChild)
	assert.Len(t, cfg.Agents.Catalog, 3)
	assert.Equal(t, "file", cfg.Checkpoints.Store)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, faults.ValidationInput, faults.KindOf(err))
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: claude-sonnet-4
  temperature: 0.3
orchestration:
  max_parallel: 2
  child_timeout: 15m
sandbox:
  timeout: 90s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4", cfg.LLM.Model)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, int64(2), cfg.Orchestration.MaxParallel)
	assert.Equal(t, 15*time.Minute, cfg.Orchestration.ChildTimeout)
	assert.Equal(t, 90*time.Second, cfg.Sandbox.Timeout)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.LLM.Breaker.FailureThreshold)
	assert.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, 2, cfg.Orchestration.MaxDispatchesPerChild)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadCatalogMergesByName(t *testing.T) {
	path := writeConfig(t, `
agents:
  catalog:
    analysis:
      max_iterations: 25
    crypto:
      role: specialist
      description: reviews cryptographic primitives and key handling
      max_iterations: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Agents.Catalog, 4)

	// Partial override keeps the built-in description and role.
	analysis := cfg.Agents.Catalog["analysis"]
	assert.Equal(t, 25, analysis.MaxIterations)
	assert.Equal(t, "analysis", analysis.Role)
	assert.NotEmpty(t, analysis.Description)

	crypto := cfg.Agents.Catalog["crypto"]
	assert.Equal(t, "specialist", crypto.Role)
	assert.Equal(t, 8, crypto.MaxIterations)

	recon := cfg.Agents.Catalog["recon"]
	assert.Equal(t, 10, recon.MaxIterations)
}

func TestLoadMaskingCanBeDisabled(t *testing.T) {
	path := writeConfig(t, "masking:\n  enabled: false\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Masking.MaskingEnabled())

	// Default is on.
	assert.True(t, Default().Masking.MaskingEnabled())
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("ARGUS_LLM_API_KEY", "sk-from-env")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PASSWORD", "hunter2")

	path := writeConfig(t, `
llm:
  api_key: sk-from-file
database:
  host: localhost
  user: argus
  database: argus
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, "argus", cfg.Database.User)
}

func TestLoadExpandsTemplateReferences(t *testing.T) {
	t.Setenv("AUDIT_MODEL", "gpt-4o-mini")

	path := writeConfig(t, "llm:\n  model: \"{{.AUDIT_MODEL}}\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "llm: [unclosed\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, faults.ValidationInput, faults.KindOf(err))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "llm:\n  max_tokens: -5\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, faults.ValidationInput, faults.KindOf(err))
	assert.Contains(t, err.Error(), "max_tokens")
}

func TestLoadDatabaseDisabledWithoutHost(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Database.Enabled())
}
