package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/argus-audit/argus/pkg/faults"
)

// DefaultPath is where Load looks when no path is given. A missing file at
// the default path is not an error; the built-in defaults apply.
const DefaultPath = "argus.yaml"

// Load reads, merges, and validates configuration.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Read the YAML file (optional at the default path, required otherwise)
//  3. Expand {{.VAR}} environment references
//  4. Deep-merge file values over defaults
//  5. Merge the user agent catalog over the built-in set by name
//  6. Apply environment overrides for secrets (ARGUS_LLM_API_KEY, DB_*)
//  7. Validate
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var file Config
		if uerr := yaml.Unmarshal(ExpandEnv(data), &file); uerr != nil {
			return nil, faults.Wrap(faults.ValidationInput, fmt.Sprintf("parsing %s", path), uerr)
		}

		// The catalog merges by name, not positionally; pull it out so
		// the struct merge below never sees it.
		userCatalog := file.Agents.Catalog
		file.Agents.Catalog = nil

		if merr := mergo.Merge(&cfg, file, mergo.WithOverride); merr != nil {
			return nil, fmt.Errorf("merging %s over defaults: %w", path, merr)
		}
		cfg.Agents.Catalog = mergeCatalog(builtinCatalog(), userCatalog)

	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// No file at the default location; run on defaults alone.

	default:
		return nil, faults.Wrap(faults.ValidationInput, fmt.Sprintf("reading config %s", path), err)
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	slog.Debug("configuration loaded",
		"path", path,
		"model", cfg.LLM.Model,
		"agents", len(cfg.Agents.Catalog),
		"scanners", len(cfg.Tools.Scanners),
		"checkpoint_store", cfg.Checkpoints.Store,
		"database", cfg.Database.Enabled())

	return &cfg, nil
}

// mergeCatalog lays user entries over the built-in catalog. An entry whose
// name matches a built-in overrides it field by field, so a user can raise
// one limit without restating the description; new names add specialists.
func mergeCatalog(builtin, user map[string]AgentSpec) map[string]AgentSpec {
	result := make(map[string]AgentSpec, len(builtin)+len(user))
	for name, spec := range builtin {
		result[name] = spec
	}
	for name, spec := range user {
		base, ok := result[name]
		if !ok {
			result[name] = spec
			continue
		}
		if err := mergo.Merge(&base, spec, mergo.WithOverride); err == nil {
			result[name] = base
		} else {
			result[name] = spec
		}
	}
	return result
}

// applyEnvOverrides lets secrets come from the environment so they never
// have to be written into the file. File values are kept when the
// corresponding variable is unset.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARGUS_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
}
