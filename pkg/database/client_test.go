package database

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient creates a migrated test database client with CI/local
// environment detection. In CI (CI_DATABASE_URL set): connects to an external
// PostgreSQL service container. In local dev: spins up a testcontainer.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	ciDatabaseURL := os.Getenv("CI_DATABASE_URL")

	var connStr string

	if ciDatabaseURL != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		connStr = ciDatabaseURL
	} else {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		var err2 error
		connStr, err2 = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err2)
	}

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	err = RunMigrations(ctx, db, "test")
	require.NoError(t, err)

	client := NewClientFromDB(db)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestClientMigrationsAndHealth(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	err := client.DB().PingContext(ctx)
	require.NoError(t, err)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)
}

func TestCheckpointTableUpsert(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	state := []byte(`{"agent_id":"a1","status":"running","iteration":3}`)
	_, err := client.DB().ExecContext(ctx,
		`INSERT INTO checkpoints (agent_id, name, version, captured_at, state)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (agent_id, name)
		 DO UPDATE SET version = EXCLUDED.version, captured_at = EXCLUDED.captured_at, state = EXCLUDED.state`,
		"a1", "cp-1", 1, time.Now().UTC(), state)
	require.NoError(t, err)

	// Re-save with new state must update, not duplicate.
	state2 := []byte(`{"agent_id":"a1","status":"completed","iteration":5}`)
	_, err = client.DB().ExecContext(ctx,
		`INSERT INTO checkpoints (agent_id, name, version, captured_at, state)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (agent_id, name)
		 DO UPDATE SET version = EXCLUDED.version, captured_at = EXCLUDED.captured_at, state = EXCLUDED.state`,
		"a1", "cp-1", 1, time.Now().UTC(), state2)
	require.NoError(t, err)

	var count int
	err = client.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkpoints WHERE agent_id = $1`, "a1").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var stored []byte
	err = client.DB().QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE agent_id = $1 AND name = $2`, "a1", "cp-1").Scan(&stored)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(stored, &decoded))
	assert.Equal(t, "completed", decoded["status"])
}

func TestEventTableIdempotentInsert(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	insert := func() error {
		_, err := client.DB().ExecContext(ctx,
			`INSERT INTO events (event_id, seq, event_type, correlation_id, task_id, agent_id, agent_name, iteration, message, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (event_id) DO NOTHING`,
			"ev-1", 1, "tool_complete", "corr-1", "task-1",
			"a1", "analysis", 2, "semgrep finished", []byte(`{"tool":"semgrep"}`), time.Now().UTC())
		return err
	}

	require.NoError(t, insert())
	require.NoError(t, insert())

	var count int
	err := client.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE event_id = $1`, "ev-1").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEventMessageFullTextSearch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rows := []struct {
		id, msg string
	}{
		{"ev-fts-1", "critical sql injection confirmed in login handler"},
		{"ev-fts-2", "scanner produced no output"},
	}
	for i, r := range rows {
		_, err := client.DB().ExecContext(ctx,
			`INSERT INTO events (event_id, seq, event_type, message, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			r.id, i+1, "info", r.msg, time.Now().UTC())
		require.NoError(t, err)
	}

	found, err := client.DB().QueryContext(ctx,
		`SELECT event_id FROM events
		 WHERE to_tsvector('english', COALESCE(message, '')) @@ to_tsquery('english', $1)`,
		"sql & injection")
	require.NoError(t, err)
	defer found.Close()

	var ids []string
	for found.Next() {
		var id string
		require.NoError(t, found.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, found.Err())

	assert.Equal(t, []string{"ev-fts-1"}, ids)
}

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		wantErr     bool
		errContains string
	}{
		{
			name: "valid config with defaults",
			envVars: map[string]string{
				"DB_PASSWORD": "test",
			},
			wantErr: false,
		},
		{
			name: "valid config with custom values",
			envVars: map[string]string{
				"DB_HOST":           "db.example.com",
				"DB_PORT":           "5433",
				"DB_USER":           "admin",
				"DB_PASSWORD":       "secret",
				"DB_NAME":           "production",
				"DB_SSLMODE":        "require",
				"DB_MAX_OPEN_CONNS": "50",
				"DB_MAX_IDLE_CONNS": "20",
			},
			wantErr: false,
		},
		{
			name: "invalid DB_PORT",
			envVars: map[string]string{
				"DB_PORT":     "invalid",
				"DB_PASSWORD": "test",
			},
			wantErr:     true,
			errContains: "invalid DB_PORT",
		},
		{
			name: "invalid DB_MAX_OPEN_CONNS",
			envVars: map[string]string{
				"DB_MAX_OPEN_CONNS": "not_a_number",
				"DB_PASSWORD":       "test",
			},
			wantErr:     true,
			errContains: "invalid DB_MAX_OPEN_CONNS",
		},
		{
			name: "invalid DB_CONN_MAX_LIFETIME",
			envVars: map[string]string{
				"DB_CONN_MAX_LIFETIME": "invalid_duration",
				"DB_PASSWORD":          "test",
			},
			wantErr:     true,
			errContains: "invalid DB_CONN_MAX_LIFETIME",
		},
		{
			name:        "missing password",
			envVars:     map[string]string{},
			wantErr:     true,
			errContains: "DB_PASSWORD is required",
		},
	}

	envKeys := []string{
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
		"DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME",
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				os.Unsetenv(key)
			}
			for key, val := range tt.envVars {
				t.Setenv(key, val)
			}

			cfg, err := LoadConfigFromEnv()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}

			require.NoError(t, err)
			if tt.name == "valid config with defaults" {
				assert.Equal(t, "localhost", cfg.Host)
				assert.Equal(t, 5432, cfg.Port)
				assert.Equal(t, "argus", cfg.User)
				assert.Equal(t, 25, cfg.MaxOpenConns)
				assert.Equal(t, 10, cfg.MaxIdleConns)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Host:         "localhost",
		Port:         5432,
		User:         "test",
		Password:     "test",
		Database:     "test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing host", mutate: func(c *Config) { c.Host = "" }, wantErr: true},
		{name: "missing password", mutate: func(c *Config) { c.Password = "" }, wantErr: true},
		{name: "port out of range", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "zero max open conns", mutate: func(c *Config) { c.MaxOpenConns = 0 }, wantErr: true},
		{name: "negative idle conns", mutate: func(c *Config) { c.MaxIdleConns = -1 }, wantErr: true},
		{name: "idle conns exceed max conns", mutate: func(c *Config) { c.MaxIdleConns = 20 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host:     "db.internal",
		Port:     5433,
		User:     "argus",
		Password: "s3cret",
		Database: "audits",
		SSLMode:  "require",
	}
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "port=5433")
	assert.Contains(t, dsn, "dbname=audits")
	assert.Contains(t, dsn, "sslmode=require")
}

func TestHealthStatusJSONMilliseconds(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	health, err := client.Health(ctx)
	require.NoError(t, err)
	require.NotNil(t, health)

	assert.GreaterOrEqual(t, health.ResponseTime, int64(0))
	assert.Less(t, health.ResponseTime, int64(1000), "local ping should be under a second")

	jsonBytes, err := json.Marshal(health)
	require.NoError(t, err)

	var jsonData map[string]any
	require.NoError(t, json.Unmarshal(jsonBytes, &jsonData))

	responseTime, ok := jsonData["response_time_ms"].(float64)
	require.True(t, ok, "response_time_ms should be a number")
	// If this were nanoseconds, a 1ms ping would show as > 1,000,000.
	assert.Less(t, responseTime, float64(1000000))
}
