// Package sandbox runs untrusted commands in ephemeral Docker containers.
// Every run gets a fresh container with the project bind-mounted read-only
// at /workspace, tmpfs scratch space, and hard resource caps. Containers
// are removed on every exit path, including timeouts.
//
// A Sandbox is safe for concurrent use; a weighted semaphore caps the
// number of containers running at once.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/client"
	"golang.org/x/sync/semaphore"

	"github.com/argus-audit/argus/pkg/faults"
)

// Workspace is the in-container mount point of the project root.
const Workspace = "/workspace"

const (
	// DefaultImage must have the audit toolchain baked in (scanners,
	// interpreters, curl).
	DefaultImage = "ghcr.io/argus-audit/sandbox:latest"

	DefaultMemoryBytes   = int64(512 << 20)
	DefaultCPUs          = 1.0
	DefaultTimeout       = 120 * time.Second
	DefaultMaxConcurrent = 4

	defaultTmpfsSize = "64m"
	defaultHomeSize  = "16m"
	defaultUser      = "1000:1000"

	// Per-stream byte cap on captured stdout/stderr. Token-level
	// truncation for the LLM happens in the tools layer.
	maxStreamBytes = 512 << 10
)

// Config controls the container template every run is stamped from.
type Config struct {
	// Image is the container image to run. It is never pulled here;
	// deployment is expected to provision it.
	Image string

	// ProjectRoot is the host directory mounted read-only at Workspace.
	ProjectRoot string

	Memory  int64         // bytes, default 512 MiB
	CPUs    float64       // cores, default 1.0
	Timeout time.Duration // default wall-clock cap per run

	TmpfsSize     string // size of /tmp, default 64m
	HomeTmpfsSize string // size of /home/sandbox, default 16m

	// User the container process runs as. Defaults to an unprivileged
	// uid:gid so the image needs no named user.
	User string

	// Env is the baseline environment. Proxy variables are scrubbed
	// from it before per-call env is merged on top.
	Env map[string]string

	// MaxConcurrent caps simultaneously running containers.
	MaxConcurrent int
}

func (c *Config) setDefaults() {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.Memory <= 0 {
		c.Memory = DefaultMemoryBytes
	}
	if c.CPUs <= 0 {
		c.CPUs = DefaultCPUs
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.TmpfsSize == "" {
		c.TmpfsSize = defaultTmpfsSize
	}
	if c.HomeTmpfsSize == "" {
		c.HomeTmpfsSize = defaultHomeSize
	}
	if c.User == "" {
		c.User = defaultUser
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
}

// Sandbox is the shared execution substrate. Container identity is never
// exposed to callers.
type Sandbox struct {
	api containerAPI
	cfg Config
	sem *semaphore.Weighted
	log *slog.Logger
}

// New connects to the Docker daemon and validates the project root.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Sandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, faults.Wrap(faults.ToolResource, "docker client init failed", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, faults.Wrap(faults.ToolResource, "docker daemon unreachable", err)
	}
	return newWithAPI(cli, cfg, log)
}

func newWithAPI(api containerAPI, cfg Config, log *slog.Logger) (*Sandbox, error) {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}

	if cfg.ProjectRoot == "" {
		return nil, faults.New(faults.ValidationInput, "sandbox project root not set")
	}
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, faults.Wrap(faults.ValidationInput, fmt.Sprintf("bad project root %q", cfg.ProjectRoot), err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, faults.Wrap(faults.ValidationInput, fmt.Sprintf("project root %q not accessible", root), err)
	}
	if !info.IsDir() {
		return nil, faults.Newf(faults.ValidationInput, "project root %q is not a directory", root)
	}
	cfg.ProjectRoot = root

	return &Sandbox{
		api: api,
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log: log.With("component", "sandbox"),
	}, nil
}

// ProjectRoot returns the resolved host directory mounted at Workspace.
func (s *Sandbox) ProjectRoot() string { return s.cfg.ProjectRoot }

// Close releases the Docker client.
func (s *Sandbox) Close() error {
	return s.api.Close()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
