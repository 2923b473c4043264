package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/argus-audit/argus/pkg/faults"
)

// containerAPI is the slice of the Docker client the sandbox uses. Narrow
// so tests can substitute a fake daemon.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// ExecOptions tune a single run. Zero values fall back to the Sandbox
// defaults.
type ExecOptions struct {
	// Network opts the run into bridged networking. Default is no
	// network at all.
	Network bool

	// Env is merged over the scrubbed baseline; caller values win,
	// including explicit proxy settings.
	Env map[string]string

	Timeout time.Duration
	WorkDir string

	// Ports publishes container ports ("8080:8080" style specs).
	// Requires Network.
	Ports []string
}

func (s *Sandbox) run(ctx context.Context, cmd []string, opts ExecOptions) (*ExecResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, faults.Wrap(faults.AgentCancelled, "sandbox slot wait interrupted", err)
	}
	defer s.sem.Release(1)

	cconf, hconf, err := s.containerSpec(cmd, opts)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := s.api.ContainerCreate(runCtx, cconf, hconf, nil, nil, "")
	if err != nil {
		return nil, faults.Wrap(faults.ToolResource, "container create failed", err)
	}
	id := created.ID
	defer s.remove(id)

	if err := s.api.ContainerStart(runCtx, id, container.StartOptions{}); err != nil {
		return nil, faults.Wrap(faults.ToolExecution, "container start failed", err)
	}

	waitCh, errCh := s.api.ContainerWait(runCtx, id, container.WaitConditionNotRunning)

	var exitCode int
	var waitErrMsg string
	timedOut := false
	select {
	case resp := <-waitCh:
		exitCode = int(resp.StatusCode)
		if resp.Error != nil {
			waitErrMsg = resp.Error.Message
		}
	case werr := <-errCh:
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			timedOut = true
			s.kill(id)
		case runCtx.Err() != nil:
			s.kill(id)
			return nil, faults.Wrap(faults.AgentCancelled, "sandbox run cancelled", werr)
		default:
			return nil, faults.Wrap(faults.ToolExecution, "container wait failed", werr)
		}
	}

	stdout, stderr := s.collectOutput(id)

	if timedOut {
		s.log.Warn("sandbox run timed out", "container_id", shortID(id), "timeout", timeout)
		res := &ExecResult{
			Success:  false,
			Stdout:   stdout,
			Stderr:   stderr,
			ExitCode: -1,
			Error:    fmt.Sprintf("timed out after %s", timeout),
		}
		return res, faults.Newf(faults.ToolTimeout, "sandbox command timed out after %s", timeout)
	}

	return &ExecResult{
		Success:  exitCode == 0 && waitErrMsg == "",
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Error:    waitErrMsg,
	}, nil
}

func (s *Sandbox) containerSpec(cmd []string, opts ExecOptions) (*container.Config, *container.HostConfig, error) {
	workdir := opts.WorkDir
	if workdir == "" {
		workdir = Workspace
	}
	env := mergeEnv(scrubProxyEnv(s.baseEnv()), opts.Env)

	cconf := &container.Config{
		Image:      s.cfg.Image,
		Cmd:        cmd,
		Env:        env,
		User:       s.cfg.User,
		WorkingDir: workdir,
		// Tty stays off so logs arrive as a demuxable stream.
		Tty: false,
	}

	netMode := "none"
	if opts.Network {
		netMode = "bridge"
	}

	hconf := &container.HostConfig{
		Binds:       []string{s.cfg.ProjectRoot + ":" + Workspace + ":ro"},
		NetworkMode: container.NetworkMode(netMode),
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Tmpfs: map[string]string{
			"/tmp":          "rw,nosuid,size=" + s.cfg.TmpfsSize,
			"/home/sandbox": "rw,nosuid,size=" + s.cfg.HomeTmpfsSize,
		},
		Resources: container.Resources{
			Memory:   s.cfg.Memory,
			NanoCPUs: int64(s.cfg.CPUs * 1e9),
		},
	}

	if len(opts.Ports) > 0 {
		if !opts.Network {
			return nil, nil, faults.New(faults.ToolInputInvalid, "port publishing requires network access")
		}
		exposed, bindings, err := portMappings(opts.Ports)
		if err != nil {
			return nil, nil, err
		}
		cconf.ExposedPorts = exposed
		hconf.PortBindings = bindings
	}

	return cconf, hconf, nil
}

func portMappings(specs []string) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, spec := range specs {
		mappings, err := nat.ParsePortSpec(spec)
		if err != nil {
			return nil, nil, faults.Wrap(faults.ToolInputInvalid, fmt.Sprintf("bad port spec %q", spec), err)
		}
		for _, m := range mappings {
			exposed[m.Port] = struct{}{}
			bindings[m.Port] = append(bindings[m.Port], m.Binding)
		}
	}
	return exposed, bindings, nil
}

func (s *Sandbox) baseEnv() []string {
	env := []string{"HOME=/home/sandbox", "TMPDIR=/tmp", "LANG=C.UTF-8"}
	for _, k := range sortedKeys(s.cfg.Env) {
		env = append(env, k+"="+s.cfg.Env[k])
	}
	return env
}

var proxyVars = map[string]struct{}{
	"http_proxy":  {},
	"https_proxy": {},
	"ftp_proxy":   {},
	"all_proxy":   {},
	"no_proxy":    {},
}

func scrubProxyEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if _, isProxy := proxyVars[strings.ToLower(name)]; isProxy {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, override := extra[name]; override {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range sortedKeys(extra) {
		out = append(out, k+"="+extra[k])
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// collectOutput fetches and demuxes container logs. Uses a fresh context;
// the run context may already be past its deadline.
func (s *Sandbox) collectOutput(id string) (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logs, err := s.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		s.log.Warn("container logs unavailable", "container_id", shortID(id), "error", err)
		return "", ""
	}
	defer logs.Close()

	outBuf := cappedBuffer{limit: maxStreamBytes}
	errBuf := cappedBuffer{limit: maxStreamBytes}
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, logs); err != nil {
		s.log.Warn("log demux failed", "container_id", shortID(id), "error", err)
	}
	return outBuf.String(), errBuf.String()
}

func (s *Sandbox) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.api.ContainerKill(ctx, id, "KILL"); err != nil {
		s.log.Warn("container kill failed", "container_id", shortID(id), "error", err)
	}
}

func (s *Sandbox) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := s.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil {
		s.log.Warn("container remove failed", "container_id", shortID(id), "error", err)
	}
}

// cappedBuffer stores at most limit bytes and counts the rest. Write never
// errors so stdcopy keeps draining the stream.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.dropped += n
		return n, nil
	}
	if n > room {
		b.dropped += n - room
		p = p[:room]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	if b.dropped > 0 {
		return b.buf.String() + fmt.Sprintf("\n[%d bytes dropped]", b.dropped)
	}
	return b.buf.String()
}
