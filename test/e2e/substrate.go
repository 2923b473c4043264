package e2e

import (
	"context"
	"sync"

	"github.com/argus-audit/argus/pkg/sandbox"
)

// RecordingSubstrate satisfies audit.Substrate without Docker. Every
// command succeeds with empty scanner output and is recorded for
// assertions.
type RecordingSubstrate struct {
	mu       sync.Mutex
	commands []string
	probes   []sandbox.VerifyProbe
}

func (f *RecordingSubstrate) ExecuteCommand(ctx context.Context, command string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()
	return &sandbox.ExecResult{Success: true, Stdout: "[]"}, nil
}

func (f *RecordingSubstrate) ExecuteHTTPRequest(ctx context.Context, req sandbox.HTTPRequest) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{Success: true, Stdout: "HTTP/1.1 200 OK"}, nil
}

func (f *RecordingSubstrate) RunCode(ctx context.Context, language, source string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{Success: true, Stdout: "ok"}, nil
}

func (f *RecordingSubstrate) VerifyVulnerability(ctx context.Context, probe sandbox.VerifyProbe) (*sandbox.VerifyResult, error) {
	f.mu.Lock()
	f.probes = append(f.probes, probe)
	f.mu.Unlock()
	return &sandbox.VerifyResult{Verified: true, Confidence: "medium", Evidence: []string{"probe reproduced"}}, nil
}

func (f *RecordingSubstrate) ResolveScanPath(target string) (string, string, error) {
	return "/workspace", target, nil
}

// Commands returns a snapshot of every sandbox command executed so far.
func (f *RecordingSubstrate) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

// Probes returns a snapshot of the verification probes run so far.
func (f *RecordingSubstrate) Probes() []sandbox.VerifyProbe {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sandbox.VerifyProbe, len(f.probes))
	copy(out, f.probes)
	return out
}
