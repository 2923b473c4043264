package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/faults"
)

func TestResolveScanPath(t *testing.T) {
	s := newTestSandbox(t, &fakeDaemon{})
	root := s.ProjectRoot()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))

	tests := []struct {
		name     string
		target   string
		want     string
		wantWarn bool
	}{
		{name: "empty means whole workspace", target: "", want: "."},
		{name: "dot passes through", target: ".", want: "."},
		{name: "dot slash passes through", target: "./", want: "."},
		{name: "project dir name rewritten", target: filepath.Base(root), want: "."},
		{name: "existing subdir kept", target: "src", want: "src"},
		{name: "dot slash prefix stripped", target: "./src", want: "src"},
		{name: "missing path falls back", target: "made_up_dir", want: ".", wantWarn: true},
		{name: "escape falls back", target: "../outside", want: ".", wantWarn: true},
		{name: "absolute inside root relativized", target: filepath.Join(root, "src"), want: "src"},
		{name: "absolute outside falls back", target: "/etc", want: ".", wantWarn: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, warn, err := s.ResolveScanPath(tc.target)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			if tc.wantWarn {
				assert.NotEmpty(t, warn)
			} else {
				assert.Empty(t, warn)
			}
		})
	}
}

func TestResolveScanPathMissingRoot(t *testing.T) {
	s := newTestSandbox(t, &fakeDaemon{})
	require.NoError(t, os.RemoveAll(s.ProjectRoot()))

	_, _, err := s.ResolveScanPath("src")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ToolInputInvalid))
}
