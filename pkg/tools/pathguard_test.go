package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/faults"
)

func newTestGuard(t *testing.T) (*PathGuard, string) {
	t.Helper()
	root := t.TempDir()
	// TempDir may sit behind a symlink on some platforms; resolve so path
	// comparisons line up with the guard's resolved root.
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	guard, err := NewPathGuard(resolved, GuardConfig{})
	require.NoError(t, err)
	return guard, resolved
}

func TestPathGuardRejectsTraversal(t *testing.T) {
	guard, _ := newTestGuard(t)

	tests := []struct {
		name string
		path string
	}{
		{"parent_reference", "../../etc/passwd"},
		{"embedded_parent", "src/../../secret"},
		{"url_encoded_dot", "%2e%2e/etc/passwd"},
		{"url_encoded_slash", "src%2f..%2fsecret"},
		{"home_expansion", "~/.ssh/id_rsa"},
		{"env_substitution", "$HOME/.aws/credentials"},
		{"absolute", "/etc/passwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := guard.Validate(tt.path)
			require.Error(t, err)
			assert.True(t, faults.IsKind(err, faults.ValidationPathTraversal), "got %v", err)
		})
	}
}

func TestPathGuardAcceptsProjectPaths(t *testing.T) {
	guard, root := newTestGuard(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "app.py"), []byte("x = 1\n"), 0o644))

	abs, err := guard.Validate("src/app.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "app.py"), abs)

	abs, err = guard.Validate(".")
	require.NoError(t, err)
	assert.Equal(t, root, abs)
}

func TestPathGuardRejectsEmptyAndNul(t *testing.T) {
	guard, _ := newTestGuard(t)

	_, err := guard.Validate("   ")
	assert.True(t, faults.IsKind(err, faults.ToolInputInvalid))

	_, err = guard.Validate("a\x00b")
	assert.True(t, faults.IsKind(err, faults.ToolInputInvalid))
}

func TestPathGuardSymlinkEscape(t *testing.T) {
	guard, root := newTestGuard(t)

	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "link.txt")))

	_, err := guard.Validate("link.txt")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ValidationPathTraversal), "got %v", err)
}

func TestPathGuardBlockedExtensions(t *testing.T) {
	guard, root := newTestGuard(t)
	for _, name := range []string{"server.pem", "app.exe", ".env"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env.example"), []byte("KEY=value"), 0o644))

	for _, name := range []string{"server.pem", "app.exe", ".env"} {
		_, err := guard.Validate(name)
		require.Error(t, err, name)
		assert.True(t, faults.IsKind(err, faults.ToolPermission), "%s: got %v", name, err)
	}

	// The example file is documentation, not a secret.
	_, err := guard.Validate(".env.example")
	assert.NoError(t, err)
}

func TestPathGuardFileSizeCap(t *testing.T) {
	root := t.TempDir()
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	guard, err := NewPathGuard(resolved, GuardConfig{MaxFileSize: 16})
	require.NoError(t, err)

	small := filepath.Join(resolved, "small.txt")
	big := filepath.Join(resolved, "big.txt")
	require.NoError(t, os.WriteFile(small, []byte("tiny"), 0o644))
	require.NoError(t, os.WriteFile(big, make([]byte, 64), 0o644))

	_, err = guard.CheckFileSize(small)
	assert.NoError(t, err)

	_, err = guard.CheckFileSize(big)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ValidationFileSize))

	assert.True(t, guard.WithinSizeCap(small))
	assert.False(t, guard.WithinSizeCap(big))
}

func TestPathGuardMissingRoot(t *testing.T) {
	_, err := NewPathGuard(filepath.Join(t.TempDir(), "nope"), GuardConfig{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ValidationInput))
}
