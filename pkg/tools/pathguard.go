package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/argus-audit/argus/pkg/faults"
)

// DefaultMaxFileSize caps single-file reads. Anything bigger than this is
// generated output or a binary blob, not auditable source.
const DefaultMaxFileSize = 1 << 20 // 1 MiB

// defaultBlockedExtensions covers executables and private key material. The
// model reasons about source; it never needs raw binaries or credentials.
var defaultBlockedExtensions = []string{
	".exe", ".dll", ".so", ".dylib", ".bin", ".o", ".a", ".class",
	".pem", ".key", ".p12", ".pfx", ".der", ".jks", ".keystore",
}

// GuardConfig tunes a PathGuard. Zero values get defaults.
type GuardConfig struct {
	// AllowAbsolute permits absolute argument paths and lifts the
	// containment check, for surfaces addressing sandbox mount points.
	AllowAbsolute bool
	// MaxFileSize caps files in bytes (default 1 MiB).
	MaxFileSize int64
	// BlockedExtensions replaces the default blocked set when non-empty.
	BlockedExtensions []string
}

// PathGuard validates every filesystem-facing tool argument against one
// project root. All checks happen before any filesystem access on the
// argument path.
type PathGuard struct {
	root          string // absolute, symlink-resolved
	allowAbsolute bool
	maxFileSize   int64
	blockedExts   map[string]bool
}

// NewPathGuard builds a guard rooted at the project directory. The root must
// exist and be a directory.
func NewPathGuard(root string, cfg GuardConfig) (*PathGuard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, faults.Wrap(faults.ValidationInput, "resolving project root", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, faults.Wrap(faults.ValidationInput, "project root does not exist", err)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return nil, faults.Newf(faults.ValidationInput, "project root %q is not a directory", root)
	}

	size := cfg.MaxFileSize
	if size <= 0 {
		size = DefaultMaxFileSize
	}
	exts := cfg.BlockedExtensions
	if len(exts) == 0 {
		exts = defaultBlockedExtensions
	}
	blocked := make(map[string]bool, len(exts))
	for _, ext := range exts {
		blocked[strings.ToLower(ext)] = true
	}

	return &PathGuard{
		root:          resolved,
		allowAbsolute: cfg.AllowAbsolute,
		maxFileSize:   size,
		blockedExts:   blocked,
	}, nil
}

// Root returns the resolved project root.
func (g *PathGuard) Root() string { return g.root }

// MaxFileSize returns the per-file byte cap.
func (g *PathGuard) MaxFileSize() int64 { return g.maxFileSize }

// Validate checks one path argument and returns the cleaned absolute path
// inside the project root. Traversal patterns are rejected on the raw
// argument before any cleaning, because cleaning is exactly what an encoded
// traversal is hoping for.
func (g *PathGuard) Validate(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", faults.New(faults.ToolInputInvalid, "empty path")
	}
	if strings.ContainsRune(p, 0) {
		return "", faults.New(faults.ToolInputInvalid, "path contains NUL byte")
	}

	lower := strings.ToLower(p)
	switch {
	case strings.Contains(p, ".."):
		return "", faults.Newf(faults.ValidationPathTraversal, "path %q contains a parent reference", p)
	case strings.Contains(lower, "%2e") || strings.Contains(lower, "%2f") || strings.Contains(lower, "%5c"):
		return "", faults.Newf(faults.ValidationPathTraversal, "path %q contains URL-encoded separators", p)
	case strings.Contains(p, "~"):
		return "", faults.Newf(faults.ValidationPathTraversal, "path %q contains home-directory expansion", p)
	case strings.Contains(p, "$"):
		return "", faults.Newf(faults.ValidationPathTraversal, "path %q contains environment substitution", p)
	}

	if filepath.IsAbs(p) && !g.allowAbsolute {
		return "", faults.Newf(faults.ValidationPathTraversal, "absolute path %q is not permitted", p)
	}

	abs := filepath.Join(g.root, filepath.Clean(p))
	if filepath.IsAbs(p) && g.allowAbsolute {
		abs = filepath.Clean(p)
	}
	if !g.contains(abs) {
		return "", faults.Newf(faults.ValidationPathTraversal, "path %q escapes the project root", p)
	}

	// A symlink inside the root may still point outside it; resolve and
	// re-check. Nonexistent targets pass here and fail at open time.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		if !g.contains(resolved) {
			return "", faults.Newf(faults.ValidationPathTraversal, "path %q resolves outside the project root", p)
		}
		abs = resolved
	}

	if err := g.checkExtension(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// CheckFileSize stats the file and enforces the per-file cap.
func (g *PathGuard) CheckFileSize(abs string) (int64, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return 0, faults.Wrap(faults.ToolExecution, "stat failed", err)
	}
	if info.IsDir() {
		return 0, faults.Newf(faults.ToolInputInvalid, "%q is a directory", abs)
	}
	if info.Size() > g.maxFileSize {
		return info.Size(), faults.Newf(faults.ValidationFileSize,
			"file is %d bytes, limit is %d", info.Size(), g.maxFileSize)
	}
	return info.Size(), nil
}

// WithinSizeCap reports whether the file at abs fits the cap without
// returning an error, for walkers that skip rather than fail.
func (g *PathGuard) WithinSizeCap(abs string) bool {
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir() && info.Size() <= g.maxFileSize
}

func (g *PathGuard) contains(abs string) bool {
	if abs == g.root {
		return true
	}
	if g.allowAbsolute {
		return true
	}
	return strings.HasPrefix(abs, g.root+string(filepath.Separator))
}

func (g *PathGuard) checkExtension(abs string) error {
	base := strings.ToLower(filepath.Base(abs))
	if base == ".env" {
		// .env.example and friends are fine; the real file holds secrets.
		return faults.New(faults.ToolPermission, "reading .env files is not permitted")
	}
	if ext := strings.ToLower(filepath.Ext(abs)); g.blockedExts[ext] {
		return faults.Newf(faults.ToolPermission, "file extension %q is blocked", ext)
	}
	return nil
}
