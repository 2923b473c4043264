package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/argus-audit/argus/pkg/faults"
)

// ResolveScanPath maps a model-supplied scan target onto a path relative
// to the workspace mount. Models routinely pass the project's directory
// name or a path that only exists in their imagination; both degrade to
// scanning the whole workspace. The returned warning is non-empty when a
// fallback happened.
func (s *Sandbox) ResolveScanPath(target string) (string, string, error) {
	if _, err := os.Stat(s.cfg.ProjectRoot); err != nil {
		return "", "", faults.Wrap(faults.ToolInputInvalid, "project root vanished", err)
	}

	target = strings.TrimSpace(target)
	if target == "" || target == "." || target == "./" {
		return ".", "", nil
	}

	// The project's own directory name is a common model mistake for "here".
	if target == filepath.Base(s.cfg.ProjectRoot) {
		return ".", "", nil
	}

	if filepath.IsAbs(target) {
		rel, err := filepath.Rel(s.cfg.ProjectRoot, target)
		if err != nil || strings.HasPrefix(rel, "..") {
			return ".", "absolute path outside the project, scanning whole workspace", nil
		}
		target = rel
	}

	clean := filepath.Clean(strings.TrimPrefix(target, "./"))
	if clean == "." {
		return ".", "", nil
	}
	if strings.HasPrefix(clean, "..") {
		return ".", "path escapes the project, scanning whole workspace", nil
	}

	if _, err := os.Stat(filepath.Join(s.cfg.ProjectRoot, clean)); err != nil {
		return ".", "target " + clean + " does not exist, scanning whole workspace", nil
	}
	return filepath.ToSlash(clean), "", nil
}
