package masking

import (
	"strings"
)

const envFileMaskerName = "env_file"

// sensitiveEnvMarkers flag an env variable name as secret-bearing.
var sensitiveEnvMarkers = []string{
	"SECRET", "TOKEN", "PASSWORD", "PASSWD", "API_KEY", "APIKEY",
	"PRIVATE_KEY", "CREDENTIAL", "AUTH", "ACCESS_KEY",
}

// EnvFileMasker masks values of secret-bearing assignments in env-file
// style text (KEY=value lines) while leaving the keys readable. It covers
// the common audit case of a file tool reading .env or CI config.
type EnvFileMasker struct{}

func (m *EnvFileMasker) Name() string { return envFileMaskerName }

// AppliesTo looks for an assignment with a sensitive key marker. String
// containment only; parsing happens in Mask.
func (m *EnvFileMasker) AppliesTo(data string) bool {
	if !strings.Contains(data, "=") {
		return false
	}
	upper := strings.ToUpper(data)
	for _, marker := range sensitiveEnvMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// Mask replaces values of sensitive assignments line by line. Lines that
// do not look like assignments pass through untouched.
func (m *EnvFileMasker) Mask(data string) string {
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		eq := strings.Index(trimmed, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:eq])
		// Shell-style "export KEY=..." keeps the prefix.
		exported := strings.TrimPrefix(key, "export ")
		if !isEnvKey(exported) || !isSensitiveEnvKey(exported) {
			continue
		}
		value := strings.TrimSpace(trimmed[eq+1:])
		if value == "" {
			continue
		}
		indent := line[:strings.Index(line, trimmed)]
		lines[i] = indent + key + "=__MASKED_ENV_VALUE__"
	}
	return strings.Join(lines, "\n")
}

func isEnvKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if !(r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func isSensitiveEnvKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range sensitiveEnvMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
