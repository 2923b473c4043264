package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// PatternSpec is an uncompiled pattern, as it appears in configuration.
type PatternSpec struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// builtinPatterns are the stock redaction patterns. Custom patterns from
// config are compiled on top under "custom:{index}" keys.
var builtinPatterns = map[string]PatternSpec{
	"api_key": {
		Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
		Replacement: `"api_key": "__MASKED_API_KEY__"`,
		Description: "API keys",
	},
	"password": {
		Pattern:     `(?i)(?:password|pwd|passwd)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
		Replacement: `"password": "__MASKED_PASSWORD__"`,
		Description: "Passwords",
	},
	"token": {
		Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		Replacement: `"token": "__MASKED_TOKEN__"`,
		Description: "Access tokens",
	},
	"bearer_header": {
		Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
		Replacement: `Bearer __MASKED_TOKEN__`,
		Description: "Authorization header bearer tokens",
	},
	"private_key": {
		Pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		Replacement: `"private_key": "__MASKED_PRIVATE_KEY__"`,
		Description: "Private keys",
	},
	"secret_key": {
		Pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		Replacement: `"secret_key": "__MASKED_SECRET_KEY__"`,
		Description: "Secret keys",
	},
	"aws_access_key": {
		Pattern:     `\bAKIA[A-Z0-9]{16}\b`,
		Replacement: `__MASKED_AWS_KEY__`,
		Description: "AWS access key ids",
	},
	"aws_secret_key": {
		Pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
		Replacement: `"aws_secret_access_key": "__MASKED_AWS_SECRET__"`,
		Description: "AWS secret keys",
	},
	"github_token": {
		Pattern:     `\bgh[pousr]_[A-Za-z0-9_]{36,255}\b`,
		Replacement: `__MASKED_GITHUB_TOKEN__`,
		Description: "GitHub tokens",
	},
	"slack_token": {
		Pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
		Replacement: `__MASKED_SLACK_TOKEN__`,
		Description: "Slack tokens",
	},
	"certificate": {
		Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
		Replacement: `__MASKED_CERTIFICATE__`,
		Description: "PEM blocks (certificates and keys)",
	},
	"ssh_key": {
		Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
		Replacement: `__MASKED_SSH_KEY__`,
		Description: "SSH public keys",
	},
	"email": {
		Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
		Replacement: `__MASKED_EMAIL__`,
		Description: "Email addresses",
	},
	"connection_string": {
		Pattern:     `(?i)\b(postgres|postgresql|mysql|mongodb|redis|amqp)://[^:\s]+:([^@\s]+)@`,
		Replacement: `$1://user:__MASKED_PASSWORD__@`,
		Description: "Credentials embedded in connection URLs",
	},
}

// patternGroups name preset pattern sets, from narrow to broad.
var patternGroups = map[string][]string{
	"basic":   {"api_key", "password"},
	"secrets": {"api_key", "password", "token", "bearer_header", "private_key", "secret_key", "connection_string"},
	"security": {
		"api_key", "password", "token", "bearer_header", "private_key", "secret_key",
		"connection_string", "aws_access_key", "aws_secret_key", "github_token",
		"slack_token", "certificate", "ssh_key", "email",
	},
}

// codeMaskersByGroup names the structural maskers each group enables.
var codeMaskersByGroup = map[string][]string{
	"secrets":  {envFileMaskerName},
	"security": {envFileMaskerName},
}

// compileBuiltinPatterns compiles the stock patterns. Invalid patterns are
// logged and skipped so one bad regex cannot disable masking entirely.
func compileBuiltinPatterns(log *slog.Logger) map[string]*CompiledPattern {
	out := make(map[string]*CompiledPattern, len(builtinPatterns))
	for name, spec := range builtinPatterns {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			log.Error("failed to compile built-in masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		out[name] = &CompiledPattern{
			Name:        name,
			Regex:       re,
			Replacement: spec.Replacement,
			Description: spec.Description,
		}
	}
	return out
}
