package masking

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
)

// redactedNotice replaces content entirely when masking itself fails.
// Fail-closed: a broken masker must not leak the original text.
const redactedNotice = "[REDACTED: data masking failure, content withheld]"

// DefaultPatternGroup is applied when configuration names no group.
const DefaultPatternGroup = "secrets"

// Config selects which patterns a Service applies.
type Config struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	PatternGroup   string        `yaml:"pattern_group,omitempty" json:"pattern_group,omitempty"`
	CustomPatterns []PatternSpec `yaml:"custom_patterns,omitempty" json:"custom_patterns,omitempty"`
}

// Service applies secret masking to outbound text. Created once at startup;
// thread-safe and stateless aside from compiled patterns.
type Service struct {
	enabled       bool
	regexPatterns []*CompiledPattern
	codeMaskers   []Masker
	log           *slog.Logger
}

// NewService compiles the configured pattern group plus custom patterns.
// All patterns compile eagerly; invalid ones are logged and skipped.
func NewService(cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "masking")
	s := &Service{enabled: cfg.Enabled, log: log}
	if !cfg.Enabled {
		return s
	}

	group := cfg.PatternGroup
	if group == "" {
		group = DefaultPatternGroup
	}
	names, ok := patternGroups[group]
	if !ok {
		log.Warn("unknown masking pattern group, using default",
			"group", group, "default", DefaultPatternGroup)
		group = DefaultPatternGroup
		names = patternGroups[group]
	}

	compiled := compileBuiltinPatterns(log)
	for _, name := range names {
		if cp, ok := compiled[name]; ok {
			s.regexPatterns = append(s.regexPatterns, cp)
		}
	}

	for i, spec := range cfg.CustomPatterns {
		name := fmt.Sprintf("custom:%d", i)
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			log.Error("failed to compile custom masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.regexPatterns = append(s.regexPatterns, &CompiledPattern{
			Name:        name,
			Regex:       re,
			Replacement: spec.Replacement,
			Description: spec.Description,
		})
	}

	for _, maskerName := range codeMaskersByGroup[group] {
		if maskerName == envFileMaskerName {
			s.codeMaskers = append(s.codeMaskers, &EnvFileMasker{})
		}
	}

	log.Info("masking service initialized",
		"group", group,
		"patterns", len(s.regexPatterns),
		"code_maskers", len(s.codeMaskers),
	)
	return s
}

// Enabled reports whether the service masks anything at all.
func (s *Service) Enabled() bool { return s.enabled }

// PatternNames lists the active pattern names, sorted, for introspection.
func (s *Service) PatternNames() []string {
	names := make([]string, 0, len(s.regexPatterns))
	for _, cp := range s.regexPatterns {
		names = append(names, cp.Name)
	}
	sort.Strings(names)
	return names
}

// MaskText applies code-based maskers then the regex sweep. When masking
// panics the whole content is withheld rather than leaked.
func (s *Service) MaskText(text string) (masked string) {
	if !s.enabled || text == "" {
		return text
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("masking panicked, withholding content", "panic", r)
			masked = redactedNotice
		}
	}()

	masked = text
	for _, m := range s.codeMaskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, cp := range s.regexPatterns {
		masked = cp.Regex.ReplaceAllString(masked, cp.Replacement)
	}
	return masked
}

// MaskError redacts an error message for inclusion in results and events.
func (s *Service) MaskError(err error) string {
	if err == nil {
		return ""
	}
	return s.MaskText(err.Error())
}
