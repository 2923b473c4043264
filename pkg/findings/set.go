package findings

import (
	"strings"

	"github.com/argus-audit/argus/pkg/models"
)

// descPrefixLen bounds the description prefix used for fuzzy duplicate
// detection.
const descPrefixLen = 40

// Set is an order-preserving collection of findings deduplicated by
// fingerprint, with a fuzzy fallback for records that describe the same
// defect with slightly different coordinates. Not safe for concurrent use;
// the orchestrator serializes merging.
type Set struct {
	items []models.Finding
	index map[string]int
}

// NewSet creates an empty finding set.
func NewSet() *Set {
	return &Set{index: make(map[string]int)}
}

// Add inserts a normalized finding, merging it into an existing entry when
// the fingerprints match exactly or the fuzzy fallback fires. Returns true
// when the finding was merged rather than appended.
func (s *Set) Add(f models.Finding) (merged bool) {
	fp := f.Fingerprint()
	if i, ok := s.index[fp]; ok {
		s.mergeAt(i, &f)
		return true
	}
	for i := range s.items {
		if fuzzyMatch(&s.items[i], &f) {
			s.mergeAt(i, &f)
			return true
		}
	}
	s.items = append(s.items, f)
	s.index[fp] = len(s.items) - 1
	return false
}

// AddAll inserts a batch, returning how many were appended and how many
// merged into existing entries.
func (s *Set) AddAll(fs ...models.Finding) (added, merged int) {
	for _, f := range fs {
		if s.Add(f) {
			merged++
		} else {
			added++
		}
	}
	return added, merged
}

// mergeAt merges src into the item at i and refreshes the index, since the
// merge may fill in coordinates that change the fingerprint.
func (s *Set) mergeAt(i int, src *models.Finding) {
	old := s.items[i].Fingerprint()
	mergeInto(&s.items[i], src)
	if fp := s.items[i].Fingerprint(); fp != old {
		delete(s.index, old)
		s.index[fp] = i
	}
}

// Items returns a copy of the merged findings in insertion order.
func (s *Set) Items() []models.Finding {
	return append([]models.Finding(nil), s.items...)
}

// Len returns the number of distinct findings.
func (s *Set) Len() int { return len(s.items) }

// Merge deduplicates existing against incoming and returns the merged
// slice. Convenience for one-shot callers.
func Merge(existing, incoming []models.Finding) []models.Finding {
	set := NewSet()
	set.AddAll(existing...)
	set.AddAll(incoming...)
	return set.Items()
}

// fuzzyMatch reports whether two findings likely describe the same defect:
// same file, and at least one of same line, overlapping description
// prefix, or same vulnerability type.
func fuzzyMatch(a, b *models.Finding) bool {
	if models.NormalizePath(a.FilePath) != models.NormalizePath(b.FilePath) {
		return false
	}
	if a.LineStart == b.LineStart {
		return true
	}
	if pa, pb := descPrefix(a.Description), descPrefix(b.Description); pa != "" && pb != "" {
		if strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa) {
			return true
		}
	}
	return models.CanonicalVulnType(a.VulnerabilityType) == models.CanonicalVulnType(b.VulnerabilityType)
}

func descPrefix(desc string) string {
	desc = strings.ToLower(strings.TrimSpace(desc))
	if len(desc) > descPrefixLen {
		desc = desc[:descPrefixLen]
	}
	return desc
}

// mergeInto folds src into dst. Verified data wins conflicts, the longer
// title survives, is_verified is promoted when either side holds it, and
// the reported severity never decreases.
func mergeInto(dst, src *models.Finding) {
	if src.IsVerified && !dst.IsVerified {
		// The verified record's populated fields take precedence.
		preferred := *src
		fillMissing(&preferred, dst)
		if len(dst.Title) > len(preferred.Title) {
			preferred.Title = dst.Title
		}
		preferred.Severity = maxSeverity(preferred.Severity, dst.Severity)
		preferred.IsVerified = true
		*dst = preferred
		return
	}
	if len(src.Title) > len(dst.Title) {
		dst.Title = src.Title
	}
	fillMissing(dst, src)
	dst.Severity = maxSeverity(dst.Severity, src.Severity)
	if src.Confidence > dst.Confidence {
		dst.Confidence = src.Confidence
	}
	if src.IsVerified {
		dst.IsVerified = true
		if src.Verdict != "" {
			dst.Verdict = src.Verdict
		}
	}
}

// fillMissing copies src's populated optional fields into dst's gaps.
func fillMissing(dst, src *models.Finding) {
	if dst.Description == "" {
		dst.Description = src.Description
	}
	if dst.FilePath == "" {
		dst.FilePath = src.FilePath
	}
	if dst.LineStart == 0 {
		dst.LineStart = src.LineStart
	}
	if dst.LineEnd == 0 {
		dst.LineEnd = src.LineEnd
	}
	if dst.CodeSnippet == "" {
		dst.CodeSnippet = src.CodeSnippet
	}
	if dst.Source == "" {
		dst.Source = src.Source
	}
	if dst.Sink == "" {
		dst.Sink = src.Sink
	}
	if dst.PoC == "" {
		dst.PoC = src.PoC
	}
	if dst.Impact == "" {
		dst.Impact = src.Impact
	}
	if dst.Recommendation == "" {
		dst.Recommendation = src.Recommendation
	}
	if dst.CWEID == "" {
		dst.CWEID = src.CWEID
	}
	if dst.CVSSScore == 0 {
		dst.CVSSScore = src.CVSSScore
	}
	if dst.Verdict == "" {
		dst.Verdict = src.Verdict
	}
	if dst.DiscoveredBy == "" {
		dst.DiscoveredBy = src.DiscoveredBy
	}
	if dst.Confidence == 0 {
		dst.Confidence = src.Confidence
	}
}

// maxSeverity returns the more severe of a and b.
func maxSeverity(a, b models.Severity) models.Severity {
	ra, aok := models.SeverityOrder[a]
	rb, bok := models.SeverityOrder[b]
	switch {
	case !aok:
		return b
	case !bok:
		return a
	case rb < ra:
		return b
	default:
		return a
	}
}

// Summary groups a finding set for reporting.
type Summary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
	ByType     map[string]int `json:"by_type"`
	Verified   int            `json:"verified"`
}

// Summarize counts findings by severity and vulnerability type.
func Summarize(fs []models.Finding) Summary {
	sum := Summary{
		Total:      len(fs),
		BySeverity: make(map[string]int),
		ByType:     make(map[string]int),
	}
	for i := range fs {
		sum.BySeverity[string(fs[i].Severity)]++
		sum.ByType[fs[i].VulnerabilityType]++
		if fs[i].IsVerified {
			sum.Verified++
		}
	}
	return sum
}
