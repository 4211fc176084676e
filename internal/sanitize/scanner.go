// Package sanitize scrubs raw user text and scores it for injection threats.
package sanitize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/af-corp/aegis-orchestrator/internal/config"
	"github.com/af-corp/aegis-orchestrator/internal/types"
)

// maxPasses bounds the fixpoint loop in Sanitize. Every pass either shrinks
// the text or leaves it unchanged, so the bound is never reached in practice.
const maxPasses = 32

var (
	scriptBlock = regexp.MustCompile(`(?is)<\s*script\b[^>]*>.*?<\s*/\s*script\s*>`)
	htmlComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	// markupTag matches a tag name followed only by attribute-like tokens, so
	// comparisons such as "a <b 100 és c> 50" survive.
	markupTag     = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9-]*(?:\s+[a-zA-Z_:][-a-zA-Z0-9_:.]*(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'>]+))?)*\s*/?>`)
	scriptScheme  = regexp.MustCompile(`(?i)\b(java|vb)script\s*:`)
	eventHandler  = regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	sqlComment    = regexp.MustCompile(`;\s*--`)
	sqlBlockNotes = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// ThreatReport is the outcome of DetectThreats.
type ThreatReport struct {
	RiskLevel types.RiskLevel
	Matches   []types.PatternMatch
}

// Scanner sanitizes text and detects threat patterns.
type Scanner struct {
	rules []Rule
	cfg   func() config.SanitizerConfig
}

// NewScanner creates a scanner with the default rule set.
func NewScanner(cfg func() config.SanitizerConfig) *Scanner {
	return NewScannerWithRules(cfg, DefaultRules())
}

// NewScannerWithRules creates a scanner with a custom rule set. Rules are
// evaluated in slice order.
func NewScannerWithRules(cfg func() config.SanitizerConfig, rules []Rule) *Scanner {
	return &Scanner{rules: rules, cfg: cfg}
}

func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// DetectThreats runs every rule against text. Matches are ordered by severity,
// highest first, then by position. Empty text yields RiskNone.
func (s *Scanner) DetectThreats(text string) ThreatReport {
	report := ThreatReport{RiskLevel: types.RiskNone}
	if strings.TrimSpace(text) == "" || !s.Enabled() {
		return report
	}

	for _, r := range s.rules {
		for _, loc := range r.Regex.FindAllStringIndex(text, -1) {
			report.Matches = append(report.Matches, types.PatternMatch{
				Class:    r.Class,
				Rule:     r.Name,
				Severity: r.Severity,
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}
	sort.SliceStable(report.Matches, func(i, j int) bool {
		a, b := report.Matches[i], report.Matches[j]
		if a.Severity.Level() != b.Severity.Level() {
			return a.Severity.Level() > b.Severity.Level()
		}
		return a.Start < b.Start
	})
	if len(report.Matches) > 0 {
		report.RiskLevel = report.Matches[0].Severity
	}
	return report
}

// Sanitize returns text with dangerous markup and SQL meta sequences removed,
// normalized to NFC and capped at the configured length. The result is a
// fixpoint: sanitizing it again returns it unchanged.
func (s *Scanner) Sanitize(raw string) (string, bool) {
	if !s.Enabled() {
		return raw, false
	}
	maxRunes := s.cfg().MaxInputRunes

	clean := raw
	for range maxPasses {
		next := scrub(clean, maxRunes)
		if next == clean {
			break
		}
		clean = next
	}
	return clean, clean != raw
}

// Assess sanitizes raw and scores it. Detection runs on the raw text so that
// patterns removed by sanitization are still reported.
func (s *Scanner) Assess(raw string) types.SecurityContext {
	report := s.DetectThreats(raw)
	clean, changed := s.Sanitize(raw)
	return types.SecurityContext{
		RiskLevel:     report.RiskLevel,
		Matches:       report.Matches,
		SanitizedText: clean,
		InputModified: changed,
	}
}

// ShouldBlock reports whether a turn at the given risk level is rejected.
// Blocking is disabled when no threshold is configured.
func (s *Scanner) ShouldBlock(level types.RiskLevel) bool {
	threshold, ok := types.ParseRiskLevel(s.cfg().BlockRiskLevel)
	if !ok || threshold == types.RiskNone {
		return false
	}
	return level.AtLeast(threshold)
}

func scrub(text string, maxRunes int) string {
	text = norm.NFC.String(text)
	text = stripControl(text)
	text = scriptBlock.ReplaceAllString(text, "")
	text = htmlComment.ReplaceAllString(text, "")
	text = markupTag.ReplaceAllString(text, "")
	text = scriptScheme.ReplaceAllString(text, "")
	text = eventHandler.ReplaceAllString(text, "")
	text = sqlComment.ReplaceAllString(text, "")
	text = sqlBlockNotes.ReplaceAllString(text, "")
	text = truncateRunes(text, maxRunes)
	return strings.TrimSpace(text)
}

func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}

func truncateRunes(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return text
	}
	n := 0
	for i := range text {
		if n == maxRunes {
			return text[:i]
		}
		n++
	}
	return text
}
