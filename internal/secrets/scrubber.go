package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

// Finding describes one detected secret. The secret value itself is never
// carried on the Finding; only its location and a short preview.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	Preview     string `json:"preview"`
}

// Result holds the outcome of a scrub pass.
type Result struct {
	Original      string
	Scrubbed      string
	Findings      []Finding
	TotalFindings int
	ByRule        map[string]int
	Duration      time.Duration
}

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active.
	Enabled bool

	// AllowRegexes are content patterns excluded from detection, e.g.
	// documented example keys in a project's README.
	AllowRegexes []string
}

// scrubber wraps a Gitleaks detector built once at construction.
type scrubber struct {
	enabled  bool
	detector *detect.Detector
}

var _ Scrubber = (*scrubber)(nil)
var _ Scrubber = (*NoopScrubber)(nil)

// New creates a Scrubber with the Gitleaks default ruleset.
func New(cfg Config) (Scrubber, error) {
	if !cfg.Enabled {
		return &NoopScrubber{}, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}

	if len(cfg.AllowRegexes) > 0 {
		allow := &gitleaksConfig.Allowlist{
			Description: "keeperd intake allowlist",
		}
		for _, pattern := range cfg.AllowRegexes {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid allow pattern %q: %w", pattern, err)
			}
			allow.Regexes = append(allow.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		detector.Config.Allowlists = append(detector.Config.Allowlists, allow)
	}

	return &scrubber{enabled: true, detector: detector}, nil
}

// Scrub redacts secrets from the content.
func (s *scrubber) Scrub(content string) *Result {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}

	gitleaksFindings := s.detector.DetectString(content)
	if len(gitleaksFindings) == 0 {
		result.Duration = time.Since(start)
		return result
	}

	// Replace matches last-to-first so earlier columns stay valid.
	sorted := make([]findingPos, 0, len(gitleaksFindings))
	for _, f := range gitleaksFindings {
		sorted = append(sorted, findingPos{
			ruleID:   f.RuleID,
			desc:     f.Description,
			line:     f.StartLine,
			startCol: f.StartColumn,
			endCol:   f.EndColumn,
			secret:   f.Secret,
		})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].line != sorted[j].line {
			return sorted[i].line > sorted[j].line
		}
		return sorted[i].startCol > sorted[j].startCol
	})

	lines := strings.Split(content, "\n")
	for _, f := range sorted {
		preview := previewOf(f.secret, 4)

		result.Findings = append(result.Findings, Finding{
			RuleID:      f.ruleID,
			Description: f.desc,
			Line:        f.line,
			Preview:     preview,
		})
		result.ByRule[f.ruleID]++

		// Gitleaks lines are 1-indexed.
		if f.line < 1 || f.line > len(lines) {
			continue
		}
		line := lines[f.line-1]
		if f.startCol < 0 || f.endCol > len(line) || f.startCol >= f.endCol {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.ruleID, preview)
		lines[f.line-1] = line[:f.startCol] + marker + line[f.endCol:]
	}

	result.Scrubbed = strings.Join(lines, "\n")
	result.TotalFindings = len(result.Findings)
	result.Duration = time.Since(start)
	return result
}

// Check detects secrets without redacting.
func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = result.Original
	return result
}

// IsEnabled returns whether scrubbing is enabled.
func (s *scrubber) IsEnabled() bool {
	return s.enabled
}

type findingPos struct {
	ruleID   string
	desc     string
	line     int
	startCol int
	endCol   int
	secret   string
}

// previewOf returns the first n characters of a secret for the marker.
func previewOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// NoopScrubber passes content through unchanged.
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (n *NoopScrubber) Scrub(content string) *Result {
	return &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}
}

// Check returns content unchanged.
func (n *NoopScrubber) Check(content string) *Result {
	return n.Scrub(content)
}

// IsEnabled returns false.
func (n *NoopScrubber) IsEnabled() bool {
	return false
}
