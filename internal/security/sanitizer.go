// Package security screens text headed into an LLM prompt for injection
// attempts before it leaves the process, the way the teacher's node handlers
// validate config before Execute rather than trusting it blindly.
package security

import (
	"regexp"
	"strings"
)

// Severity classifies how dangerous a matched pattern is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation records one pattern match found while sanitizing a prompt.
type Violation struct {
	PatternName string
	MatchedText string
	Severity    Severity
	Blocked     bool
}

// Result is what Sanitize returns: the (possibly redacted) text, whether it's
// safe to send to a provider as-is, and every pattern that fired.
type Result struct {
	Sanitized  string
	Safe       bool
	Violations []Violation
}

type pattern struct {
	name     string
	re       *regexp.Regexp
	severity Severity
	block    bool
}

// blockedPatterns mirrors the instruction-override/system-prompt-extraction/
// role-impersonation/jailbreak/encoding/context-manipulation families a
// prompt-injection attempt falls into.
var blockedPatterns = []pattern{
	{"instruction_override", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`), SeverityHigh, true},
	{"forget_instructions", regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|your)\s+(instructions?|prompts?|training)`), SeverityHigh, true},
	{"new_instructions", regexp.MustCompile(`(?i)your\s+new\s+(instructions?|rules?|prompt)\s*(are|is|:)`), SeverityHigh, true},
	{"override_rules", regexp.MustCompile(`(?i)override\s+(your|all|the)?\s*(rules?|restrictions?|limitations?)`), SeverityHigh, true},

	{"system_prompt_reveal", regexp.MustCompile(`(?i)(show|reveal|display|print|output|tell\s+me)\s+(your|the)?\s*system\s*prompt`), SeverityCritical, true},
	{"initial_prompt", regexp.MustCompile(`(?i)(what|show|reveal)\s+(is|are|was)?\s*(your|the)?\s*initial\s*(prompt|instructions?)`), SeverityCritical, true},
	{"repeat_instructions", regexp.MustCompile(`(?i)repeat\s+(your|the|all)?\s*(system|initial|original)?\s*(prompt|instructions?)`), SeverityCritical, true},

	{"role_tags", regexp.MustCompile(`(?i)</?(system|user|assistant|human|ai|bot)>`), SeverityHigh, true},
	{"role_prefix", regexp.MustCompile(`(?im)^(system|assistant|human|ai)\s*:`), SeverityHigh, true},
	{"pretend_role", regexp.MustCompile(`(?i)(pretend|act|behave)\s+(you\s+are|as\s+if|like)\s+(a\s+)?(different|new|another)`), SeverityMedium, false},

	{"dan_jailbreak", regexp.MustCompile(`(?i)\bDAN\b.*\b(mode|enabled?|activated?)\b`), SeverityCritical, true},
	{"developer_mode", regexp.MustCompile(`(?i)(developer|debug|admin)\s+mode\s+(enabled?|on|activated?)`), SeverityCritical, true},
	{"jailbreak_keyword", regexp.MustCompile(`(?i)\b(jailbreak|jailbroken|bypass)\b`), SeverityHigh, true},

	{"base64_injection", regexp.MustCompile(`(?i)base64[:\s]+[A-Za-z0-9+/=]{20,}`), SeverityMedium, false},
	{"unicode_escape", regexp.MustCompile(`\\u[0-9a-fA-F]{4}`), SeverityLow, false},

	{"context_end", regexp.MustCompile(`(?i)\[/?(end|context|conversation)\]`), SeverityMedium, true},
	{"separator_injection", regexp.MustCompile(`-{5,}|={5,}|\*{5,}`), SeverityLow, false},
}

// maxInputLength caps a single sanitize call the way the teacher's compiler
// caps workflow graph size — a ceiling on untrusted input, not a feature.
const maxInputLength = 50000

// Sanitizer screens LLM-bound text for prompt injection before a node's
// Execute hands it to a provider.
type Sanitizer struct {
	patterns   []pattern
	strictMode bool
}

// New returns a Sanitizer using the built-in pattern set. strictMode, when
// true, blocks on any violation rather than only the ones flagged to block.
func New(strictMode bool) *Sanitizer {
	return &Sanitizer{patterns: blockedPatterns, strictMode: strictMode}
}

// Sanitize screens text, redacting any blocked match with "[BLOCKED]" and
// reporting every violation found. Safe is false whenever the text was
// truncated or a high/critical-severity pattern fired.
func (s *Sanitizer) Sanitize(text string) Result {
	if text == "" {
		return Result{Sanitized: "", Safe: true}
	}

	sanitized := text
	safe := true
	var violations []Violation

	if len(text) > maxInputLength {
		sanitized = text[:maxInputLength]
		safe = false
		violations = append(violations, Violation{
			PatternName: "input_too_long",
			MatchedText: "truncated",
			Severity:    SeverityMedium,
			Blocked:     false,
		})
	}

	for _, p := range s.patterns {
		loc := p.re.FindStringIndex(sanitized)
		if loc == nil {
			continue
		}
		matched := sanitized[loc[0]:loc[1]]
		if len(matched) > 100 {
			matched = matched[:100]
		}
		blocked := p.block || s.strictMode
		violations = append(violations, Violation{
			PatternName: p.name,
			MatchedText: matched,
			Severity:    p.severity,
			Blocked:     blocked,
		})
		if blocked {
			sanitized = p.re.ReplaceAllString(sanitized, "[BLOCKED]")
			safe = false
		} else if p.severity == SeverityHigh || p.severity == SeverityCritical {
			safe = false
		}
	}

	return Result{Sanitized: sanitized, Safe: safe, Violations: violations}
}

// IsSafe reports whether text would be blocked, without paying for a full
// redaction pass — used by callers that only need a yes/no gate.
func (s *Sanitizer) IsSafe(text string) bool {
	if len(text) > maxInputLength {
		return false
	}
	for _, p := range s.patterns {
		if (p.block || s.strictMode) && p.re.MatchString(text) {
			return false
		}
	}
	return true
}

// Strip is a convenience wrapper for callers that only want the cleaned
// string, discarding the violation detail.
func (s *Sanitizer) Strip(text string) string {
	return strings.TrimSpace(s.Sanitize(text).Sanitized)
}
