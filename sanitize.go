package html2pdf

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer removes active content from untrusted markup before it reaches
// a rendering context. Implementations must be pure and total.
//
// Sanitizing is a secondary control: the request allow-list installed by the
// Sandbox is the security boundary.
type Sanitizer interface {
	Sanitize(raw string) string
}

// Compile-time interface checks.
var (
	_ Sanitizer = PatternSanitizer{}
	_ Sanitizer = (*PolicySanitizer)(nil)
)

// Sanitizer modes accepted by NewSanitizer.
const (
	SanitizerPattern = "pattern"
	SanitizerPolicy  = "policy"
)

var (
	scriptBlockPattern  = regexp.MustCompile(`(?is)<script\b.*?</script\s*>`)
	eventHandlerPattern = regexp.MustCompile(`(?i)(^|[\s"'/])on[a-z]+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]*)`)
	dangerousURIPattern = regexp.MustCompile(`(?i)(?:javascript|vbscript|data)\s*:`)
	whitespacePattern   = regexp.MustCompile(`\s+`)
)

// PatternSanitizer is a textual filter. It strips inline script blocks,
// inline event-handler attributes and javascript:, vbscript: and data: URI
// schemes, then collapses whitespace.
//
// Known limits: obfuscated or malformed markup can evade the patterns, and
// stripping data: breaks inline images.
type PatternSanitizer struct{}

// Sanitize applies the filter until the output stops changing, so that
// removals that splice a new match together are caught too. The loop ends:
// past the first pass whitespace is already normalized, so any pass that
// changes the text makes it strictly shorter.
func (PatternSanitizer) Sanitize(raw string) string {
	out := sanitizePass(raw)
	for {
		next := sanitizePass(out)
		if next == out {
			return out
		}
		out = next
	}
}

func sanitizePass(s string) string {
	s = scriptBlockPattern.ReplaceAllString(s, "")
	s = eventHandlerPattern.ReplaceAllString(s, "${1}")
	s = dangerousURIPattern.ReplaceAllString(s, "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// PolicySanitizer parses the markup and keeps only allow-listed elements and
// attributes. Styling is preserved so documents still print as designed.
type PolicySanitizer struct {
	policy *bluemonday.Policy
}

// NewPolicySanitizer builds a PolicySanitizer on top of the bluemonday UGC
// policy with inline styles and style sheets allowed.
func NewPolicySanitizer() *PolicySanitizer {
	p := bluemonday.UGCPolicy()
	p.AllowStyling()
	p.AllowAttrs("style").Globally()
	p.AllowElements("html", "head", "body", "title", "header", "footer", "section", "article", "main", "nav")
	p.AllowStandardURLs()
	p.AllowURLSchemes("http", "https")
	return &PolicySanitizer{policy: p}
}

// Sanitize returns the policy-filtered markup with whitespace collapsed.
func (s *PolicySanitizer) Sanitize(raw string) string {
	clean := s.policy.Sanitize(raw)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(clean, " "))
}

// NewSanitizer returns the sanitizer registered under mode. An empty mode
// selects the pattern sanitizer.
func NewSanitizer(mode string) (Sanitizer, bool) {
	switch strings.ToLower(mode) {
	case "", SanitizerPattern:
		return PatternSanitizer{}, true
	case SanitizerPolicy:
		return NewPolicySanitizer(), true
	}
	return nil, false
}
