package pii

import "regexp"

// secretPattern pairs a compiled regex with the category name reported for
// its matches. All secret-scanner entities carry a fixed score of 1.0 —
// these are structural, credential-shaped patterns, not probabilistic
// classifications.
type secretPattern struct {
	category string
	re       *regexp.Regexp
}

// secretPatterns is the compiled, immutable set of credential-shaped
// regexes. It is built once at package init and shared read-only across
// every request (see spec §5's resource model).
//
// Confidence scoring is not used here, unlike the PII regex set the
// patterns are modeled on — a secret scanner trades recall for precision:
// it only fires on structurally distinctive shapes (keyword-prefixed
// tokens, vendor prefixes, PEM headers, JWT's three dot-separated
// base64url segments).
var secretPatterns = []secretPattern{
	{"JWT", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`)},
	{"PRIVATE_KEY", regexp.MustCompile(`-----BEGIN[ A-Z]*PRIVATE KEY-----[\s\S]*?-----END[ A-Z]*PRIVATE KEY-----`)},
	{"API_KEY", regexp.MustCompile(`\bsk[-_][A-Za-z0-9_]{6,64}\b`)},
	{"API_KEY", regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"API_KEY", regexp.MustCompile(`\bAIza[A-Za-z0-9_-]{35}\b`)},
	{"API_KEY", regexp.MustCompile(`(?i)(?:api[_-]?key|access[_-]?token)["'\s:=]+([A-Za-z0-9_\-\.]{20,})`)},
	{"GENERIC_SECRET", regexp.MustCompile(`(?i)bearer\s+([A-Za-z0-9_\-\.]{20,})`)},
	{"GENERIC_SECRET", regexp.MustCompile(`(?i)(?:secret|password|passwd|pwd)["'\s:=]+([A-Za-z0-9_\-\.!@#$%^&*]{12,})`)},
	{"GENERIC_SECRET", regexp.MustCompile(`\b[A-Za-z0-9+/]{40,}={0,2}\b`)}, // high-entropy base64 blob
}

// ScanSecrets runs the compiled secret-detection regex set over text and
// returns entities in the same interval shape the PII detector produces,
// so both sources can be merged by the conflict resolver without special
// casing. Matches always carry Score 1.0 and Source SourceScanner.
//
// Group-capturing patterns (keyword + value) report the interval of the
// captured value only, not the keyword prefix, so the masked text reads
// "api_key: [[API_KEY_1]]" rather than masking the keyword itself.
func ScanSecrets(text string) []Entity {
	if text == "" {
		return nil
	}

	var out []Entity
	for _, p := range secretPatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if len(m) >= 4 && m[2] >= 0 && m[3] >= 0 {
				// Pattern has a capture group — report the group's span.
				start, end = m[2], m[3]
			}
			if start >= end {
				continue
			}
			out = append(out, Entity{
				Category: p.category,
				Start:    start,
				End:      end,
				Score:    1.0,
				Source:   SourceScanner,
			})
		}
	}
	return out
}
