package sms

import "regexp"

// codePatterns are tried in order and the first match wins. Bare digit runs
// deliberately come before the contextual phrase patterns, so a body like
// "482913 is your verification code" resolves via the 6-digit run rather
// than the phrase capture.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(\d{6})\b`),
	regexp.MustCompile(`\b(\d{4})\b`),
	regexp.MustCompile(`\b(\d{8})\b`),
	regexp.MustCompile(`(?i)code[:\s]+(\d{4,8})`),
	regexp.MustCompile(`(?i)(\d{4,8})\s+is your`),
	regexp.MustCompile(`(?i)verify[:\s]+(\d{4,8})`),
}

// ExtractCode scans text for a short numeric verification code. It is pure
// and safe for concurrent use.
func ExtractCode(text string) (string, bool) {
	for _, pattern := range codePatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}
