// Package importscan extracts import-like declarations from the prefix of
// a file, per a per-language regex family.
package importscan

import (
	"regexp"
	"strings"
)

const (
	maxScanLines        = 50
	maxNonMatchingLines = 3
)

type langRules struct {
	patterns []*regexp.Regexp
}

var (
	tsRules = langRules{patterns: []*regexp.Regexp{
		regexp.MustCompile(`^\s*import\b`),
		regexp.MustCompile(`^\s*export\s*\{`),
		regexp.MustCompile(`\bfrom\s+["']`),
		regexp.MustCompile(`^\s*const\s+\w+\s*=\s*require\(`),
		regexp.MustCompile(`^\s*type\s*\{`),
	}}
	pyRules = langRules{patterns: []*regexp.Regexp{
		regexp.MustCompile(`^\s*import\b`),
		regexp.MustCompile(`^\s*from\s+\S+\s+import\b`),
	}}
	javaRules = langRules{patterns: []*regexp.Regexp{
		regexp.MustCompile(`^\s*import\b`),
		regexp.MustCompile(`^\s*package\b`),
	}}
	goRules = langRules{patterns: []*regexp.Regexp{
		regexp.MustCompile(`^\s*import\s+"`),
		regexp.MustCompile(`^\s*import\s*\(`),
	}}
	rsRules = langRules{patterns: []*regexp.Regexp{
		regexp.MustCompile(`^\s*use\b`),
	}}
	phpRules = langRules{patterns: []*regexp.Regexp{
		regexp.MustCompile(`^\s*use\b`),
		regexp.MustCompile(`^\s*require\b`),
		regexp.MustCompile(`^\s*include\b`),
	}}
)

var rulesByLanguage = map[string]langRules{
	"ts": tsRules, "tsx": tsRules, "js": tsRules, "jsx": tsRules,
	"py":   pyRules,
	"java": javaRules,
	"go":   goRules,
	"rs":   rsRules,
	"php":  phpRules,
}

// Extract returns, in order, the import-like lines found in the prefix of
// lines (scanning at most the first 50 lines), preserving each line's
// original indentation. Scanning halts after 3 consecutive non-blank,
// non-comment, non-matching lines.
func Extract(lines []string, language string) []string {
	rules, ok := rulesByLanguage[language]
	if !ok {
		rules = tsRules
	}

	limit := len(lines)
	if limit > maxScanLines {
		limit = maxScanLines
	}

	var imports []string
	consecutiveMisses := 0

	for i := 0; i < limit; i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || isCommentStart(trimmed) {
			continue
		}

		if matchesAny(rules, line) {
			imports = append(imports, line)
			consecutiveMisses = 0
			continue
		}

		consecutiveMisses++
		if consecutiveMisses >= maxNonMatchingLines {
			break
		}
	}

	return imports
}

func isCommentStart(trimmed string) bool {
	switch {
	case strings.HasPrefix(trimmed, "//"):
		return true
	case strings.HasPrefix(trimmed, "/*"):
		return true
	case strings.HasPrefix(trimmed, "*"):
		return true
	case strings.HasPrefix(trimmed, "#"):
		return true
	}
	return false
}

func matchesAny(rules langRules, line string) bool {
	for _, p := range rules.patterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}
