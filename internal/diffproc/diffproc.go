// Package diffproc turns a unified-diff string into context-bearing chunks
// the LLM Client can review.
package diffproc

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/forgehook/reviewbot/internal/domain"
)

// DefaultContextLines is the processor's own default, overridden by the
// orchestrator's C=10.
const DefaultContextLines = 20

// MaxChunkLines caps the rendered hunk text; the tail is truncated with a
// warning marker when exceeded.
const MaxChunkLines = 100

var (
	fileHeaderPattern = regexp.MustCompile(`(?m)^diff --git\s+(\S+)\s+(\S+)\s*$`)
	oldPathPattern    = regexp.MustCompile(`(?m)^--- (?:(\S+))?$`)
	newPathPattern    = regexp.MustCompile(`(?m)^\+\+\+ (?:(\S+))?$`)
	hunkHeaderPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
)

var languageByExt = map[string]string{
	".ts": "ts", ".tsx": "tsx",
	".js": "js", ".jsx": "jsx",
	".py": "py", ".java": "java", ".go": "go", ".rs": "rs",
	".cpp": "cpp", ".cc": "cpp", ".cxx": "cpp", ".c": "c",
	".cs": "cs", ".rb": "rb", ".php": "php", ".swift": "swift",
	".kt": "kt", ".sql": "sql", ".sh": "sh",
	".yaml": "yaml", ".yml": "yaml", ".json": "json", ".md": "md",
}

// DetectLanguage maps a file extension to a known language tag, or
// "unknown" when no entry matches.
func DetectLanguage(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return "unknown"
	}
	if lang, ok := languageByExt[strings.ToLower(filename[idx:])]; ok {
		return lang
	}
	return "unknown"
}

type diffLine struct {
	kind    byte // ' ', '+', '-'
	text    string
	oldLine int
	newLine int
}

// Process parses a unified-diff string and returns one chunk per hunk,
// across every non-binary, non-deleted file in the diff. contextLines sets
// C, the number of unchanged lines of context retained around each run of
// additions.
func Process(fullDiff string, contextLines int) []domain.DiffChunk {
	if contextLines <= 0 {
		contextLines = DefaultContextLines
	}

	var chunks []domain.DiffChunk
	for _, file := range splitFiles(fullDiff) {
		if file.binary || file.deleted {
			continue
		}
		for _, hunk := range parseHunks(file.body) {
			chunk, ok := buildChunk(file, hunk, contextLines)
			if ok {
				chunks = append(chunks, chunk)
			}
		}
	}
	return chunks
}

type fileDiff struct {
	oldPath string
	newPath string
	body    string
	binary  bool
	deleted bool
}

func splitFiles(fullDiff string) []fileDiff {
	matches := fileHeaderPattern.FindAllStringSubmatchIndex(fullDiff, -1)
	if len(matches) == 0 {
		return nil
	}

	var files []fileDiff
	for i, m := range matches {
		start := m[0]
		end := len(fullDiff)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		section := fullDiff[start:end]

		oldPath := domain.NormalizePath(fullDiff[m[2]:m[3]])
		newPath := domain.NormalizePath(fullDiff[m[4]:m[5]])

		if loc := oldPathPattern.FindStringSubmatch(section); loc != nil && loc[1] != "" && loc[1] != "/dev/null" {
			oldPath = domain.NormalizePath(loc[1])
		}
		if loc := newPathPattern.FindStringSubmatch(section); loc != nil && loc[1] != "" && loc[1] != "/dev/null" {
			newPath = domain.NormalizePath(loc[1])
		}

		files = append(files, fileDiff{
			oldPath: oldPath,
			newPath: newPath,
			body:    section,
			binary:  strings.Contains(section, "Binary files"),
			deleted: strings.Contains(section, "deleted file mode"),
		})
	}
	return files
}

type hunk struct {
	oldStart int
	newStart int
	lines    []diffLine
}

func parseHunks(content string) []hunk {
	raw := strings.Split(content, "\n")

	var hunks []hunk
	var cur *hunk
	oldLine, newLine := 0, 0

	for _, line := range raw {
		if m := hunkHeaderPattern.FindStringSubmatch(line); m != nil {
			if cur != nil {
				hunks = append(hunks, *cur)
			}
			oldStart, _ := strconv.Atoi(m[1])
			newStart, _ := strconv.Atoi(m[3])
			cur = &hunk{oldStart: oldStart, newStart: newStart}
			oldLine, newLine = oldStart, newStart
			continue
		}
		if cur == nil {
			continue
		}
		if line == "" {
			continue
		}
		switch line[0] {
		case '+':
			cur.lines = append(cur.lines, diffLine{kind: '+', text: line, newLine: newLine})
			newLine++
		case '-':
			cur.lines = append(cur.lines, diffLine{kind: '-', text: line, oldLine: oldLine})
			oldLine++
		case ' ', '\\':
			cur.lines = append(cur.lines, diffLine{kind: ' ', text: line, oldLine: oldLine, newLine: newLine})
			oldLine++
			newLine++
		default:
			// Tolerate stray lines (e.g. "No newline at end of file" markers
			// without a leading backslash) by treating them as context.
			cur.lines = append(cur.lines, diffLine{kind: ' ', text: line, oldLine: oldLine, newLine: newLine})
		}
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}
	return hunks
}

// buildChunk walks a hunk's lines in order and emits the changed lines
// together with up to contextLines of unchanged context before and after
// each run of additions, per spec §4.3.
func buildChunk(file fileDiff, h hunk, contextLines int) (domain.DiffChunk, bool) {
	n := len(h.lines)
	emitted := make([]bool, n)
	additions, deletions := 0, 0
	var changedLines []int

	for i, l := range h.lines {
		if l.kind == '+' {
			additions++
			changedLines = append(changedLines, l.newLine)
		} else if l.kind == '-' {
			deletions++
		}
		if l.kind == '+' || l.kind == '-' {
			emitted[i] = true
			if l.kind == '-' {
				continue
			}

			// Up to C preceding unchanged lines not yet emitted.
			for j := i - 1; j >= 0 && i-j <= contextLines; j-- {
				if h.lines[j].kind != ' ' {
					break
				}
				emitted[j] = true
			}
			// Up to C following unchanged lines, halting at the next change.
			for j := i + 1; j < n && j-i <= contextLines; j++ {
				if h.lines[j].kind != ' ' {
					break
				}
				emitted[j] = true
			}
		}
	}

	if additions == 0 && deletions == 0 {
		return domain.DiffChunk{}, false
	}

	var rendered []string
	for i, l := range h.lines {
		if emitted[i] {
			rendered = append(rendered, l.text)
		}
	}

	truncated := false
	if len(rendered) > MaxChunkLines {
		rendered = rendered[:MaxChunkLines]
		truncated = true
	}
	text := strings.Join(rendered, "\n")
	if truncated {
		text += "\n[... TRUNCATED: hunk exceeds 100-line cap ...]"
	}

	filename := file.newPath
	if filename == "" {
		filename = file.oldPath
	}

	return domain.DiffChunk{
		Filename:     filename,
		OldPath:      file.oldPath,
		Language:     DetectLanguage(filename),
		Hunks:        text,
		Additions:    additions,
		Deletions:    deletions,
		ChangedLines: changedLines,
	}, true
}
