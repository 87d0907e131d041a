package forge

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func fileOfLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "line" + strconv.Itoa(i+1)
	}
	return strings.Join(lines, "\n")
}

func TestBuildFileContextWindowsAroundTarget(t *testing.T) {
	content := fileOfLines(100)

	fc := buildFileContext(content, "file.go", 50, 10)

	require.Equal(t, 40, fc.StartLineNumber)
	require.Equal(t, 50, fc.TargetLineNumber)
	require.Equal(t, 60, fc.EndLineNumber)
	require.Equal(t, 100, fc.TotalLines)
	require.Len(t, fc.Lines, fc.EndLineNumber-fc.StartLineNumber+1)
	require.Equal(t, "line40", fc.Lines[0])
	require.Equal(t, "line60", fc.Lines[len(fc.Lines)-1])
}

func TestBuildFileContextClampsAtFileBoundaries(t *testing.T) {
	content := fileOfLines(5)

	fc := buildFileContext(content, "file.go", 2, 10)

	require.Equal(t, 1, fc.StartLineNumber)
	require.Equal(t, 5, fc.EndLineNumber)
	require.Equal(t, 5, fc.TotalLines)
	require.Len(t, fc.Lines, 5)
}

func TestBuildFileContextClampsTargetLineBeyondEOF(t *testing.T) {
	content := fileOfLines(5)

	fc := buildFileContext(content, "file.go", 500, 2)

	require.Equal(t, 5, fc.TargetLineNumber)
	require.Equal(t, 3, fc.StartLineNumber)
	require.Equal(t, 5, fc.EndLineNumber)
}

func TestBuildFileContextScansImportsFromFullFile(t *testing.T) {
	content := strings.Join([]string{
		`import { widget } from "./widget"`,
		"",
		"function run() {",
		"  return widget()",
		"}",
	}, "\n")

	fc := buildFileContext(content, "app.ts", 4, 1)

	require.Contains(t, fc.Imports, `import { widget } from "./widget"`)
}

func TestDiffRefsIsZero(t *testing.T) {
	require.True(t, DiffRefs{}.IsZero())
	require.False(t, DiffRefs{BaseSHA: "abc"}.IsZero())
}

func TestFileDiffPathPrefersNewPath(t *testing.T) {
	require.Equal(t, "new.go", FileDiff{OldPath: "old.go", NewPath: "new.go"}.Path())
	require.Equal(t, "old.go", FileDiff{OldPath: "old.go"}.Path())
}
