package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/forgehook/reviewbot/internal/config"
	"github.com/forgehook/reviewbot/internal/domain"
)

var severityRank = map[domain.Severity]int{
	domain.SeverityCritical: 0,
	domain.SeverityHigh:     1,
	domain.SeverityMedium:   2,
	domain.SeverityLow:      3,
}

// buildSummary renders the single note posted after all inline discussions
// have been attempted: score, counts by severity and type, a per-file
// breakdown sorted most-severe-first, and a large-MR warning when files
// were skipped by the 50-file cap.
func buildSummary(score int, retained []domain.Issue, skippedFiles int) string {
	var b strings.Builder

	fmt.Fprintf(&b, config.ReportScoreFormat, score)
	b.WriteString("\n")

	if len(retained) == 0 {
		b.WriteString(config.ReportNoIssues)
		b.WriteString("\n")
	} else {
		bySeverity := countBy(retained, func(i domain.Issue) string { return string(i.Severity) })
		byType := countBy(retained, func(i domain.Issue) string { return string(i.Type) })

		b.WriteString("**By severity:** ")
		b.WriteString(formatCounts(bySeverity))
		b.WriteString("\n**By type:** ")
		b.WriteString(formatCounts(byType))
		b.WriteString("\n\n**Findings:**\n\n")

		byFile := groupByFile(retained)
		for _, file := range byFile {
			fmt.Fprintf(&b, "- `%s`\n", file.name)
			for _, issue := range file.issues {
				fmt.Fprintf(&b, "  - [%s/%s] line %d: %s\n", issue.Severity, issue.Type, issue.Line, issue.Message)
			}
		}
	}

	if skippedFiles > 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, config.LargeMRWarning, config.MaxReviewFiles, skippedFiles)
		b.WriteString("\n")
	}

	return b.String()
}

// buildInlineBody renders the body of one inline discussion for a single
// retained issue.
func buildInlineBody(issue domain.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**[%s] %s**\n\n%s", strings.ToUpper(string(issue.Severity)), issue.Type, issue.Message)
	if issue.Suggestion != "" && issue.Suggestion != "No suggestion" {
		fmt.Fprintf(&b, "\n\n_Suggestion:_ %s", issue.Suggestion)
	}
	return b.String()
}

func countBy(issues []domain.Issue, key func(domain.Issue) string) map[string]int {
	counts := make(map[string]int)
	for _, issue := range issues {
		counts[key(issue)]++
	}
	return counts
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

type fileIssues struct {
	name   string
	issues []domain.Issue
}

// groupByFile buckets issues by filename and sorts both the file buckets
// and each bucket's issues by severity (most severe first).
func groupByFile(issues []domain.Issue) []fileIssues {
	byFile := make(map[string][]domain.Issue)
	var order []string
	for _, issue := range issues {
		if _, ok := byFile[issue.File]; !ok {
			order = append(order, issue.File)
		}
		byFile[issue.File] = append(byFile[issue.File], issue)
	}

	result := make([]fileIssues, 0, len(order))
	for _, name := range order {
		issues := byFile[name]
		sort.SliceStable(issues, func(i, j int) bool {
			return severityRank[issues[i].Severity] < severityRank[issues[j].Severity]
		})
		result = append(result, fileIssues{name: name, issues: issues})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return severityRank[result[i].issues[0].Severity] < severityRank[result[j].issues[0].Severity]
	})

	return result
}
