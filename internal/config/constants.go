package config

import "github.com/forgehook/reviewbot/internal/domain"

// Review Orchestrator tuning, per spec §4.7.
const (
	// MaxReviewFiles caps the number of changed files processed per job;
	// the remainder is counted toward the "large MR" summary warning.
	MaxReviewFiles = 50
	// OrchestratorContextLines overrides the Diff Processor's own default
	// (20) down to 10 for the orchestrator's chunk extraction.
	OrchestratorContextLines = 10
	// FileContextWindow is how many lines of surrounding file text are
	// fetched around a chunk's first changed line.
	FileContextWindow = 10
	// BatchChangedLineThreshold is the upper bound on total changed lines
	// (additions+deletions) for the batched-review path to apply.
	BatchChangedLineThreshold = 500
	// InlinePostConcurrency bounds how many inline discussions are posted
	// to the forge at once within a single job.
	InlinePostConcurrency = 5
	// ContextFetchConcurrency bounds how many per-chunk file-context
	// fetches are in flight at once within a single job.
	ContextFetchConcurrency = 5
)

// SeverityImpact is the per-severity score deduction used to compute a
// Review's qualityScore.
var SeverityImpact = map[domain.Severity]int{
	domain.SeverityCritical: 15,
	domain.SeverityHigh:     10,
	domain.SeverityMedium:   5,
	domain.SeverityLow:      2,
}

// Report formatting for the posted summary note.
const (
	ReportScoreFormat = "**Quality score:** %d/100\n"
	ReportNoIssues    = "No issues found."
	LargeMRWarning    = "**Large MR:** only the first %d changed files were reviewed; %d additional file(s) were skipped."
	NoChangesMessage  = "No changes to review"
)
