// Package domain holds the core entities shared across the review pipeline.
package domain

import "time"

// ReviewStatus is the lifecycle state of a Review.
type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "PENDING"
	ReviewProcessing ReviewStatus = "PROCESSING"
	ReviewCompleted  ReviewStatus = "COMPLETED"
	ReviewFailed     ReviewStatus = "FAILED"
	ReviewSkipped    ReviewStatus = "SKIPPED"
)

// Severity is the severity of an LLM-reported issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IssueType classifies an LLM-reported issue.
type IssueType string

const (
	IssueSecurity    IssueType = "security"
	IssuePerformance IssueType = "performance"
	IssueLogic       IssueType = "logic"
	IssueStyle       IssueType = "style"
)

// Confidence is the Verifier's confidence in a validity decision.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Project mirrors a forge repository/project.
type Project struct {
	ID             string
	ForgeProjectID int64
	Name           string
	Namespace      string
	WebhookSecret  string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Developer mirrors a forge user who authors merge requests.
type Developer struct {
	ID          string
	ForgeUserID int64
	Username    string
	Name        string
	Email       string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Review is the persisted record of one merge-request review run.
type Review struct {
	ID               string
	MergeRequestID   int64
	MergeRequestIID  int64
	ProjectID        string
	DeveloperID      string
	Title            string
	SourceURL        string
	SourceBranch     string
	TargetBranch     string
	Status           ReviewStatus
	ReviewContent    []byte // opaque JSON document
	QualityScore     int
	IssuesFound      int
	SuggestionsCount int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Job is the transient unit of work enqueued after a webhook is accepted.
type Job struct {
	ReviewID        string `json:"reviewId"`
	ProjectID       int64  `json:"projectId"`
	MergeRequestIID int64  `json:"mergeRequestIid"`
}

// DiffChunk is a slice of one file's diff with surrounding context.
type DiffChunk struct {
	Filename     string
	OldPath      string
	Language     string
	Hunks        string // rendered diff text, capped at 100 lines
	Additions    int
	Deletions    int
	ChangedLines []int // new-file line numbers of additions, in order
	FileContext  *FileContext
}

// FileContext is a slice of file text drawn at a commit around a target line.
type FileContext struct {
	Lines            []string
	StartLineNumber  int
	TargetLineNumber int
	EndLineNumber    int
	TotalLines       int
	Imports          []string
}

// Issue is one finding reported by the LLM.
type Issue struct {
	File       string    `json:"file,omitempty"`
	Line       int       `json:"line"`
	Severity   Severity  `json:"severity"`
	Type       IssueType `json:"type"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion"`
}

// VerificationResult is the Verifier's per-issue decision.
type VerificationResult struct {
	IsValid    bool
	Confidence Confidence
	Reason     string
}

// ReviewResult is the LLM's raw response for a single or batched review call.
type ReviewResult struct {
	Summary string  `json:"summary"`
	Issues  []Issue `json:"issues"`
}

// ReviewContentDocument is the shape persisted into Review.ReviewContent.
type ReviewContentDocument struct {
	Message string  `json:"message,omitempty"`
	Issues  []Issue `json:"issues,omitempty"`
}
