// Package orchestrator drives one review job to completion: pull diff + MR
// details, build chunks with context, decide batching, call the LLM,
// verify issues, post comments, score, and persist. Grounded on the
// teacher's internal/processor.ProcessPullRequest (fetch-then-review-then-
// post shape, errgroup-bounded comment posting) generalized from a
// Bitbucket PR event to a source-forge merge-request job, per spec §4.7.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgehook/reviewbot/internal/config"
	"github.com/forgehook/reviewbot/internal/diffproc"
	"github.com/forgehook/reviewbot/internal/domain"
	"github.com/forgehook/reviewbot/internal/forge"
	"github.com/forgehook/reviewbot/internal/llmclient"
	"github.com/forgehook/reviewbot/internal/metrics"
	"github.com/forgehook/reviewbot/internal/storage"
	"github.com/forgehook/reviewbot/internal/verifier"
	"golang.org/x/sync/errgroup"
)

// Orchestrator is the Review Orchestrator's single entry point, Process.
type Orchestrator struct {
	forge    forge.Client
	llm      llmclient.Client
	verifier *verifier.Verifier
	store    storage.Repository
}

// New wires an Orchestrator from its collaborators.
func New(f forge.Client, llm llmclient.Client, v *verifier.Verifier, store storage.Repository) *Orchestrator {
	return &Orchestrator{forge: f, llm: llm, verifier: v, store: store}
}

// fileChunks tracks the chunks belonging to one file, so issues (which only
// carry a filename) can be mapped back to the chunk that supplied their
// context and diff position.
type fileChunks struct {
	oldPath string
	chunks  []domain.DiffChunk
}

// Process runs one job to completion. A non-nil return marks the Review
// FAILED and lets the queue retry per its own policy.
func (o *Orchestrator) Process(ctx context.Context, job domain.Job) error {
	start := time.Now()

	if err := o.store.UpdateReviewStatus(ctx, job.ReviewID, domain.ReviewProcessing); err != nil {
		return fmt.Errorf("transition to processing: %w", err)
	}

	if !o.llm.IsEnabled() {
		if err := o.store.UpdateReviewStatus(ctx, job.ReviewID, domain.ReviewSkipped); err != nil {
			return fmt.Errorf("mark skipped: %w", err)
		}
		metrics.ReviewsTotal.WithLabelValues("skipped").Inc()
		metrics.ProcessingDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
		return nil
	}

	mr, err := o.forge.GetMergeRequest(ctx, job.ProjectID, job.MergeRequestIID)
	if err != nil {
		return o.fail(ctx, job.ReviewID, start, fmt.Errorf("fetch merge request: %w", err))
	}

	if mr.DiffRefs.IsZero() {
		if err := o.completeNoChanges(ctx, job.ReviewID); err != nil {
			return o.fail(ctx, job.ReviewID, start, err)
		}
		metrics.ReviewsTotal.WithLabelValues("completed").Inc()
		metrics.ProcessingDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
		return nil
	}

	var diffs []forge.FileDiff
	refs := mr.DiffRefs
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		d, err := o.forge.CompareCommits(gctx, job.ProjectID, refs.BaseSHA, refs.HeadSHA)
		if err != nil {
			return err
		}
		diffs = d
		return nil
	})
	group.Go(func() error {
		fresh, err := o.forge.GetMergeRequest(gctx, job.ProjectID, job.MergeRequestIID)
		if err != nil {
			return err
		}
		if !fresh.DiffRefs.IsZero() {
			refs = fresh.DiffRefs
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return o.fail(ctx, job.ReviewID, start, fmt.Errorf("fetch diff: %w", err))
	}

	skippedFiles := 0
	if len(diffs) > config.MaxReviewFiles {
		skippedFiles = len(diffs) - config.MaxReviewFiles
		diffs = diffs[:config.MaxReviewFiles]
	}

	chunksByFile := make(map[string]*fileChunks)
	var allChunks []domain.DiffChunk
	for _, fd := range diffs {
		if fd.Binary || fd.Deleted {
			continue
		}
		chunks := diffproc.Process(fd.Diff, config.OrchestratorContextLines)
		path := fd.Path()
		for i := range chunks {
			chunks[i].Filename = path
			chunks[i].OldPath = fd.OldPath
		}
		if len(chunks) == 0 {
			continue
		}
		chunksByFile[path] = &fileChunks{oldPath: fd.OldPath, chunks: chunks}
		allChunks = append(allChunks, chunks...)
	}

	o.attachFileContext(ctx, job.ProjectID, refs.HeadSHA, allChunks)

	issues, err := o.reviewChunks(ctx, allChunks)
	if err != nil {
		return o.fail(ctx, job.ReviewID, start, fmt.Errorf("review chunks: %w", err))
	}

	retained := o.verifyIssues(ctx, job.ProjectID, refs.HeadSHA, issues, chunksByFile)

	o.postInlineComments(ctx, job.ProjectID, job.MergeRequestIID, refs, retained, chunksByFile)

	score := computeScore(retained)

	summaryBody := buildSummary(score, retained, skippedFiles)
	if err := o.forge.PostNote(ctx, job.ProjectID, job.MergeRequestIID, summaryBody); err != nil {
		slog.Error("post summary note failed", "review_id", job.ReviewID, "error", err)
		metrics.InlinePostFailures.WithLabelValues("summary").Inc()
	}

	content, err := json.Marshal(domain.ReviewContentDocument{Issues: retained})
	if err != nil {
		return o.fail(ctx, job.ReviewID, start, fmt.Errorf("marshal review content: %w", err))
	}
	if err := o.store.CompleteReview(ctx, job.ReviewID, content, score, len(retained), len(retained)); err != nil {
		return o.fail(ctx, job.ReviewID, start, fmt.Errorf("persist review: %w", err))
	}

	metrics.ReviewsTotal.WithLabelValues("completed").Inc()
	metrics.ProcessingDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	return nil
}

func (o *Orchestrator) completeNoChanges(ctx context.Context, reviewID string) error {
	content, err := json.Marshal(domain.ReviewContentDocument{Message: config.NoChangesMessage})
	if err != nil {
		return fmt.Errorf("marshal no-changes content: %w", err)
	}
	return o.store.CompleteReview(ctx, reviewID, content, 100, 0, 0)
}

func (o *Orchestrator) fail(ctx context.Context, reviewID string, start time.Time, cause error) error {
	slog.Error("review job failed", "review_id", reviewID, "error", cause)
	if err := o.store.FailReview(ctx, reviewID); err != nil {
		slog.Error("mark review failed also failed", "review_id", reviewID, "error", err)
	}
	metrics.ReviewsTotal.WithLabelValues("failed").Inc()
	metrics.ProcessingDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
	return cause
}

// attachFileContext fetches a windowed slice of each chunk's file around its
// first changed line and attaches it, bounded to ContextFetchConcurrency
// in flight at once. Fetch failures are logged and leave FileContext nil;
// the pipeline continues without it.
func (o *Orchestrator) attachFileContext(ctx context.Context, projectID int64, headSHA string, chunks []domain.DiffChunk) {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(config.ContextFetchConcurrency)

	for i := range chunks {
		chunk := &chunks[i]
		if len(chunk.ChangedLines) == 0 {
			continue
		}
		group.Go(func() error {
			fc, err := o.forge.GetFileContentWithContext(gctx, projectID, chunk.Filename, headSHA, chunk.ChangedLines[0], config.FileContextWindow)
			if err != nil {
				slog.Warn("file context fetch failed, continuing without it", "file", chunk.Filename, "error", err)
				return nil
			}
			chunk.FileContext = fc
			return nil
		})
	}
	_ = group.Wait() // context-fetch errors never fail the job; each goroutine already swallowed its own.
}

// reviewChunks applies the batch-vs-individual decision from spec §4.7
// step 6 and returns every issue the LLM reported, each still carrying (or
// backfilled with) the filename it was reported against.
func (o *Orchestrator) reviewChunks(ctx context.Context, chunks []domain.DiffChunk) ([]domain.Issue, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	totalChangedLines := 0
	for _, c := range chunks {
		totalChangedLines += c.Additions + c.Deletions
	}

	if totalChangedLines <= config.BatchChangedLineThreshold && len(chunks) > 1 {
		result, err := o.llm.ReviewBatched(ctx, chunks)
		if err != nil {
			return nil, err
		}
		metrics.LLMCalls.WithLabelValues("success").Inc()
		return result.Issues, nil
	}

	var issues []domain.Issue
	for _, chunk := range chunks {
		result, err := o.llm.ReviewSingle(ctx, chunk)
		if err != nil {
			return nil, err
		}
		metrics.LLMCalls.WithLabelValues("success").Inc()
		for _, issue := range result.Issues {
			if issue.File == "" {
				issue.File = chunk.Filename
			}
			issues = append(issues, issue)
		}
	}
	return issues, nil
}

// verifyIssues invokes the Verifier for each issue, against the FileContext
// of the first chunk matching its filename, and drops isValid=false issues.
func (o *Orchestrator) verifyIssues(ctx context.Context, projectID int64, headSHA string, issues []domain.Issue, chunksByFile map[string]*fileChunks) []domain.Issue {
	retained := make([]domain.Issue, 0, len(issues))
	for _, issue := range issues {
		fc := lookupFileContext(issue.File, chunksByFile)
		result := o.verifier.Verify(ctx, projectID, issue.File, headSHA, issue, fc)
		if result.IsValid {
			metrics.IssuesVerified.WithLabelValues("true").Inc()
			retained = append(retained, issue)
		} else {
			metrics.IssuesVerified.WithLabelValues("false").Inc()
			slog.Debug("dropped false-positive issue", "file", issue.File, "line", issue.Line, "reason", result.Reason)
		}
	}
	return retained
}

func lookupFileContext(file string, chunksByFile map[string]*fileChunks) *domain.FileContext {
	fc, ok := chunksByFile[file]
	if !ok || len(fc.chunks) == 0 {
		return nil
	}
	return fc.chunks[0].FileContext
}

// postInlineComments posts one inline discussion per retained issue whose
// severity warrants it, bounded to InlinePostConcurrency in flight. Post
// failures are logged and swallowed per spec §7's ForgeInlinePostError
// policy; they never fail the job.
func (o *Orchestrator) postInlineComments(ctx context.Context, projectID, mrIID int64, refs forge.DiffRefs, retained []domain.Issue, chunksByFile map[string]*fileChunks) {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(config.InlinePostConcurrency)

	for _, issue := range retained {
		if !postWorthy(issue.Severity) {
			continue
		}
		group.Go(func() error {
			oldPath := issue.File
			if fc, ok := chunksByFile[issue.File]; ok {
				oldPath = fc.oldPath
			}
			pos := forge.InlinePosition{
				OldPath:  oldPath,
				NewPath:  issue.File,
				NewLine:  issue.Line,
				BaseSHA:  refs.BaseSHA,
				HeadSHA:  refs.HeadSHA,
				StartSHA: refs.StartSHA,
			}
			if err := o.forge.PostInlineDiscussion(gctx, projectID, mrIID, buildInlineBody(issue), pos); err != nil {
				slog.Error("inline discussion post failed", "file", issue.File, "line", issue.Line, "error", err)
				metrics.InlinePostFailures.WithLabelValues("inline").Inc()
			}
			return nil
		})
	}
	_ = group.Wait()
}

func postWorthy(s domain.Severity) bool {
	return s == domain.SeverityCritical || s == domain.SeverityHigh || s == domain.SeverityMedium
}

// computeScore decrements from 100 using the severity impact map, clamped
// at 0, over every retained (verified) issue regardless of whether it was
// posted inline — scoring and severity-gated posting are independent
// passes over the same retained set.
func computeScore(retained []domain.Issue) int {
	score := 100
	for _, issue := range retained {
		score -= config.SeverityImpact[issue.Severity]
	}
	if score < 0 {
		score = 0
	}
	return score
}
