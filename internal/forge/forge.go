// Package forge wraps the source forge's REST surface behind a small
// interface (CompareCommits, GetMergeRequest, GetFileContent,
// GetFileContentWithContext, PostNote, PostInlineDiscussion) so the
// orchestrator and verifier depend on an interface, not a concrete SDK
// client.
package forge

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgehook/reviewbot/internal/diffproc"
	"github.com/forgehook/reviewbot/internal/domain"
	"github.com/forgehook/reviewbot/internal/importscan"
	"github.com/forgehook/reviewbot/internal/types"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// DiffRefs carries the three commit SHAs a forge needs to position an
// inline discussion.
type DiffRefs struct {
	BaseSHA  string
	HeadSHA  string
	StartSHA string
}

// IsZero reports whether no diff refs were returned by the forge (the merge
// request has no changes to compare yet).
func (d DiffRefs) IsZero() bool {
	return d.BaseSHA == "" && d.HeadSHA == ""
}

// MergeRequestDetails is the subset of a merge request's fields the
// orchestrator and webhook intake need.
type MergeRequestDetails struct {
	IID          int64
	Title        string
	SourceBranch string
	TargetBranch string
	DiffRefs     DiffRefs
}

// FileDiff is one file's entry from a compare-commits response.
type FileDiff struct {
	OldPath string
	NewPath string
	Diff    string
	Binary  bool
	Deleted bool
}

// Path prefers the new path, falling back to the old path for deleted files.
func (f FileDiff) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// InlinePosition locates an inline discussion on a specific new-file line.
type InlinePosition struct {
	OldPath  string
	NewPath  string
	NewLine  int
	BaseSHA  string
	HeadSHA  string
	StartSHA string
}

// Client is the Forge Client's interface surface.
type Client interface {
	GetMergeRequest(ctx context.Context, projectID, mrIID int64) (*MergeRequestDetails, error)
	CompareCommits(ctx context.Context, projectID int64, fromSHA, toSHA string) ([]FileDiff, error)
	GetFileContent(ctx context.Context, projectID int64, path, ref string) (string, error)
	GetFileContentWithContext(ctx context.Context, projectID int64, path, ref string, targetLine, contextLines int) (*domain.FileContext, error)
	PostNote(ctx context.Context, projectID, mrIID int64, body string) error
	PostInlineDiscussion(ctx context.Context, projectID, mrIID int64, body string, pos InlinePosition) error
}

// GitLabClient implements Client over gitlab.com/gitlab-org/api/client-go.
type GitLabClient struct {
	cli *gitlab.Client
}

// New builds a GitLabClient against host (empty uses the library's default
// gitlab.com base URL) authenticated with a personal/project access token.
func New(host, token string) (*GitLabClient, error) {
	var opts []gitlab.ClientOptionFunc
	if host != "" {
		opts = append(opts, gitlab.WithBaseURL(host))
	}
	cli, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}
	return &GitLabClient{cli: cli}, nil
}

func (g *GitLabClient) GetMergeRequest(ctx context.Context, projectID, mrIID int64) (*MergeRequestDetails, error) {
	mr, _, err := g.cli.MergeRequests.GetMergeRequest(int(projectID), int(mrIID), nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, types.NewTransientForgeError(err)
	}

	details := &MergeRequestDetails{
		IID:          mrIID,
		Title:        mr.Title,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		DiffRefs: DiffRefs{
			BaseSHA:  mr.DiffRefs.BaseSha,
			HeadSHA:  mr.DiffRefs.HeadSha,
			StartSHA: mr.DiffRefs.StartSha,
		},
	}
	return details, nil
}

func (g *GitLabClient) CompareCommits(ctx context.Context, projectID int64, fromSHA, toSHA string) ([]FileDiff, error) {
	cmp, _, err := g.cli.Repositories.CompareCommits(int(projectID), &gitlab.CompareOptions{
		From: gitlab.Ptr(fromSHA),
		To:   gitlab.Ptr(toSHA),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, types.NewTransientForgeError(err)
	}

	diffs := make([]FileDiff, 0, len(cmp.Diffs))
	for _, d := range cmp.Diffs {
		diffs = append(diffs, FileDiff{
			OldPath: d.OldPath,
			NewPath: d.NewPath,
			Diff:    d.Diff,
			Binary:  strings.Contains(d.Diff, "Binary files"),
			Deleted: d.DeletedFile,
		})
	}
	return diffs, nil
}

func (g *GitLabClient) GetFileContent(ctx context.Context, projectID int64, path, ref string) (string, error) {
	raw, _, err := g.cli.RepositoryFiles.GetRawFile(int(projectID), path, &gitlab.GetRawFileOptions{
		Ref: gitlab.Ptr(ref),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", types.NewTransientForgeError(err)
	}
	return string(raw), nil
}

func (g *GitLabClient) GetFileContentWithContext(ctx context.Context, projectID int64, path, ref string, targetLine, contextLines int) (*domain.FileContext, error) {
	content, err := g.GetFileContent(ctx, projectID, path, ref)
	if err != nil {
		return nil, err
	}
	return buildFileContext(content, path, targetLine, contextLines), nil
}

// buildFileContext is a pure function so the windowing/clamping logic is
// unit-testable without a live forge. Imports are scanned from the full
// file's prefix, not the windowed slice.
func buildFileContext(content, path string, targetLine, contextLines int) *domain.FileContext {
	lines := strings.Split(content, "\n")
	total := len(lines)

	if targetLine < 1 {
		targetLine = 1
	}
	if total > 0 && targetLine > total {
		targetLine = total
	}

	start := targetLine - contextLines
	if start < 1 {
		start = 1
	}
	end := targetLine + contextLines
	if end > total {
		end = total
	}

	var window []string
	if total > 0 && start <= end {
		window = append(window, lines[start-1:end]...)
	}

	language := diffproc.DetectLanguage(path)
	imports := importscan.Extract(lines, language)

	return &domain.FileContext{
		Lines:            window,
		StartLineNumber:  start,
		TargetLineNumber: targetLine,
		EndLineNumber:    end,
		TotalLines:       total,
		Imports:          imports,
	}
}

func (g *GitLabClient) PostNote(ctx context.Context, projectID, mrIID int64, body string) error {
	_, _, err := g.cli.Notes.CreateMergeRequestNote(int(projectID), int(mrIID), &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return types.NewTransientForgeError(err)
	}
	return nil
}

func (g *GitLabClient) PostInlineDiscussion(ctx context.Context, projectID, mrIID int64, body string, pos InlinePosition) error {
	_, _, err := g.cli.Discussions.CreateMergeRequestDiscussion(int(projectID), int(mrIID), &gitlab.CreateMergeRequestDiscussionOptions{
		Body: gitlab.Ptr(body),
		Position: &gitlab.PositionOptions{
			PositionType: gitlab.Ptr("text"),
			OldPath:      gitlab.Ptr(pos.OldPath),
			NewPath:      gitlab.Ptr(pos.NewPath),
			NewLine:      gitlab.Ptr(pos.NewLine),
			BaseSHA:      gitlab.Ptr(pos.BaseSHA),
			HeadSHA:      gitlab.Ptr(pos.HeadSHA),
			StartSHA:     gitlab.Ptr(pos.StartSHA),
		},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return &types.ForgeInlinePostError{File: pos.NewPath, Line: pos.NewLine, Err: err}
	}
	return nil
}
