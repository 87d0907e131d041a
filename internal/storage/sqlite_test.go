package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgehook/reviewbot/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "reviewbot-storage-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	repo, err := NewSQLiteRepository(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestUpsertProjectInsertsThenUpdates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	p := &domain.Project{ForgeProjectID: 42, Name: "widgets", Namespace: "acme", WebhookSecret: "s3cret", IsActive: true}
	saved, err := repo.UpsertProject(ctx, p)
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	p.Name = "widgets-renamed"
	updated, err := repo.UpsertProject(ctx, p)
	require.NoError(t, err)
	require.Equal(t, saved.ID, updated.ID)
}

func TestFindOrCreateReviewIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	project, err := repo.UpsertProject(ctx, &domain.Project{ForgeProjectID: 1, Name: "p", Namespace: "ns", WebhookSecret: "x", IsActive: true})
	require.NoError(t, err)
	dev, err := repo.UpsertDeveloper(ctx, &domain.Developer{ForgeUserID: 7, Username: "alice"})
	require.NoError(t, err)

	first, created, err := repo.FindOrCreateReview(ctx, &domain.Review{
		MergeRequestID:  100,
		MergeRequestIID: 5,
		ProjectID:       project.ID,
		DeveloperID:     dev.ID,
		Title:           "Add feature",
		SourceBranch:    "feature",
		TargetBranch:    "main",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, domain.ReviewPending, first.Status)

	// Duplicate webhook delivery for the same MR must not create a second row.
	second, created, err := repo.FindOrCreateReview(ctx, &domain.Review{
		MergeRequestID:  100,
		MergeRequestIID: 5,
		ProjectID:       project.ID,
		DeveloperID:     dev.ID,
		Title:           "Add feature",
		SourceBranch:    "feature",
		TargetBranch:    "main",
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestCompleteReviewPersistsContentAndScore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	project, err := repo.UpsertProject(ctx, &domain.Project{ForgeProjectID: 1, Name: "p", Namespace: "ns", WebhookSecret: "x", IsActive: true})
	require.NoError(t, err)
	dev, err := repo.UpsertDeveloper(ctx, &domain.Developer{ForgeUserID: 7, Username: "alice"})
	require.NoError(t, err)

	review, _, err := repo.FindOrCreateReview(ctx, &domain.Review{
		MergeRequestID: 1, MergeRequestIID: 1, ProjectID: project.ID, DeveloperID: dev.ID,
		Title: "x", SourceBranch: "a", TargetBranch: "main",
	})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateReviewStatus(ctx, review.ID, domain.ReviewProcessing))

	content := []byte(`{"summary":"ok","issues":[]}`)
	require.NoError(t, repo.CompleteReview(ctx, review.ID, content, 95, 1, 2))

	got, err := repo.GetReview(ctx, review.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReviewCompleted, got.Status)
	require.Equal(t, 95, got.QualityScore)
	require.Equal(t, 1, got.IssuesFound)
	require.Equal(t, 2, got.SuggestionsCount)
	require.JSONEq(t, string(content), string(got.ReviewContent))
}

func TestFailReview(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	project, err := repo.UpsertProject(ctx, &domain.Project{ForgeProjectID: 1, Name: "p", Namespace: "ns", WebhookSecret: "x", IsActive: true})
	require.NoError(t, err)
	dev, err := repo.UpsertDeveloper(ctx, &domain.Developer{ForgeUserID: 7, Username: "alice"})
	require.NoError(t, err)

	review, _, err := repo.FindOrCreateReview(ctx, &domain.Review{
		MergeRequestID: 1, MergeRequestIID: 1, ProjectID: project.ID, DeveloperID: dev.ID,
		Title: "x", SourceBranch: "a", TargetBranch: "main",
	})
	require.NoError(t, err)

	require.NoError(t, repo.FailReview(ctx, review.ID))

	got, err := repo.GetReview(ctx, review.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReviewFailed, got.Status)
}

func TestIntakeWebhookIsTransactionalAndIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	project := &domain.Project{ForgeProjectID: 9, Name: "widgets", Namespace: "acme", WebhookSecret: "configured-secret", IsActive: true}
	dev := &domain.Developer{ForgeUserID: 3, Username: "bob", Name: "Bob"}
	review := &domain.Review{
		MergeRequestID: 500, MergeRequestIID: 12,
		Title: "Add feature", SourceBranch: "feature", TargetBranch: "main",
	}

	p1, d1, r1, created, err := repo.IntakeWebhook(ctx, project, dev, review)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "configured-secret", p1.WebhookSecret)
	require.Equal(t, domain.ReviewPending, r1.Status)
	require.NotEmpty(t, d1.ID)

	// Redelivery of the same webhook must not create a second Review row.
	project2 := &domain.Project{ForgeProjectID: 9, Name: "widgets-renamed", Namespace: "acme", WebhookSecret: "ignored-on-update"}
	review2 := &domain.Review{
		MergeRequestID: 500, MergeRequestIID: 12,
		Title: "Add feature", SourceBranch: "feature", TargetBranch: "main",
	}
	p2, _, r2, created2, err := repo.IntakeWebhook(ctx, project2, dev, review2)
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, r1.ID, r2.ID)
	require.Equal(t, "widgets-renamed", p2.Name)
	// webhookSecret is seeded only at creation, never overwritten by later deliveries.
	require.Equal(t, "configured-secret", p2.WebhookSecret)
}
