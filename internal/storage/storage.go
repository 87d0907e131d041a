// Package storage persists Projects, Developers and Reviews.
package storage

import (
	"context"

	"github.com/forgehook/reviewbot/internal/domain"
)

// Repository is the storage interface used by the webhook handler and the
// review orchestrator.
type Repository interface {
	// UpsertProject inserts or updates a Project keyed by ForgeProjectID and
	// returns the stored row (with ID populated).
	UpsertProject(ctx context.Context, p *domain.Project) (*domain.Project, error)

	// UpsertDeveloper inserts or updates a Developer keyed by Username.
	UpsertDeveloper(ctx context.Context, d *domain.Developer) (*domain.Developer, error)

	// IntakeWebhook upserts project and developer and finds-or-creates the
	// review in a single transaction, per spec §4.1.
	IntakeWebhook(ctx context.Context, project *domain.Project, developer *domain.Developer, review *domain.Review) (*domain.Project, *domain.Developer, *domain.Review, bool, error)

	// FindOrCreateReview returns the existing Review for
	// (ProjectID, MergeRequestID) if one exists, otherwise inserts r and
	// returns it. The second return value reports whether a new row was
	// created, so callers can distinguish a fresh webhook delivery from a
	// duplicate redelivery of one already queued.
	FindOrCreateReview(ctx context.Context, r *domain.Review) (*domain.Review, bool, error)

	// GetReview fetches a Review by ID.
	GetReview(ctx context.Context, id string) (*domain.Review, error)

	// UpdateReviewStatus transitions a Review's status.
	UpdateReviewStatus(ctx context.Context, id string, status domain.ReviewStatus) error

	// CompleteReview persists the final review content, score and counts,
	// and sets status to COMPLETED.
	CompleteReview(ctx context.Context, id string, content []byte, qualityScore, issuesFound, suggestionsCount int) error

	// FailReview sets status to FAILED.
	FailReview(ctx context.Context, id string) error

	Close() error
}
