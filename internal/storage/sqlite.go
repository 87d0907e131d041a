package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/forgehook/reviewbot/internal/domain"
	"github.com/google/uuid"

	_ "modernc.org/sqlite" // Pure Go driver, CGO-free, compatible with CGO_ENABLED=0
)

// SQLiteRepository is the Repository implementation backed by
// modernc.org/sqlite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens dsn, enables WAL mode and migrates the schema.
func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// DB returns the underlying connection so the durable queue can share it
// rather than open a second handle onto the same file.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

func migrate(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS projects (
        id               TEXT PRIMARY KEY,
        forge_project_id INTEGER NOT NULL UNIQUE,
        name             TEXT NOT NULL,
        namespace        TEXT NOT NULL,
        webhook_secret   TEXT NOT NULL,
        is_active        INTEGER NOT NULL DEFAULT 1,
        created_at       DATETIME NOT NULL,
        updated_at       DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS developers (
        id            TEXT PRIMARY KEY,
        forge_user_id INTEGER NOT NULL,
        username      TEXT NOT NULL UNIQUE,
        name          TEXT NOT NULL,
        email         TEXT NOT NULL,
        avatar_url    TEXT NOT NULL,
        created_at    DATETIME NOT NULL,
        updated_at    DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS reviews (
        id                 TEXT PRIMARY KEY,
        merge_request_id   INTEGER NOT NULL,
        merge_request_iid  INTEGER NOT NULL,
        project_id         TEXT NOT NULL,
        developer_id       TEXT NOT NULL,
        title              TEXT NOT NULL,
        source_url         TEXT NOT NULL,
        source_branch      TEXT NOT NULL,
        target_branch      TEXT NOT NULL,
        status             TEXT NOT NULL,
        review_content     TEXT NOT NULL DEFAULT '',
        quality_score      INTEGER NOT NULL DEFAULT 0,
        issues_found       INTEGER NOT NULL DEFAULT 0,
        suggestions_count  INTEGER NOT NULL DEFAULT 0,
        created_at         DATETIME NOT NULL,
        updated_at         DATETIME NOT NULL,
        UNIQUE(project_id, merge_request_id)
    );
    CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status);

    CREATE TABLE IF NOT EXISTS queue_jobs (
        id               TEXT PRIMARY KEY,
        topic            TEXT NOT NULL,
        payload          TEXT NOT NULL,
        visible_at       DATETIME NOT NULL,
        attempts         INTEGER NOT NULL DEFAULT 0,
        max_attempts     INTEGER NOT NULL DEFAULT 3,
        locked_by        TEXT NOT NULL DEFAULT '',
        locked_at        DATETIME,
        stalled_reclaims INTEGER NOT NULL DEFAULT 0,
        created_at       DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_queue_jobs_visible ON queue_jobs(topic, visible_at);
    `
	_, err := db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting the upsert helpers
// below run either standalone or inside the one-transaction webhook intake.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepository) UpsertProject(ctx context.Context, p *domain.Project) (*domain.Project, error) {
	return upsertProject(ctx, r.db, p)
}

func (r *SQLiteRepository) UpsertDeveloper(ctx context.Context, d *domain.Developer) (*domain.Developer, error) {
	return upsertDeveloper(ctx, r.db, d)
}

func (r *SQLiteRepository) FindOrCreateReview(ctx context.Context, review *domain.Review) (*domain.Review, bool, error) {
	return findOrCreateReview(ctx, r.db, review)
}

// IntakeWebhook performs the project upsert, developer upsert and
// find-or-create review in one transaction, per spec §4.1: "All three
// database writes happen in one transaction."
func (r *SQLiteRepository) IntakeWebhook(ctx context.Context, project *domain.Project, developer *domain.Developer, review *domain.Review) (*domain.Project, *domain.Developer, *domain.Review, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	savedProject, err := upsertProject(ctx, tx, project)
	if err != nil {
		return nil, nil, nil, false, err
	}

	savedDeveloper, err := upsertDeveloper(ctx, tx, developer)
	if err != nil {
		return nil, nil, nil, false, err
	}

	review.ProjectID = savedProject.ID
	review.DeveloperID = savedDeveloper.ID
	savedReview, created, err := findOrCreateReview(ctx, tx, review)
	if err != nil {
		return nil, nil, nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, false, fmt.Errorf("commit tx: %w", err)
	}

	return savedProject, savedDeveloper, savedReview, created, nil
}

func upsertProject(ctx context.Context, q dbtx, p *domain.Project) (*domain.Project, error) {
	now := time.Now().UTC()

	row := q.QueryRowContext(ctx, `SELECT id, webhook_secret FROM projects WHERE forge_project_id = ?`, p.ForgeProjectID)
	var id, webhookSecret string
	switch err := row.Scan(&id, &webhookSecret); err {
	case nil:
		_, err := q.ExecContext(ctx, `
            UPDATE projects SET name = ?, namespace = ?, updated_at = ?
            WHERE id = ?
        `, p.Name, p.Namespace, now, id)
		if err != nil {
			return nil, fmt.Errorf("update project: %w", err)
		}
	case sql.ErrNoRows:
		id = uuid.NewString()
		webhookSecret = p.WebhookSecret
		_, err := q.ExecContext(ctx, `
            INSERT INTO projects (id, forge_project_id, name, namespace, webhook_secret, is_active, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        `, id, p.ForgeProjectID, p.Name, p.Namespace, webhookSecret, true, now, now)
		if err != nil {
			return nil, fmt.Errorf("insert project: %w", err)
		}
	default:
		return nil, fmt.Errorf("lookup project: %w", err)
	}

	out := *p
	out.ID = id
	out.WebhookSecret = webhookSecret
	out.IsActive = true
	out.UpdatedAt = now
	return &out, nil
}

func upsertDeveloper(ctx context.Context, q dbtx, d *domain.Developer) (*domain.Developer, error) {
	now := time.Now().UTC()

	row := q.QueryRowContext(ctx, `SELECT id FROM developers WHERE username = ?`, d.Username)
	var id string
	switch err := row.Scan(&id); err {
	case nil:
		_, err := q.ExecContext(ctx, `
            UPDATE developers SET forge_user_id = ?, name = ?, email = ?, avatar_url = ?, updated_at = ?
            WHERE id = ?
        `, d.ForgeUserID, d.Name, d.Email, d.AvatarURL, now, id)
		if err != nil {
			return nil, fmt.Errorf("update developer: %w", err)
		}
	case sql.ErrNoRows:
		id = uuid.NewString()
		_, err := q.ExecContext(ctx, `
            INSERT INTO developers (id, forge_user_id, username, name, email, avatar_url, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        `, id, d.ForgeUserID, d.Username, d.Name, d.Email, d.AvatarURL, now, now)
		if err != nil {
			return nil, fmt.Errorf("insert developer: %w", err)
		}
	default:
		return nil, fmt.Errorf("lookup developer: %w", err)
	}

	out := *d
	out.ID = id
	out.UpdatedAt = now
	return &out, nil
}

func findOrCreateReview(ctx context.Context, q dbtx, review *domain.Review) (*domain.Review, bool, error) {
	existing, err := findReviewByMR(ctx, q, review.ProjectID, review.MergeRequestID)
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("lookup review: %w", err)
	}

	now := time.Now().UTC()
	review.ID = uuid.NewString()
	review.Status = domain.ReviewPending
	review.CreatedAt = now
	review.UpdatedAt = now

	_, err = q.ExecContext(ctx, `
        INSERT INTO reviews (
            id, merge_request_id, merge_request_iid, project_id, developer_id,
            title, source_url, source_branch, target_branch, status,
            review_content, quality_score, issues_found, suggestions_count,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '{}', 0, 0, 0, ?, ?)
    `, review.ID, review.MergeRequestID, review.MergeRequestIID, review.ProjectID,
		review.DeveloperID, review.Title, review.SourceURL, review.SourceBranch,
		review.TargetBranch, review.Status, now, now)
	if err != nil {
		// Another concurrent webhook delivery may have won the race on the
		// (project_id, merge_request_id) unique index; re-read instead of
		// failing the request.
		if existing, lookupErr := findReviewByMR(ctx, q, review.ProjectID, review.MergeRequestID); lookupErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert review: %w", err)
	}

	return review, true, nil
}

// findReviewByMR looks up the Review uniquely identified by
// (projectID, mergeRequestID), per spec §3's Review key: "(mergeRequestId,
// projectId) unique" — mergeRequestID is the forge's global merge-request
// id (object_attributes.id), not the per-project IID.
func findReviewByMR(ctx context.Context, q dbtx, projectID string, mergeRequestID int64) (*domain.Review, error) {
	row := q.QueryRowContext(ctx, `
        SELECT id, merge_request_id, merge_request_iid, project_id, developer_id,
               title, source_url, source_branch, target_branch, status,
               review_content, quality_score, issues_found, suggestions_count,
               created_at, updated_at
        FROM reviews WHERE project_id = ? AND merge_request_id = ?
    `, projectID, mergeRequestID)
	return scanReview(row)
}

func (r *SQLiteRepository) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT id, merge_request_id, merge_request_iid, project_id, developer_id,
               title, source_url, source_branch, target_branch, status,
               review_content, quality_score, issues_found, suggestions_count,
               created_at, updated_at
        FROM reviews WHERE id = ?
    `, id)
	return scanReview(row)
}

func (r *SQLiteRepository) UpdateReviewStatus(ctx context.Context, id string, status domain.ReviewStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE reviews SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	return err
}

func (r *SQLiteRepository) CompleteReview(ctx context.Context, id string, content []byte, qualityScore, issuesFound, suggestionsCount int) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE reviews
        SET status = ?, review_content = ?, quality_score = ?, issues_found = ?, suggestions_count = ?, updated_at = ?
        WHERE id = ?
    `, domain.ReviewCompleted, string(content), qualityScore, issuesFound, suggestionsCount, time.Now().UTC(), id)
	return err
}

func (r *SQLiteRepository) FailReview(ctx context.Context, id string) error {
	return r.UpdateReviewStatus(ctx, id, domain.ReviewFailed)
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Scanner abstracts over *sql.Row and *sql.Rows so scanReview serves both.
type Scanner interface {
	Scan(dest ...any) error
}

func scanReview(s Scanner) (*domain.Review, error) {
	var rev domain.Review
	var content string
	if err := s.Scan(
		&rev.ID, &rev.MergeRequestID, &rev.MergeRequestIID, &rev.ProjectID, &rev.DeveloperID,
		&rev.Title, &rev.SourceURL, &rev.SourceBranch, &rev.TargetBranch, &rev.Status,
		&content, &rev.QualityScore, &rev.IssuesFound, &rev.SuggestionsCount,
		&rev.CreatedAt, &rev.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rev.ReviewContent = []byte(content)
	return &rev, nil
}
