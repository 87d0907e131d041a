// Package queue is a durable, at-least-once job queue backed by the same
// SQLite database as internal/storage. It generalizes the teacher's
// in-memory WorkerPool (goroutines + context cancellation + WaitGroup,
// internal/webhook/worker.go in the original) into a restart-safe queue
// while keeping that consumer-side shape.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgehook/reviewbot/internal/domain"
	"github.com/forgehook/reviewbot/internal/metrics"
	"github.com/google/uuid"
)

// ReviewTopic is the named topic reviews are enqueued under.
const ReviewTopic = "review-queue"

const (
	// DefaultLockDuration is the visibility timeout granted to a dequeued
	// job: a worker that doesn't Ack/Fail within this window is presumed
	// dead and the job becomes reclaimable.
	DefaultLockDuration = 30 * time.Second
	// DefaultMaxAttempts caps processing attempts before a job is
	// dead-lettered and the owning Review is marked FAILED.
	DefaultMaxAttempts = 3
	// maxStalledReclaims bounds a stalled job to a single reclaim, per the
	// wire protocol's "stalled check" semantics.
	maxStalledReclaims = 1

	baseBackoff = 50 * time.Millisecond
	maxBackoff  = 2 * time.Second
)

// ErrEmpty is returned by Dequeue when no job is currently visible.
var ErrEmpty = errors.New("queue: no job available")

// ClaimedJob is a job handed to a worker by Dequeue, carrying enough state
// for Ack/Fail to act on it.
type ClaimedJob struct {
	ID       string
	Topic    string
	Job      domain.Job
	Attempts int
}

// Queue is the durable job queue's interface: enqueue, consume, ack,
// fail-with-retry, dead-letter. Kept deliberately minimal per the spec's
// design note that the abstraction, not a particular provider's client,
// is what matters.
type Queue interface {
	Enqueue(ctx context.Context, topic string, job domain.Job) error
	// Dequeue atomically claims the oldest visible job on topic, or returns
	// ErrEmpty if none is currently visible.
	Dequeue(ctx context.Context, topic string) (*ClaimedJob, error)
	// Ack deletes a successfully processed job.
	Ack(ctx context.Context, id string) error
	// Fail reschedules the job with backoff, or dead-letters it (deleting
	// the row) once the attempt count recorded by Dequeue has reached
	// max_attempts. deadLettered reports which happened.
	Fail(ctx context.Context, id string) (deadLettered bool, err error)
	// ReclaimStalled requeues jobs whose visibility has expired without an
	// Ack/Fail, at most once per job. Returns the number reclaimed.
	ReclaimStalled(ctx context.Context) (int, error)
	// Depth reports the number of jobs currently visible and claimable on
	// topic, for the QueueDepth gauge.
	Depth(ctx context.Context, topic string) (int, error)
}

// SQLiteQueue implements Queue against the reviews database's queue_jobs
// table (migrated by internal/storage). It shares the *sql.DB handle with
// the Repository rather than opening a second connection onto the same
// file.
type SQLiteQueue struct {
	db           *sql.DB
	lockDuration time.Duration
	maxAttempts  int
}

// Option customizes a SQLiteQueue.
type Option func(*SQLiteQueue)

// WithLockDuration overrides DefaultLockDuration.
func WithLockDuration(d time.Duration) Option {
	return func(q *SQLiteQueue) { q.lockDuration = d }
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(q *SQLiteQueue) { q.maxAttempts = n }
}

// New builds a SQLiteQueue over db, which must already have the queue_jobs
// table migrated (internal/storage.NewSQLiteRepository does this).
func New(db *sql.DB, opts ...Option) *SQLiteQueue {
	q := &SQLiteQueue{
		db:           db,
		lockDuration: DefaultLockDuration,
		maxAttempts:  DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, topic string, job domain.Job) error {
	payload, err := marshalJob(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	now := time.Now().UTC()
	_, err = q.db.ExecContext(ctx, `
        INSERT INTO queue_jobs (id, topic, payload, visible_at, attempts, max_attempts, locked_by, locked_at, stalled_reclaims, created_at)
        VALUES (?, ?, ?, ?, 0, ?, '', NULL, 0, ?)
    `, uuid.NewString(), topic, payload, now, q.maxAttempts, now)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue claims the oldest visible job on topic inside one transaction:
// modernc.org/sqlite doesn't support UPDATE ... RETURNING across all
// versions this module targets, so the claim is select-then-update inside
// a single transaction rather than a single RETURNING statement.
func (q *SQLiteQueue) Dequeue(ctx context.Context, topic string) (*ClaimedJob, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var id, payload string
	var attempts int
	row := tx.QueryRowContext(ctx, `
        SELECT id, payload, attempts FROM queue_jobs
        WHERE topic = ? AND visible_at <= ?
        ORDER BY created_at ASC
        LIMIT 1
    `, topic, now)
	if err := row.Scan(&id, &payload, &attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}

	attempts++
	visibleAt := now.Add(q.lockDuration)
	_, err = tx.ExecContext(ctx, `
        UPDATE queue_jobs SET attempts = ?, visible_at = ?, locked_by = ?, locked_at = ?
        WHERE id = ?
    `, attempts, visibleAt, "worker", now, id)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job, err := unmarshalJob(payload)
	if err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}

	return &ClaimedJob{ID: id, Topic: topic, Job: job, Attempts: attempts}, nil
}

func (q *SQLiteQueue) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_jobs WHERE id = ?`, id)
	return err
}

func (q *SQLiteQueue) Fail(ctx context.Context, id string) (bool, error) {
	var attempts, maxAttempts int
	row := q.db.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM queue_jobs WHERE id = ?`, id)
	if err := row.Scan(&attempts, &maxAttempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup job: %w", err)
	}

	if attempts >= maxAttempts {
		if _, err := q.db.ExecContext(ctx, `DELETE FROM queue_jobs WHERE id = ?`, id); err != nil {
			return false, fmt.Errorf("dead-letter job: %w", err)
		}
		return true, nil
	}

	delay := backoff(attempts)
	visibleAt := time.Now().UTC().Add(delay)
	_, err := q.db.ExecContext(ctx, `
        UPDATE queue_jobs SET visible_at = ?, locked_by = '', locked_at = NULL WHERE id = ?
    `, visibleAt, id)
	if err != nil {
		return false, fmt.Errorf("reschedule job: %w", err)
	}
	return false, nil
}

// ReclaimStalled requeues jobs whose locked_at/visible_at window has
// elapsed (the worker that claimed them never Ack'd or Fail'd, e.g. it
// crashed) at most once per job, per the "stalled check" wire-protocol
// vocabulary.
func (q *SQLiteQueue) ReclaimStalled(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx, `
        UPDATE queue_jobs
        SET visible_at = ?, locked_by = '', locked_at = NULL, stalled_reclaims = stalled_reclaims + 1
        WHERE locked_at IS NOT NULL AND visible_at <= ? AND stalled_reclaims < ?
    `, now, now, maxStalledReclaims)
	if err != nil {
		return 0, fmt.Errorf("reclaim stalled: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q *SQLiteQueue) Depth(ctx context.Context, topic string) (int, error) {
	var n int
	row := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_jobs WHERE topic = ? AND visible_at <= ?`, topic, time.Now().UTC())
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// backoff computes the queue-level retry delay: 50ms * attempt, capped at
// 2s. Independent of the LLM Client's own retry budget.
func backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * baseBackoff
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// StartDepthGauge polls Depth(topic) on interval until ctx is cancelled and
// reports it on the QueueDepth gauge, so operators can alert on a growing
// backlog.
func StartDepthGauge(ctx context.Context, q Queue, topic string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := q.Depth(ctx, topic)
				if err != nil {
					slog.Error("queue depth check failed", "error", err)
					continue
				}
				metrics.QueueDepth.Set(float64(n))
			}
		}
	}()
}

// StartStalledReclaimer runs ReclaimStalled on interval until ctx is
// cancelled, logging how many jobs it recovers each pass.
func StartStalledReclaimer(ctx context.Context, q Queue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := q.ReclaimStalled(ctx)
				if err != nil {
					slog.Error("reclaim stalled jobs failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Warn("reclaimed stalled queue jobs", "count", n)
				}
			}
		}
	}()
}
