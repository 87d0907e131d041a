package queue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/forgehook/reviewbot/internal/domain"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
        CREATE TABLE queue_jobs (
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
    `)
	require.NoError(t, err)
	return db
}

func TestEnqueueDequeueAck(t *testing.T) {
	db := openTestDB(t)
	q := New(db, WithMaxAttempts(3))
	ctx := context.Background()

	job := domain.Job{ReviewID: "r1", ProjectID: 7, MergeRequestIID: 3}
	require.NoError(t, q.Enqueue(ctx, ReviewTopic, job))

	claimed, err := q.Dequeue(ctx, ReviewTopic)
	require.NoError(t, err)
	require.Equal(t, job, claimed.Job)
	require.Equal(t, 1, claimed.Attempts)

	// Not visible again until the lock expires.
	_, err = q.Dequeue(ctx, ReviewTopic)
	require.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, q.Ack(ctx, claimed.ID))

	_, err = q.Dequeue(ctx, ReviewTopic)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestDequeueEmpty(t *testing.T) {
	db := openTestDB(t)
	q := New(db)
	_, err := q.Dequeue(context.Background(), ReviewTopic)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestFailRetriesThenDeadLetters(t *testing.T) {
	db := openTestDB(t)
	q := New(db, WithMaxAttempts(2), WithLockDuration(time.Millisecond))
	ctx := context.Background()

	job := domain.Job{ReviewID: "r1", ProjectID: 1, MergeRequestIID: 1}
	require.NoError(t, q.Enqueue(ctx, ReviewTopic, job))

	claimed, err := q.Dequeue(ctx, ReviewTopic)
	require.NoError(t, err)

	deadLettered, err := q.Fail(ctx, claimed.ID)
	require.NoError(t, err)
	require.False(t, deadLettered, "first failure should be retried, not dead-lettered")

	// Backoff for attempt 1 is 50ms; force it visible immediately for the test.
	_, err = db.Exec(`UPDATE queue_jobs SET visible_at = ? WHERE id = ?`, time.Now().UTC(), claimed.ID)
	require.NoError(t, err)

	claimed2, err := q.Dequeue(ctx, ReviewTopic)
	require.NoError(t, err)
	require.Equal(t, 2, claimed2.Attempts)

	deadLettered, err = q.Fail(ctx, claimed2.ID)
	require.NoError(t, err)
	require.True(t, deadLettered, "second failure exhausts max_attempts=2")

	_, err = q.Dequeue(ctx, ReviewTopic)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestReclaimStalledOnlyOncePerJob(t *testing.T) {
	db := openTestDB(t)
	q := New(db, WithLockDuration(time.Millisecond))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, ReviewTopic, domain.Job{ReviewID: "r1", ProjectID: 1, MergeRequestIID: 1}))
	claimed, err := q.Dequeue(ctx, ReviewTopic)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := q.ReclaimStalled(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	reclaimed, err := q.Dequeue(ctx, ReviewTopic)
	require.NoError(t, err)
	require.Equal(t, claimed.ID, reclaimed.ID)

	// Let the reclaimed lock expire again; a second stalled pass must not
	// reclaim it (max one stalled reclaim per job).
	time.Sleep(5 * time.Millisecond)
	n, err = q.ReclaimStalled(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestDepth(t *testing.T) {
	db := openTestDB(t)
	q := New(db)
	ctx := context.Background()

	d, err := q.Depth(ctx, ReviewTopic)
	require.NoError(t, err)
	require.Equal(t, 0, d)

	require.NoError(t, q.Enqueue(ctx, ReviewTopic, domain.Job{ReviewID: "r1", ProjectID: 1, MergeRequestIID: 1}))
	d, err = q.Depth(ctx, ReviewTopic)
	require.NoError(t, err)
	require.Equal(t, 1, d)
}
