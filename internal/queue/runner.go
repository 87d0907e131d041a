package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/forgehook/reviewbot/internal/metrics"
)

// Handler processes one claimed job to completion. A non-nil error marks
// the attempt failed (queue-level retry-with-backoff applies); nil Acks the
// job.
type Handler func(ctx context.Context, job ClaimedJob) error

// Runner drains a topic with a fixed pool of goroutines, each polling
// Dequeue and running Handler to completion with panic recovery. This
// generalizes the teacher's WorkerPool (goroutines + context cancellation +
// WaitGroup-based graceful shutdown) onto a durable, poll-based queue
// instead of an in-memory channel.
type Runner struct {
	queue        Queue
	topic        string
	handler      Handler
	workers      int
	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner builds a Runner with workers goroutines polling topic every
// pollInterval when the queue is empty.
func NewRunner(q Queue, topic string, workers int, pollInterval time.Duration, handler Handler) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{queue: q, topic: topic, handler: handler, workers: workers, pollInterval: pollInterval}
}

// Start launches the worker goroutines. Call Stop to drain and shut down.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	slog.Info("starting queue runner", "topic", r.topic, "workers", r.workers)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.loop(ctx, i)
	}
}

// Stop cancels the runner's context and waits for in-flight jobs to finish
// processing (the handler is responsible for respecting ctx cancellation).
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := r.queue.Dequeue(ctx, r.topic)
		if err != nil {
			if !errors.Is(err, ErrEmpty) {
				slog.Error("dequeue failed", "worker", id, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.pollInterval):
			}
			continue
		}

		r.process(ctx, id, *claimed)
	}
}

func (r *Runner) process(ctx context.Context, workerID int, claimed ClaimedJob) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic processing queue job", "worker", workerID, "job_id", claimed.ID, "panic", rec)
			if _, err := r.queue.Fail(ctx, claimed.ID); err != nil {
				slog.Error("fail job after panic failed", "job_id", claimed.ID, "error", err)
			}
			metrics.QueueJobAttempts.WithLabelValues("retry").Inc()
		}
	}()

	if err := r.handler(ctx, claimed); err != nil {
		slog.Error("job handler failed", "job_id", claimed.ID, "attempts", claimed.Attempts, "error", err)
		deadLettered, ferr := r.queue.Fail(ctx, claimed.ID)
		if ferr != nil {
			slog.Error("fail job failed", "job_id", claimed.ID, "error", ferr)
			return
		}
		if deadLettered {
			metrics.QueueJobAttempts.WithLabelValues("dead_letter").Inc()
		} else {
			metrics.QueueJobAttempts.WithLabelValues("retry").Inc()
		}
		return
	}

	if err := r.queue.Ack(ctx, claimed.ID); err != nil {
		slog.Error("ack job failed", "job_id", claimed.ID, "error", err)
		return
	}
	metrics.QueueJobAttempts.WithLabelValues("success").Inc()
}
