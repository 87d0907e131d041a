package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReviewsTotal counts completed review runs, labeled by status.
	ReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewbot_reviews_total",
		Help: "The total number of processed merge request reviews",
	}, []string{"status"}) // status: completed, failed, skipped

	// WebhookRequests counts incoming webhooks, labeled by outcome.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewbot_webhook_requests_total",
		Help: "The total number of received webhook requests",
	}, []string{"status"}) // status: accepted, dropped, invalid, ignored

	// ProcessingDuration measures end-to-end review processing time.
	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reviewbot_processing_duration_seconds",
		Help:    "Time taken to process a merge request review",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"}) // result: success, error

	// LLMCalls counts LLM chat-completion calls, labeled by outcome.
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewbot_llm_calls_total",
		Help: "The total number of LLM review calls",
	}, []string{"status"}) // status: success, recorded by the orchestrator per review call that returns without error; individual failed attempts are not counted

	// InlinePostFailures counts failed inline-discussion posts.
	InlinePostFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewbot_inline_post_failures_total",
		Help: "Total number of failed inline discussion posts to the forge",
	}, []string{"reason"})

	// IssuesVerified counts verifier decisions, labeled by outcome.
	IssuesVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewbot_issues_verified_total",
		Help: "Total number of issue verification decisions",
	}, []string{"valid"}) // valid: true, false

	// QueueDepth reports the number of jobs currently visible/claimable.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reviewbot_queue_depth",
		Help: "Number of review jobs waiting in the durable queue",
	})

	// QueueJobAttempts counts job processing attempts, labeled by outcome.
	QueueJobAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewbot_queue_job_attempts_total",
		Help: "Total number of queue job processing attempts",
	}, []string{"outcome"}) // outcome: success, retry, dead_letter
)
