// Package webhook handles incoming source-forge merge-request webhooks:
// auth, schema validation, skip rules, and the one-transaction upsert +
// enqueue described in spec §4.1. Grounded on the teacher's
// internal/webhook.BitbucketWebhookHandler (MaxBytesReader body cap,
// header-driven auth, metrics-per-outcome, JSON response body) adapted from
// Bitbucket's HMAC signature scheme to a GitLab-style shared-secret header
// compared in constant time.
package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/forgehook/reviewbot/internal/config"
	"github.com/forgehook/reviewbot/internal/domain"
	"github.com/forgehook/reviewbot/internal/metrics"
	"github.com/forgehook/reviewbot/internal/queue"
	"github.com/forgehook/reviewbot/internal/storage"
	"github.com/forgehook/reviewbot/internal/types"
	"github.com/tidwall/gjson"
)

const mergeRequestEvent = "Merge Request Hook"

var acceptedActions = map[string]bool{
	"opened": true, "open": true, "update": true, "reopen": true,
}

// Handler processes POST /webhooks/forge deliveries.
type Handler struct {
	store       storage.Repository
	queue       queue.Queue
	secret      string
	maxBodySize int64
}

// New builds a Handler over the given Repository and Queue. secret is the
// configured webhook token (FORGE_WEBHOOK_SECRET); maxBodySize caps the
// request body read, per spec's transport hardening notes.
func New(store storage.Repository, q queue.Queue, cfg *config.Config) *Handler {
	return &Handler{store: store, queue: q, secret: cfg.Forge.WebhookSecret, maxBodySize: cfg.Server.MaxBodySize}
}

type mergeRequestPayload struct {
	ObjectKind string `json:"object_kind"`
	User       struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user"`
	Project struct {
		ID                int64  `json:"id"`
		Name              string `json:"name"`
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
	ObjectAttributes struct {
		ID             int64  `json:"id"`
		IID            int64  `json:"iid"`
		Title          string `json:"title"`
		SourceBranch   string `json:"source_branch"`
		TargetBranch   string `json:"target_branch"`
		Action         string `json:"action"`
		WorkInProgress bool   `json:"work_in_progress"`
		URL            string `json:"url"`
	} `json:"object_attributes"`
}

type processedResponse struct {
	Processed bool `json:"processed"`
}

// intakeResponse is the accept-path response body, per spec §6:
// {success, reviewId?, mergeRequestIid, status?}.
type intakeResponse struct {
	Success         bool                `json:"success"`
	ReviewID        string              `json:"reviewId,omitempty"`
	MergeRequestIID int64               `json:"mergeRequestIid"`
	Status          domain.ReviewStatus `json:"status,omitempty"`
}

// ServeHTTP implements the full intake contract: auth, event-type filter,
// schema validation, skip rules, the transactional upsert, and enqueue.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("webhook read body failed", "error", err)
		metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}

	if err := h.authenticate(r); err != nil {
		slog.Warn("webhook auth failed", "error", err)
		metrics.WebhookRequests.WithLabelValues("dropped").Inc()
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if r.Header.Get("X-Forge-Event") != mergeRequestEvent {
		metrics.WebhookRequests.WithLabelValues("ignored").Inc()
		writeJSON(w, http.StatusOK, processedResponse{Processed: false})
		return
	}

	if err := validatePayloadShape(body); err != nil {
		slog.Warn("webhook payload validation failed", "error", err)
		metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var payload mergeRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("webhook payload decode failed", "error", err)
		metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	if payload.ObjectAttributes.WorkInProgress || !acceptedActions[payload.ObjectAttributes.Action] {
		slog.Debug("webhook skip rule matched",
			"action", payload.ObjectAttributes.Action,
			"work_in_progress", payload.ObjectAttributes.WorkInProgress)
		metrics.WebhookRequests.WithLabelValues("ignored").Inc()
		writeJSON(w, http.StatusOK, processedResponse{Processed: false})
		return
	}

	project := &domain.Project{
		ForgeProjectID: payload.Project.ID,
		Name:           payload.Project.Name,
		Namespace:      payload.Project.PathWithNamespace,
		WebhookSecret:  h.secret,
	}
	developer := &domain.Developer{
		ForgeUserID: payload.User.ID,
		Username:    payload.User.Username,
		Name:        payload.User.Name,
		Email:       payload.User.Email,
		AvatarURL:   payload.User.AvatarURL,
	}
	review := &domain.Review{
		MergeRequestID:  payload.ObjectAttributes.ID,
		MergeRequestIID: payload.ObjectAttributes.IID,
		Title:           payload.ObjectAttributes.Title,
		SourceURL:       payload.ObjectAttributes.URL,
		SourceBranch:    payload.ObjectAttributes.SourceBranch,
		TargetBranch:    payload.ObjectAttributes.TargetBranch,
	}

	_, _, savedReview, _, err := h.store.IntakeWebhook(r.Context(), project, developer, review)
	if err != nil {
		slog.Error("webhook intake failed", "error", &types.DatabaseError{Err: err})
		metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	job := domain.Job{
		ReviewID:        savedReview.ID,
		ProjectID:       payload.Project.ID,
		MergeRequestIID: payload.ObjectAttributes.IID,
	}
	if err := h.queue.Enqueue(r.Context(), queue.ReviewTopic, job); err != nil {
		// Per spec §4.1, enqueue failure does not roll back the database: the
		// Review stays PENDING and is observable by operations instead of the
		// webhook delivery failing.
		slog.Error("webhook enqueue failed", "error", &types.QueueFailure{Err: err}, "review_id", savedReview.ID)
	}

	metrics.WebhookRequests.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusOK, intakeResponse{
		Success:         true,
		ReviewID:        savedReview.ID,
		MergeRequestIID: payload.ObjectAttributes.IID,
		Status:          savedReview.Status,
	})
}

// Health answers the liveness probe at GET /webhooks/forge/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// authenticate compares X-Forge-Token against the configured secret in
// constant time, per spec §4.1.
func (h *Handler) authenticate(r *http.Request) error {
	if h.secret == "" {
		return &types.AuthFailure{Reason: "webhook secret is not configured"}
	}
	token := r.Header.Get("X-Forge-Token")
	if token == "" {
		return &types.AuthFailure{Reason: "missing X-Forge-Token header"}
	}
	if !secureCompare(token, h.secret) {
		return &types.AuthFailure{Reason: "token mismatch"}
	}
	return nil
}

// secureCompare reports whether given equals expected without leaking
// either string's length through comparison timing: both sides are padded
// to the same length before the constant-time compare, and the true
// lengths are checked separately afterward.
func secureCompare(given, expected string) bool {
	maxLen := len(given)
	if len(expected) > maxLen {
		maxLen = len(expected)
	}
	paddedGiven := make([]byte, maxLen)
	paddedExpected := make([]byte, maxLen)
	copy(paddedGiven, given)
	copy(paddedExpected, expected)

	equal := subtle.ConstantTimeCompare(paddedGiven, paddedExpected) == 1
	return equal && len(given) == len(expected)
}

// validatePayloadShape defensively probes the raw JSON for the three
// top-level objects the contract requires before a full unmarshal, using
// gjson so a malformed or partial payload fails with a precise 400 instead
// of a generic decode error.
func validatePayloadShape(body []byte) error {
	for _, field := range []string{"object_attributes", "project", "user"} {
		if !gjson.GetBytes(body, field).Exists() {
			return &types.ValidationFailure{Reason: "missing required field: " + field}
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
