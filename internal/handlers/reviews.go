package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradewinds/api/internal/platform/auth"
	"github.com/tradewinds/api/internal/platform/httpx"
	"github.com/tradewinds/api/internal/services"
)

const (
	maxReviewBodySize = 4 * 1024

	voteRateLimit  = 30
	voteRateWindow = time.Minute
)

// ReviewVoteHandlers exposes the review helpfulness endpoints. Votes are
// rate limited per user to keep counter churn bounded.
type ReviewVoteHandlers struct {
	authn   *auth.Authenticator
	votes   services.ReviewVoteService
	limiter rateLimiter
}

// NewReviewVoteHandlers constructs a new ReviewVoteHandlers instance.
func NewReviewVoteHandlers(authn *auth.Authenticator, votes services.ReviewVoteService) *ReviewVoteHandlers {
	return &ReviewVoteHandlers{
		authn:   authn,
		votes:   votes,
		limiter: newSimpleRateLimiter(voteRateLimit, voteRateWindow, time.Now),
	}
}

// Routes registers the /reviews endpoints.
func (h *ReviewVoteHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Put("/{reviewID}/helpful", h.markHelpful)
	r.Get("/{reviewID}/helpful", h.getVote)
	r.Get("/{reviewID}/stats", h.getStats)
}

func (h *ReviewVoteHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.votes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

type markHelpfulRequest struct {
	Helpful bool `json:"helpful"`
}

func (h *ReviewVoteHandlers) markHelpful(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(strings.TrimSpace(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many votes; slow down", http.StatusTooManyRequests))
		return
	}

	reviewID := strings.TrimSpace(chi.URLParam(r, "reviewID"))
	if reviewID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "review id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxReviewBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req markHelpfulRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	stats, err := h.votes.MarkHelpful(ctx, services.MarkReviewHelpfulCommand{
		ReviewID: reviewID,
		UserID:   identity.UID,
		Helpful:  req.Helpful,
	})
	if err != nil {
		writeReviewVoteError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reviewStatsResponse{Stats: buildReviewStatsPayload(stats)})
}

func (h *ReviewVoteHandlers) getVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	reviewID := strings.TrimSpace(chi.URLParam(r, "reviewID"))
	if reviewID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "review id is required", http.StatusBadRequest))
		return
	}

	helpful, err := h.votes.IsHelpfulByUser(ctx, reviewID, identity.UID)
	if err != nil {
		writeReviewVoteError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reviewVoteResponse{
		ReviewID: reviewID,
		Helpful:  helpful,
	})
}

func (h *ReviewVoteHandlers) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	reviewID := strings.TrimSpace(chi.URLParam(r, "reviewID"))
	if reviewID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "review id is required", http.StatusBadRequest))
		return
	}

	stats, err := h.votes.GetStats(ctx, reviewID)
	if err != nil {
		writeReviewVoteError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reviewStatsResponse{Stats: buildReviewStatsPayload(stats)})
}

func writeReviewVoteError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReviewInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReviewNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("review_not_found", "review not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReviewUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("review_error", "review operation failed", http.StatusInternalServerError))
	}
}

type reviewVoteResponse struct {
	ReviewID string `json:"review_id"`
	Helpful  bool   `json:"helpful"`
}

type reviewStatsResponse struct {
	Stats reviewStatsPayload `json:"stats"`
}

type reviewStatsPayload struct {
	ReviewID     string `json:"review_id"`
	HelpfulCount int64  `json:"helpful_count"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

func buildReviewStatsPayload(stats services.ReviewStats) reviewStatsPayload {
	return reviewStatsPayload{
		ReviewID:     strings.TrimSpace(stats.ReviewID),
		HelpfulCount: stats.HelpfulCount,
		UpdatedAt:    formatTime(stats.UpdatedAt),
	}
}
