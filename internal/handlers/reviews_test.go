package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradewinds/api/internal/services"
)

type stubReviewVoteService struct {
	markHelpfulFunc     func(ctx context.Context, cmd services.MarkReviewHelpfulCommand) (services.ReviewStats, error)
	isHelpfulByUserFunc func(ctx context.Context, reviewID, userID string) (bool, error)
	getStatsFunc        func(ctx context.Context, reviewID string) (services.ReviewStats, error)
}

func (s *stubReviewVoteService) MarkHelpful(ctx context.Context, cmd services.MarkReviewHelpfulCommand) (services.ReviewStats, error) {
	if s.markHelpfulFunc == nil {
		return services.ReviewStats{}, nil
	}
	return s.markHelpfulFunc(ctx, cmd)
}

func (s *stubReviewVoteService) IsHelpfulByUser(ctx context.Context, reviewID, userID string) (bool, error) {
	if s.isHelpfulByUserFunc == nil {
		return false, nil
	}
	return s.isHelpfulByUserFunc(ctx, reviewID, userID)
}

func (s *stubReviewVoteService) GetStats(ctx context.Context, reviewID string) (services.ReviewStats, error) {
	if s.getStatsFunc == nil {
		return services.ReviewStats{}, nil
	}
	return s.getStatsFunc(ctx, reviewID)
}

func newReviewRouter(votes services.ReviewVoteService) (chi.Router, *ReviewVoteHandlers) {
	h := NewReviewVoteHandlers(nil, votes)
	r := chi.NewRouter()
	r.Route("/reviews", h.Routes)
	return r, h
}

func TestMarkHelpfulReturnsStats(t *testing.T) {
	var got services.MarkReviewHelpfulCommand
	votes := &stubReviewVoteService{
		markHelpfulFunc: func(ctx context.Context, cmd services.MarkReviewHelpfulCommand) (services.ReviewStats, error) {
			got = cmd
			return services.ReviewStats{ReviewID: cmd.ReviewID, HelpfulCount: 4, UpdatedAt: handlerTestNow}, nil
		},
	}

	router, _ := newReviewRouter(votes)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPut, "/reviews/rev-1/helpful", `{"helpful":true}`, "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if got.ReviewID != "rev-1" || got.UserID != "user-1" || !got.Helpful {
		t.Fatalf("command = %+v", got)
	}

	var resp reviewStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stats.HelpfulCount != 4 {
		t.Fatalf("stats = %+v", resp.Stats)
	}
}

func TestMarkHelpfulMissingReview(t *testing.T) {
	votes := &stubReviewVoteService{
		markHelpfulFunc: func(ctx context.Context, cmd services.MarkReviewHelpfulCommand) (services.ReviewStats, error) {
			return services.ReviewStats{}, services.ErrReviewNotFound
		},
	}

	router, _ := newReviewRouter(votes)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPut, "/reviews/rev-9/helpful", `{"helpful":true}`, "user-1"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMarkHelpfulRateLimited(t *testing.T) {
	router, h := newReviewRouter(&stubReviewVoteService{})
	h.limiter = newSimpleRateLimiter(1, time.Minute, func() time.Time { return handlerTestNow })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPut, "/reviews/rev-1/helpful", `{"helpful":true}`, "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("first vote status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPut, "/reviews/rev-1/helpful", `{"helpful":false}`, "user-1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second vote status = %d, want 429", rec.Code)
	}
}

func TestGetVoteReflectsUserState(t *testing.T) {
	votes := &stubReviewVoteService{
		isHelpfulByUserFunc: func(ctx context.Context, reviewID, userID string) (bool, error) {
			return reviewID == "rev-1" && userID == "user-1", nil
		},
	}

	router, _ := newReviewRouter(votes)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/reviews/rev-1/helpful", "", "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp reviewVoteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Helpful {
		t.Fatal("expected helpful = true")
	}
}

func TestGetStatsDefaultsToZero(t *testing.T) {
	votes := &stubReviewVoteService{
		getStatsFunc: func(ctx context.Context, reviewID string) (services.ReviewStats, error) {
			return services.ReviewStats{ReviewID: reviewID}, nil
		},
	}

	router, _ := newReviewRouter(votes)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/reviews/rev-1/stats", "", "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp reviewStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stats.ReviewID != "rev-1" || resp.Stats.HelpfulCount != 0 {
		t.Fatalf("stats = %+v", resp.Stats)
	}
}
