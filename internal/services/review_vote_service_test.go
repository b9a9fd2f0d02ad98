package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tradewinds/api/internal/domain"
)

var reviewTestNow = time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC)

func newTestReviewVoteService(t *testing.T, votes *stubReviewVoteRepository) ReviewVoteService {
	t.Helper()
	service, err := NewReviewVoteService(ReviewVoteServiceDeps{
		Votes: votes,
		Clock: func() time.Time { return reviewTestNow },
	})
	if err != nil {
		t.Fatalf("NewReviewVoteService: %v", err)
	}
	return service
}

func TestReviewVoteServiceMarkHelpfulStampsVote(t *testing.T) {
	var recorded domain.ReviewHelpfulVote
	votes := &stubReviewVoteRepository{
		setVoteFunc: func(_ context.Context, vote domain.ReviewHelpfulVote) (domain.ReviewStats, error) {
			recorded = vote
			return domain.ReviewStats{ReviewID: vote.ReviewID, HelpfulCount: 4, UpdatedAt: vote.UpdatedAt}, nil
		},
	}
	service := newTestReviewVoteService(t, votes)

	stats, err := service.MarkHelpful(context.Background(), MarkReviewHelpfulCommand{
		ReviewID: "rev-1",
		UserID:   "user-1",
		Helpful:  true,
	})
	if err != nil {
		t.Fatalf("MarkHelpful: %v", err)
	}

	if recorded.ReviewID != "rev-1" || recorded.UserID != "user-1" || !recorded.Helpful {
		t.Fatalf("recorded vote = %+v", recorded)
	}
	if !recorded.UpdatedAt.Equal(reviewTestNow) {
		t.Fatalf("vote updatedAt = %v, want %v", recorded.UpdatedAt, reviewTestNow)
	}
	if stats.HelpfulCount != 4 {
		t.Fatalf("helpfulCount = %d, want 4", stats.HelpfulCount)
	}
}

func TestReviewVoteServiceMarkHelpfulRequiresIdentity(t *testing.T) {
	service := newTestReviewVoteService(t, &stubReviewVoteRepository{})

	_, err := service.MarkHelpful(context.Background(), MarkReviewHelpfulCommand{ReviewID: "rev-1"})
	if !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("err = %v, want ErrReviewInvalidInput", err)
	}
	_, err = service.MarkHelpful(context.Background(), MarkReviewHelpfulCommand{UserID: "user-1"})
	if !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("err = %v, want ErrReviewInvalidInput", err)
	}
}

func TestReviewVoteServiceMarkHelpfulMissingReview(t *testing.T) {
	votes := &stubReviewVoteRepository{
		setVoteFunc: func(context.Context, domain.ReviewHelpfulVote) (domain.ReviewStats, error) {
			return domain.ReviewStats{}, repoNotFound()
		},
	}
	service := newTestReviewVoteService(t, votes)

	_, err := service.MarkHelpful(context.Background(), MarkReviewHelpfulCommand{
		ReviewID: "rev-gone",
		UserID:   "user-1",
		Helpful:  true,
	})
	if !errors.Is(err, ErrReviewNotFound) {
		t.Fatalf("err = %v, want ErrReviewNotFound", err)
	}
}

func TestReviewVoteServiceIsHelpfulByUserWithoutVote(t *testing.T) {
	service := newTestReviewVoteService(t, &stubReviewVoteRepository{})

	helpful, err := service.IsHelpfulByUser(context.Background(), "rev-1", "user-1")
	if err != nil {
		t.Fatalf("IsHelpfulByUser: %v", err)
	}
	if helpful {
		t.Fatal("expected false for a user who never voted")
	}
}

func TestReviewVoteServiceIsHelpfulByUserReflectsVote(t *testing.T) {
	votes := &stubReviewVoteRepository{
		getVoteFunc: func(_ context.Context, reviewID, userID string) (domain.ReviewHelpfulVote, error) {
			return domain.ReviewHelpfulVote{ReviewID: reviewID, UserID: userID, Helpful: true}, nil
		},
	}
	service := newTestReviewVoteService(t, votes)

	helpful, err := service.IsHelpfulByUser(context.Background(), "rev-1", "user-1")
	if err != nil {
		t.Fatalf("IsHelpfulByUser: %v", err)
	}
	if !helpful {
		t.Fatal("expected true for a recorded helpful vote")
	}
}

func TestReviewVoteServiceGetStatsDefaultsToEmptyCounter(t *testing.T) {
	service := newTestReviewVoteService(t, &stubReviewVoteRepository{})

	stats, err := service.GetStats(context.Background(), "rev-1")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.ReviewID != "rev-1" || stats.HelpfulCount != 0 {
		t.Fatalf("stats = %+v, want an empty counter for rev-1", stats)
	}
}
