package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/tradewinds/api/internal/domain"
	"github.com/tradewinds/api/internal/repositories"
)

// ErrReviewInvalidInput indicates the caller supplied invalid input.
var ErrReviewInvalidInput = errors.New("review vote service: invalid input")

// ErrReviewNotFound indicates the requested review or vote does not exist.
var ErrReviewNotFound = errors.New("review vote service: not found")

// ErrReviewUnavailable indicates the review backend cannot fulfil the request.
var ErrReviewUnavailable = errors.New("review vote service: unavailable")

// ReviewVoteServiceDeps wires vote persistence.
type ReviewVoteServiceDeps struct {
	Votes  repositories.ReviewVoteRepository
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

type reviewVoteService struct {
	votes  repositories.ReviewVoteRepository
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewReviewVoteService constructs a ReviewVoteService enforcing dependency validation.
func NewReviewVoteService(deps ReviewVoteServiceDeps) (ReviewVoteService, error) {
	if deps.Votes == nil {
		return nil, errors.New("review vote service: repository is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("review vote service: clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &reviewVoteService{
		votes:  deps.Votes,
		now:    func() time.Time { return deps.Clock().UTC() },
		logger: logger,
	}, nil
}

// MarkHelpful upserts the caller's vote and returns the review's resulting
// stats. The vote and the denormalised counter move in one transaction, so
// re-submitting the same opinion never drifts the count.
func (s *reviewVoteService) MarkHelpful(ctx context.Context, cmd MarkReviewHelpfulCommand) (ReviewStats, error) {
	reviewID := strings.TrimSpace(cmd.ReviewID)
	userID := strings.TrimSpace(cmd.UserID)
	if reviewID == "" || userID == "" {
		return ReviewStats{}, ErrReviewInvalidInput
	}

	stats, err := s.votes.SetVote(ctx, domain.ReviewHelpfulVote{
		ReviewID:  reviewID,
		UserID:    userID,
		Helpful:   cmd.Helpful,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return ReviewStats{}, s.translateRepoError(err)
	}

	s.logger(ctx, "review.vote_recorded", map[string]any{
		"reviewId": reviewID,
		"helpful":  cmd.Helpful,
		"count":    stats.HelpfulCount,
	})
	return stats, nil
}

// IsHelpfulByUser reports whether the user currently marks the review helpful.
func (s *reviewVoteService) IsHelpfulByUser(ctx context.Context, reviewID, userID string) (bool, error) {
	reviewID = strings.TrimSpace(reviewID)
	userID = strings.TrimSpace(userID)
	if reviewID == "" || userID == "" {
		return false, ErrReviewInvalidInput
	}

	vote, err := s.votes.GetVote(ctx, reviewID, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return false, nil
		}
		return false, s.translateRepoError(err)
	}
	return vote.Helpful, nil
}

func (s *reviewVoteService) GetStats(ctx context.Context, reviewID string) (ReviewStats, error) {
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return ReviewStats{}, ErrReviewInvalidInput
	}
	stats, err := s.votes.GetStats(ctx, reviewID)
	if err != nil {
		if isRepoNotFound(err) {
			// A review nobody has voted on has an empty counter, not an error.
			return ReviewStats{ReviewID: reviewID}, nil
		}
		return ReviewStats{}, s.translateRepoError(err)
	}
	return stats, nil
}

func (s *reviewVoteService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrReviewNotFound
	}
	return ErrReviewUnavailable
}

var _ ReviewVoteService = (*reviewVoteService)(nil)
