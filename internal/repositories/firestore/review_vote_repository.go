package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tradewinds/api/internal/domain"
	pfirestore "github.com/tradewinds/api/internal/platform/firestore"
	"github.com/tradewinds/api/internal/repositories"
)

const (
	reviewVoteCollection  = "reviewVotes"
	reviewStatsCollection = "reviewStats"
)

// ReviewVoteRepository stores helpfulness votes keyed (review, voter) and
// keeps the denormalized helpful counter in step inside one transaction.
type ReviewVoteRepository struct {
	provider *pfirestore.Provider
	votes    *pfirestore.BaseRepository[reviewVoteDocument]
	stats    *pfirestore.BaseRepository[reviewStatsDocument]
}

// NewReviewVoteRepository constructs a Firestore-backed vote repository.
func NewReviewVoteRepository(provider *pfirestore.Provider) (*ReviewVoteRepository, error) {
	if provider == nil {
		return nil, errors.New("review vote repository requires firestore provider")
	}
	return &ReviewVoteRepository{
		provider: provider,
		votes:    pfirestore.NewBaseRepository[reviewVoteDocument](provider, reviewVoteCollection, nil, nil),
		stats:    pfirestore.NewBaseRepository[reviewStatsDocument](provider, reviewStatsCollection, nil, nil),
	}, nil
}

// SetVote upserts the vote and adjusts the counter atomically. Inserting a
// helpful vote adds one; flipping an existing vote moves the counter by one
// in the matching direction; re-submitting the same value changes nothing.
func (r *ReviewVoteRepository) SetVote(ctx context.Context, vote domain.ReviewHelpfulVote) (domain.ReviewStats, error) {
	if r == nil || r.provider == nil {
		return domain.ReviewStats{}, errors.New("review vote repository not initialised")
	}
	reviewID := strings.TrimSpace(vote.ReviewID)
	userID := strings.TrimSpace(vote.UserID)
	if reviewID == "" || userID == "" {
		return domain.ReviewStats{}, errors.New("review vote: review id and user id are required")
	}

	now := vote.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result domain.ReviewStats
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		voteRef, err := r.votes.DocumentRef(ctx, voteDocID(reviewID, userID))
		if err != nil {
			return err
		}
		statsRef, err := r.stats.DocumentRef(ctx, reviewID)
		if err != nil {
			return err
		}

		delta := int64(0)
		voteSnap, err := tx.Get(voteRef)
		switch {
		case err == nil:
			var existing reviewVoteDocument
			if err := voteSnap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode review vote %s: %w", voteRef.ID, err)
			}
			if existing.Helpful == vote.Helpful {
				delta = 0
			} else if vote.Helpful {
				delta = 1
			} else {
				delta = -1
			}
		case status.Code(err) == codes.NotFound:
			if vote.Helpful {
				delta = 1
			}
		default:
			return err
		}

		var statsDoc reviewStatsDocument
		statsSnap, err := tx.Get(statsRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
		} else if err := statsSnap.DataTo(&statsDoc); err != nil {
			return fmt.Errorf("decode review stats %s: %w", reviewID, err)
		}

		statsDoc.HelpfulCount += delta
		if statsDoc.HelpfulCount < 0 {
			return errors.New("review vote: helpful counter would go negative")
		}
		statsDoc.UpdatedAt = now

		if err := tx.Set(voteRef, reviewVoteDocument{
			ReviewID:  reviewID,
			UserID:    userID,
			Helpful:   vote.Helpful,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.Set(statsRef, statsDoc); err != nil {
			return err
		}

		result = statsDoc.toDomain(reviewID)
		return nil
	})
	if err != nil {
		return domain.ReviewStats{}, pfirestore.WrapError("reviewVotes.set", err)
	}
	return result, nil
}

// GetVote loads one user's vote on a review.
func (r *ReviewVoteRepository) GetVote(ctx context.Context, reviewID, userID string) (domain.ReviewHelpfulVote, error) {
	if r == nil || r.votes == nil {
		return domain.ReviewHelpfulVote{}, errors.New("review vote repository not initialised")
	}
	reviewID = strings.TrimSpace(reviewID)
	userID = strings.TrimSpace(userID)
	if reviewID == "" || userID == "" {
		return domain.ReviewHelpfulVote{}, errors.New("review vote: review id and user id are required")
	}
	doc, err := r.votes.Get(ctx, voteDocID(reviewID, userID))
	if err != nil {
		return domain.ReviewHelpfulVote{}, err
	}
	return domain.ReviewHelpfulVote{
		ReviewID:  doc.Data.ReviewID,
		UserID:    doc.Data.UserID,
		Helpful:   doc.Data.Helpful,
		UpdatedAt: doc.Data.UpdatedAt,
	}, nil
}

// GetStats loads the denormalized counter for a review.
func (r *ReviewVoteRepository) GetStats(ctx context.Context, reviewID string) (domain.ReviewStats, error) {
	if r == nil || r.stats == nil {
		return domain.ReviewStats{}, errors.New("review vote repository not initialised")
	}
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return domain.ReviewStats{}, errors.New("review vote: review id is required")
	}
	doc, err := r.stats.Get(ctx, reviewID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.ReviewStats{ReviewID: reviewID}, nil
		}
		return domain.ReviewStats{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func voteDocID(reviewID, userID string) string {
	return reviewID + ":" + userID
}

// Helper structures ---------------------------------------------------------

type reviewVoteDocument struct {
	ReviewID  string    `firestore:"reviewId"`
	UserID    string    `firestore:"userId"`
	Helpful   bool      `firestore:"helpful"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type reviewStatsDocument struct {
	HelpfulCount int64     `firestore:"helpfulCount"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (d reviewStatsDocument) toDomain(reviewID string) domain.ReviewStats {
	return domain.ReviewStats{
		ReviewID:     reviewID,
		HelpfulCount: d.HelpfulCount,
		UpdatedAt:    d.UpdatedAt,
	}
}

var _ repositories.ReviewVoteRepository = (*ReviewVoteRepository)(nil)
