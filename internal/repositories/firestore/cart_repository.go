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

const cartCollection = "carts"

// CartRepository persists carts within Firestore. The whole line set lives
// in the cart document so merges and clears are single-document (or
// two-document) transactions.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{base: base, provider: provider}, nil
}

// GetCart loads the cart for the given user ID.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpsertCart persists the full cart document keyed by the user ID.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		uid = strings.TrimSpace(cart.ID)
	}
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc := newCartDocument(cart)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.UpdatedAt
	}
	if err := r.base.Set(ctx, uid, doc); err != nil {
		return domain.Cart{}, err
	}
	return doc.toDomain(uid), nil
}

// ReplaceLines swaps the cart's line set. When expectedUpdate is supplied
// the write carries a last-update precondition so concurrent mutations of
// the same cart surface as conflicts instead of lost updates.
func (r *CartRepository) ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine, expectedUpdate *time.Time, now time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	at := now.UTC()
	updates := []firestore.Update{
		{Path: "lines", Value: newCartLineDocuments(lines)},
		{Path: "updatedAt", Value: at},
	}

	var preconditions []firestore.Precondition
	if expectedUpdate != nil && !expectedUpdate.IsZero() {
		preconditions = append(preconditions, firestore.LastUpdateTime(expectedUpdate.UTC()))
	}

	err := r.base.Update(ctx, uid, updates, preconditions...)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() && expectedUpdate == nil {
			return r.UpsertCart(ctx, domain.Cart{
				ID:        uid,
				UserID:    uid,
				Lines:     lines,
				CreatedAt: at,
				UpdatedAt: at,
			})
		}
		return domain.Cart{}, err
	}
	return r.GetCart(ctx, uid)
}

// MergeCarts folds every line of fromUserID's cart into toUserID's cart in
// one transaction. Matching (product, variant) lines are summed; the rest
// move over unchanged. The source cart ends up empty either way.
func (r *CartRepository) MergeCarts(ctx context.Context, fromUserID, toUserID string, now time.Time) (domain.Cart, error) {
	if r == nil || r.provider == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	from := strings.TrimSpace(fromUserID)
	to := strings.TrimSpace(toUserID)
	if from == "" || to == "" {
		return domain.Cart{}, errors.New("cart repository: merge requires both user ids")
	}
	if from == to {
		return domain.Cart{}, errors.New("cart repository: merge source and target must differ")
	}

	at := now.UTC()
	var merged domain.Cart
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fromRef, err := r.base.DocumentRef(ctx, from)
		if err != nil {
			return err
		}
		toRef, err := r.base.DocumentRef(ctx, to)
		if err != nil {
			return err
		}

		fromDoc, err := readCartDocument(tx, fromRef)
		if err != nil {
			return err
		}
		toDoc, err := readCartDocument(tx, toRef)
		if err != nil {
			return err
		}

		index := make(map[string]int, len(toDoc.Lines))
		for i, line := range toDoc.Lines {
			index[line.key()] = i
		}
		for _, line := range fromDoc.Lines {
			if i, ok := index[line.key()]; ok {
				toDoc.Lines[i].Quantity += line.Quantity
				toDoc.Lines[i].UpdatedAt = at
				continue
			}
			line.UpdatedAt = at
			toDoc.Lines = append(toDoc.Lines, line)
			index[line.key()] = len(toDoc.Lines) - 1
		}

		toDoc.UpdatedAt = at
		if toDoc.CreatedAt.IsZero() {
			toDoc.CreatedAt = at
		}
		if toDoc.Currency == "" {
			toDoc.Currency = fromDoc.Currency
		}
		fromDoc.Lines = nil
		fromDoc.UpdatedAt = at
		if fromDoc.CreatedAt.IsZero() {
			fromDoc.CreatedAt = at
		}

		if err := tx.Set(toRef, toDoc); err != nil {
			return err
		}
		if err := tx.Set(fromRef, fromDoc); err != nil {
			return err
		}
		merged = toDoc.toDomain(to)
		return nil
	})
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.merge", err)
	}
	return merged, nil
}

func readCartDocument(tx *firestore.Transaction, ref *firestore.DocumentRef) (cartDocument, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return cartDocument{}, nil
		}
		return cartDocument{}, err
	}
	var doc cartDocument
	if err := snap.DataTo(&doc); err != nil {
		return cartDocument{}, fmt.Errorf("decode cart %s: %w", ref.ID, err)
	}
	return doc, nil
}

// Helper structures ---------------------------------------------------------

type cartDocument struct {
	Currency  string             `firestore:"currency,omitempty"`
	Lines     []cartLineDocument `firestore:"lines"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ID        string    `firestore:"id"`
	ProductID string    `firestore:"productId"`
	VariantID string    `firestore:"variantId,omitempty"`
	Quantity  int       `firestore:"qty"`
	AddedAt   time.Time `firestore:"addedAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (l cartLineDocument) key() string {
	return l.ProductID + "|" + l.VariantID
}

func newCartDocument(cart domain.Cart) cartDocument {
	return cartDocument{
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Lines:     newCartLineDocuments(cart.Lines),
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
}

func newCartLineDocuments(lines []domain.CartLine) []cartLineDocument {
	out := make([]cartLineDocument, len(lines))
	for i, line := range lines {
		out[i] = cartLineDocument{
			ID:        strings.TrimSpace(line.ID),
			ProductID: strings.TrimSpace(line.ProductID),
			VariantID: strings.TrimSpace(line.VariantID),
			Quantity:  line.Quantity,
			AddedAt:   line.AddedAt.UTC(),
			UpdatedAt: line.UpdatedAt.UTC(),
		}
	}
	return out
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	lines := make([]domain.CartLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.CartLine{
			ID:        line.ID,
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			AddedAt:   line.AddedAt,
			UpdatedAt: line.UpdatedAt,
		}
	}
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  strings.ToUpper(strings.TrimSpace(d.Currency)),
		Lines:     lines,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
