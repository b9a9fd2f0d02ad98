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
	paymentCollection           = "payments"
	paymentOrderIndexCollection = "paymentOrderIndex"
	paymentTxnIndexCollection   = "paymentTxnIndex"
)

// PaymentRepository persists payments within Firestore. Uniqueness per
// order and per internal transaction ID is enforced with index documents
// created in the same transaction as the payment itself.
type PaymentRepository struct {
	provider   *pfirestore.Provider
	base       *pfirestore.BaseRepository[paymentDocument]
	orders     *pfirestore.BaseRepository[orderDocument]
	orderIndex *pfirestore.BaseRepository[paymentIndexDocument]
	txnIndex   *pfirestore.BaseRepository[paymentIndexDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{
		provider:   provider,
		base:       pfirestore.NewBaseRepository[paymentDocument](provider, paymentCollection, nil, nil),
		orders:     pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
		orderIndex: pfirestore.NewBaseRepository[paymentIndexDocument](provider, paymentOrderIndexCollection, nil, nil),
		txnIndex:   pfirestore.NewBaseRepository[paymentIndexDocument](provider, paymentTxnIndexCollection, nil, nil),
	}, nil
}

// Create inserts the payment together with its per-order and per-transaction
// index documents. A second payment for the same order, or a colliding
// transaction ID, fails the whole transaction with a conflict.
func (r *PaymentRepository) Create(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.provider == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID := strings.TrimSpace(payment.ID)
	orderID := strings.TrimSpace(payment.OrderID)
	txnID := strings.TrimSpace(payment.TransactionID)
	if paymentID == "" || orderID == "" || txnID == "" {
		return errors.New("payment create: id, order id and transaction id are required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		paymentRef, err := r.base.DocumentRef(ctx, paymentID)
		if err != nil {
			return err
		}
		orderIdxRef, err := r.orderIndex.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		txnIdxRef, err := r.txnIndex.DocumentRef(ctx, txnID)
		if err != nil {
			return err
		}

		index := paymentIndexDocument{PaymentID: paymentID, CreatedAt: payment.CreatedAt.UTC()}
		if err := tx.Create(orderIdxRef, index); err != nil {
			return err
		}
		if err := tx.Create(txnIdxRef, index); err != nil {
			return err
		}
		return tx.Create(paymentRef, newPaymentDocument(payment))
	})
	return pfirestore.WrapError("payments.create", err)
}

// Mutate applies fn to the payment and its order inside one transaction.
// The order update and tracking event requested by the mutation are written
// atomically with the payment.
func (r *PaymentRepository) Mutate(ctx context.Context, paymentID string, fn repositories.PaymentMutationFunc) (domain.Payment, error) {
	if r == nil || r.provider == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return domain.Payment{}, errors.New("payment mutate: payment id is required")
	}
	if fn == nil {
		return domain.Payment{}, errors.New("payment mutate: mutation function is required")
	}

	var updated domain.Payment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		paymentRef, err := r.base.DocumentRef(ctx, paymentID)
		if err != nil {
			return err
		}
		paymentSnap, err := tx.Get(paymentRef)
		if err != nil {
			return err
		}
		var paymentDoc paymentDocument
		if err := paymentSnap.DataTo(&paymentDoc); err != nil {
			return fmt.Errorf("decode payment %s: %w", paymentID, err)
		}
		payment := paymentDoc.toDomain(paymentID)

		orderRef, err := r.orders.DocumentRef(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var orderDoc orderDocument
		if err := orderSnap.DataTo(&orderDoc); err != nil {
			return fmt.Errorf("decode order %s: %w", payment.OrderID, err)
		}

		mutation, err := fn(payment, orderDoc.toDomain(payment.OrderID))
		if err != nil {
			return err
		}

		if err := tx.Set(paymentRef, newPaymentDocument(mutation.Payment)); err != nil {
			return err
		}
		if mutation.Order != nil {
			if err := tx.Set(orderRef, newOrderDocument(*mutation.Order)); err != nil {
				return err
			}
		}
		if mutation.Event != nil {
			event := *mutation.Event
			if strings.TrimSpace(event.ID) == "" {
				return errors.New("payment mutate: tracking event id is required")
			}
			eventRef := orderRef.Collection(orderTrackingSubcollection).Doc(event.ID)
			if err := tx.Create(eventRef, newTrackingDocument(event)); err != nil {
				return err
			}
		}

		updated = mutation.Payment
		return nil
	})
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.mutate", err)
	}
	return updated, nil
}

// FindByID loads a single payment.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return domain.Payment{}, errors.New("payment find: payment id is required")
	}
	doc, err := r.base.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByOrder resolves the order's payment through the per-order index.
func (r *PaymentRepository) FindByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	if r == nil || r.orderIndex == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Payment{}, errors.New("payment find: order id is required")
	}
	idx, err := r.orderIndex.Get(ctx, orderID)
	if err != nil {
		return domain.Payment{}, err
	}
	return r.FindByID(ctx, idx.Data.PaymentID)
}

// FindByProviderTransaction locates a payment by the provider's external
// transaction ID, used for webhook routing.
func (r *PaymentRepository) FindByProviderTransaction(ctx context.Context, provider, providerTxnID string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerTxnID = strings.TrimSpace(providerTxnID)
	if provider == "" || providerTxnID == "" {
		return domain.Payment{}, errors.New("payment find: provider and transaction id are required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("provider", "==", provider).
			Where("providerTransactionId", "==", providerTxnID).
			Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, pfirestore.WrapError("payments.findByProviderTxn",
			status.Error(codes.NotFound, fmt.Sprintf("payment for %s/%s not found", provider, providerTxnID)))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns a filtered page of payments, newest first.
func (r *PaymentRepository) List(ctx context.Context, filter repositories.PaymentListFilter) (domain.CursorPage[domain.Payment], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Payment]{}, errors.New("payment repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			query = query.Where("userId", "==", uid)
		}
		if provider := strings.ToLower(strings.TrimSpace(filter.Provider)); provider != "" {
			query = query.Where("provider", "==", provider)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			query = query.Where("status", "in", statuses)
		}
		if filter.CreatedAt.From != nil {
			query = query.Where("createdAt", ">=", filter.CreatedAt.From.UTC())
		}
		if filter.CreatedAt.To != nil {
			query = query.Where("createdAt", "<=", filter.CreatedAt.To.UTC())
		}
		query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
			if at, id, ok := decodeTimePageToken(token); ok {
				query = query.StartAfter(at, id)
			}
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Payment]{}, err
	}

	payments := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(payments) > pageSize
	if hasMore {
		payments = payments[:pageSize]
	}
	var nextToken string
	if hasMore && len(payments) > 0 {
		last := payments[len(payments)-1]
		encoded, err := encodeTimePageToken(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Payment]{}, err
		}
		nextToken = encoded
	}
	return domain.CursorPage[domain.Payment]{Items: payments, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

type paymentDocument struct {
	OrderID               string     `firestore:"orderId"`
	UserID                string     `firestore:"userId"`
	Provider              string     `firestore:"provider"`
	Method                string     `firestore:"method,omitempty"`
	TransactionID         string     `firestore:"transactionId"`
	ProviderTransactionID string     `firestore:"providerTransactionId,omitempty"`
	Amount                int64      `firestore:"amount"`
	RefundedAmount        int64      `firestore:"refundedAmount"`
	Currency              string     `firestore:"currency"`
	Status                string     `firestore:"status"`
	FailureReason         string     `firestore:"failureReason,omitempty"`
	CreatedAt             time.Time  `firestore:"createdAt"`
	UpdatedAt             time.Time  `firestore:"updatedAt"`
	CompletedAt           *time.Time `firestore:"completedAt,omitempty"`
}

type paymentIndexDocument struct {
	PaymentID string    `firestore:"paymentId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newPaymentDocument(payment domain.Payment) paymentDocument {
	return paymentDocument{
		OrderID:               strings.TrimSpace(payment.OrderID),
		UserID:                strings.TrimSpace(payment.UserID),
		Provider:              strings.ToLower(strings.TrimSpace(payment.Provider)),
		Method:                strings.TrimSpace(payment.Method),
		TransactionID:         strings.TrimSpace(payment.TransactionID),
		ProviderTransactionID: strings.TrimSpace(payment.ProviderTransactionID),
		Amount:                payment.Amount,
		RefundedAmount:        payment.RefundedAmount,
		Currency:              strings.ToUpper(strings.TrimSpace(payment.Currency)),
		Status:                string(payment.Status),
		FailureReason:         strings.TrimSpace(payment.FailureReason),
		CreatedAt:             payment.CreatedAt.UTC(),
		UpdatedAt:             payment.UpdatedAt.UTC(),
		CompletedAt:           payment.CompletedAt,
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:                    id,
		OrderID:               d.OrderID,
		UserID:                d.UserID,
		Provider:              d.Provider,
		Method:                d.Method,
		TransactionID:         d.TransactionID,
		ProviderTransactionID: d.ProviderTransactionID,
		Amount:                d.Amount,
		RefundedAmount:        d.RefundedAmount,
		Currency:              d.Currency,
		Status:                domain.PaymentStatus(d.Status),
		FailureReason:         d.FailureReason,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
		CompletedAt:           d.CompletedAt,
	}
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)
