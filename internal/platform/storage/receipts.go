package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/tradewinds/api/internal/domain"
)

// ReceiptArchiver renders a JSON receipt for a captured payment and stores
// it in the receipts bucket. The archive is a side effect of completion and
// is never read back on the request path.
type ReceiptArchiver struct {
	client *gcs.Client
	bucket string
	clock  func() time.Time
}

// NewReceiptArchiver constructs an archiver writing to the given bucket.
func NewReceiptArchiver(client *gcs.Client, bucket string, clock func() time.Time) (*ReceiptArchiver, error) {
	if client == nil {
		return nil, errors.New("receipt archiver: storage client is required")
	}
	if bucket == "" {
		return nil, errors.New("receipt archiver: bucket is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &ReceiptArchiver{client: client, bucket: bucket, clock: clock}, nil
}

type receiptLine struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Total     string `json:"total"`
}

type receiptDocument struct {
	OrderID     string        `json:"orderId"`
	OrderNumber string        `json:"orderNumber"`
	PaymentID   string        `json:"paymentId"`
	Provider    string        `json:"provider"`
	Lines       []receiptLine `json:"lines"`
	Subtotal    string        `json:"subtotal"`
	Shipping    string        `json:"shipping"`
	Tax         string        `json:"tax"`
	Total       string        `json:"total"`
	Currency    string        `json:"currency"`
	PaidAt      *time.Time    `json:"paidAt,omitempty"`
	ArchivedAt  time.Time     `json:"archivedAt"`
}

// ArchiveReceipt writes the receipt object and returns its path.
func (a *ReceiptArchiver) ArchiveReceipt(ctx context.Context, payment domain.Payment, order domain.Order) (string, error) {
	if a == nil || a.client == nil {
		return "", errors.New("receipt archiver: not initialised")
	}

	path, err := BuildObjectPath(PurposeReceipt, PathParams{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		PaymentID:   payment.ID,
	})
	if err != nil {
		return "", err
	}

	currency := payment.Currency
	if currency == "" {
		currency = order.Totals.Currency
	}
	doc := receiptDocument{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		PaymentID:   payment.ID,
		Provider:    payment.Provider,
		Lines:       make([]receiptLine, 0, len(order.Items)),
		Subtotal:    domain.FormatMoney(order.Totals.Subtotal, currency),
		Shipping:    domain.FormatMoney(order.Totals.Shipping, currency),
		Tax:         domain.FormatMoney(order.Totals.Tax, currency),
		Total:       domain.FormatMoney(order.Totals.Total, currency),
		Currency:    currency,
		PaidAt:      payment.CompletedAt,
		ArchivedAt:  a.clock().UTC(),
	}
	for _, item := range order.Items {
		doc.Lines = append(doc.Lines, receiptLine{
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: domain.FormatMoney(item.UnitPrice, currency),
			Total:     domain.FormatMoney(item.TotalPrice, currency),
		})
	}

	writer := a.client.Bucket(a.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "application/json"
	if err := json.NewEncoder(writer).Encode(doc); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("receipt archiver: encode receipt: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("receipt archiver: write %s: %w", path, err)
	}
	return path, nil
}
