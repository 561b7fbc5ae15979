package domain

import "context"

type CreatePaymentRequest struct {
	SourceType  SourceType `json:"source_type"`
	SourceID    string     `json:"source_id"`
	AmountCents int64      `json:"amount_cents"`
}

type Service interface {
	Create(ctx context.Context, req CreatePaymentRequest) (Payment, error)
	Get(ctx context.Context, id string) (Payment, error)

	// Cancel voids the payment and retires any billed period it covers.
	// Invoices already issued for the payment stay untouched; corrections
	// happen through the refund record, never by mutating the invoice.
	Cancel(ctx context.Context, id string) (Payment, error)
}
