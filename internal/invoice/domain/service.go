package domain

import "context"

type IssueRequest struct {
	PaymentID    string         `json:"payment_id"`
	DocumentType DocumentType   `json:"document_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Service interface {
	// Issue returns the invoice for the payment, issuing one if none
	// exists yet. Calling it any number of times for the same payment
	// yields the same document; a retry never consumes a second
	// correlative.
	Issue(ctx context.Context, req IssueRequest) (Invoice, error)

	Get(ctx context.Context, id string) (Invoice, error)
	GetByPayment(ctx context.Context, paymentID string) (Invoice, error)
	List(ctx context.Context) ([]Invoice, error)
}
