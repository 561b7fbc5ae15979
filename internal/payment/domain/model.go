// Package domain contains payment records for billable events.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SourceType identifies the billable event a payment settles.
type SourceType string

const (
	SourceConsultation    SourceType = "CONSULTATION"
	SourceSale            SourceType = "SALE"
	SourceHospitalization SourceType = "HOSPITALIZATION"
	SourceSurgery         SourceType = "SURGERY"
)

// PaymentSource is a tagged variant: every payment points at exactly one
// billable event. Constructing one validates the tag so a payment can
// never carry zero or multiple sources.
type PaymentSource struct {
	Type SourceType
	ID   snowflake.ID
}

// NewPaymentSource validates and builds a payment source.
func NewPaymentSource(sourceType SourceType, id snowflake.ID) (PaymentSource, error) {
	switch sourceType {
	case SourceConsultation, SourceSale, SourceHospitalization, SourceSurgery:
	default:
		return PaymentSource{}, ErrInvalidSource
	}
	if id == 0 {
		return PaymentSource{}, ErrInvalidSource
	}
	return PaymentSource{Type: sourceType, ID: id}, nil
}

// PaymentStatus represents payment lifecycle states.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// Payment is one settled or pending charge against a billable event.
type Payment struct {
	ID          snowflake.ID  `gorm:"primaryKey"`
	SourceType  SourceType    `gorm:"type:text;not null;index:idx_payments_source"`
	SourceID    snowflake.ID  `gorm:"not null;index:idx_payments_source"`
	AmountCents int64         `gorm:"not null"`
	Status      PaymentStatus `gorm:"type:text;not null;default:'PENDING'"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	PaidAt      *time.Time
	CancelledAt *time.Time
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// Source returns the payment's tagged source.
func (p Payment) Source() PaymentSource {
	return PaymentSource{Type: p.SourceType, ID: p.SourceID}
}

var (
	ErrInvalidSource    = errors.New("invalid_payment_source")
	ErrInvalidAmount    = errors.New("invalid_payment_amount")
	ErrPaymentNotFound  = errors.New("payment_not_found")
	ErrPaymentCancelled = errors.New("payment_cancelled")
)
