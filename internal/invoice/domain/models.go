// Package domain contains issued invoice documents and receipt numbering.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// DocumentType distinguishes fiscal invoices from internal receipts. Legal
// invoices consume a correlative from the active authorized range; simple
// receipts draw from an internal counter with no fiscal meaning.
type DocumentType string

const (
	DocumentTypeLegal  DocumentType = "LEGAL"
	DocumentTypeSimple DocumentType = "SIMPLE"
)

// Invoice is the immutable issuance record for one payment. The unique
// index on payment_id is what makes issuance idempotent under races: at
// most one row per payment can ever commit.
type Invoice struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	PaymentID      snowflake.ID      `gorm:"not null;uniqueIndex"`
	DocumentType   DocumentType      `gorm:"type:text;not null"`
	Number         int64             `gorm:"not null"`
	InvoiceRangeID *snowflake.ID
	CAI            string            `gorm:"column:cai;type:text"`
	TotalCents     int64             `gorm:"not null"`
	IssuedAt       time.Time         `gorm:"not null"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// ReceiptCounter is the single-row counter behind simple receipt numbers.
// NextNumber is the next number to hand out.
type ReceiptCounter struct {
	ID         int64 `gorm:"primaryKey"`
	NextNumber int64 `gorm:"not null"`
}

// TableName sets the database table name.
func (ReceiptCounter) TableName() string { return "receipt_counters" }

var (
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrInvalidDocumentType = errors.New("invalid_document_type")
)
