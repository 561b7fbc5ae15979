// Package domain contains the legally authorized invoice numbering ranges.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// RangeStatus represents invoice range lifecycle states. Exhausted and
// expired are terminal for issuance; invoices already numbered from such
// a range remain valid.
type RangeStatus string

const (
	RangeStatusActive    RangeStatus = "ACTIVE"
	RangeStatusExhausted RangeStatus = "EXHAUSTED"
	RangeStatusExpired   RangeStatus = "EXPIRED"
	RangeStatusInactive  RangeStatus = "INACTIVE"
)

// InvoiceRange is one CAI authorization: a finite block of sequential
// document numbers that may be issued until the deadline. CurrentNumber
// is the next number to issue; it only ever increases and stays within
// [RangeStart, RangeEnd+1].
type InvoiceRange struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	CAI           string       `gorm:"column:cai;type:text;not null;uniqueIndex"`
	RangeStart    int64        `gorm:"not null"`
	RangeEnd      int64        `gorm:"not null"`
	CurrentNumber int64        `gorm:"not null"`
	IssueDeadline time.Time    `gorm:"type:date;not null"`
	TaxpayerID    string       `gorm:"type:text;not null"`
	Status        RangeStatus  `gorm:"type:text;not null;default:'INACTIVE'"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceRange) TableName() string { return "invoice_ranges" }

// Remaining returns how many numbers the range can still issue.
func (r InvoiceRange) Remaining() int64 {
	remaining := r.RangeEnd - r.CurrentNumber + 1
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ParsedAuthorization carries the fields extracted from a CAI
// authorization document by the external parsing collaborator.
type ParsedAuthorization struct {
	CAI                string    `json:"cai"`
	RangeStart         int64     `json:"range_start"`
	RangeEnd           int64     `json:"range_end"`
	AuthorizedQuantity int64     `json:"authorized_quantity"`
	IssueDeadline      time.Time `json:"issue_deadline"`
	TaxpayerID         string    `json:"taxpayer_id"`
}

// Allocation is one issued correlative number.
type Allocation struct {
	Number  int64
	RangeID snowflake.ID
	CAI     string
}

var (
	ErrDuplicateCAI         = errors.New("duplicate_authorization")
	ErrInvalidAuthorization = errors.New("invalid_authorization")
	ErrRangeNotFound        = errors.New("invoice_range_not_found")
	ErrRangeExhausted       = errors.New("invoice_range_exhausted")
	ErrRangeExpired         = errors.New("invoice_range_expired")
	ErrNoActiveRange        = errors.New("no_active_invoice_range")
	ErrActiveRangeExists    = errors.New("active_invoice_range_exists")
	ErrRangeNotActivatable  = errors.New("invoice_range_not_activatable")
)
