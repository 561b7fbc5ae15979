// Package domain contains billed-period models for stay coverage tracking.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// BilledPeriod is a contiguous range of calendar days within a stay that a
// payment has already charged. Active, non-cancelled periods of one stay
// never overlap; that invariant is what prevents double-billing a day.
type BilledPeriod struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	StayID       snowflake.ID `gorm:"not null;index"`
	PaymentID    snowflake.ID `gorm:"not null;index"`
	CoveredStart time.Time    `gorm:"type:date;not null"`
	CoveredEnd   time.Time    `gorm:"type:date;not null"`
	AmountCents  int64        `gorm:"not null"`
	Active       bool         `gorm:"not null;default:true"`
	Cancelled    bool         `gorm:"not null;default:false"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BilledPeriod) TableName() string { return "billed_periods" }

// PendingRange describes the days of a stay that have elapsed but are not
// covered by any billed period yet.
type PendingRange struct {
	Start      time.Time `json:"start_date"`
	End        time.Time `json:"end_date"`
	DayCount   int       `json:"day_count"`
	HasPending bool      `json:"has_pending_days"`
}

// DateOnly truncates an instant to its UTC calendar day.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var (
	ErrPeriodOverlap  = errors.New("billed_period_overlap")
	ErrInvalidPeriod  = errors.New("invalid_billed_period")
	ErrPeriodNotFound = errors.New("billed_period_not_found")
)
