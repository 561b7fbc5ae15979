// Package domain contains persistence models for hospitalization stays
// and the daily-rate catalog.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// StayStatus represents stay lifecycle states.
type StayStatus string

const (
	StayStatusActive     StayStatus = "ACTIVE"
	StayStatusDischarged StayStatus = "DISCHARGED"
)

// Stay represents one hospitalization episode, admission to discharge.
type Stay struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	PatientRef    string        `gorm:"type:text;not null;index"`
	AdmittedAt    time.Time     `gorm:"not null"`
	DischargedAt  *time.Time
	RateItemID    snowflake.ID  `gorm:"not null;index"`
	RateVariantID *snowflake.ID `gorm:"index"`
	Status        StayStatus    `gorm:"type:text;not null;default:'ACTIVE'"`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Stay) TableName() string { return "stays" }

// RateItem is a billable daily-rate catalog entry (room category, ward type).
type RateItem struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	Name           string       `gorm:"type:text;not null"`
	DailyRateCents int64        `gorm:"not null"`
	Active         bool         `gorm:"not null;default:true"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RateItem) TableName() string { return "rate_items" }

// RateVariant overrides the base daily rate of its item (private room,
// insurance agreement).
type RateVariant struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	RateItemID     snowflake.ID `gorm:"not null;index"`
	Name           string       `gorm:"type:text;not null"`
	DailyRateCents int64        `gorm:"not null"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RateVariant) TableName() string { return "rate_variants" }
