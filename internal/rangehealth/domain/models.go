// Package domain contains the invoice range health report surfaced to
// operators so replacement paperwork starts before issuance halts.
package domain

import (
	"errors"
	"time"
)

// WarningCode identifies one health warning class. Checks are independent:
// a range can be low on numbers and near its deadline at the same time.
type WarningCode string

const (
	WarnNoActiveRange WarningCode = "no_active_range"
	WarnNumbersLow    WarningCode = "numbers_low"
	WarnExpiryNear    WarningCode = "expiry_near"
)

// Warning is one actionable health finding.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// RangeSummary is the operator view of the active range.
type RangeSummary struct {
	ID               string    `json:"id"`
	CAI              string    `json:"cai"`
	RangeStart       int64     `json:"range_start"`
	RangeEnd         int64     `json:"range_end"`
	CurrentNumber    int64     `json:"current_number"`
	RemainingNumbers int64     `json:"remaining_numbers"`
	IssueDeadline    time.Time `json:"issue_deadline"`
	DaysToExpiry     int       `json:"days_to_expiry"`
	Status           string    `json:"status"`
}

// Report is the full health status: the active range, if any, plus every
// warning currently in effect.
type Report struct {
	Active   *RangeSummary `json:"active_range"`
	Warnings []Warning     `json:"warnings"`
}

var ErrHealthUnavailable = errors.New("range_health_unavailable")
