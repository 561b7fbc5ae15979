package domain

import (
	"context"
	"errors"
	"time"
)

type AdmitRequest struct {
	PatientRef    string     `json:"patient_ref"`
	AdmittedAt    *time.Time `json:"admitted_at"`
	RateItemID    string     `json:"rate_item_id"`
	RateVariantID *string    `json:"rate_variant_id"`
}

type ChangeRateRequest struct {
	RateItemID    string  `json:"rate_item_id"`
	RateVariantID *string `json:"rate_variant_id"`
}

type CreateRateItemRequest struct {
	Name           string `json:"name"`
	DailyRateCents int64  `json:"daily_rate_cents"`
}

type CreateRateVariantRequest struct {
	Name           string `json:"name"`
	DailyRateCents int64  `json:"daily_rate_cents"`
}

type Service interface {
	Admit(ctx context.Context, req AdmitRequest) (Stay, error)
	Get(ctx context.Context, id string) (Stay, error)
	Discharge(ctx context.Context, id string, at *time.Time) (Stay, error)
	ChangeRate(ctx context.Context, id string, req ChangeRateRequest) (Stay, error)

	// EffectiveRate resolves the stay's current daily rate in cents.
	EffectiveRate(ctx context.Context, stayID string) (int64, error)

	CreateRateItem(ctx context.Context, req CreateRateItemRequest) (RateItem, error)
	ListRateItems(ctx context.Context) ([]RateItem, error)
	CreateRateVariant(ctx context.Context, itemID string, req CreateRateVariantRequest) (RateVariant, error)
}

var (
	ErrStayNotFound         = errors.New("stay_not_found")
	ErrStayDischarged       = errors.New("stay_already_discharged")
	ErrInvalidDischargeTime = errors.New("invalid_discharge_time")
	ErrRateItemNotFound     = errors.New("rate_item_not_found")
	ErrRateVariantNotFound  = errors.New("rate_variant_not_found")
	ErrVariantMismatch      = errors.New("rate_variant_mismatch")
	ErrInvalidRate          = errors.New("invalid_rate")
	ErrInvalidPatientRef    = errors.New("invalid_patient_ref")
)
