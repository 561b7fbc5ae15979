package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinidesk/caja/internal/clock"
	staydomain "github.com/clinidesk/caja/internal/stay/domain"
	"github.com/clinidesk/caja/pkg/db/option"
	"github.com/clinidesk/caja/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	stayrepo    repository.Repository[staydomain.Stay]
	itemrepo    repository.Repository[staydomain.RateItem]
	variantrepo repository.Repository[staydomain.RateVariant]
}

func NewService(p ServiceParam) staydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("stay.service"),
		genID: p.GenID,
		clock: p.Clock,

		stayrepo:    repository.ProvideStore[staydomain.Stay](p.DB),
		itemrepo:    repository.ProvideStore[staydomain.RateItem](p.DB),
		variantrepo: repository.ProvideStore[staydomain.RateVariant](p.DB),
	}
}

func (s *Service) Admit(ctx context.Context, req staydomain.AdmitRequest) (staydomain.Stay, error) {
	patientRef := strings.TrimSpace(req.PatientRef)
	if patientRef == "" {
		return staydomain.Stay{}, staydomain.ErrInvalidPatientRef
	}

	itemID, variantID, err := s.resolveRate(ctx, req.RateItemID, req.RateVariantID)
	if err != nil {
		return staydomain.Stay{}, err
	}

	admittedAt := s.clock.Now()
	if req.AdmittedAt != nil {
		admittedAt = req.AdmittedAt.UTC()
	}

	now := s.clock.Now()
	stay := staydomain.Stay{
		ID:            s.genID.Generate(),
		PatientRef:    patientRef,
		AdmittedAt:    admittedAt,
		RateItemID:    itemID,
		RateVariantID: variantID,
		Status:        staydomain.StayStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.stayrepo.Create(ctx, &stay); err != nil {
		return staydomain.Stay{}, err
	}

	s.log.Info("stay admitted",
		zap.String("stay_id", stay.ID.String()),
		zap.String("patient_ref", patientRef),
	)
	return stay, nil
}

func (s *Service) Get(ctx context.Context, id string) (staydomain.Stay, error) {
	stayID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return staydomain.Stay{}, staydomain.ErrStayNotFound
	}

	stay, err := s.stayrepo.FindOne(ctx, &staydomain.Stay{ID: stayID})
	if err != nil {
		return staydomain.Stay{}, err
	}
	if stay == nil {
		return staydomain.Stay{}, staydomain.ErrStayNotFound
	}
	return *stay, nil
}

// Discharge closes the stay. The transition is one-way: a second discharge
// of the same stay fails, and the conditional update keeps racing requests
// from both succeeding.
func (s *Service) Discharge(ctx context.Context, id string, at *time.Time) (staydomain.Stay, error) {
	stay, err := s.Get(ctx, id)
	if err != nil {
		return staydomain.Stay{}, err
	}

	dischargedAt := s.clock.Now()
	if at != nil {
		dischargedAt = at.UTC()
	}
	if dischargedAt.Before(stay.AdmittedAt) {
		return staydomain.Stay{}, staydomain.ErrInvalidDischargeTime
	}

	res := s.db.WithContext(ctx).Model(&staydomain.Stay{}).
		Where("id = ? AND status = ?", stay.ID, staydomain.StayStatusActive).
		Updates(map[string]any{
			"status":        staydomain.StayStatusDischarged,
			"discharged_at": dischargedAt,
			"updated_at":    s.clock.Now(),
		})
	if res.Error != nil {
		return staydomain.Stay{}, res.Error
	}
	if res.RowsAffected == 0 {
		return staydomain.Stay{}, staydomain.ErrStayDischarged
	}

	s.log.Info("stay discharged", zap.String("stay_id", stay.ID.String()))
	return s.Get(ctx, id)
}

// ChangeRate swaps the stay's rate selection. Allowed only while the stay
// is active; the rate freezes at discharge so already-issued invoice
// amounts cannot drift.
func (s *Service) ChangeRate(ctx context.Context, id string, req staydomain.ChangeRateRequest) (staydomain.Stay, error) {
	stay, err := s.Get(ctx, id)
	if err != nil {
		return staydomain.Stay{}, err
	}
	if stay.Status != staydomain.StayStatusActive {
		return staydomain.Stay{}, staydomain.ErrStayDischarged
	}

	itemID, variantID, err := s.resolveRate(ctx, req.RateItemID, req.RateVariantID)
	if err != nil {
		return staydomain.Stay{}, err
	}

	res := s.db.WithContext(ctx).Model(&staydomain.Stay{}).
		Where("id = ? AND status = ?", stay.ID, staydomain.StayStatusActive).
		Updates(map[string]any{
			"rate_item_id":    itemID,
			"rate_variant_id": variantID,
			"updated_at":      s.clock.Now(),
		})
	if res.Error != nil {
		return staydomain.Stay{}, res.Error
	}
	if res.RowsAffected == 0 {
		return staydomain.Stay{}, staydomain.ErrStayDischarged
	}

	return s.Get(ctx, id)
}

func (s *Service) EffectiveRate(ctx context.Context, stayID string) (int64, error) {
	stay, err := s.Get(ctx, stayID)
	if err != nil {
		return 0, err
	}

	item, err := s.itemrepo.FindOne(ctx, &staydomain.RateItem{ID: stay.RateItemID})
	if err != nil {
		return 0, err
	}
	if item == nil {
		return 0, staydomain.ErrRateItemNotFound
	}

	var variant *staydomain.RateVariant
	if stay.RateVariantID != nil {
		variant, err = s.variantrepo.FindOne(ctx, &staydomain.RateVariant{ID: *stay.RateVariantID})
		if err != nil {
			return 0, err
		}
		if variant == nil {
			return 0, staydomain.ErrRateVariantNotFound
		}
	}

	return staydomain.EffectiveDailyRate(*item, variant), nil
}

func (s *Service) CreateRateItem(ctx context.Context, req staydomain.CreateRateItemRequest) (staydomain.RateItem, error) {
	if strings.TrimSpace(req.Name) == "" || req.DailyRateCents < 0 {
		return staydomain.RateItem{}, staydomain.ErrInvalidRate
	}

	item := staydomain.RateItem{
		ID:             s.genID.Generate(),
		Name:           strings.TrimSpace(req.Name),
		DailyRateCents: req.DailyRateCents,
		Active:         true,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.itemrepo.Create(ctx, &item); err != nil {
		return staydomain.RateItem{}, err
	}
	return item, nil
}

func (s *Service) ListRateItems(ctx context.Context) ([]staydomain.RateItem, error) {
	items, err := s.itemrepo.Find(ctx, &staydomain.RateItem{}, option.WithSort("created_at DESC"))
	if err != nil {
		return nil, err
	}

	out := make([]staydomain.RateItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) CreateRateVariant(ctx context.Context, itemID string, req staydomain.CreateRateVariantRequest) (staydomain.RateVariant, error) {
	parsedItemID, err := snowflake.ParseString(strings.TrimSpace(itemID))
	if err != nil {
		return staydomain.RateVariant{}, staydomain.ErrRateItemNotFound
	}
	if strings.TrimSpace(req.Name) == "" || req.DailyRateCents < 0 {
		return staydomain.RateVariant{}, staydomain.ErrInvalidRate
	}

	item, err := s.itemrepo.FindOne(ctx, &staydomain.RateItem{ID: parsedItemID})
	if err != nil {
		return staydomain.RateVariant{}, err
	}
	if item == nil {
		return staydomain.RateVariant{}, staydomain.ErrRateItemNotFound
	}

	variant := staydomain.RateVariant{
		ID:             s.genID.Generate(),
		RateItemID:     parsedItemID,
		Name:           strings.TrimSpace(req.Name),
		DailyRateCents: req.DailyRateCents,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.variantrepo.Create(ctx, &variant); err != nil {
		return staydomain.RateVariant{}, err
	}
	return variant, nil
}

func (s *Service) resolveRate(ctx context.Context, rawItemID string, rawVariantID *string) (snowflake.ID, *snowflake.ID, error) {
	itemID, err := snowflake.ParseString(strings.TrimSpace(rawItemID))
	if err != nil {
		return 0, nil, staydomain.ErrRateItemNotFound
	}

	item, err := s.itemrepo.FindOne(ctx, &staydomain.RateItem{ID: itemID})
	if err != nil {
		return 0, nil, err
	}
	if item == nil {
		return 0, nil, staydomain.ErrRateItemNotFound
	}
	if item.DailyRateCents < 0 {
		return 0, nil, staydomain.ErrInvalidRate
	}

	if rawVariantID == nil || strings.TrimSpace(*rawVariantID) == "" {
		return itemID, nil, nil
	}

	variantID, err := snowflake.ParseString(strings.TrimSpace(*rawVariantID))
	if err != nil {
		return 0, nil, staydomain.ErrRateVariantNotFound
	}
	variant, err := s.variantrepo.FindOne(ctx, &staydomain.RateVariant{ID: variantID})
	if err != nil {
		return 0, nil, err
	}
	if variant == nil {
		return 0, nil, staydomain.ErrRateVariantNotFound
	}
	if variant.RateItemID != itemID {
		return 0, nil, staydomain.ErrVariantMismatch
	}

	return itemID, &variantID, nil
}
