package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinidesk/caja/internal/clock"
	staydomain "github.com/clinidesk/caja/internal/stay/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (staydomain.Service, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&staydomain.Stay{},
		&staydomain.RateItem{},
		&staydomain.RateVariant{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	return svc, clk
}

func createItem(t *testing.T, svc staydomain.Service, rateCents int64) staydomain.RateItem {
	t.Helper()

	item, err := svc.CreateRateItem(context.Background(), staydomain.CreateRateItemRequest{
		Name:           "general ward",
		DailyRateCents: rateCents,
	})
	require.NoError(t, err)
	return item
}

func TestAdmitAndDischarge(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	item := createItem(t, svc, 100_00)

	stay, err := svc.Admit(ctx, staydomain.AdmitRequest{
		PatientRef: "EXP-2024-0001",
		RateItemID: item.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, staydomain.StayStatusActive, stay.Status)
	assert.Equal(t, clk.Now(), stay.AdmittedAt)

	clk.Advance(48 * time.Hour)
	discharged, err := svc.Discharge(ctx, stay.ID.String(), nil)
	require.NoError(t, err)
	assert.Equal(t, staydomain.StayStatusDischarged, discharged.Status)
	require.NotNil(t, discharged.DischargedAt)

	// Discharge is one-way.
	_, err = svc.Discharge(ctx, stay.ID.String(), nil)
	assert.ErrorIs(t, err, staydomain.ErrStayDischarged)
}

func TestDischarge_RejectsTimeBeforeAdmission(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	item := createItem(t, svc, 100_00)

	stay, err := svc.Admit(ctx, staydomain.AdmitRequest{
		PatientRef: "EXP-2024-0001",
		RateItemID: item.ID.String(),
	})
	require.NoError(t, err)

	before := clk.Now().Add(-time.Hour)
	_, err = svc.Discharge(ctx, stay.ID.String(), &before)
	assert.ErrorIs(t, err, staydomain.ErrInvalidDischargeTime)
}

func TestChangeRate_FrozenAfterDischarge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	item := createItem(t, svc, 100_00)
	premium := createItem(t, svc, 250_00)

	stay, err := svc.Admit(ctx, staydomain.AdmitRequest{
		PatientRef: "EXP-2024-0001",
		RateItemID: item.ID.String(),
	})
	require.NoError(t, err)

	changed, err := svc.ChangeRate(ctx, stay.ID.String(), staydomain.ChangeRateRequest{
		RateItemID: premium.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, premium.ID, changed.RateItemID)

	_, err = svc.Discharge(ctx, stay.ID.String(), nil)
	require.NoError(t, err)

	_, err = svc.ChangeRate(ctx, stay.ID.String(), staydomain.ChangeRateRequest{
		RateItemID: item.ID.String(),
	})
	assert.ErrorIs(t, err, staydomain.ErrStayDischarged)
}

func TestEffectiveRate_VariantOverride(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	item := createItem(t, svc, 100_00)

	variant, err := svc.CreateRateVariant(ctx, item.ID.String(), staydomain.CreateRateVariantRequest{
		Name:           "private room",
		DailyRateCents: 180_00,
	})
	require.NoError(t, err)

	variantID := variant.ID.String()
	stay, err := svc.Admit(ctx, staydomain.AdmitRequest{
		PatientRef:    "EXP-2024-0001",
		RateItemID:    item.ID.String(),
		RateVariantID: &variantID,
	})
	require.NoError(t, err)

	rate, err := svc.EffectiveRate(ctx, stay.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(180_00), rate)

	plain, err := svc.Admit(ctx, staydomain.AdmitRequest{
		PatientRef: "EXP-2024-0002",
		RateItemID: item.ID.String(),
	})
	require.NoError(t, err)

	rate, err = svc.EffectiveRate(ctx, plain.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(100_00), rate)
}

func TestAdmit_RejectsVariantOfAnotherItem(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	item := createItem(t, svc, 100_00)
	other := createItem(t, svc, 250_00)

	variant, err := svc.CreateRateVariant(ctx, other.ID.String(), staydomain.CreateRateVariantRequest{
		Name:           "insurance agreement",
		DailyRateCents: 90_00,
	})
	require.NoError(t, err)

	variantID := variant.ID.String()
	_, err = svc.Admit(ctx, staydomain.AdmitRequest{
		PatientRef:    "EXP-2024-0001",
		RateItemID:    item.ID.String(),
		RateVariantID: &variantID,
	})
	assert.ErrorIs(t, err, staydomain.ErrVariantMismatch)
}
