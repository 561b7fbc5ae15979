package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinidesk/caja/internal/clock"
	coveragedomain "github.com/clinidesk/caja/internal/coverage/domain"
	paymentdomain "github.com/clinidesk/caja/internal/payment/domain"
	paymentservice "github.com/clinidesk/caja/internal/payment/service"
	staydomain "github.com/clinidesk/caja/internal/stay/domain"
	stayservice "github.com/clinidesk/caja/internal/stay/service"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db          *gorm.DB
	clk         *clock.FakeClock
	staySvc     staydomain.Service
	paymentSvc  paymentdomain.Service
	coverageSvc coveragedomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_strip_for_update", strip))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_strip_for_update_row", strip))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&staydomain.Stay{},
		&staydomain.RateItem{},
		&staydomain.RateVariant{},
		&paymentdomain.Payment{},
		&coveragedomain.BilledPeriod{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	staySvc := stayservice.NewService(stayservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
	})
	paymentSvc := paymentservice.NewService(paymentservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
	})
	coverageSvc := NewService(ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, StaySvc: staySvc,
	})

	return &fixture{
		db:          db,
		clk:         clk,
		staySvc:     staySvc,
		paymentSvc:  paymentSvc,
		coverageSvc: coverageSvc,
	}
}

func (f *fixture) admitStay(t *testing.T, admittedAt time.Time, dailyRateCents int64) staydomain.Stay {
	t.Helper()

	item, err := f.staySvc.CreateRateItem(context.Background(), staydomain.CreateRateItemRequest{
		Name:           "general ward",
		DailyRateCents: dailyRateCents,
	})
	require.NoError(t, err)

	stay, err := f.staySvc.Admit(context.Background(), staydomain.AdmitRequest{
		PatientRef: "EXP-2024-0001",
		AdmittedAt: &admittedAt,
		RateItemID: item.ID.String(),
	})
	require.NoError(t, err)
	return stay
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPendingRange_Reconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stay := f.admitStay(t, time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC), 100_00)

	// Nothing billed yet: everything since admission is pending.
	pending, err := f.coverageSvc.PendingRange(ctx, stay.ID.String(), day(2024, 1, 5))
	require.NoError(t, err)
	assert.True(t, pending.HasPending)
	assert.Equal(t, day(2024, 1, 1), pending.Start)
	assert.Equal(t, day(2024, 1, 5), pending.End)
	assert.Equal(t, 5, pending.DayCount)

	period, err := f.coverageSvc.CreatePeriod(ctx, coveragedomain.CreatePeriodRequest{
		StayID: stay.ID.String(),
		Start:  day(2024, 1, 1),
		End:    day(2024, 1, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3*100_00), period.AmountCents)

	// Billing resumes the day after the last covered one.
	pending, err = f.coverageSvc.PendingRange(ctx, stay.ID.String(), day(2024, 1, 5))
	require.NoError(t, err)
	assert.True(t, pending.HasPending)
	assert.Equal(t, day(2024, 1, 4), pending.Start)
	assert.Equal(t, day(2024, 1, 5), pending.End)
	assert.Equal(t, 2, pending.DayCount)

	_, err = f.coverageSvc.CreatePeriod(ctx, coveragedomain.CreatePeriodRequest{
		StayID: stay.ID.String(),
		Start:  day(2024, 1, 4),
		End:    day(2024, 1, 5),
	})
	require.NoError(t, err)

	pending, err = f.coverageSvc.PendingRange(ctx, stay.ID.String(), day(2024, 1, 5))
	require.NoError(t, err)
	assert.False(t, pending.HasPending)
	assert.Zero(t, pending.DayCount)
}

func TestPendingRange_ReferenceBeforeAdmission(t *testing.T) {
	f := newFixture(t)
	stay := f.admitStay(t, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), 100_00)

	pending, err := f.coverageSvc.PendingRange(context.Background(), stay.ID.String(), day(2024, 1, 5))
	require.NoError(t, err)
	assert.False(t, pending.HasPending)
}

func TestCreatePeriod_RejectsOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stay := f.admitStay(t, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), 100_00)

	_, err := f.coverageSvc.CreatePeriod(ctx, coveragedomain.CreatePeriodRequest{
		StayID: stay.ID.String(),
		Start:  day(2024, 1, 1),
		End:    day(2024, 1, 3),
	})
	require.NoError(t, err)

	// Single shared day is enough to reject the whole request.
	_, err = f.coverageSvc.CreatePeriod(ctx, coveragedomain.CreatePeriodRequest{
		StayID: stay.ID.String(),
		Start:  day(2024, 1, 3),
		End:    day(2024, 1, 5),
	})
	assert.ErrorIs(t, err, coveragedomain.ErrPeriodOverlap)

	// The rejected request must leave no partial rows behind.
	var payments int64
	require.NoError(t, f.db.Model(&paymentdomain.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(1), payments)

	periods, err := f.coverageSvc.ListPeriods(ctx, stay.ID.String())
	require.NoError(t, err)
	assert.Len(t, periods, 1)
}

func TestCreatePeriod_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stay := f.admitStay(t, time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC), 100_00)

	_, err := f.coverageSvc.CreatePeriod(ctx, coveragedomain.CreatePeriodRequest{
		StayID: stay.ID.String(),
		Start:  day(2024, 1, 6),
		End:    day(2024, 1, 4),
	})
	assert.ErrorIs(t, err, coveragedomain.ErrInvalidPeriod)

	// Days before admission are never billable.
	_, err = f.coverageSvc.CreatePeriod(ctx, coveragedomain.CreatePeriodRequest{
		StayID: stay.ID.String(),
		Start:  day(2024, 1, 3),
		End:    day(2024, 1, 6),
	})
	assert.ErrorIs(t, err, coveragedomain.ErrInvalidPeriod)

	_, err = f.coverageSvc.CreatePeriod(ctx, coveragedomain.CreatePeriodRequest{
		StayID: "not-a-stay",
		Start:  day(2024, 1, 5),
		End:    day(2024, 1, 6),
	})
	assert.ErrorIs(t, err, staydomain.ErrStayNotFound)
}

func TestCancelledPaymentFreesBilledDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stay := f.admitStay(t, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), 100_00)

	period, err := f.coverageSvc.CreatePeriod(ctx, coveragedomain.CreatePeriodRequest{
		StayID: stay.ID.String(),
		Start:  day(2024, 1, 1),
		End:    day(2024, 1, 3),
	})
	require.NoError(t, err)

	pending, err := f.coverageSvc.PendingRange(ctx, stay.ID.String(), day(2024, 1, 3))
	require.NoError(t, err)
	assert.False(t, pending.HasPending)

	_, err = f.paymentSvc.Cancel(ctx, period.PaymentID.String())
	require.NoError(t, err)

	// The voided period no longer covers its days.
	pending, err = f.coverageSvc.PendingRange(ctx, stay.ID.String(), day(2024, 1, 3))
	require.NoError(t, err)
	assert.True(t, pending.HasPending)
	assert.Equal(t, day(2024, 1, 1), pending.Start)
	assert.Equal(t, 3, pending.DayCount)

	// And the freed days can be billed again.
	_, err = f.coverageSvc.CreatePeriod(ctx, coveragedomain.CreatePeriodRequest{
		StayID: stay.ID.String(),
		Start:  day(2024, 1, 1),
		End:    day(2024, 1, 3),
	})
	require.NoError(t, err)
}
