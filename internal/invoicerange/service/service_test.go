package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinidesk/caja/internal/clock"
	rangedomain "github.com/clinidesk/caja/internal/invoicerange/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// SQLite has no row locks; strip the FOR UPDATE clauses the services
	// emit for Postgres.
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

	require.NoError(t, db.AutoMigrate(&rangedomain.InvoiceRange{}))
	return db
}

func newTestService(t *testing.T, db *gorm.DB, clk clock.Clock) rangedomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
}

func authorization(cai string, start, end int64, deadline time.Time) rangedomain.ParsedAuthorization {
	return rangedomain.ParsedAuthorization{
		CAI:           cai,
		RangeStart:    start,
		RangeEnd:      end,
		IssueDeadline: deadline,
		TaxpayerID:    "0801-1990-12345",
	}
}

func TestImport_FirstRangeAutoActivates(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	first, err := svc.Import(ctx, authorization("CAI-AAA", 1, 100, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, rangedomain.RangeStatusActive, first.Status)
	assert.Equal(t, int64(1), first.CurrentNumber)
	assert.Equal(t, int64(100), first.Remaining())

	second, err := svc.Import(ctx, authorization("CAI-BBB", 101, 200, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, rangedomain.RangeStatusInactive, second.Status)
}

func TestImport_DuplicateCAI(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	_, err := svc.Import(ctx, authorization("CAI-AAA", 1, 100, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	_, err = svc.Import(ctx, authorization("CAI-AAA", 101, 200, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, rangedomain.ErrDuplicateCAI)
}

func TestImport_RejectsMalformedAuthorizations(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()
	deadline := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	_, err := svc.Import(ctx, authorization("", 1, 100, deadline))
	assert.ErrorIs(t, err, rangedomain.ErrInvalidAuthorization)

	_, err = svc.Import(ctx, authorization("CAI-X", 100, 1, deadline))
	assert.ErrorIs(t, err, rangedomain.ErrInvalidAuthorization)

	_, err = svc.Import(ctx, authorization("CAI-X", 1, 100, time.Time{}))
	assert.ErrorIs(t, err, rangedomain.ErrInvalidAuthorization)

	auth := authorization("CAI-X", 1, 100, deadline)
	auth.AuthorizedQuantity = 99 // range holds 100
	_, err = svc.Import(ctx, auth)
	assert.ErrorIs(t, err, rangedomain.ErrInvalidAuthorization)
}

func TestAllocate_SequentialUntilExhausted(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	imported, err := svc.Import(ctx, authorization("CAI-AAA", 1, 3, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	for want := int64(1); want <= 3; want++ {
		allocation, err := svc.AllocateInTx(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, want, allocation.Number)
		assert.Equal(t, imported.ID, allocation.RangeID)
		assert.Equal(t, "CAI-AAA", allocation.CAI)
	}

	_, err = svc.AllocateInTx(ctx, db)
	assert.ErrorIs(t, err, rangedomain.ErrRangeExhausted)

	var stored rangedomain.InvoiceRange
	require.NoError(t, db.First(&stored, "id = ?", imported.ID).Error)
	assert.Equal(t, rangedomain.RangeStatusExhausted, stored.Status)
	assert.Equal(t, int64(4), stored.CurrentNumber)
	assert.Equal(t, int64(0), stored.Remaining())

	// Once flipped there is no active range left to classify against.
	_, err = svc.AllocateInTx(ctx, db)
	assert.ErrorIs(t, err, rangedomain.ErrNoActiveRange)
}

func TestAllocate_RollbackDoesNotConsumeNumbers(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	_, err := svc.Import(ctx, authorization("CAI-AAA", 10, 20, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		allocation, err := svc.AllocateInTx(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, int64(10), allocation.Number)
		return assert.AnError
	})
	require.Error(t, err)

	allocation, err := svc.AllocateInTx(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(10), allocation.Number)
}

func TestAllocate_ExpiredRange(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	imported, err := svc.Import(ctx, authorization("CAI-AAA", 1, 100, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	allocation, err := svc.AllocateInTx(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), allocation.Number)

	// Past the deadline the remaining 99 numbers are unusable.
	clk.Advance(31 * 24 * time.Hour)
	_, err = svc.AllocateInTx(ctx, db)
	assert.ErrorIs(t, err, rangedomain.ErrRangeExpired)

	var stored rangedomain.InvoiceRange
	require.NoError(t, db.First(&stored, "id = ?", imported.ID).Error)
	assert.Equal(t, rangedomain.RangeStatusExpired, stored.Status)
}

func TestActivateRetireLifecycle(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	first, err := svc.Import(ctx, authorization("CAI-AAA", 1, 100, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	second, err := svc.Import(ctx, authorization("CAI-BBB", 101, 200, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	// Activating the successor while the first is live must fail.
	_, err = svc.Activate(ctx, second.ID.String())
	assert.ErrorIs(t, err, rangedomain.ErrActiveRangeExists)

	retired, err := svc.Retire(ctx, first.ID.String())
	require.NoError(t, err)
	assert.Equal(t, rangedomain.RangeStatusInactive, retired.Status)

	activated, err := svc.Activate(ctx, second.ID.String())
	require.NoError(t, err)
	assert.Equal(t, rangedomain.RangeStatusActive, activated.Status)

	allocation, err := svc.AllocateInTx(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(101), allocation.Number)
	assert.Equal(t, second.ID, allocation.RangeID)
}

func TestActivate_RejectsExpiredRange(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, clk)
	ctx := context.Background()

	first, err := svc.Import(ctx, authorization("CAI-AAA", 1, 100, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	second, err := svc.Import(ctx, authorization("CAI-BBB", 101, 200, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	_, err = svc.Retire(ctx, first.ID.String())
	require.NoError(t, err)

	clk.Advance(30 * 24 * time.Hour)
	_, err = svc.Activate(ctx, second.ID.String())
	assert.ErrorIs(t, err, rangedomain.ErrRangeExpired)
}
