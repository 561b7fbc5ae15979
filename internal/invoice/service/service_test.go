package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinidesk/caja/internal/clock"
	coveragedomain "github.com/clinidesk/caja/internal/coverage/domain"
	invoicedomain "github.com/clinidesk/caja/internal/invoice/domain"
	rangedomain "github.com/clinidesk/caja/internal/invoicerange/domain"
	rangeservice "github.com/clinidesk/caja/internal/invoicerange/service"
	paymentdomain "github.com/clinidesk/caja/internal/payment/domain"
	paymentservice "github.com/clinidesk/caja/internal/payment/service"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db         *gorm.DB
	clk        *clock.FakeClock
	paymentSvc paymentdomain.Service
	rangeSvc   rangedomain.Service
	invoiceSvc invoicedomain.Service
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
		&paymentdomain.Payment{},
		&coveragedomain.BilledPeriod{},
		&rangedomain.InvoiceRange{},
		&invoicedomain.Invoice{},
		&invoicedomain.ReceiptCounter{},
	))
	require.NoError(t, db.Create(&invoicedomain.ReceiptCounter{ID: 1, NextNumber: 1}).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	paymentSvc := paymentservice.NewService(paymentservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
	})
	rangeSvc := rangeservice.NewService(rangeservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
	})
	invoiceSvc := NewService(ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
		RangeSvc: rangeSvc, PaymentSvc: paymentSvc,
	})

	return &fixture{
		db:         db,
		clk:        clk,
		paymentSvc: paymentSvc,
		rangeSvc:   rangeSvc,
		invoiceSvc: invoiceSvc,
	}
}

func (f *fixture) createPayment(t *testing.T, amountCents int64) paymentdomain.Payment {
	t.Helper()

	payment, err := f.paymentSvc.Create(context.Background(), paymentdomain.CreatePaymentRequest{
		SourceType:  paymentdomain.SourceConsultation,
		SourceID:    "2010735548360036353",
		AmountCents: amountCents,
	})
	require.NoError(t, err)
	return payment
}

func (f *fixture) importRange(t *testing.T, cai string, start, end int64) rangedomain.InvoiceRange {
	t.Helper()

	imported, err := f.rangeSvc.Import(context.Background(), rangedomain.ParsedAuthorization{
		CAI:           cai,
		RangeStart:    start,
		RangeEnd:      end,
		IssueDeadline: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		TaxpayerID:    "0801-1990-12345",
	})
	require.NoError(t, err)
	return imported
}

func TestIssue_SimpleReceiptIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.createPayment(t, 150_00)

	first, err := f.invoiceSvc.Issue(ctx, invoicedomain.IssueRequest{
		PaymentID:    payment.ID.String(),
		DocumentType: invoicedomain.DocumentTypeSimple,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Number)
	assert.Equal(t, payment.AmountCents, first.TotalCents)
	assert.Nil(t, first.InvoiceRangeID)

	// A retry returns the same document, not a second one.
	again, err := f.invoiceSvc.Issue(ctx, invoicedomain.IssueRequest{
		PaymentID:    payment.ID.String(),
		DocumentType: invoicedomain.DocumentTypeSimple,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.Number, again.Number)

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	other := f.createPayment(t, 80_00)
	second, err := f.invoiceSvc.Issue(ctx, invoicedomain.IssueRequest{
		PaymentID:    other.ID.String(),
		DocumentType: invoicedomain.DocumentTypeSimple,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Number)
}

func TestIssue_LegalConsumesSequentialNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	imported := f.importRange(t, "CAI-AAA", 1000, 1100)

	first, err := f.invoiceSvc.Issue(ctx, invoicedomain.IssueRequest{
		PaymentID:    f.createPayment(t, 150_00).ID.String(),
		DocumentType: invoicedomain.DocumentTypeLegal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first.Number)
	assert.Equal(t, "CAI-AAA", first.CAI)
	require.NotNil(t, first.InvoiceRangeID)
	assert.Equal(t, imported.ID, *first.InvoiceRangeID)

	second, err := f.invoiceSvc.Issue(ctx, invoicedomain.IssueRequest{
		PaymentID:    f.createPayment(t, 90_00).ID.String(),
		DocumentType: invoicedomain.DocumentTypeLegal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1001), second.Number)

	// Reissuing for the first payment must not advance the correlative.
	again, err := f.invoiceSvc.Issue(ctx, invoicedomain.IssueRequest{
		PaymentID:    first.PaymentID.String(),
		DocumentType: invoicedomain.DocumentTypeLegal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), again.Number)

	var stored rangedomain.InvoiceRange
	require.NoError(t, f.db.First(&stored, "id = ?", imported.ID).Error)
	assert.Equal(t, int64(1002), stored.CurrentNumber)
}

func TestIssue_LegalWithoutActiveRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.createPayment(t, 150_00)

	_, err := f.invoiceSvc.Issue(ctx, invoicedomain.IssueRequest{
		PaymentID:    payment.ID.String(),
		DocumentType: invoicedomain.DocumentTypeLegal,
	})
	assert.ErrorIs(t, err, rangedomain.ErrNoActiveRange)

	// The failure leaves nothing behind; issuing works once a range exists.
	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)

	f.importRange(t, "CAI-AAA", 1, 100)
	issued, err := f.invoiceSvc.Issue(ctx, invoicedomain.IssueRequest{
		PaymentID:    payment.ID.String(),
		DocumentType: invoicedomain.DocumentTypeLegal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), issued.Number)
}

func TestIssue_RejectsCancelledPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.createPayment(t, 150_00)

	_, err := f.paymentSvc.Cancel(ctx, payment.ID.String())
	require.NoError(t, err)

	_, err = f.invoiceSvc.Issue(ctx, invoicedomain.IssueRequest{
		PaymentID:    payment.ID.String(),
		DocumentType: invoicedomain.DocumentTypeSimple,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentCancelled)
}

func TestIssue_RejectsUnknownDocumentType(t *testing.T) {
	f := newFixture(t)

	_, err := f.invoiceSvc.Issue(context.Background(), invoicedomain.IssueRequest{
		PaymentID:    "123",
		DocumentType: "PROFORMA",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidDocumentType)
}

func TestGetByPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.createPayment(t, 150_00)

	issued, err := f.invoiceSvc.Issue(ctx, invoicedomain.IssueRequest{
		PaymentID:    payment.ID.String(),
		DocumentType: invoicedomain.DocumentTypeSimple,
	})
	require.NoError(t, err)

	found, err := f.invoiceSvc.GetByPayment(ctx, payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, issued.ID, found.ID)

	_, err = f.invoiceSvc.GetByPayment(ctx, "999999999")
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}
