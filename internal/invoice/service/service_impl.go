package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinidesk/caja/internal/clock"
	invoicedomain "github.com/clinidesk/caja/internal/invoice/domain"
	rangedomain "github.com/clinidesk/caja/internal/invoicerange/domain"
	"github.com/clinidesk/caja/internal/lock"
	obsmetrics "github.com/clinidesk/caja/internal/observability/metrics"
	paymentdomain "github.com/clinidesk/caja/internal/payment/domain"
	"github.com/clinidesk/caja/pkg/db/option"
	"github.com/clinidesk/caja/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errAlreadyIssued aborts the issuing transaction when another request won
// the insert. Rolling back returns the allocated correlative untouched; the
// winner's document is then re-read outside the transaction.
var errAlreadyIssued = errors.New("invoice already issued")

const issueLockTTL = 10 * time.Second

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	RangeSvc   rangedomain.Service
	PaymentSvc paymentdomain.Service
	Locker     *lock.Locker        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	rangesvc   rangedomain.Service
	paymentsvc paymentdomain.Service
	locker     *lock.Locker
	invrepo    repository.Repository[invoicedomain.Invoice]
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		rangesvc:   p.RangeSvc,
		paymentsvc: p.PaymentSvc,
		locker:     p.Locker,
		invrepo:    repository.ProvideStore[invoicedomain.Invoice](p.DB),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Issue(ctx context.Context, req invoicedomain.IssueRequest) (invoicedomain.Invoice, error) {
	switch req.DocumentType {
	case invoicedomain.DocumentTypeLegal, invoicedomain.DocumentTypeSimple:
	default:
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidDocumentType
	}

	payment, err := s.paymentsvc.Get(ctx, req.PaymentID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if payment.Status == paymentdomain.PaymentStatusCancelled {
		return invoicedomain.Invoice{}, paymentdomain.ErrPaymentCancelled
	}

	// Fast path: the common retry arrives after the original committed.
	existing, err := s.invrepo.FindOne(ctx, &invoicedomain.Invoice{PaymentID: payment.ID})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	// Best effort: shed concurrent duplicates before they contend on the
	// payment row. The unique index on payment_id stays the guarantee.
	lockKey := "caja:issue:" + payment.ID.String()
	token, acquired, err := s.locker.TryLock(ctx, lockKey, issueLockTTL)
	if err != nil {
		s.log.Warn("issuance guard unavailable", zap.Error(err))
	} else if acquired {
		defer func() {
			if err := s.locker.Release(ctx, lockKey, token); err != nil {
				s.log.Warn("issuance guard release failed", zap.Error(err))
			}
		}()
	}

	issued, err := s.issue(ctx, payment, req)
	if err == nil {
		s.obsMetrics.RecordInvoiceIssued(ctx, string(issued.DocumentType))
		s.log.Info("invoice issued",
			zap.String("invoice_id", issued.ID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.String("document_type", string(issued.DocumentType)),
			zap.Int64("number", issued.Number),
		)
		return issued, nil
	}
	if !errors.Is(err, errAlreadyIssued) {
		return invoicedomain.Invoice{}, err
	}

	// Lost the race: the transaction rolled back, so the correlative we
	// allocated was never consumed. Hand back the winner's document.
	winner, err := s.invrepo.FindOne(ctx, &invoicedomain.Invoice{PaymentID: payment.ID})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if winner == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *winner, nil
}

func (s *Service) issue(ctx context.Context, payment paymentdomain.Payment, req invoicedomain.IssueRequest) (invoicedomain.Invoice, error) {
	var created invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockPayment(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if locked.Status == paymentdomain.PaymentStatusCancelled {
			return paymentdomain.ErrPaymentCancelled
		}

		// Re-check under the lock before touching the number sources.
		var count int64
		if err := tx.Model(&invoicedomain.Invoice{}).
			Where("payment_id = ?", payment.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errAlreadyIssued
		}

		invoice := invoicedomain.Invoice{
			ID:           s.genID.Generate(),
			PaymentID:    payment.ID,
			DocumentType: req.DocumentType,
			TotalCents:   locked.AmountCents,
			IssuedAt:     s.clock.Now(),
			Metadata:     datatypes.JSONMap(req.Metadata),
			CreatedAt:    s.clock.Now(),
		}

		switch req.DocumentType {
		case invoicedomain.DocumentTypeLegal:
			allocation, err := s.rangesvc.AllocateInTx(ctx, tx)
			if err != nil {
				return err
			}
			invoice.Number = allocation.Number
			invoice.InvoiceRangeID = &allocation.RangeID
			invoice.CAI = allocation.CAI
		case invoicedomain.DocumentTypeSimple:
			number, err := s.nextReceiptNumber(ctx, tx)
			if err != nil {
				return err
			}
			invoice.Number = number
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}},
			DoNothing: true,
		}).Create(&invoice)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyIssued
		}

		created = invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	item, err := s.invrepo.FindOne(ctx, &invoicedomain.Invoice{ID: parsed})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if item == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *item, nil
}

func (s *Service) GetByPayment(ctx context.Context, paymentID string) (invoicedomain.Invoice, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(paymentID))
	if err != nil {
		return invoicedomain.Invoice{}, paymentdomain.ErrPaymentNotFound
	}

	item, err := s.invrepo.FindOne(ctx, &invoicedomain.Invoice{PaymentID: parsed})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if item == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context) ([]invoicedomain.Invoice, error) {
	invoices, err := s.invrepo.Find(ctx, &invoicedomain.Invoice{}, option.WithSort("issued_at DESC"))
	if err != nil {
		return nil, err
	}

	out := make([]invoicedomain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv == nil {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (s *Service) lockPayment(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (*paymentdomain.Payment, error) {
	var row paymentdomain.Payment
	err := tx.WithContext(ctx).Raw(
		`SELECT id, source_type, source_id, amount_cents, status
		 FROM payments
		 WHERE id = ?
		 FOR UPDATE`,
		paymentID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

// nextReceiptNumber advances the single-row counter with a conditional
// increment, mirroring the legal allocator's locking discipline.
func (s *Service) nextReceiptNumber(ctx context.Context, tx *gorm.DB) (int64, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE receipt_counters SET next_number = next_number + 1 WHERE id = 1`,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, errors.New("receipt counter row missing")
	}

	var next int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT next_number FROM receipt_counters WHERE id = 1`,
	).Scan(&next).Error; err != nil {
		return 0, err
	}
	return next - 1, nil
}
