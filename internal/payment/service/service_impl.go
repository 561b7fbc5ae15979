package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/clinidesk/caja/internal/clock"
	paymentdomain "github.com/clinidesk/caja/internal/payment/domain"
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

	paymentrepo repository.Repository[paymentdomain.Payment]
}

func NewService(p ServiceParam) paymentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.service"),
		genID: p.GenID,
		clock: p.Clock,

		paymentrepo: repository.ProvideStore[paymentdomain.Payment](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req paymentdomain.CreatePaymentRequest) (paymentdomain.Payment, error) {
	sourceID, err := snowflake.ParseString(strings.TrimSpace(req.SourceID))
	if err != nil {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidSource
	}
	source, err := paymentdomain.NewPaymentSource(req.SourceType, sourceID)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if req.AmountCents <= 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}

	payment := paymentdomain.Payment{
		ID:          s.genID.Generate(),
		SourceType:  source.Type,
		SourceID:    source.ID,
		AmountCents: req.AmountCents,
		Status:      paymentdomain.PaymentStatusPending,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.paymentrepo.Create(ctx, &payment); err != nil {
		return paymentdomain.Payment{}, err
	}

	s.log.Info("payment created",
		zap.String("payment_id", payment.ID.String()),
		zap.String("source_type", string(payment.SourceType)),
		zap.Int64("amount_cents", payment.AmountCents),
	)
	return payment, nil
}

func (s *Service) Get(ctx context.Context, id string) (paymentdomain.Payment, error) {
	paymentID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotFound
	}

	payment, err := s.paymentrepo.FindOne(ctx, &paymentdomain.Payment{ID: paymentID})
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if payment == nil {
		return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotFound
	}
	return *payment, nil
}

// Cancel voids the payment and flags its billed period as cancelled in the
// same transaction, so the covered days become pending again atomically.
func (s *Service) Cancel(ctx context.Context, id string) (paymentdomain.Payment, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&paymentdomain.Payment{}).
			Where("id = ? AND status <> ?", payment.ID, paymentdomain.PaymentStatusCancelled).
			Updates(map[string]any{
				"status":       paymentdomain.PaymentStatusCancelled,
				"cancelled_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return paymentdomain.ErrPaymentCancelled
		}

		return tx.Exec(
			`UPDATE billed_periods SET active = ?, cancelled = ? WHERE payment_id = ?`,
			false, true, payment.ID,
		).Error
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	s.log.Info("payment cancelled", zap.String("payment_id", payment.ID.String()))
	return s.Get(ctx, id)
}
