package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinidesk/caja/internal/clock"
	coveragedomain "github.com/clinidesk/caja/internal/coverage/domain"
	obsmetrics "github.com/clinidesk/caja/internal/observability/metrics"
	paymentdomain "github.com/clinidesk/caja/internal/payment/domain"
	staydomain "github.com/clinidesk/caja/internal/stay/domain"
	"github.com/clinidesk/caja/pkg/db"
	"github.com/clinidesk/caja/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	StaySvc    staydomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	staysvc    staydomain.Service
	periodrepo repository.Repository[coveragedomain.BilledPeriod]
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) coveragedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("coverage.service"),
		genID: p.GenID,
		clock: p.Clock,

		staysvc:    p.StaySvc,
		periodrepo: repository.ProvideStore[coveragedomain.BilledPeriod](p.DB),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) LastBilledDate(ctx context.Context, stayID string) (*time.Time, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(stayID))
	if err != nil {
		return nil, staydomain.ErrStayNotFound
	}
	return s.lastBilledDate(ctx, s.db, parsed)
}

func (s *Service) PendingRange(ctx context.Context, stayID string, reference time.Time) (coveragedomain.PendingRange, error) {
	stay, err := s.staysvc.Get(ctx, stayID)
	if err != nil {
		return coveragedomain.PendingRange{}, err
	}

	ref := coveragedomain.DateOnly(reference)
	admissionDay := coveragedomain.DateOnly(stay.AdmittedAt)

	// A reference before admission means clock skew or a backdated
	// request; there is nothing billable yet.
	if ref.Before(admissionDay) {
		return coveragedomain.PendingRange{}, nil
	}

	last, err := s.lastBilledDate(ctx, s.db, stay.ID)
	if err != nil {
		return coveragedomain.PendingRange{}, err
	}

	start := admissionDay
	if last != nil {
		start = last.AddDate(0, 0, 1)
	}
	if start.After(ref) {
		return coveragedomain.PendingRange{}, nil
	}

	return coveragedomain.PendingRange{
		Start:      start,
		End:        ref,
		DayCount:   inclusiveDays(start, ref),
		HasPending: true,
	}, nil
}

func (s *Service) Overlaps(ctx context.Context, stayID string, start, end time.Time) (bool, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(stayID))
	if err != nil {
		return false, staydomain.ErrStayNotFound
	}
	return s.overlaps(ctx, s.db, parsed, coveragedomain.DateOnly(start), coveragedomain.DateOnly(end))
}

// CreatePeriod runs the overlap check and both inserts inside a single
// transaction holding a row lock on the stay, so two racing requests for
// the same stay serialize instead of both passing the check. On Postgres
// the billed_periods exclusion constraint backstops the same invariant at
// the storage layer.
func (s *Service) CreatePeriod(ctx context.Context, req coveragedomain.CreatePeriodRequest) (coveragedomain.BilledPeriod, error) {
	stayID, err := snowflake.ParseString(strings.TrimSpace(req.StayID))
	if err != nil {
		return coveragedomain.BilledPeriod{}, staydomain.ErrStayNotFound
	}

	start := coveragedomain.DateOnly(req.Start)
	end := coveragedomain.DateOnly(req.End)
	if end.Before(start) {
		return coveragedomain.BilledPeriod{}, coveragedomain.ErrInvalidPeriod
	}

	amount := int64(0)
	if req.AmountCents != nil {
		amount = *req.AmountCents
		if amount <= 0 {
			return coveragedomain.BilledPeriod{}, coveragedomain.ErrInvalidPeriod
		}
	} else {
		rate, err := s.staysvc.EffectiveRate(ctx, req.StayID)
		if err != nil {
			return coveragedomain.BilledPeriod{}, err
		}
		amount = int64(inclusiveDays(start, end)) * rate
	}

	now := s.clock.Now()
	var created coveragedomain.BilledPeriod
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stayRow, err := s.lockStay(ctx, tx, stayID)
		if err != nil {
			return err
		}
		if stayRow == nil {
			return staydomain.ErrStayNotFound
		}
		if start.Before(coveragedomain.DateOnly(stayRow.AdmittedAt)) {
			return coveragedomain.ErrInvalidPeriod
		}

		overlapping, err := s.overlaps(ctx, tx, stayID, start, end)
		if err != nil {
			return err
		}
		if overlapping {
			return coveragedomain.ErrPeriodOverlap
		}

		payment := paymentdomain.Payment{
			ID:          s.genID.Generate(),
			SourceType:  paymentdomain.SourceHospitalization,
			SourceID:    stayID,
			AmountCents: amount,
			Status:      paymentdomain.PaymentStatusPending,
			CreatedAt:   now,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}

		period := coveragedomain.BilledPeriod{
			ID:           s.genID.Generate(),
			StayID:       stayID,
			PaymentID:    payment.ID,
			CoveredStart: start,
			CoveredEnd:   end,
			AmountCents:  amount,
			Active:       true,
			Cancelled:    false,
			CreatedAt:    now,
		}
		if err := tx.Create(&period).Error; err != nil {
			if db.IsExclusionErr(err) {
				return coveragedomain.ErrPeriodOverlap
			}
			return err
		}

		created = period
		return nil
	})
	if err != nil {
		if errors.Is(err, coveragedomain.ErrPeriodOverlap) {
			s.obsMetrics.RecordOverlapConflict(ctx)
			s.log.Warn("billed period rejected, overlap",
				zap.String("stay_id", stayID.String()),
				zap.Time("covered_start", start),
				zap.Time("covered_end", end),
			)
		}
		return coveragedomain.BilledPeriod{}, err
	}

	s.log.Info("billed period created",
		zap.String("stay_id", stayID.String()),
		zap.String("payment_id", created.PaymentID.String()),
		zap.Time("covered_start", start),
		zap.Time("covered_end", end),
		zap.Int64("amount_cents", amount),
	)
	return created, nil
}

func (s *Service) ListPeriods(ctx context.Context, stayID string) ([]coveragedomain.BilledPeriod, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(stayID))
	if err != nil {
		return nil, staydomain.ErrStayNotFound
	}

	periods, err := s.periodrepo.Find(ctx, &coveragedomain.BilledPeriod{StayID: parsed})
	if err != nil {
		return nil, err
	}

	out := make([]coveragedomain.BilledPeriod, 0, len(periods))
	for _, period := range periods {
		if period == nil {
			continue
		}
		out = append(out, *period)
	}
	return out, nil
}

type stayRow struct {
	ID         snowflake.ID
	AdmittedAt time.Time
	Status     staydomain.StayStatus
}

func (s *Service) lockStay(ctx context.Context, tx *gorm.DB, stayID snowflake.ID) (*stayRow, error) {
	var row stayRow
	err := tx.WithContext(ctx).Raw(
		`SELECT id, admitted_at, status
		 FROM stays
		 WHERE id = ?
		 FOR UPDATE`,
		stayID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (s *Service) lastBilledDate(ctx context.Context, tx *gorm.DB, stayID snowflake.ID) (*time.Time, error) {
	var latest coveragedomain.BilledPeriod
	err := tx.WithContext(ctx).
		Where("stay_id = ? AND active AND NOT cancelled", stayID).
		Order("covered_end DESC").
		First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	normalized := coveragedomain.DateOnly(latest.CoveredEnd)
	return &normalized, nil
}

func (s *Service) overlaps(ctx context.Context, tx *gorm.DB, stayID snowflake.ID, start, end time.Time) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM billed_periods
		 WHERE stay_id = ? AND active AND NOT cancelled
		   AND covered_start <= ? AND covered_end >= ?`,
		stayID, end, start,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func inclusiveDays(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}
