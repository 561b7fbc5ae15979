package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinidesk/caja/internal/clock"
	rangedomain "github.com/clinidesk/caja/internal/invoicerange/domain"
	obsmetrics "github.com/clinidesk/caja/internal/observability/metrics"
	"github.com/clinidesk/caja/pkg/db"
	"github.com/clinidesk/caja/pkg/db/option"
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
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	rangerepo  repository.Repository[rangedomain.InvoiceRange]
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) rangedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoicerange.service"),
		genID: p.GenID,
		clock: p.Clock,

		rangerepo:  repository.ProvideStore[rangedomain.InvoiceRange](p.DB),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Import(ctx context.Context, auth rangedomain.ParsedAuthorization) (rangedomain.InvoiceRange, error) {
	cai := strings.TrimSpace(auth.CAI)
	if cai == "" || auth.RangeStart <= 0 || auth.RangeEnd < auth.RangeStart {
		return rangedomain.InvoiceRange{}, rangedomain.ErrInvalidAuthorization
	}
	if auth.AuthorizedQuantity > 0 && auth.AuthorizedQuantity != auth.RangeEnd-auth.RangeStart+1 {
		return rangedomain.InvoiceRange{}, rangedomain.ErrInvalidAuthorization
	}
	if auth.IssueDeadline.IsZero() {
		return rangedomain.InvoiceRange{}, rangedomain.ErrInvalidAuthorization
	}

	existing, err := s.rangerepo.FindOne(ctx, &rangedomain.InvoiceRange{CAI: cai})
	if err != nil {
		return rangedomain.InvoiceRange{}, err
	}
	if existing != nil {
		return rangedomain.InvoiceRange{}, rangedomain.ErrDuplicateCAI
	}

	status := rangedomain.RangeStatusInactive
	active, err := s.ActiveRange(ctx)
	if err != nil {
		return rangedomain.InvoiceRange{}, err
	}
	if active == nil {
		status = rangedomain.RangeStatusActive
	}

	now := s.clock.Now()
	imported := rangedomain.InvoiceRange{
		ID:            s.genID.Generate(),
		CAI:           cai,
		RangeStart:    auth.RangeStart,
		RangeEnd:      auth.RangeEnd,
		CurrentNumber: auth.RangeStart,
		IssueDeadline: dateOnly(auth.IssueDeadline),
		TaxpayerID:    strings.TrimSpace(auth.TaxpayerID),
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.rangerepo.Create(ctx, &imported); err != nil {
		// The unique index on cai is the real duplicate guard; the
		// pre-check above only gives the friendly path.
		if db.IsDuplicateKeyErr(err) {
			return rangedomain.InvoiceRange{}, rangedomain.ErrDuplicateCAI
		}
		return rangedomain.InvoiceRange{}, err
	}

	s.log.Info("invoice range imported",
		zap.String("range_id", imported.ID.String()),
		zap.String("cai", cai),
		zap.Int64("range_start", imported.RangeStart),
		zap.Int64("range_end", imported.RangeEnd),
		zap.String("status", string(imported.Status)),
	)
	return imported, nil
}

func (s *Service) Activate(ctx context.Context, id string) (rangedomain.InvoiceRange, error) {
	target, err := s.getByID(ctx, id)
	if err != nil {
		return rangedomain.InvoiceRange{}, err
	}
	if target.Status != rangedomain.RangeStatusInactive {
		return rangedomain.InvoiceRange{}, rangedomain.ErrRangeNotActivatable
	}
	if dateOnly(s.clock.Now()).After(target.IssueDeadline) {
		return rangedomain.InvoiceRange{}, rangedomain.ErrRangeExpired
	}

	active, err := s.ActiveRange(ctx)
	if err != nil {
		return rangedomain.InvoiceRange{}, err
	}
	if active != nil {
		return rangedomain.InvoiceRange{}, rangedomain.ErrActiveRangeExists
	}

	res := s.db.WithContext(ctx).Model(&rangedomain.InvoiceRange{}).
		Where("id = ? AND status = ?", target.ID, rangedomain.RangeStatusInactive).
		Updates(map[string]any{
			"status":     rangedomain.RangeStatusActive,
			"updated_at": s.clock.Now(),
		})
	if res.Error != nil {
		// The partial unique index over active rows closes the race two
		// concurrent activations would open.
		if db.IsDuplicateKeyErr(res.Error) {
			return rangedomain.InvoiceRange{}, rangedomain.ErrActiveRangeExists
		}
		return rangedomain.InvoiceRange{}, res.Error
	}
	if res.RowsAffected == 0 {
		return rangedomain.InvoiceRange{}, rangedomain.ErrRangeNotActivatable
	}

	s.log.Info("invoice range activated", zap.String("range_id", target.ID.String()))
	return s.getByID(ctx, id)
}

func (s *Service) Retire(ctx context.Context, id string) (rangedomain.InvoiceRange, error) {
	target, err := s.getByID(ctx, id)
	if err != nil {
		return rangedomain.InvoiceRange{}, err
	}

	res := s.db.WithContext(ctx).Model(&rangedomain.InvoiceRange{}).
		Where("id = ? AND status = ?", target.ID, rangedomain.RangeStatusActive).
		Updates(map[string]any{
			"status":     rangedomain.RangeStatusInactive,
			"updated_at": s.clock.Now(),
		})
	if res.Error != nil {
		return rangedomain.InvoiceRange{}, res.Error
	}
	if res.RowsAffected == 0 {
		return rangedomain.InvoiceRange{}, rangedomain.ErrRangeNotActivatable
	}

	s.log.Info("invoice range retired", zap.String("range_id", target.ID.String()))
	return s.getByID(ctx, id)
}

// AllocateInTx advances the correlative with one conditional UPDATE, so no
// two callers can observe the same pre-increment value: the losing
// transaction blocks on the row lock until the winner commits. The read-
// back happens under the same lock.
func (s *Service) AllocateInTx(ctx context.Context, tx *gorm.DB) (rangedomain.Allocation, error) {
	now := s.clock.Now()
	today := dateOnly(now)

	res := tx.WithContext(ctx).Exec(
		`UPDATE invoice_ranges
		 SET current_number = current_number + 1, updated_at = ?
		 WHERE status = ? AND current_number <= range_end AND issue_deadline >= ?`,
		now, rangedomain.RangeStatusActive, today,
	)
	if res.Error != nil {
		return rangedomain.Allocation{}, res.Error
	}
	if res.RowsAffected == 0 {
		return rangedomain.Allocation{}, s.classifyAllocationFailure(ctx, tx)
	}

	var updated rangedomain.InvoiceRange
	if err := tx.WithContext(ctx).
		Where("status = ?", rangedomain.RangeStatusActive).
		First(&updated).Error; err != nil {
		return rangedomain.Allocation{}, err
	}

	// The status flip to EXHAUSTED happens lazily on the next failed
	// attempt; flipping here would roll back with a failed caller and
	// the warning below already tells operators the range ran dry.
	allocated := updated.CurrentNumber - 1
	if updated.CurrentNumber > updated.RangeEnd {
		s.log.Warn("invoice range consumed its last number",
			zap.String("range_id", updated.ID.String()),
			zap.String("cai", updated.CAI),
		)
	}

	s.obsMetrics.RecordNumberAllocated(ctx, updated.CAI)
	return rangedomain.Allocation{
		Number:  allocated,
		RangeID: updated.ID,
		CAI:     updated.CAI,
	}, nil
}

func (s *Service) ActiveRange(ctx context.Context) (*rangedomain.InvoiceRange, error) {
	return s.rangerepo.FindOne(ctx, &rangedomain.InvoiceRange{Status: rangedomain.RangeStatusActive})
}

func (s *Service) List(ctx context.Context) ([]rangedomain.InvoiceRange, error) {
	ranges, err := s.rangerepo.Find(ctx, &rangedomain.InvoiceRange{}, option.WithSort("created_at DESC"))
	if err != nil {
		return nil, err
	}

	out := make([]rangedomain.InvoiceRange, 0, len(ranges))
	for _, r := range ranges {
		if r == nil {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// classifyAllocationFailure decides which hard stop to surface after the
// conditional increment matched nothing. Reads go through the caller's
// transaction; the terminal status flip runs on the service's own
// connection because the caller's transaction is about to roll back and
// would discard it.
func (s *Service) classifyAllocationFailure(ctx context.Context, tx *gorm.DB) error {
	today := dateOnly(s.clock.Now())

	var active rangedomain.InvoiceRange
	err := tx.WithContext(ctx).
		Where("status = ?", rangedomain.RangeStatusActive).
		First(&active).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.obsMetrics.RecordAllocationFailure(ctx, "no_active_range")
		return rangedomain.ErrNoActiveRange
	}
	if err != nil {
		return err
	}

	if active.CurrentNumber > active.RangeEnd {
		s.flipStatus(ctx, active.ID, rangedomain.RangeStatusExhausted)
		s.obsMetrics.RecordAllocationFailure(ctx, "exhausted")
		return rangedomain.ErrRangeExhausted
	}
	if today.After(active.IssueDeadline) {
		s.flipStatus(ctx, active.ID, rangedomain.RangeStatusExpired)
		s.obsMetrics.RecordAllocationFailure(ctx, "expired")
		return rangedomain.ErrRangeExpired
	}

	return errors.New("invoice range allocation failed")
}

func (s *Service) flipStatus(ctx context.Context, id snowflake.ID, status rangedomain.RangeStatus) {
	err := s.db.WithContext(ctx).Model(&rangedomain.InvoiceRange{}).
		Where("id = ? AND status = ?", id, rangedomain.RangeStatusActive).
		Updates(map[string]any{
			"status":     status,
			"updated_at": s.clock.Now(),
		}).Error
	if err != nil {
		s.log.Error("failed to flip invoice range status",
			zap.String("range_id", id.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (s *Service) getByID(ctx context.Context, id string) (rangedomain.InvoiceRange, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return rangedomain.InvoiceRange{}, rangedomain.ErrRangeNotFound
	}

	item, err := s.rangerepo.FindOne(ctx, &rangedomain.InvoiceRange{ID: parsed})
	if err != nil {
		return rangedomain.InvoiceRange{}, err
	}
	if item == nil {
		return rangedomain.InvoiceRange{}, rangedomain.ErrRangeNotFound
	}
	return *item, nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
