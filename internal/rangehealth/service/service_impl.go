package service

import (
	"context"
	"fmt"
	"time"

	"github.com/clinidesk/caja/internal/clock"
	"github.com/clinidesk/caja/internal/config"
	rangedomain "github.com/clinidesk/caja/internal/invoicerange/domain"
	obsmetrics "github.com/clinidesk/caja/internal/observability/metrics"
	healthdomain "github.com/clinidesk/caja/internal/rangehealth/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	RangeSvc   rangedomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock

	warnRemaining int64
	warnDays      int

	rangesvc   rangedomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) healthdomain.Service {
	return &Service{
		log:   p.Log.Named("rangehealth.service"),
		clock: p.Clock,

		warnRemaining: p.Config.Billing.RangeWarnRemaining,
		warnDays:      p.Config.Billing.RangeWarnDays,

		rangesvc:   p.RangeSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Status(ctx context.Context) (healthdomain.Report, error) {
	active, err := s.rangesvc.ActiveRange(ctx)
	if err != nil {
		return healthdomain.Report{}, err
	}

	report := healthdomain.Report{Warnings: []healthdomain.Warning{}}
	if active == nil {
		report.Warnings = append(report.Warnings, healthdomain.Warning{
			Code:    healthdomain.WarnNoActiveRange,
			Message: "no active invoice range; import and activate a new authorization before issuing legal invoices",
		})
		s.recordWarnings(ctx, report.Warnings)
		return report, nil
	}

	remaining := active.Remaining()
	daysToExpiry := s.daysToExpiry(active.IssueDeadline)
	report.Active = &healthdomain.RangeSummary{
		ID:               active.ID.String(),
		CAI:              active.CAI,
		RangeStart:       active.RangeStart,
		RangeEnd:         active.RangeEnd,
		CurrentNumber:    active.CurrentNumber,
		RemainingNumbers: remaining,
		IssueDeadline:    active.IssueDeadline,
		DaysToExpiry:     daysToExpiry,
		Status:           string(active.Status),
	}

	// Threshold checks run independently so neither can mask the other.
	if remaining < s.warnRemaining {
		report.Warnings = append(report.Warnings, healthdomain.Warning{
			Code:    healthdomain.WarnNumbersLow,
			Message: fmt.Sprintf("active range has %d numbers left (warn below %d); request a replacement authorization", remaining, s.warnRemaining),
		})
	}
	if daysToExpiry < s.warnDays {
		report.Warnings = append(report.Warnings, healthdomain.Warning{
			Code:    healthdomain.WarnExpiryNear,
			Message: fmt.Sprintf("active range deadline is %d days away (warn below %d); request a replacement authorization", daysToExpiry, s.warnDays),
		})
	}

	s.recordWarnings(ctx, report.Warnings)
	return report, nil
}

func (s *Service) daysToExpiry(deadline time.Time) int {
	now := s.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(deadline.Sub(today).Hours() / 24)
}

func (s *Service) recordWarnings(ctx context.Context, warnings []healthdomain.Warning) {
	for _, w := range warnings {
		s.obsMetrics.RecordRangeWarning(ctx, string(w.Code))
		s.log.Warn("invoice range health warning",
			zap.String("code", string(w.Code)),
			zap.String("message", w.Message),
		)
	}
}
