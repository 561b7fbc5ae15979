package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinidesk/caja/internal/config"
	"github.com/clinidesk/caja/internal/coverage"
	coveragedomain "github.com/clinidesk/caja/internal/coverage/domain"
	"github.com/clinidesk/caja/internal/invoice"
	invoicedomain "github.com/clinidesk/caja/internal/invoice/domain"
	"github.com/clinidesk/caja/internal/invoicerange"
	rangedomain "github.com/clinidesk/caja/internal/invoicerange/domain"
	"github.com/clinidesk/caja/internal/lock"
	"github.com/clinidesk/caja/internal/observability"
	obsmiddleware "github.com/clinidesk/caja/internal/observability/logger"
	obsmetrics "github.com/clinidesk/caja/internal/observability/metrics"
	obstracing "github.com/clinidesk/caja/internal/observability/tracing"
	"github.com/clinidesk/caja/internal/payment"
	paymentdomain "github.com/clinidesk/caja/internal/payment/domain"
	"github.com/clinidesk/caja/internal/rangehealth"
	healthdomain "github.com/clinidesk/caja/internal/rangehealth/domain"
	"github.com/clinidesk/caja/internal/stay"
	staydomain "github.com/clinidesk/caja/internal/stay/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	stay.Module,
	payment.Module,
	coverage.Module,
	invoicerange.Module,
	invoice.Module,
	rangehealth.Module,
	lock.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	genID  *snowflake.Node

	staySvc     staydomain.Service
	coverageSvc coveragedomain.Service
	paymentSvc  paymentdomain.Service
	rangeSvc    rangedomain.Service
	invoiceSvc  invoicedomain.Service
	healthSvc   healthdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	GenID       *snowflake.Node
	StaySvc     staydomain.Service
	CoverageSvc coveragedomain.Service
	PaymentSvc  paymentdomain.Service
	RangeSvc    rangedomain.Service
	InvoiceSvc  invoicedomain.Service
	HealthSvc   healthdomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		db:     p.DB,
		genID:  p.GenID,

		staySvc:     p.StaySvc,
		coverageSvc: p.CoverageSvc,
		paymentSvc:  p.PaymentSvc,
		rangeSvc:    p.RangeSvc,
		invoiceSvc:  p.InvoiceSvc,
		healthSvc:   p.HealthSvc,
		obsMetrics:  p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Stays --------
	api.POST("/stays", s.AdmitStay)
	api.GET("/stays/:id", s.GetStayByID)
	api.POST("/stays/:id/discharge", s.DischargeStay)
	api.PUT("/stays/:id/rate", s.ChangeStayRate)
	api.GET("/stays/:id/pending-days", s.GetPendingDays)
	api.GET("/stays/:id/billed-periods", s.ListBilledPeriods)
	api.POST("/stays/:id/billed-periods", s.CreateBilledPeriod)

	// -------- Rate catalog --------
	api.POST("/rate-items", s.CreateRateItem)
	api.GET("/rate-items", s.ListRateItems)
	api.POST("/rate-items/:id/variants", s.CreateRateVariant)

	// -------- Payments --------
	api.POST("/payments", s.CreatePayment)
	api.GET("/payments/:id", s.GetPaymentByID)
	api.POST("/payments/:id/cancel", s.CancelPayment)

	// -------- Invoice ranges --------
	api.GET("/invoice-ranges/status", s.GetRangeStatus)
	api.GET("/invoice-ranges", s.ListInvoiceRanges)
	api.POST("/invoice-ranges", s.ImportInvoiceRange)
	api.POST("/invoice-ranges/:id/activate", s.ActivateInvoiceRange)
	api.POST("/invoice-ranges/:id/retire", s.RetireInvoiceRange)

	// -------- Invoices --------
	api.POST("/invoices", s.IssueInvoice)
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoiceByID)
}
