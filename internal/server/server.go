package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/reconciler/internal/audit"
	auditdomain "github.com/smallbiznis/reconciler/internal/audit/domain"
	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/ledger"
	ledgerdomain "github.com/smallbiznis/reconciler/internal/ledger/domain"
	"github.com/smallbiznis/reconciler/internal/loan"
	"github.com/smallbiznis/reconciler/internal/lock"
	"github.com/smallbiznis/reconciler/internal/observability"
	obsmiddleware "github.com/smallbiznis/reconciler/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/reconciler/internal/observability/metrics"
	obstracing "github.com/smallbiznis/reconciler/internal/observability/tracing"
	"github.com/smallbiznis/reconciler/internal/reconciliation"
	"github.com/smallbiznis/reconciler/internal/resolver"
	"github.com/smallbiznis/reconciler/internal/signature"
	"github.com/smallbiznis/reconciler/internal/statemachine"
	"github.com/smallbiznis/reconciler/internal/webhook"
	webhookdomain "github.com/smallbiznis/reconciler/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	lock.Module,
	audit.Module,
	signature.Module,
	webhook.Module,
	loan.Module,
	ledger.Module,
	resolver.Module,
	statemachine.Module,
	reconciliation.Module,
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
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
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	validate   *validator.Validate
	verifier   signature.Verifier
	webhookSvc webhookdomain.Service
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Verifier   signature.Verifier
	WebhookSvc webhookdomain.Service
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		validate:   validator.New(),
		verifier:   p.Verifier,
		webhookSvc: p.WebhookSvc,
		ledgerSvc:  p.LedgerSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payments", s.HandlePaymentNotification)
}

func (s *Server) registerAdminRoutes() {
	api := s.engine.Group("/api", s.AdminTokenRequired())

	// -------- Orphan queue --------
	api.GET("/transactions/orphans", s.ListOrphanTransactions)
	api.POST("/transactions/:provider_transaction_id/resolve", s.ResolveTransaction)
	api.GET("/transactions/:provider_transaction_id/logs", s.ListTransactionLogs)

	// -------- Ledger --------
	api.GET("/loans/:loan_id/ledger", s.ListLoanLedgerEvents)
	api.GET("/loans/:loan_id/ledger/summary", s.GetLoanLedgerSummary)

	// -------- Audit --------
	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
