package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/proposalpricing/internal/approval"
	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
	"github.com/smallbiznis/proposalpricing/internal/audit"
	auditdomain "github.com/smallbiznis/proposalpricing/internal/audit/domain"
	"github.com/smallbiznis/proposalpricing/internal/config"
	"github.com/smallbiznis/proposalpricing/internal/financing"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	"github.com/smallbiznis/proposalpricing/internal/lock"
	"github.com/smallbiznis/proposalpricing/internal/observability"
	obslogger "github.com/smallbiznis/proposalpricing/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/proposalpricing/internal/observability/metrics"
	obstracing "github.com/smallbiznis/proposalpricing/internal/observability/tracing"
	"github.com/smallbiznis/proposalpricing/internal/permission"
	"github.com/smallbiznis/proposalpricing/internal/pricing"
	"github.com/smallbiznis/proposalpricing/internal/pricing/session"
	"github.com/smallbiznis/proposalpricing/internal/proposal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	permission.Module,
	financing.Module,
	approval.Module,
	proposal.Module,
	lock.Module,
	pricing.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine        *gin.Engine
	log           *zap.Logger
	sessions      *session.Manager
	financingSvc  financingdomain.Service
	approvalSvc   approvaldomain.Service
	auditSvc      auditdomain.Service
	bootstrapWait time.Duration
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Log          *zap.Logger
	Sessions     *session.Manager
	FinancingSvc financingdomain.Service
	ApprovalSvc  approvaldomain.Service
	AuditSvc     auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		log:           p.Log.Named("http.server"),
		sessions:      p.Sessions,
		financingSvc:  p.FinancingSvc,
		approvalSvc:   p.ApprovalSvc,
		auditSvc:      p.AuditSvc,
		bootstrapWait: 2 * time.Second,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", UserContext())

	api.GET("/financing-plans", s.ListFinancingPlans)
	api.GET("/audit-logs", s.ListAuditLogs)

	sessions := api.Group("/pricing/sessions")
	{
		sessions.POST("", s.OpenSession)
		sessions.GET("/:id", s.GetSession)
		sessions.DELETE("/:id", s.CloseSession)

		sessions.POST("/:id/discounts/:discountId/toggle", s.ToggleDiscount)
		sessions.PUT("/:id/discounts/:discountId", s.EditDiscountAmount)
		sessions.PUT("/:id/manual-discount", s.ApplyManualDiscount)
		sessions.DELETE("/:id/manual-discount", s.ResetManualDiscount)
		sessions.PUT("/:id/services", s.SetServices)
		sessions.POST("/:id/adders", s.AddCustomAdder)
		sessions.DELETE("/:id/adders/:adderId", s.RemoveCustomAdder)
		sessions.PUT("/:id/financing-plan", s.SelectFinancingPlan)
		sessions.DELETE("/:id/financing-plan", s.ClearFinancingPlan)
		sessions.PUT("/:id/financing-terms", s.SetFinancingTerms)
		sessions.PUT("/:id/total-override", s.SetTotalOverride)
		sessions.DELETE("/:id/total-override", s.ClearTotalOverride)
		sessions.POST("/:id/approval", s.SubmitApproval)
		sessions.DELETE("/:id/approval", s.CancelApproval)
		sessions.POST("/:id/approval/refresh", s.RefreshApproval)
		sessions.POST("/:id/finalize", s.Finalize)
	}

	approvals := api.Group("/approvals")
	{
		approvals.GET("/:id", s.GetApproval)
		approvals.POST("/:id/resolve", RequireUser(), s.ResolveApproval)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
