package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/smallbiznis/gradewise/internal/authorization"
	bulkgradingdomain "github.com/smallbiznis/gradewise/internal/bulkgrading/domain"
	"github.com/smallbiznis/gradewise/internal/config"
	creditdomain "github.com/smallbiznis/gradewise/internal/credit/domain"
	"github.com/smallbiznis/gradewise/internal/observability"
	obsmiddleware "github.com/smallbiznis/gradewise/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gradewise/internal/observability/metrics"
	obstracing "github.com/smallbiznis/gradewise/internal/observability/tracing"
	"github.com/smallbiznis/gradewise/internal/purchase/webhook"
	"github.com/smallbiznis/gradewise/internal/ratelimit"
	scoringdomain "github.com/smallbiznis/gradewise/internal/scoring/domain"
	usagedomain "github.com/smallbiznis/gradewise/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
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
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	authzSvc       authorization.Service
	creditSvc      creditdomain.Service
	usageSvc       usagedomain.Service
	assessmentSvc  assessmentdomain.Service
	scoringSvc     scoringdomain.Aggregator
	bulkGradingSvc bulkgradingdomain.Service
	purchaseHook   *webhook.Service
	gradingLimiter *ratelimit.GradingLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	AuthzSvc       authorization.Service
	CreditSvc      creditdomain.Service
	UsageSvc       usagedomain.Service
	AssessmentSvc  assessmentdomain.Service
	ScoringSvc     scoringdomain.Aggregator
	BulkGradingSvc bulkgradingdomain.Service
	PurchaseHook   *webhook.Service
	GradingLimiter *ratelimit.GradingLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		authzSvc:       p.AuthzSvc,
		creditSvc:      p.CreditSvc,
		usageSvc:       p.UsageSvc,
		assessmentSvc:  p.AssessmentSvc,
		scoringSvc:     p.ScoringSvc,
		bulkGradingSvc: p.BulkGradingSvc,
		purchaseHook:   p.PurchaseHook,
		gradingLimiter: p.GradingLimiter,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.IdentityRequired())

	// -------- Credits --------
	api.GET("/credits", s.authorize(authorization.ObjectCredit, authorization.ActionCreditView), s.GetCredits)
	api.POST("/credits/check", s.authorize(authorization.ObjectCredit, authorization.ActionCreditCheck), s.CheckCredits)
	api.POST("/credits/deduct", s.authorize(authorization.ObjectCredit, authorization.ActionCreditDeduct), s.DeductCredits)
	api.POST("/credits/add", s.authorize(authorization.ObjectCredit, authorization.ActionCreditAdd), s.AddCredits)
	api.PUT("/credits/plan", s.authorize(authorization.ObjectCredit, authorization.ActionCreditChangePlan), s.ChangePlan)

	// -------- Usage --------
	api.GET("/usage", s.authorize(authorization.ObjectUsage, authorization.ActionUsageView), s.ListUsage)
	api.GET("/usage/stats", s.authorize(authorization.ObjectUsage, authorization.ActionUsageView), s.UsageStats)

	// -------- Submissions --------
	api.POST("/submissions/:id/bulk-grade", s.authorize(authorization.ObjectSubmission, authorization.ActionSubmissionBulkGrade), s.GradingRateLimit(), s.BulkGrade)
	api.POST("/submissions/:id/recompute", s.authorize(authorization.ObjectSubmission, authorization.ActionSubmissionRecompute), s.RecomputeScore)
	api.POST("/submissions/:id/submit", s.authorize(authorization.ObjectSubmission, authorization.ActionSubmissionSubmit), s.SubmitSubmission)
	api.POST("/submissions/:id/return", s.authorize(authorization.ObjectSubmission, authorization.ActionSubmissionReturn), s.ReturnSubmission)

	// -------- Responses --------
	api.PUT("/responses/:id/mark", s.authorize(authorization.ObjectResponse, authorization.ActionResponseMark), s.OverrideMark)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payments", s.HandlePaymentWebhook)
}
