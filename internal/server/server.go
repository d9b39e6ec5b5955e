package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/claimwise/internal/audit/domain"
	"github.com/smallbiznis/claimwise/internal/authorization"
	claimdomain "github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/config"
	"github.com/smallbiznis/claimwise/internal/edi/rebuild"
	obslogger "github.com/smallbiznis/claimwise/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/claimwise/internal/observability/metrics"
	obstracing "github.com/smallbiznis/claimwise/internal/observability/tracing"
	"github.com/smallbiznis/claimwise/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

type EngineParams struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Metrics  *obsmetrics.Metrics `optional:"true"`
	Gatherer prometheus.Gatherer `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(p.Log, obslogger.MiddlewareConfig{
		Debug:           !p.Cfg.IsProduction() && p.Cfg.Logger.Level == "debug",
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(metricsMiddleware(p.Metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
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
	engine    *gin.Engine
	log       *zap.Logger
	claimSvc  claimdomain.Service
	auditSvc  auditdomain.Service
	authzSvc  authorization.Service
	rebuilder *rebuild.Rebuilder
	provider  rebuild.ProviderProfile
	metrics   *obsmetrics.Metrics
	limiter   *ratelimit.EDIToolsLimiter
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Log       *zap.Logger
	ClaimSvc  claimdomain.Service
	AuditSvc  auditdomain.Service
	AuthzSvc  authorization.Service
	Rebuilder *rebuild.Rebuilder
	Provider  rebuild.ProviderProfile
	Metrics   *obsmetrics.Metrics        `optional:"true"`
	Limiter   *ratelimit.EDIToolsLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:    p.Gin,
		log:       log.Named("http.server"),
		claimSvc:  p.ClaimSvc,
		auditSvc:  p.AuditSvc,
		authzSvc:  p.AuthzSvc,
		rebuilder: p.Rebuilder,
		provider:  p.Provider,
		metrics:   p.Metrics,
		limiter:   p.Limiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", ActorContext())

	claims := api.Group("/claims")
	{
		claims.POST("", s.authorize(authorization.ObjectClaim, authorization.ActionClaimCreate), s.CreateClaim)
		claims.GET("", s.authorize(authorization.ObjectClaim, authorization.ActionClaimView), s.ListClaims)
		claims.GET("/:id", s.authorize(authorization.ObjectClaim, authorization.ActionClaimView), s.GetClaim)
		claims.GET("/:id/edi", s.authorize(authorization.ObjectClaim, authorization.ActionClaimExport), s.ExportClaimEDI)
		claims.POST("/:id/correct", s.authorize(authorization.ObjectClaim, authorization.ActionClaimCorrect), s.CorrectClaim)
		claims.POST("/:id/validate", s.authorize(authorization.ObjectClaim, authorization.ActionClaimValidate), s.ValidateClaim)
		claims.POST("/:id/ready", s.authorize(authorization.ObjectClaim, authorization.ActionClaimReady), s.MarkReady)
		claims.POST("/:id/submit", s.authorize(authorization.ObjectClaim, authorization.ActionClaimSubmit), s.SubmitClaim)
		claims.POST("/:id/ack", s.authorize(authorization.ObjectClaim, authorization.ActionClaimAck), s.ReceiveAck)
		claims.POST("/:id/remittance", s.authorize(authorization.ObjectClaim, authorization.ActionClaimRemittance), s.ReceiveRemittance)
		claims.POST("/:id/resubmit", s.authorize(authorization.ObjectClaim, authorization.ActionClaimResubmit), s.ResubmitClaim)
		claims.POST("/:id/requeue", s.authorize(authorization.ObjectClaim, authorization.ActionClaimRequeue), s.RequeueClaim)
	}

	edi := api.Group("/edi")
	{
		edi.POST("/parse", s.rateLimitEDITools(ratelimit.OpParse), s.authorize(authorization.ObjectEDI, authorization.ActionEDIParse), s.ParseEDI)
		edi.POST("/diagnose", s.rateLimitEDITools(ratelimit.OpDiagnose), s.authorize(authorization.ObjectEDI, authorization.ActionEDIDiagnose), s.DiagnoseEDI)
		edi.POST("/fix", s.rateLimitEDITools(ratelimit.OpFix), s.authorize(authorization.ObjectEDI, authorization.ActionEDIFix), s.FixEDI)
	}

	audit := api.Group("/audit")
	{
		audit.GET("", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
		audit.GET("/compliance", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogCompliance), s.AuditCompliance)
	}
}
