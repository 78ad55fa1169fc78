package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/voxlate/voxlate/internal/auth"
	"github.com/voxlate/voxlate/internal/billing"
	billingservice "github.com/voxlate/voxlate/internal/billing/service"
	"github.com/voxlate/voxlate/internal/clock"
	"github.com/voxlate/voxlate/internal/config"
	"github.com/voxlate/voxlate/internal/credit"
	creditdomain "github.com/voxlate/voxlate/internal/credit/domain"
	"github.com/voxlate/voxlate/internal/entitlement"
	entitlementdomain "github.com/voxlate/voxlate/internal/entitlement/domain"
	"github.com/voxlate/voxlate/internal/observability"
	obslogger "github.com/voxlate/voxlate/internal/observability/logger"
	obsmetrics "github.com/voxlate/voxlate/internal/observability/metrics"
	obstracing "github.com/voxlate/voxlate/internal/observability/tracing"
	"github.com/voxlate/voxlate/internal/quota"
	"github.com/voxlate/voxlate/internal/ratelimit"
	"github.com/voxlate/voxlate/internal/relay"
	"github.com/voxlate/voxlate/internal/usage"
	usagedomain "github.com/voxlate/voxlate/internal/usage/domain"
	"github.com/voxlate/voxlate/internal/users"
)

var Module = fx.Module("http.server",
	config.Module,
	clock.Module,
	quota.Module,
	users.Module,
	entitlement.Module,
	credit.Module,
	usage.Module,
	billing.Module,
	ratelimit.Module,
	relay.Module,
	fx.Provide(
		auth.NewVerifier,
		registerGin,
	),
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

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	return payload.Type, strconv.Itoa(status)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	engine       *gin.Engine
	cfg          config.Config
	verifier     *auth.Verifier
	entitlements entitlementdomain.Service
	usagesvc     usagedomain.Service
	credits      creditdomain.Service
	billingsvc   billingservice.Processor
	relaysvc     *relay.Service
	limiter      *ratelimit.Limiter
	clock        clock.Clock
	obsMetrics   *obsmetrics.Metrics
	log          *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Verifier     *auth.Verifier
	Entitlements entitlementdomain.Service
	Usagesvc     usagedomain.Service
	Credits      creditdomain.Service
	Billingsvc   billingservice.Processor
	Relaysvc     *relay.Service
	Limiter      *ratelimit.Limiter `optional:"true"`
	Clock        clock.Clock
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
	Log          *zap.Logger
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		verifier:     p.Verifier,
		entitlements: p.Entitlements,
		usagesvc:     p.Usagesvc,
		credits:      p.Credits,
		billingsvc:   p.Billingsvc,
		relaysvc:     p.Relaysvc,
		limiter:      p.Limiter,
		clock:        p.Clock,
		obsMetrics:   p.ObsMetrics,
		log:          p.Log.Named("server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	api.POST("/billing/webhook", s.webhookRateLimit(), s.handleBillingWebhook)

	authed := api.Group("")
	authed.Use(s.AuthRequired())
	authed.GET("/quota", s.handleQuota)
	authed.POST("/usage", s.usageRateLimit(), s.handleRecordUsage)
	authed.GET("/live", s.Admission(quota.ResourceLiveTranslation), s.handleLive)
}
