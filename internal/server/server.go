package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huddlehq/metering/internal/config"
	"github.com/huddlehq/metering/internal/credits"
	creditsdomain "github.com/huddlehq/metering/internal/credits/domain"
	"github.com/huddlehq/metering/internal/media"
	mediadomain "github.com/huddlehq/metering/internal/media/domain"
	"github.com/huddlehq/metering/internal/observability"
	obsmiddleware "github.com/huddlehq/metering/internal/observability/logger"
	obsmetrics "github.com/huddlehq/metering/internal/observability/metrics"
	obstracing "github.com/huddlehq/metering/internal/observability/tracing"
	"github.com/huddlehq/metering/internal/payment"
	paymentdomain "github.com/huddlehq/metering/internal/payment/domain"
	"github.com/huddlehq/metering/internal/profile"
	"github.com/huddlehq/metering/internal/quota"
	quotadomain "github.com/huddlehq/metering/internal/quota/domain"
	"github.com/huddlehq/metering/internal/ratelimit"
	"github.com/huddlehq/metering/internal/usage"
	usagedomain "github.com/huddlehq/metering/internal/usage/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	profile.Module,
	usage.Module,
	quota.Module,
	credits.Module,
	payment.Module,
	media.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	engine     *gin.Engine
	cfg        config.Config
	usageSvc   usagedomain.Service
	quotaSvc   quotadomain.Service
	creditsSvc creditsdomain.Service
	paymentSvc paymentdomain.Service
	mediaSvc   mediadomain.Service
	limiter    *ratelimit.IngestLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	UsageSvc   usagedomain.Service
	QuotaSvc   quotadomain.Service
	CreditsSvc creditsdomain.Service
	PaymentSvc paymentdomain.Service
	MediaSvc   mediadomain.Service
	Limiter    *ratelimit.IngestLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		usageSvc:   p.UsageSvc,
		quotaSvc:   p.QuotaSvc,
		creditsSvc: p.CreditsSvc,
		paymentSvc: p.PaymentSvc,
		mediaSvc:   p.MediaSvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/usage/:user_id", s.GetUsageSummary)
	api.POST("/usage/:user_id", s.IngestRateLimit("usage"), s.PostUsageAction)

	api.GET("/credits/:user_id", s.GetCredits)
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/api/webhooks")

	hooks.POST("/payments/:provider", s.IngestRateLimit("payment_webhook"), s.HandlePaymentWebhook)
	hooks.POST("/media", s.IngestRateLimit("media_webhook"), s.HandleMediaWebhook)
}

// IngestRateLimit gates an endpoint behind the shared token bucket. Redis
// outages fail open so the limiter never blocks metering writes.
func (s *Server) IngestRateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()

		allowed, err := s.limiter.AllowEndpoint(ctx, endpoint)
		if err != nil {
			allowed = true
		}
		if allowed {
			if userID := c.Param("user_id"); userID != "" {
				userAllowed, userErr := s.limiter.AllowUser(ctx, userID)
				if userErr == nil && !userAllowed {
					allowed = false
					s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, "user")
				}
			}
		} else {
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, "endpoint")
		}

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many requests",
			}})
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}
