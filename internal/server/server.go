// Package server is the HTTP boundary: request parsing, auth on the webhook
// route, and mapping domain errors to wire responses. No quota or
// subscription decisions are made here.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gosuraksha/entitlements/internal/config"
	obslogger "github.com/gosuraksha/entitlements/internal/observability/logger"
	"github.com/gosuraksha/entitlements/internal/plan"
	"github.com/gosuraksha/entitlements/internal/quota"
	subscriptionservice "github.com/gosuraksha/entitlements/internal/subscription/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	log        *zap.Logger
	enforcer   *quota.Enforcer
	guardrails *quota.Guardrails
	processor  *subscriptionservice.Processor
	resolver   *subscriptionservice.Resolver
	policy     *plan.Policy
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Enforcer   *quota.Enforcer
	Guardrails *quota.Guardrails
	Processor  *subscriptionservice.Processor
	Resolver   *subscriptionservice.Resolver
	Policy     *plan.Policy
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		enforcer:   p.Enforcer,
		guardrails: p.Guardrails,
		processor:  p.Processor,
		resolver:   p.Resolver,
		policy:     p.Policy,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandleSubscriptionWebhook)

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/enforce", s.EnforceQuota)
		v1.GET("/accounts/:id/subscription", s.GetSubscription)

		guardrails := v1.Group("/guardrails")
		{
			guardrails.POST("/email-scan", s.CheckEmailScan)
			guardrails.POST("/email-scan/result", s.StoreEmailScanResult)
			guardrails.POST("/ai-insight", s.CheckAIInsight)
		}
	}
}
