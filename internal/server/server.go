// Package server exposes the engine over HTTP: synchronous and asynchronous
// collection, acceptance, cost queries, usage ingest and operational probes.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/costlane/costlane/internal/collector"
	"github.com/costlane/costlane/internal/config"
	"github.com/costlane/costlane/internal/observability"
	"github.com/costlane/costlane/internal/pricingservice"
	"github.com/costlane/costlane/internal/report"
	usagedomain "github.com/costlane/costlane/internal/usage/domain"
	"github.com/costlane/costlane/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	cfg       config.Config
	log       *zap.Logger
	db        *gorm.DB
	collector *collector.Collector
	worker    *worker.Service
	report    *report.Service
	services  *pricingservice.Service
	usagesvc  usagedomain.Service
	metrics   *observability.Metrics
}

type Param struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	DB        *gorm.DB
	Collector *collector.Collector
	Worker    *worker.Service
	Report    *report.Service
	Services  *pricingservice.Service
	Usage     usagedomain.Service
	Metrics   *observability.Metrics
}

func New(p Param) *Server {
	return &Server{
		cfg:       p.Config,
		log:       p.Log.Named("server"),
		db:        p.DB,
		collector: p.Collector,
		worker:    p.Worker,
		report:    p.Report,
		services:  p.Services,
		usagesvc:  p.Usage,
		metrics:   p.Metrics,
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/readyz", s.Readyz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.POST("/collect", s.Collect)
		v1.POST("/collect/period", s.CollectPeriod)
		v1.GET("/jobs/:id", s.GetJob)
		v1.POST("/accept", s.Accept)
		v1.GET("/costs", s.GetCosts)
		v1.GET("/costs/resources", s.GetResourceCosts)
		v1.GET("/cycles", s.GetCycles)
		v1.POST("/usage", s.IngestUsage)
	}
	return router
}

// @Summary      Readiness
// @Description  Report database connectivity
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /readyz [get]
func (s *Server) Readyz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func Register(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:    s.cfg.HTTP.Addr,
		Handler: s.Router(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				s.log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
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

var Module = fx.Module("server",
	fx.Provide(New),
	fx.Invoke(Register),
)
