package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/facolos/etl/internal/infrastructure/logger"
	"github.com/facolos/etl/internal/interfaces/http/handler"
	"github.com/facolos/etl/internal/interfaces/http/middleware"
)

// EngineConfig configures the HTTP engine
type EngineConfig struct {
	ServiceName    string
	TracingEnabled bool
	MaxBodySize    int64
	TrustedProxies []string
	// AuthSecret enables bearer auth on /api when set
	AuthSecret   string
	RunRateLimit float64
	RunRateBurst int
	// Metrics registers HTTP collectors; nil skips request metrics
	Metrics          prometheus.Registerer
	MetricsNamespace string
	// MetricsHandler serves /metrics when set
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

// Handlers groups the HTTP handlers the engine routes to
type Handlers struct {
	ETL    *handler.ETLHandler
	System *handler.SystemHandler
}

// NewEngine builds the gin engine with the middleware chain and every route
func NewEngine(cfg EngineConfig, h Handlers) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(logger.RequestID())
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.ServiceName,
		Enabled:     cfg.TracingEnabled,
	}))
	engine.Use(middleware.SpanEnricher())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))
	if cfg.Metrics != nil {
		ns := cfg.MetricsNamespace
		if ns == "" {
			ns = "etl"
		}
		engine.Use(middleware.NewHTTPMetrics(cfg.Metrics, ns).Handler())
	}
	engine.Use(middleware.Secure())
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}

	engine.GET("/healthz", h.System.Healthz)
	engine.GET("/system/info", h.System.GetSystemInfo)
	if cfg.MetricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	authCfg := middleware.DefaultAuthConfig(cfg.AuthSecret)
	authCfg.Logger = log

	r := NewRouter(engine, WithGroupMiddleware(middleware.Auth(authCfg)))
	r.Register(ETLRoutes(h.ETL, middleware.RateLimit(middleware.NewRateLimiter(cfg.RunRateLimit, cfg.RunRateBurst))))
	r.Setup()

	return engine, nil
}

// ETLRoutes defines the run trigger and inspection routes. runLimit guards
// POST /runs.
func ETLRoutes(h *handler.ETLHandler, runLimit gin.HandlerFunc) *RouteGroup {
	g := NewRouteGroup("")
	g.POST("/runs", runLimit, h.TriggerRun)
	g.GET("/jobs", h.ListJobs)

	g.Group("/batches").
		GET("", h.ListBatches).
		GET("/:id", h.GetBatch).
		POST("/:id/cancel", h.CancelBatch)

	g.Group("/sources").
		GET("", h.ListSources).
		GET("/:id/health", h.GetSourceHealth)
	return g
}
