package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/consult-api/internal/middleware"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(gin.IRouter)
}

type RouterConfig struct {
	Mode         string
	RateLimited  bool
	RateLimit    rate.Limit
	RateBurst    int
	CORSConfig   middleware.CORSConfig
	MaxBodyBytes int64
	Metrics      *metrics.Metrics
}

type Router struct {
	engine *gin.Engine
	config RouterConfig
}

func NewRouter(config RouterConfig) (*Router, error) {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if err := middleware.RegisterValidators(middleware.DefaultValidationConfig()); err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
	)
	if config.Metrics != nil {
		engine.Use(middleware.Metrics(config.Metrics))
	}
	engine.Use(middleware.ErrorHandler())

	return &Router{engine: engine, config: config}, nil
}

// Setup mounts the operational endpoints at the root and the API handlers
// under /api/v1 behind the rate limiter and body size limit.
func (r *Router) Setup(health, metricsHandler Handler, api ...Handler) {
	if health != nil {
		health.RegisterRoutes(r.engine)
	}
	if metricsHandler != nil {
		metricsHandler.RegisterRoutes(r.engine)
	}

	v1 := r.engine.Group("/api/v1")
	v1.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	maxBody := r.config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = middleware.DefaultSizeLimitConfig().MaxBodySize
	}
	v1.Use(middleware.SizeLimit(middleware.SizeLimitConfig{MaxBodySize: maxBody}))

	if r.config.RateLimited {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		})
		v1.Use(limiter.RateLimit())
	}

	for _, h := range api {
		h.RegisterRoutes(v1)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
