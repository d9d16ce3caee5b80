package handler

import (
	"net/http"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/config"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/handler/middleware"
	v1 "github.com/dmehra2102/prod-golang-projects/practiceflow/internal/handler/v1"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/realtime"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/service"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Deps struct {
	Config   *config.Config
	Calendar *service.CalendarService
	Sessions *service.SessionService
	Payouts  *service.PayoutService
	Realtime *realtime.WebSocketHandler
	Tokens   middleware.TokenValidator
	Checks   map[string]v1.HealthCheck
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter assembles the HTTP surface. Health and metrics stay outside
// authentication and rate limiting so probes and scrapers always get through.
func NewRouter(d Deps) *gin.Engine {
	if d.Config.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(d.Logger),
		middleware.SecurityHeaders(),
		middleware.CORS(d.Config.CORS),
		middleware.Tracing(d.Config.Tracing.ServiceName),
		middleware.Metrics(d.Metrics),
		middleware.Logger(d.Logger),
	)

	health := v1.NewHealthHandler(d.Config.App.Version, d.Checks, d.Logger)
	r.GET("/healthz", health.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler(d.Gatherer)))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, v1.ErrorResponse{Error: "route not found"})
	})

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(d.Config.RateLimit, d.Logger), middleware.Auth(d.Tokens))

	v1.NewCalendarHandler(d.Calendar, d.Logger).Register(api)
	v1.NewSessionHandler(d.Sessions, d.Logger).Register(api)
	v1.NewPayoutHandler(d.Payouts, d.Logger).Register(api)
	if d.Realtime != nil {
		v1.RegisterRealtime(api, d.Realtime)
	}

	return r
}
