// Package api serves the fusion server's status API: current state, node
// health, configuration, a server-sent event stream and calibration jobs.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/dronenet-go/internal/calibration"
	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/detection"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
)

const (
	// DefaultStreamInterval is the SSE push period.
	DefaultStreamInterval = 200 * time.Millisecond

	configCacheTTL = 30 * time.Second
	configCacheKey = "config"
)

// StateSource provides the data behind /state and /nodes.
// *store.FrameStore satisfies it.
type StateSource interface {
	FusionState() detection.FusionState
	NodeHealth() map[int]detection.NodeHealth
}

// CalibrationService runs calibration jobs. *calibration.Manager satisfies it.
type CalibrationService interface {
	StartJob(nodeID int, duration time.Duration) (calibration.Job, error)
	Job(id string) (calibration.Job, bool)
	Jobs() []calibration.Job
}

// Controller manages the API routes and handlers
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	settings       *conf.ServerSettings
	state          StateSource
	calibration    CalibrationService
	metrics        http.Handler
	configCache    *cache.Cache
	streamInterval time.Duration
	startTime      time.Time
	log            logger.Logger

	sseMu      sync.Mutex
	sseClients map[string]time.Time

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithCalibration enables the calibration endpoints.
func WithCalibration(svc CalibrationService) Option {
	return func(c *Controller) { c.calibration = svc }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(c *Controller) { c.metrics = h }
}

// WithStreamInterval overrides the SSE push period.
func WithStreamInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.streamInterval = d
		}
	}
}

// New creates a controller with its own echo instance and registers all routes.
func New(settings *conf.ServerSettings, state StateSource, opts ...Option) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	c := &Controller{
		Echo:           e,
		settings:       settings,
		state:          state,
		configCache:    cache.New(configCacheTTL, 0),
		streamInterval: DefaultStreamInterval,
		startTime:      time.Now(),
		log:            GetLogger(),
		sseClients:     make(map[string]time.Time),
		done:           make(chan struct{}),
	}
	if settings != nil && settings.Web.StreamInterval > 0 {
		c.streamInterval = settings.Web.StreamInterval
	}
	for _, opt := range opts {
		opt(c)
	}

	e.Use(middleware.Recover())
	e.Use(c.LoggingMiddleware())
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group = c.Echo.Group("/api/v1")

	c.Group.GET("/health", c.HealthCheck)
	c.Group.GET("/state", c.GetState)
	c.Group.GET("/nodes", c.GetNodes)
	c.Group.GET("/config", c.GetConfig)
	c.Group.GET("/stream", c.StreamState)

	c.Group.GET("/calibration", c.ListCalibrationJobs)
	c.Group.POST("/calibration/:node", c.StartCalibration)
	c.Group.GET("/calibration/:id", c.GetCalibrationJob)

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics))
	}
}

// LoggingMiddleware logs each request at debug level and server errors at error level.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err)
			}

			status := ctx.Response().Status
			fields := []logger.Field{
				logger.String("method", ctx.Request().Method),
				logger.String("path", ctx.Request().URL.Path),
				logger.Int("status", status),
				logger.Duration("duration", time.Since(start)),
				logger.String("ip", ctx.RealIP()),
			}
			if status >= http.StatusInternalServerError {
				c.log.Error("API request failed", fields...)
			} else {
				c.log.Debug("API request", fields...)
			}
			return nil
		}
	}
}

// Start serves the API on address until Shutdown.
func (c *Controller) Start(address string) {
	c.wg.Go(func() {
		c.log.Info("status API listening", logger.String("address", address))
		if err := c.Echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("status API server error", logger.Error(err))
		}
	})
}

// Shutdown ends open streams and stops the HTTP server.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.doneOnce.Do(func() { close(c.done) })
	err := c.Echo.Shutdown(ctx)
	c.wg.Wait()
	c.configCache.Flush()
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
}

// HandleError logs err and writes an ErrorResponse with the given code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)
	c.log.Warn("API error",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.String("error", resp.Error),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path))
	return ctx.JSON(code, resp)
}

// statusForError maps error categories to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
