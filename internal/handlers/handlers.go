package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/auth"
	"github.com/example/face-auth/internal/failure"
	"github.com/example/face-auth/internal/gateway"
	"github.com/example/face-auth/internal/repository"
	"github.com/example/face-auth/internal/usecase"
)

// MaxBodySize caps a POST /rekognition body. Five enrollment frames fit well
// within it.
const MaxBodySize = 10 << 20

// Service is the gateway behaviour the routes expose.
type Service interface {
	Handle(ctx context.Context, req gateway.Request) (*gateway.Response, error)
	GetResult(ctx context.Context, requestID string) (*usecase.Result, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

var _ Service = (*usecase.RecognitionUseCase)(nil)

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST(gateway.Path, func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)

		var req gateway.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gateway.Response{
					Error: "request body too large",
					Kind:  string(failure.InvalidRequest),
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gateway.Response{
				Error: "invalid request body: " + err.Error(),
				Kind:  string(failure.InvalidRequest),
			})
			return
		}

		resp, err := svc.Handle(c.Request.Context(), req)
		switch {
		case errors.Is(err, usecase.ErrInvalidAction):
			c.JSON(http.StatusBadRequest, gateway.Response{
				Error: "Invalid action",
				Kind:  string(failure.InvalidRequest),
			})
		case err != nil:
			fe := failure.Normalize(err)
			c.JSON(http.StatusInternalServerError, gateway.Response{
				Error: fe.Error(),
				Kind:  string(fe.Kind),
			})
		default:
			c.JSON(http.StatusOK, resp)
		}
	})

	router.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	protected := router.Group("/", authMiddleware)

	protected.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		result, err := svc.GetResult(c.Request.Context(), requestID)
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	protected.GET("/session", func(c *gin.Context) {
		subject, _ := auth.GetSubject(c.Request.Context())
		body := gin.H{"subject": subject}
		if exp, ok := auth.GetExpiresAt(c.Request.Context()); ok {
			body["expires_at"] = exp.UTC().Format(time.RFC3339)
		}
		c.JSON(http.StatusOK, body)
	})
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("request completed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}
