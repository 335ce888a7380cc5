// Package handler exposes the enqueue and completion observation API over HTTP.
package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter registers every route on a fresh engine
func NewRouter(tasks *TaskHandler, bees *BeeHandler, health *HealthHandler, log *zap.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(requestLogger(log.Named("http")), gin.Recovery())

	// health
	engine.GET("/healthz", health.Healthz)
	engine.GET("/readyz", health.Readyz)

	api := engine.Group("/api/v1")
	{
		api.POST("/tasks", tasks.CreateTask)
		api.GET("/tasks", tasks.ListTasks)
		api.GET("/tasks/:id", tasks.GetTask)
		api.GET("/tasks/:id/wait", tasks.WaitTask)
		api.GET("/tasks/:id/events", tasks.StreamEvents)
		api.GET("/bees", bees.ListBees)
	}
	return engine
}

// requestLogger logs one line per request through zap
func requestLogger(log *zap.Logger) gin.HandlerFunc {
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
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("Request", fields...)
		case status >= 400:
			log.Warn("Request", fields...)
		default:
			log.Debug("Request", fields...)
		}
	}
}
