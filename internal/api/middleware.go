package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
)

const requestIDHeader = "X-Request-ID"

// loggerMiddleware logs one entry per request, folding handler errors into it.
func loggerMiddleware(log infralogger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []infralogger.Field{
			infralogger.String("method", c.Request.Method),
			infralogger.String("path", path),
			infralogger.Int("status", c.Writer.Status()),
			infralogger.Duration("duration", time.Since(start)),
			infralogger.String("client_ip", c.ClientIP()),
			infralogger.String("request_id", c.GetString("request_id")),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, infralogger.Strings("errors", c.Errors.Errors()))
			log.Error("HTTP request with errors", fields...)
			return
		}
		if strings.HasPrefix(path, "/health") || path == "/metrics" {
			log.Debug("HTTP request", fields...)
			return
		}
		log.Info("HTTP request", fields...)
	}
}

// requestIDMiddleware propagates or assigns X-Request-ID and stores a request-scoped logger in the
// request context.
func requestIDMiddleware(log infralogger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		scoped := log.With(infralogger.String("request_id", requestID))
		c.Request = c.Request.WithContext(infralogger.WithContext(c.Request.Context(), scoped))
		c.Next()
	}
}

func recoveryMiddleware(log infralogger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("Panic recovered",
					infralogger.Any("panic", rec),
					infralogger.String("path", c.Request.URL.Path),
					infralogger.String("method", c.Request.Method))
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
					Error: "internal server error",
					Code:  "INTERNAL_ERROR",
				})
			}
		}()
		c.Next()
	}
}
