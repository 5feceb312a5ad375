package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderInternalToken = "X-Internal-Token"
)

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(id))
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), id))
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", RequestIDFromContext(c.Request.Context()),
		)
	}
}

// RequireInternalToken guards worker-facing routes with a shared secret.
// An empty token rejects every request.
func RequireInternalToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderInternalToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing or invalid internal token"))
			c.Abort()
			return
		}
		c.Next()
	}
}
