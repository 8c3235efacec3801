package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	SessionCookie = "raffle_session"
	SessionHeader = "X-Raffle-Session"

	tenantKey        = "tenantID"
	sessionCookieAge = 24 * 60 * 60
)

// TenantMiddleware identifies the raffle session for the request. API clients may
// pass the id in a header; browsers get a cookie holding a fresh UUID.
func (h *HTTPHandler) TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := validSessionID(c.GetHeader(SessionHeader))
		if id == "" {
			if cookie, err := c.Cookie(SessionCookie); err == nil {
				id = validSessionID(cookie)
			}
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookie, id, sessionCookieAge, "/", "", false, true)
		c.Set(tenantKey, id)
		c.Next()
	}
}

func validSessionID(raw string) string {
	id, err := uuid.Parse(raw)
	if err != nil {
		return ""
	}
	return id.String()
}

func tenantID(c *gin.Context) string {
	return c.GetString(tenantKey)
}

// RequestLogger writes one access log entry per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("uri", c.Request.URL.RequestURI()),
			zap.Duration("latency", time.Since(start)),
		}
		if id := tenantID(c); id != "" {
			fields = append(fields, zap.String("session", id))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
		}

		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}
