package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows the configured origins. An empty list denies cross-origin calls.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = allowedOrigins
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", HeaderIdempotencyKey, HeaderRequestID)
	cfg.ExposeHeaders = []string{HeaderRequestID, HeaderTraceID, "Content-Disposition"}
	cfg.MaxAge = 12 * time.Hour
	return cors.New(cfg)
}
