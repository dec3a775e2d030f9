package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clinicstock/internal/core/apperror"
	"clinicstock/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}

		if appErr, ok := apperror.AsAppError(err); ok {
			if appErr.Err != nil {
				logger.Error(c.Request.Context(), "request error",
					"code", appErr.Code,
					"cause", appErr.Err,
				)
			}

			body := gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
				"details": appErr.Details,
			}
			finishIdempotency(c, appErr.HTTPStatus, appErr.Code, body)
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		logger.Error(c.Request.Context(), "unhandled error",
			"error", err,
		)

		body := gin.H{
			"code":    apperror.CodeInternal,
			"message": "Internal server error",
			"details": map[string]any{
				"request_id": c.GetString("request_id"),
			},
		}
		finishIdempotency(c, http.StatusInternalServerError, apperror.CodeInternal, body)
		c.JSON(http.StatusInternalServerError, body)
	}
}

// finishIdempotency records client errors for replay and releases the key
// on server and serialization errors so the client can retry with the same key.
func finishIdempotency(c *gin.Context, status int, code string, body any) {
	key, store, ok := idempotencyFromContext(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if status >= http.StatusInternalServerError || code == apperror.CodeConcurrentModification {
		if err := store.ReleaseKey(ctx, key); err != nil {
			logger.Warn(ctx, "release idempotency key failed", "key", key, "error", err)
		}
		return
	}
	if err := store.FailKey(ctx, key, status, "application/json", body); err != nil {
		logger.Warn(ctx, "fail idempotency key failed", "key", key, "error", err)
	}
}
