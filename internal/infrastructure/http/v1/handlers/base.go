// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/core/security"
	"clinicstock/internal/infrastructure/http/v1/dto"
	"clinicstock/internal/infrastructure/http/v1/middleware"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct {
	calendar calendar.Adapter
	now      func() time.Time
}

// NewBaseHandler creates a new base handler.
func NewBaseHandler(cal calendar.Adapter) *BaseHandler {
	return &BaseHandler{calendar: cal, now: time.Now}
}

// BindJSON binds and validates JSON request body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// BindQuery binds and validates query parameters.
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid query parameters").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers error on Gin context and aborts request.
// Actual JSON response is produced by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// Center resolves the center a request operates on from the caller's scope.
func (h *BaseHandler) Center(c *gin.Context, requested string) (id.ID, bool) {
	centerID, err := security.GetScope(c.Request.Context()).ResolveCenter(requested)
	if err != nil {
		h.Error(c, err)
		return id.ID{}, false
	}
	return centerID, true
}

// Period returns the requested period, or the current local period when
// the query names none.
func (h *BaseHandler) Period(c *gin.Context, q dto.PeriodQuery) (calendar.Period, bool) {
	if q.Year == 0 && q.Month == 0 {
		return h.calendar.PeriodOf(h.now()), true
	}
	p, err := calendar.NewPeriod(q.Year, q.Month)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid period").
			WithDetail("year", q.Year).
			WithDetail("month", q.Month))
		return calendar.Period{}, false
	}
	return p, true
}

// Created sends 201 response with data.
func (h *BaseHandler) Created(c *gin.Context, data any) {
	middleware.CompleteIdempotency(c, http.StatusCreated, "application/json", data)
	c.JSON(http.StatusCreated, data)
}

// OK sends 200 response with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	middleware.CompleteIdempotency(c, http.StatusOK, "application/json", data)
	c.JSON(http.StatusOK, data)
}
