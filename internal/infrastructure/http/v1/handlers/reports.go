package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"clinicstock/internal/domain/patients"
	"clinicstock/internal/infrastructure/http/v1/dto"
	"clinicstock/pkg/logger"
)

// ReportsHandler handles center-level patient reports.
type ReportsHandler struct {
	*BaseHandler
	service ReportService
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(base *BaseHandler, service ReportService) *ReportsHandler {
	return &ReportsHandler{
		BaseHandler: base,
		service:     service,
	}
}

// Monthly handles GET /reports/monthly
func (h *ReportsHandler) Monthly(c *gin.Context) {
	var q dto.PeriodQuery
	if !h.BindQuery(c, &q) {
		return
	}
	centerID, ok := h.Center(c, q.CenterID)
	if !ok {
		return
	}
	period, ok := h.Period(c, q)
	if !ok {
		return
	}

	result, err := h.service.CenterMonthlyReport(c.Request.Context(), centerID, period)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AbsentPatients handles GET /reports/absent-patients
func (h *ReportsHandler) AbsentPatients(c *gin.Context) {
	var q dto.PeriodQuery
	if !h.BindQuery(c, &q) {
		return
	}
	centerID, ok := h.Center(c, q.CenterID)
	if !ok {
		return
	}
	period, ok := h.Period(c, q)
	if !ok {
		return
	}

	result, err := h.service.AbsentPatients(c.Request.Context(), centerID, period)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RollupRunner runs the patient status rollup.
type RollupRunner interface {
	Run(ctx context.Context) (patients.RollupResult, bool, error)
}

// AdminHandler handles administrative endpoints.
type AdminHandler struct {
	*BaseHandler
	rollup RollupRunner
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(base *BaseHandler, rollup RollupRunner) *AdminHandler {
	return &AdminHandler{BaseHandler: base, rollup: rollup}
}

// RefreshPatientStatuses handles POST /admin/patient-statuses/refresh
func (h *AdminHandler) RefreshPatientStatuses(c *gin.Context) {
	ctx := c.Request.Context()

	result, skipped, err := h.rollup.Run(ctx)
	if err != nil {
		h.Error(c, err)
		return
	}

	logger.Info(ctx, "patient status rollup triggered",
		"skipped", skipped,
		"marked_absent", result.MarkedAbsent,
		"marked_active", result.MarkedActive,
	)
	h.OK(c, dto.RollupResponse{Skipped: skipped, RollupResult: result})
}
