package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/domain/reports"
	"clinicstock/internal/infrastructure/http/v1/dto"
)

// StockService records ledger writes other than deliveries.
type StockService interface {
	RecordPurchase(ctx context.Context, req inventory.PurchaseRequest) (*inventory.PurchaseResult, error)
	RecordInitialStock(ctx context.Context, req inventory.InitialStockRequest) (*inventory.InitialStockResult, error)
	RecordAdjustment(ctx context.Context, req inventory.AdjustmentRequest) (*inventory.AdjustmentResult, error)
	Lots(ctx context.Context, centerID id.ID, filter inventory.LotFilter) ([]inventory.Lot, error)
}

// ReportService is the read side used by the inventory, delivery and report handlers.
type ReportService interface {
	CurrentStock(ctx context.Context, centerID, drugID id.ID) (*reports.DrugStock, error)
	CurrentInventory(ctx context.Context, centerID id.ID) (*reports.CurrentInventory, error)
	MonthlyReport(ctx context.Context, centerID id.ID, period calendar.Period) (*reports.MonthlyReport, error)
	ExportMonthlyReport(ctx context.Context, centerID id.ID, period calendar.Period, w io.Writer) error
	ExportFormat() (contentType, ext string)
	LowStockAlerts(ctx context.Context, centerID id.ID) (*reports.LowStockAlerts, error)
	TransactionHistory(ctx context.Context, centerID id.ID, filter reports.TransactionFilter) (*reports.TransactionHistory, error)
	Dashboard(ctx context.Context, centerID id.ID) (*reports.Dashboard, error)
	DeliveryHistory(ctx context.Context, centerID id.ID, filter reports.DeliveryFilter) (*reports.DeliveryHistory, error)
	CenterMonthlyReport(ctx context.Context, centerID id.ID, period calendar.Period) (*reports.CenterMonthlyReport, error)
	AbsentPatients(ctx context.Context, centerID id.ID, period calendar.Period) (*reports.AbsentPatientsReport, error)
}

// InventoryHandler handles stock ledger endpoints.
type InventoryHandler struct {
	*BaseHandler
	stock   StockService
	reports ReportService
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(base *BaseHandler, stock StockService, reports ReportService) *InventoryHandler {
	return &InventoryHandler{
		BaseHandler: base,
		stock:       stock,
		reports:     reports,
	}
}

// InitialStock handles POST /inventory/initial-stock
func (h *InventoryHandler) InitialStock(c *gin.Context) {
	var req dto.InitialStockRequest
	if !h.BindJSON(c, &req) {
		return
	}
	centerID, ok := h.Center(c, req.CenterID)
	if !ok {
		return
	}
	domainReq, err := req.ToDomain(centerID)
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.stock.RecordInitialStock(c.Request.Context(), domainReq)
	if err != nil {
		h.Error(c, err)
		return
	}

	if result.Created {
		h.Created(c, result)
		return
	}
	h.OK(c, result)
}

// Purchase handles POST /inventory/purchase
func (h *InventoryHandler) Purchase(c *gin.Context) {
	var req dto.PurchaseRequest
	if !h.BindJSON(c, &req) {
		return
	}
	centerID, ok := h.Center(c, req.CenterID)
	if !ok {
		return
	}
	domainReq, err := req.ToDomain(centerID)
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.stock.RecordPurchase(c.Request.Context(), domainReq)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, result)
}

// Adjustment handles POST /inventory/adjustments
func (h *InventoryHandler) Adjustment(c *gin.Context) {
	var req dto.AdjustmentRequest
	if !h.BindJSON(c, &req) {
		return
	}
	centerID, ok := h.Center(c, req.CenterID)
	if !ok {
		return
	}
	domainReq, err := req.ToDomain(centerID)
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.stock.RecordAdjustment(c.Request.Context(), domainReq)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, result)
}

// Current handles GET /inventory/current
func (h *InventoryHandler) Current(c *gin.Context) {
	var q dto.CenterQuery
	if !h.BindQuery(c, &q) {
		return
	}
	centerID, ok := h.Center(c, q.CenterID)
	if !ok {
		return
	}

	result, err := h.reports.CurrentInventory(c.Request.Context(), centerID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CurrentByDrug handles GET /inventory/current/:drugId
func (h *InventoryHandler) CurrentByDrug(c *gin.Context) {
	var q dto.CenterQuery
	if !h.BindQuery(c, &q) {
		return
	}
	centerID, ok := h.Center(c, q.CenterID)
	if !ok {
		return
	}
	drugID, err := dto.ParseDrugID(c.Param("drugId"))
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.reports.CurrentStock(c.Request.Context(), centerID, drugID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MonthlyReport handles GET /inventory/monthly-report
func (h *InventoryHandler) MonthlyReport(c *gin.Context) {
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

	result, err := h.reports.MonthlyReport(c.Request.Context(), centerID, period)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExportMonthlyReport handles GET /inventory/monthly-report/export
func (h *InventoryHandler) ExportMonthlyReport(c *gin.Context) {
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

	contentType, ext := h.reports.ExportFormat()
	if contentType == "" {
		h.Error(c, apperror.NewBusinessRule(apperror.CodeBusinessRule, "report export is not configured"))
		return
	}

	// Rendered into memory so a failure still produces a JSON error.
	var buf bytes.Buffer
	if err := h.reports.ExportMonthlyReport(c.Request.Context(), centerID, period, &buf); err != nil {
		h.Error(c, err)
		return
	}

	filename := fmt.Sprintf("monthly-report-%d-%02d%s", period.Year, period.Month, ext)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// LowStockAlerts handles GET /inventory/low-stock-alerts
func (h *InventoryHandler) LowStockAlerts(c *gin.Context) {
	var q dto.CenterQuery
	if !h.BindQuery(c, &q) {
		return
	}
	centerID, ok := h.Center(c, q.CenterID)
	if !ok {
		return
	}

	result, err := h.reports.LowStockAlerts(c.Request.Context(), centerID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Transactions handles GET /inventory/transactions
func (h *InventoryHandler) Transactions(c *gin.Context) {
	var q dto.TransactionsQuery
	if !h.BindQuery(c, &q) {
		return
	}
	centerID, ok := h.Center(c, q.CenterID)
	if !ok {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.reports.TransactionHistory(c.Request.Context(), centerID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Dashboard handles GET /inventory/dashboard
func (h *InventoryHandler) Dashboard(c *gin.Context) {
	var q dto.CenterQuery
	if !h.BindQuery(c, &q) {
		return
	}
	centerID, ok := h.Center(c, q.CenterID)
	if !ok {
		return
	}

	result, err := h.reports.Dashboard(c.Request.Context(), centerID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Lots handles GET /inventory/lots
func (h *InventoryHandler) Lots(c *gin.Context) {
	var q dto.LotsQuery
	if !h.BindQuery(c, &q) {
		return
	}
	centerID, ok := h.Center(c, q.CenterID)
	if !ok {
		return
	}
	drugID, err := q.DrugFormFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	filter := inventory.LotFilter{DrugFormID: drugID, Limit: q.Limit, Offset: q.Offset}
	if q.Status != "" {
		status := inventory.LotStatus(q.Status)
		filter.Status = &status
	}
	if q.ExpiringBefore != "" {
		before, err := h.calendar.ToUniversal(q.ExpiringBefore)
		if err != nil {
			h.Error(c, apperror.NewInvalidDate("expiring_before", q.ExpiringBefore))
			return
		}
		filter.ExpiringBefore = &before
	}

	lots, err := h.stock.Lots(c.Request.Context(), centerID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListResponse{Items: lots, Total: len(lots), Limit: q.Limit, Offset: q.Offset})
}
