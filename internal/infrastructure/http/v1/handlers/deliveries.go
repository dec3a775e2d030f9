package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/infrastructure/http/v1/dto"
)

// DeliveryService records deliveries.
type DeliveryService interface {
	Deliver(ctx context.Context, req inventory.DeliveryRequest) (*inventory.DeliveryResult, error)
}

// DeliveryHandler handles delivery endpoints.
type DeliveryHandler struct {
	*BaseHandler
	service DeliveryService
	reports ReportService
}

// NewDeliveryHandler creates a new delivery handler.
func NewDeliveryHandler(base *BaseHandler, service DeliveryService, reports ReportService) *DeliveryHandler {
	return &DeliveryHandler{
		BaseHandler: base,
		service:     service,
		reports:     reports,
	}
}

// Create handles POST /deliveries
func (h *DeliveryHandler) Create(c *gin.Context) {
	var req dto.DeliveryRequest
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

	result, err := h.service.Deliver(c.Request.Context(), domainReq)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, result)
}

// List handles GET /deliveries
func (h *DeliveryHandler) List(c *gin.Context) {
	var q dto.DeliveriesQuery
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

	result, err := h.reports.DeliveryHistory(c.Request.Context(), centerID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
