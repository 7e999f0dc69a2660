package v1

import (
	"net/http"

	"github.com/flexprice/invoicing/internal/api/dto"
	"github.com/flexprice/invoicing/internal/service"
	"github.com/gin-gonic/gin"
)

type CounterHandler struct {
	invoiceService service.InvoiceService
}

func NewCounterHandler(invoiceService service.InvoiceService) *CounterHandler {
	return &CounterHandler{invoiceService: invoiceService}
}

// ListCounters godoc
// @Summary List numbering series and their last allocated values
// @Tags Counters
// @Produce json
// @Success 200 {object} dto.CountersResponse
// @Router /counters [get]
func (h *CounterHandler) ListCounters(c *gin.Context) {
	resp, err := h.invoiceService.GetCounters(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}
