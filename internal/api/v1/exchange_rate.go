package v1

import (
	"net/http"

	"github.com/flexprice/invoicing/internal/api/dto"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/service"
	"github.com/gin-gonic/gin"
)

type ExchangeRateHandler struct {
	invoiceService service.InvoiceService
	logger         *logger.Logger
}

func NewExchangeRateHandler(invoiceService service.InvoiceService, logger *logger.Logger) *ExchangeRateHandler {
	return &ExchangeRateHandler{
		invoiceService: invoiceService,
		logger:         logger,
	}
}

// GetCacheStatus godoc
// @Summary Inspect the exchange rate cache
// @Tags ExchangeRates
// @Produce json
// @Success 200 {object} exchangerate.CacheStatus
// @Router /exchange-rates/cache [get]
func (h *ExchangeRateHandler) GetCacheStatus(c *gin.Context) {
	resp, err := h.invoiceService.GetExchangeRateCacheStatus(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// ClearCache godoc
// @Summary Drop every cached exchange rate
// @Tags ExchangeRates
// @Produce json
// @Success 200 {object} dto.SuccessResponse
// @Router /exchange-rates/cache [delete]
func (h *ExchangeRateHandler) ClearCache(c *gin.Context) {
	if err := h.invoiceService.ClearExchangeRateCache(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}

	h.logger.WithContext(c.Request.Context()).Infow("exchange rate cache cleared via api")
	c.JSON(http.StatusOK, dto.NewSuccessResponse(gin.H{"cleared": true}))
}
