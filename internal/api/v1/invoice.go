package v1

import (
	"net/http"

	"github.com/flexprice/invoicing/internal/api/dto"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/service"
	"github.com/flexprice/invoicing/internal/types"
	"github.com/gin-gonic/gin"
)

type InvoiceHandler struct {
	invoiceService service.InvoiceService
	logger         *logger.Logger
}

func NewInvoiceHandler(invoiceService service.InvoiceService, logger *logger.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService: invoiceService,
		logger:         logger,
	}
}

// IssueProforma godoc
// @Summary Issue a proforma invoice
// @Tags Invoices
// @Accept json
// @Produce json
// @Param invoice body dto.IssueProformaRequest true "Proforma details"
// @Success 201 {object} dto.IssueInvoiceResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 502 {object} ierr.ErrorResponse
// @Router /invoices/proforma [post]
func (h *InvoiceHandler) IssueProforma(c *gin.Context) {
	var req dto.IssueProformaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithContext(c.Request.Context()).Warnw("failed to bind request", "step", "issue_proforma", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.invoiceService.IssueProforma(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewSuccessResponse(resp))
}

// MarkPaid godoc
// @Summary Mark a proforma as paid and derive its fiscal invoice
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param payment body dto.MarkPaidRequest true "Payment details"
// @Success 200 {object} dto.MarkPaidResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /invoices/{id}/pay [post]
func (h *InvoiceHandler) MarkPaid(c *gin.Context) {
	id := c.Param("id")

	var req dto.MarkPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			WithReportableDetails(map[string]any{"invoice_id": id, "step": "mark_paid"}).
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.invoiceService.MarkPaid(c.Request.Context(), id, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// CancelInvoice godoc
// @Summary Cancel a pending proforma
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param body body dto.CancelInvoiceRequest true "Cancellation reason"
// @Success 200 {object} dto.StatusResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /invoices/{id}/cancel [post]
func (h *InvoiceHandler) CancelInvoice(c *gin.Context) {
	id := c.Param("id")

	var req dto.CancelInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			WithReportableDetails(map[string]any{"invoice_id": id, "step": "cancel"}).
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.invoiceService.CancelInvoice(c.Request.Context(), id, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// ResendDocuments godoc
// @Summary Render and send the invoice document again
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} dto.ResendDocumentsResponse
// @Router /invoices/{id}/resend [post]
func (h *InvoiceHandler) ResendDocuments(c *gin.Context) {
	resp, err := h.invoiceService.ResendDocuments(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// GetStatus godoc
// @Summary Get the lifecycle status of an invoice
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} dto.StatusResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /invoices/{id}/status [get]
func (h *InvoiceHandler) GetStatus(c *gin.Context) {
	resp, err := h.invoiceService.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// GetInvoice godoc
// @Summary Get an invoice by ID
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} dto.InvoiceResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	resp, err := h.invoiceService.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// ListInvoices godoc
// @Summary List invoices
// @Tags Invoices
// @Produce json
// @Param filter query types.InvoiceFilter false "Filter"
// @Success 200 {object} dto.ListInvoicesResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /invoices [get]
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	filter := types.NewInvoiceFilter()
	if err := c.ShouldBindQuery(filter); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.invoiceService.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}
