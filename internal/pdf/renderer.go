package pdf

import (
	"context"
	"fmt"

	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/s3"
)

var _ invoice.DocumentRenderer = (*Renderer)(nil)

// Renderer produces invoice PDFs and, when s3 is configured, uploads them and
// returns a presigned download url.
type Renderer struct {
	generator Generator
	storage   s3.Service
	repo      invoice.Repository
	issuer    config.IssuerConfig
	logger    *logger.Logger
}

// NewRenderer wires the document renderer. storage may be nil. repo is used
// to print the proforma number on fiscal invoices.
func NewRenderer(generator Generator, storage s3.Service, repo invoice.Repository, cfg *config.Configuration, logger *logger.Logger) *Renderer {
	return &Renderer{
		generator: generator,
		storage:   storage,
		repo:      repo,
		issuer:    cfg.Invoice.Issuer,
		logger:    logger,
	}
}

func (r *Renderer) Render(ctx context.Context, inv *invoice.Invoice, paymentLinkURL string) (*invoice.Document, error) {
	data := NewInvoiceData(inv, r.issuer, paymentLinkURL, r.proformaNumber(ctx, inv))

	content, err := r.generator.RenderInvoicePdf(ctx, data)
	if err != nil {
		return nil, err
	}

	doc := &invoice.Document{
		FileName:    fmt.Sprintf("%s.pdf", inv.InvoiceNumber),
		ContentType: "application/pdf",
		Content:     content,
	}

	if r.storage == nil {
		return doc, nil
	}

	if err := r.storage.UploadDocument(ctx, s3.NewPdfDocument(inv.ID, content, s3.DocumentTypeInvoice)); err != nil {
		return nil, err
	}

	url, err := r.storage.GetPresignedUrl(ctx, inv.ID, s3.DocumentTypeInvoice)
	if err != nil {
		// the document exists and can still be attached
		r.logger.Warnw("failed to presign invoice document", "invoice_id", inv.ID, "error", err)
		return doc, nil
	}
	doc.URL = url

	return doc, nil
}

func (r *Renderer) proformaNumber(ctx context.Context, inv *invoice.Invoice) string {
	if !inv.IsFiscal() || inv.ProformaInvoiceID == nil || r.repo == nil {
		return ""
	}

	proforma, err := r.repo.Get(ctx, *inv.ProformaInvoiceID)
	if err != nil {
		r.logger.Debugw("proforma lookup failed", "invoice_id", inv.ID, "error", err)
		return ""
	}
	return proforma.InvoiceNumber
}
