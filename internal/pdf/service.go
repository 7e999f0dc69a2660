package pdf

import (
	"context"
	"fmt"

	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/typst"
	jsoniter "github.com/json-iterator/go"
)

const invoiceTemplate = "invoice.typ"

// Generator defines the interface for PDF generation operations
type Generator interface {
	RenderInvoicePdf(ctx context.Context, data *InvoiceData) ([]byte, error)
}

type service struct {
	typst typst.Compiler
}

// NewGenerator creates a new PDF generator on top of the typst compiler
func NewGenerator(compiler typst.Compiler) Generator {
	return &service{
		typst: compiler,
	}
}

func (s *service) RenderInvoicePdf(ctx context.Context, data *InvoiceData) ([]byte, error) {
	jsonData, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(data)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode invoice data").
			Mark(ierr.ErrSystem)
	}

	pdf, err := s.typst.CompileTemplate(ctx,
		invoiceTemplate,
		jsonData,
		typst.WithOutputFile(fmt.Sprintf("invoice-%s.pdf", data.ID)),
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to compile invoice template").
			WithReportableDetails(map[string]any{
				"invoice_id": data.ID,
			}).
			Mark(ierr.ErrDependency)
	}

	return pdf, nil
}
