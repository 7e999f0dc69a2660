package typst

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type TypstCompilerSuite struct {
	suite.Suite
	logger      *logger.Logger
	tempDir     string
	templateDir string
	outputDir   string
	compiler    Compiler
}

func TestTypstCompiler(t *testing.T) {
	suite.Run(t, new(TypstCompilerSuite))
}

func (s *TypstCompilerSuite) SetupTest() {
	if _, err := exec.LookPath("typst"); err != nil {
		s.T().Skip("Skipping tests because typst is not available in the system")
		return
	}

	s.logger = logger.NewNoopLogger()
	s.tempDir = s.T().TempDir()
	s.outputDir = filepath.Join(s.tempDir, "output")
	s.Require().NoError(os.MkdirAll(s.outputDir, 0755))

	// the invoice template lives at the repository root
	s.templateDir = filepath.Join("..", "..", "assets", "typst-templates")
	s.compiler = NewCompiler(s.logger, "typst", "", s.templateDir, s.outputDir)
}

func (s *TypstCompilerSuite) TestBasicTypstCompilation() {
	input := filepath.Join(s.tempDir, "basic.typ")
	s.Require().NoError(os.WriteFile(input, []byte("Hello, World!"), 0644))

	result, err := s.compiler.CompileToBytes(context.Background(), CompileOpts{
		InputFile:  input,
		OutputFile: "basic.pdf",
	})
	s.Require().NoError(err)
	s.NotEmpty(result)

	_, err = os.Stat(filepath.Join(s.outputDir, "basic.pdf"))
	s.True(os.IsNotExist(err), "compiled file is removed after it is read")
}

func (s *TypstCompilerSuite) TestInvoiceTemplate() {
	data := []byte(`{
		"title": "Proforma invoice",
		"invoice_number": "PROF-1001",
		"kind": "proforma",
		"issued_at": "2026-03-01",
		"due_date": "2026-03-15",
		"currency": "EUR",
		"issuer": {"name": "Acme SRL", "tax_id": "RO123", "bank_account": "RO49AAAA1B31007593840000", "bank_name": "BT"},
		"buyer": {"name": "Ana Pop", "email": "ana@example.com"},
		"item": {"name": "Gold package"},
		"subtotal": "100.00",
		"vat_percentage": "19",
		"vat_amount": "19.00",
		"total": "119.00",
		"converted": {"currency": "RON", "total": "592.27", "rate": "4.9771", "provider": "bnr", "fetched_at": "2026-03-01"}
	}`)

	pdf, err := s.compiler.CompileTemplate(context.Background(), "invoice.typ", data)
	s.Require().NoError(err)
	s.NotEmpty(pdf)
}

func (s *TypstCompilerSuite) TestCancelledContextStopsCompilation() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.compiler.CompileTemplate(ctx, "invoice.typ", []byte(`{}`))
	s.Error(err)
}

func TestCompileTemplate_MissingTemplate(t *testing.T) {
	c := NewCompiler(logger.NewNoopLogger(), "typst", "", t.TempDir(), t.TempDir())

	_, err := c.CompileTemplate(context.Background(), "missing.typ", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, "Document template is missing", ierr.DisplayMessage(err))
}
