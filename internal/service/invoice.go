package service

import (
	"context"
	"time"

	"github.com/flexprice/invoicing/internal/api/dto"
	domainRate "github.com/flexprice/invoicing/internal/domain/exchangerate"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/money"
	"github.com/flexprice/invoicing/internal/numbering"
	"github.com/flexprice/invoicing/internal/sideeffect"
	"github.com/flexprice/invoicing/internal/types"
	"github.com/samber/lo"
)

// Conversion skip reasons stored on the invoice
const (
	ConversionSkipUnsupported = "unsupported_currency_pair"
	ConversionSkipUnavailable = "exchange_rate_unavailable"
	ConversionSkipDisabled    = "exchange_rate_service_disabled"
)

// InvoiceService drives the proforma to fiscal lifecycle
type InvoiceService interface {
	// IssueProforma validates, prices, numbers and persists a proforma and then
	// runs its side effects. Side-effect failures only show up as flags.
	IssueProforma(ctx context.Context, req dto.IssueProformaRequest) (*dto.IssueInvoiceResponse, error)

	// CancelInvoice cancels an issued pending proforma
	CancelInvoice(ctx context.Context, id string, req dto.CancelInvoiceRequest) (*dto.StatusResponse, error)

	// MarkPaid marks a pending proforma as paid and derives its fiscal invoice
	MarkPaid(ctx context.Context, id string, req dto.MarkPaidRequest) (*dto.MarkPaidResponse, error)

	GetStatus(ctx context.Context, id string) (*dto.StatusResponse, error)
	GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	ListInvoices(ctx context.Context, filter *types.InvoiceFilter) (*dto.ListInvoicesResponse, error)

	GetCounters(ctx context.Context) (*dto.CountersResponse, error)
	GetExchangeRateCacheStatus(ctx context.Context) (*domainRate.CacheStatus, error)
	ClearExchangeRateCache(ctx context.Context) error

	// ResendDocuments renders and sends the document again. Every call sends
	// another notification.
	ResendDocuments(ctx context.Context, id string) (*dto.ResendDocumentsResponse, error)
}

type invoiceService struct {
	ServiceParams
	now func() time.Time
}

func NewInvoiceService(params ServiceParams) InvoiceService {
	return &invoiceService{
		ServiceParams: params,
		now:           time.Now,
	}
}

func (s *invoiceService) IssueProforma(ctx context.Context, req dto.IssueProformaRequest) (*dto.IssueInvoiceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = s.Config.Invoice.DefaultCurrency
	}
	currency = types.NormalizeCurrency(currency)

	vat := s.Config.Invoice.DefaultVAT()
	if req.VATPercentage != nil {
		vat = *req.VATPercentage
	}

	breakdown, err := money.Compute(req.Amount, vat, req.PricesIncludeVAT)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	inv := &invoice.Invoice{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		Kind:             types.InvoiceKindProforma,
		PaymentStatus:    types.PaymentStatusPending,
		InvoiceStatus:    types.InvoiceStatusIssued,
		Buyer:            req.Buyer.ToBuyer(),
		Package:          req.Package.ToPackage(),
		Currency:         currency,
		Subtotal:         breakdown.Subtotal,
		VATPercentage:    vat,
		VATAmount:        breakdown.VATAmount,
		TotalAmount:      breakdown.Total,
		PricesIncludeVAT: req.PricesIncludeVAT,
		IssuedAt:         now,
		Notes:            req.Notes,
		Metadata:         req.Metadata,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if days := s.Config.Invoice.PaymentTermsDays; days > 0 {
		inv.DueDate = lo.ToPtr(now.AddDate(0, 0, days))
	}

	if req.ConvertToLocalCurrency {
		s.convert(ctx, inv, s.Config.ExchangeRate.LocalCurrency)
	}

	alloc, err := s.Numbering.Next(ctx, s.Config.Numbering.ProformaSeries)
	if err != nil {
		return nil, ierr.WithError(err).
			WithReportableDetails(map[string]any{
				"invoice_id": inv.ID,
				"step":       "allocate_number",
			}).
			Error()
	}
	applyAllocation(inv, alloc)

	if err := inv.Validate(); err != nil {
		return nil, err
	}

	if err := s.InvoiceRepo.Create(ctx, inv); err != nil {
		s.Logger.Errorw("failed to persist proforma invoice",
			"invoice_id", inv.ID,
			"invoice_number", inv.InvoiceNumber,
			"error", err)
		return nil, err
	}

	s.Logger.Infow("issued proforma invoice",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"series", inv.Series,
		"total", inv.TotalAmount.String(),
		"currency", inv.Currency,
		"conversion_skipped", inv.ConversionSkipped)

	report := s.SideEffects.Dispatch(ctx, sideeffect.Request{
		Invoice:           inv,
		CreatePaymentLink: req.CreatePaymentLink,
	})

	return dto.NewIssueInvoiceResponse(inv, report), nil
}

// convert attaches the amounts in target currency. Any failure only marks the
// conversion as skipped.
func (s *invoiceService) convert(ctx context.Context, inv *invoice.Invoice, target string) {
	inv.ConversionRequested = true
	target = types.NormalizeCurrency(target)
	if target == "" || target == inv.Currency {
		return
	}

	if s.ExchangeRates == nil {
		s.skipConversion(inv, ConversionSkipDisabled, nil)
		return
	}

	snapshot, err := s.ExchangeRates.GetRate(ctx, inv.Currency, target)
	if err != nil {
		reason := ConversionSkipUnavailable
		if ierr.IsNotSupported(err) {
			reason = ConversionSkipUnsupported
		}
		s.skipConversion(inv, reason, err)
		return
	}

	inv.ExchangeRate = snapshot
	inv.ConvertedAmounts = &invoice.ConvertedAmounts{
		Currency:  target,
		Subtotal:  money.Round(inv.Subtotal.Mul(snapshot.Rate)),
		VATAmount: money.Round(inv.VATAmount.Mul(snapshot.Rate)),
		Total:     money.Round(inv.TotalAmount.Mul(snapshot.Rate)),
	}
}

func (s *invoiceService) skipConversion(inv *invoice.Invoice, reason string, err error) {
	inv.ConversionSkipped = true
	inv.ConversionSkipReason = reason
	s.Logger.Warnw("currency conversion skipped",
		"invoice_id", inv.ID,
		"pair", inv.Currency+"/"+s.Config.ExchangeRate.LocalCurrency,
		"reason", reason,
		"step", "convert_currency",
		"error", err)
}

func applyAllocation(inv *invoice.Invoice, alloc *numbering.Allocation) {
	inv.InvoiceNumber = alloc.Number
	inv.Series = alloc.Series
	inv.SequenceNumber = alloc.Value
	inv.NumberDegraded = alloc.Degraded()
}

func (s *invoiceService) CancelInvoice(ctx context.Context, id string, req dto.CancelInvoiceRequest) (*dto.StatusResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv, err := s.InvoiceRepo.Cancel(ctx, id, req.Reason, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("cancelled proforma invoice",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"reason", req.Reason)

	return dto.NewStatusResponse(inv), nil
}

func (s *invoiceService) MarkPaid(ctx context.Context, id string, req dto.MarkPaidRequest) (*dto.MarkPaidResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	current, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.CanBeMarkedPaid() {
		return nil, invoice.NewTransitionConflictError(current, "mark_paid")
	}

	now := s.now().UTC()
	payment := &invoice.Payment{
		Method:    req.PaymentMethod,
		Reference: req.Reference,
		Amount:    current.TotalAmount,
		Currency:  current.Currency,
		PaidAt:    now,
		Notes:     req.Notes,
		Metadata:  req.Metadata,
	}
	if req.Amount != nil {
		payment.Amount = *req.Amount
	}
	if req.PaidAt != nil {
		payment.PaidAt = req.PaidAt.UTC()
	}

	var proforma, fiscal *invoice.Invoice
	err = s.DB.WithTx(ctx, func(txCtx context.Context) error {
		// compare-and-set: the loser of a concurrent call stops here
		paid, err := s.InvoiceRepo.MarkPaid(txCtx, id, payment)
		if err != nil {
			return err
		}

		alloc, err := s.Numbering.Next(txCtx, s.Config.Numbering.FiscalSeries)
		if err != nil {
			return ierr.WithError(err).
				WithReportableDetails(map[string]any{
					"invoice_id": id,
					"step":       "allocate_number",
				}).
				Error()
		}

		derived := deriveFiscal(paid, alloc, now)
		if err := derived.Validate(); err != nil {
			return err
		}
		if err := s.InvoiceRepo.Create(txCtx, derived); err != nil {
			return err
		}
		if err := s.InvoiceRepo.LinkFiscal(txCtx, paid.ID, derived.ID); err != nil {
			return err
		}

		proforma, fiscal = paid, derived
		return nil
	})
	if err != nil {
		s.Logger.Warnw("mark paid failed",
			"invoice_id", id,
			"step", "mark_paid",
			"error", err)
		return nil, err
	}

	s.Logger.Infow("proforma marked as paid",
		"invoice_id", proforma.ID,
		"fiscal_invoice_id", fiscal.ID,
		"fiscal_invoice_number", fiscal.InvoiceNumber,
		"payment_method", payment.Method)

	report := s.SideEffects.Dispatch(ctx, sideeffect.Request{Invoice: fiscal})

	return &dto.MarkPaidResponse{
		ProformaInvoiceID:   proforma.ID,
		ProformaNumber:      proforma.InvoiceNumber,
		FiscalInvoiceID:     fiscal.ID,
		FiscalInvoiceNumber: fiscal.InvoiceNumber,
		PaidAt:              payment.PaidAt,
		Total:               fiscal.TotalAmount,
		Currency:            fiscal.Currency,
		SideEffects:         dto.NewSideEffectsResponse(report),
	}, nil
}

// deriveFiscal copies the paid proforma into a fiscal invoice. The exchange
// rate snapshot is carried over as is.
func deriveFiscal(proforma *invoice.Invoice, alloc *numbering.Allocation, now time.Time) *invoice.Invoice {
	fiscal := &invoice.Invoice{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		Kind:                 types.InvoiceKindFiscal,
		PaymentStatus:        types.PaymentStatusPaid,
		InvoiceStatus:        types.InvoiceStatusIssued,
		Buyer:                proforma.Buyer,
		Package:              proforma.Package,
		Currency:             proforma.Currency,
		Subtotal:             proforma.Subtotal,
		VATPercentage:        proforma.VATPercentage,
		VATAmount:            proforma.VATAmount,
		TotalAmount:          proforma.TotalAmount,
		PricesIncludeVAT:     proforma.PricesIncludeVAT,
		ConversionRequested:  proforma.ConversionRequested,
		ConversionSkipped:    proforma.ConversionSkipped,
		ConversionSkipReason: proforma.ConversionSkipReason,
		ExchangeRate:         proforma.ExchangeRate.Copy(),
		ProformaInvoiceID:    lo.ToPtr(proforma.ID),
		PaidAt:               proforma.PaidAt,
		IssuedAt:             now,
		Notes:                proforma.Notes,
		Metadata:             proforma.Metadata,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if proforma.ConvertedAmounts != nil {
		converted := *proforma.ConvertedAmounts
		fiscal.ConvertedAmounts = &converted
	}
	if proforma.Payment != nil {
		payment := *proforma.Payment
		fiscal.Payment = &payment
	}
	applyAllocation(fiscal, alloc)
	return fiscal
}

func (s *invoiceService) GetStatus(ctx context.Context, id string) (*dto.StatusResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewStatusResponse(inv), nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewInvoiceResponse(inv), nil
}

func (s *invoiceService) ListInvoices(ctx context.Context, filter *types.InvoiceFilter) (*dto.ListInvoicesResponse, error) {
	if filter == nil {
		filter = types.NewInvoiceFilter()
	}
	if filter.QueryFilter == nil {
		filter.QueryFilter = types.NewDefaultQueryFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	invoices, err := s.InvoiceRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	count, err := s.InvoiceRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := lo.Map(invoices, func(inv *invoice.Invoice, _ int) *dto.InvoiceResponse {
		return dto.NewInvoiceResponse(inv)
	})

	resp := types.NewListResponse(items, count, filter.GetLimit(), filter.GetOffset())
	return &resp, nil
}

func (s *invoiceService) GetCounters(ctx context.Context) (*dto.CountersResponse, error) {
	counters, err := s.Numbering.Counters(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.CountersResponse{Counters: counters}, nil
}

func (s *invoiceService) GetExchangeRateCacheStatus(ctx context.Context) (*domainRate.CacheStatus, error) {
	if s.ExchangeRates == nil {
		return &domainRate.CacheStatus{Pairs: []domainRate.PairStatus{}}, nil
	}
	return s.ExchangeRates.Status(ctx)
}

func (s *invoiceService) ClearExchangeRateCache(ctx context.Context) error {
	if s.ExchangeRates == nil {
		return nil
	}
	if err := s.ExchangeRates.Clear(ctx); err != nil {
		return err
	}
	s.Logger.Infow("exchange rate cache cleared")
	return nil
}

func (s *invoiceService) ResendDocuments(ctx context.Context, id string) (*dto.ResendDocumentsResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceStatus == types.InvoiceStatusCancelled {
		return nil, invoice.NewTransitionConflictError(inv, "resend_documents")
	}

	report := s.SideEffects.Dispatch(ctx, sideeffect.Request{Invoice: inv})

	s.Logger.Infow("resent invoice documents",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"pdf_generated", report.PDFGenerated,
		"notification_sent", report.NotificationSent)

	return &dto.ResendDocumentsResponse{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		SideEffects:   dto.NewSideEffectsResponse(report),
	}, nil
}

