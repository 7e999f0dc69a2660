package sideeffect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/sentry"
	"github.com/flexprice/invoicing/internal/types"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Request describes one side-effect run for an invoice
type Request struct {
	Invoice           *invoice.Invoice
	CreatePaymentLink bool
}

// Collaborators groups the external systems the steps call. Any of them may
// be nil, in which case the matching step is skipped.
type Collaborators struct {
	Links    invoice.PaymentLinkProvider
	Renderer invoice.DocumentRenderer
	Sender   invoice.NotificationSender
}

// Dispatcher starts the side effects that follow an invoice transition
type Dispatcher interface {
	// Dispatch runs the steps for req and returns the report. Failures are
	// recorded in the report and never returned.
	Dispatch(ctx context.Context, req Request) *invoice.SideEffectReport
}

var _ Dispatcher = (*Orchestrator)(nil)

// Orchestrator runs payment link, document and notification for an invoice.
// Step failures end up in the report and are never returned.
type Orchestrator struct {
	collaborators Collaborators
	repo          invoice.Repository
	sentry        *sentry.Service
	logger        *logger.Logger
	mode          types.SideEffectMode
	stepTimeout   time.Duration
	now           func() time.Time

	wg conc.WaitGroup
}

// NewOrchestrator builds an orchestrator. repo is used to persist the final
// report and may be nil in sync mode.
func NewOrchestrator(
	cfg *config.Configuration,
	collaborators Collaborators,
	repo invoice.Repository,
	sentrySvc *sentry.Service,
	logger *logger.Logger,
) *Orchestrator {
	mode := cfg.SideEffects.Mode
	if mode == "" {
		mode = types.SideEffectModeSync
	}

	return &Orchestrator{
		collaborators: collaborators,
		repo:          repo,
		sentry:        sentrySvc,
		logger:        logger,
		mode:          mode,
		stepTimeout:   cfg.SideEffects.StepTimeout,
		now:           time.Now,
	}
}

// Mode returns the configured dispatch mode
func (o *Orchestrator) Mode() types.SideEffectMode {
	return o.mode
}

// Dispatch runs the side effects according to the configured mode. In async
// mode the returned report has every planned step pending and the final report
// is saved on the invoice once the run completes.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) *invoice.SideEffectReport {
	if o.mode != types.SideEffectModeAsync {
		return o.Run(ctx, req)
	}

	pending := o.pendingReport(req)

	// detach from the request so the run outlives the response
	bg := context.WithoutCancel(ctx)
	o.wg.Go(func() {
		txn, txCtx := o.sentry.StartTransaction(bg, "side_effects.run")
		report := o.Run(txCtx, req)
		if txn != nil {
			txn.SetTag("invoice_id", report.InvoiceID)
		}
		sentry.FinishSpan(txn, nil)
	})

	o.logger.Debugw("dispatched side effects",
		"invoice_id", req.Invoice.ID,
		"mode", o.mode)

	return pending
}

// Run executes every step in order and returns the report
func (o *Orchestrator) Run(ctx context.Context, req Request) *invoice.SideEffectReport {
	inv := req.Invoice
	report := &invoice.SideEffectReport{
		InvoiceID: inv.ID,
		Mode:      string(o.mode),
		StartedAt: o.now().UTC(),
	}

	var linkURL string
	if req.CreatePaymentLink {
		result := o.runStep(ctx, inv.ID, invoice.StepPaymentLink, o.collaborators.Links == nil, func(ctx context.Context) (string, error) {
			return o.collaborators.Links.CreateLink(ctx, linkRequest(inv))
		})
		report.Steps = append(report.Steps, result)
		if result.Status == invoice.StepStatusSucceeded {
			linkURL = result.Output
			report.PaymentLinkCreated = true
			report.PaymentLinkURL = linkURL
		}
	} else if inv.PaymentLinkURL != nil {
		linkURL = *inv.PaymentLinkURL
	}

	var doc *invoice.Document
	result := o.runStep(ctx, inv.ID, invoice.StepDocument, o.collaborators.Renderer == nil, func(ctx context.Context) (string, error) {
		rendered, err := o.collaborators.Renderer.Render(ctx, inv, linkURL)
		if err != nil {
			return "", err
		}
		if rendered == nil {
			return "", ierr.NewError("renderer returned no document").
				WithHint("Document could not be generated").
				Mark(ierr.ErrDependency)
		}
		doc = rendered
		return rendered.URL, nil
	})
	report.Steps = append(report.Steps, result)
	if result.Status == invoice.StepStatusSucceeded {
		report.PDFGenerated = true
		report.DocumentURL = doc.URL
	}

	result = o.runStep(ctx, inv.ID, invoice.StepNotification, o.collaborators.Sender == nil, func(ctx context.Context) (string, error) {
		return o.collaborators.Sender.Send(ctx, notificationFor(inv, linkURL, doc))
	})
	report.Steps = append(report.Steps, result)
	report.NotificationSent = result.Status == invoice.StepStatusSucceeded

	completed := o.now().UTC()
	report.CompletedAt = &completed

	o.save(ctx, report)

	o.logger.Infow("side effects completed",
		"invoice_id", inv.ID,
		"payment_link_created", report.PaymentLinkCreated,
		"pdf_generated", report.PDFGenerated,
		"notification_sent", report.NotificationSent,
		"has_failures", report.HasFailures())

	return report
}

// Shutdown waits for in-flight async runs or until ctx is done
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan *panics.Recovered, 1)
	go func() {
		done <- o.wg.WaitAndRecover()
	}()

	select {
	case r := <-done:
		if r != nil {
			o.logger.Errorw("side effect run panicked", "error", r.AsError())
		}
		return nil
	case <-ctx.Done():
		return ierr.WithError(ctx.Err()).
			WithHint("Timed out waiting for side effects to finish").
			Mark(ierr.ErrSystem)
	}
}

func (o *Orchestrator) runStep(
	ctx context.Context,
	invoiceID string,
	step invoice.SideEffectStep,
	skip bool,
	fn func(ctx context.Context) (string, error),
) *invoice.StepResult {
	result := &invoice.StepResult{Step: step}
	if skip {
		result.Status = invoice.StepStatusSkipped
		o.logger.Debugw("side effect step skipped", "invoice_id", invoiceID, "step", step)
		return result
	}

	started := o.now()
	stepCtx := ctx
	if o.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()
	}

	span, stepCtx := o.sentry.StartStepSpan(stepCtx, string(step), map[string]interface{}{
		"invoice_id": invoiceID,
	})

	var (
		output string
		err    error
	)
	var pc panics.Catcher
	pc.Try(func() {
		output, err = fn(stepCtx)
	})
	if r := pc.Recovered(); r != nil {
		err = ierr.WithError(r.AsError()).
			WithHintf("Step %s panicked", step).
			Mark(ierr.ErrSystem)
	}

	result.DurationMs = o.now().Sub(started).Milliseconds()

	sentry.FinishSpan(span, err)

	if err != nil {
		result.Status = invoice.StepStatusFailed
		result.Error = err.Error()
		o.logger.Errorw("side effect step failed",
			"invoice_id", invoiceID,
			"step", step,
			"error", err)
		o.sentry.CaptureStepFailure(ctx, invoiceID, string(step), err)
		return result
	}

	result.Status = invoice.StepStatusSucceeded
	result.Output = output
	return result
}

func (o *Orchestrator) pendingReport(req Request) *invoice.SideEffectReport {
	report := &invoice.SideEffectReport{
		InvoiceID: req.Invoice.ID,
		Mode:      string(o.mode),
		StartedAt: o.now().UTC(),
	}
	if req.CreatePaymentLink {
		report.Steps = append(report.Steps, &invoice.StepResult{Step: invoice.StepPaymentLink, Status: invoice.StepStatusPending})
	}
	report.Steps = append(report.Steps,
		&invoice.StepResult{Step: invoice.StepDocument, Status: invoice.StepStatusPending},
		&invoice.StepResult{Step: invoice.StepNotification, Status: invoice.StepStatusPending},
	)
	return report
}

func (o *Orchestrator) save(ctx context.Context, report *invoice.SideEffectReport) {
	if o.repo == nil {
		return
	}
	if err := o.repo.SaveSideEffects(ctx, report.InvoiceID, report); err != nil {
		o.logger.Warnw("failed to save side effect report",
			"invoice_id", report.InvoiceID,
			"error", err)
	}
}

func linkRequest(inv *invoice.Invoice) invoice.LinkRequest {
	return invoice.LinkRequest{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Description:   inv.Package.Name,
		Amount:        inv.TotalAmount,
		Currency:      inv.Currency,
		CustomerEmail: inv.Buyer.Email,
	}
}

func notificationFor(inv *invoice.Invoice, linkURL string, doc *invoice.Document) invoice.Notification {
	title := "Proforma invoice"
	if inv.IsFiscal() {
		title = "Invoice"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hello %s,\n\n", inv.Buyer.DisplayName())
	fmt.Fprintf(&body, "%s %s for %s %s is ready.\n", title, inv.InvoiceNumber, inv.TotalAmount.StringFixed(2), inv.Currency)
	if inv.DueDate != nil && inv.IsProforma() {
		fmt.Fprintf(&body, "Payment is due by %s.\n", inv.DueDate.Format("2006-01-02"))
	}
	if linkURL != "" {
		fmt.Fprintf(&body, "\nPay online: %s\n", linkURL)
	}
	if doc != nil && doc.URL != "" {
		fmt.Fprintf(&body, "\nDownload: %s\n", doc.URL)
	}

	return invoice.Notification{
		InvoiceID:  inv.ID,
		To:         inv.Buyer.Email,
		Subject:    fmt.Sprintf("%s %s", title, inv.InvoiceNumber),
		Body:       body.String(),
		Attachment: doc,
	}
}
