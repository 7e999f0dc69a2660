package sideeffect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/testutil"
	"github.com/flexprice/invoicing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type OrchestratorSuite struct {
	suite.Suite
	ctx      context.Context
	cfg      *config.Configuration
	store    *testutil.InMemoryInvoiceStore
	links    *testutil.MockPaymentLinkProvider
	renderer *testutil.MockDocumentRenderer
	sender   *testutil.MockNotificationSender
	invoice  *invoice.Invoice
}

func TestOrchestrator(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.cfg = config.GetDefaultConfig()
	s.cfg.SideEffects.StepTimeout = time.Second
	s.store = testutil.NewInMemoryInvoiceStore()
	s.links = new(testutil.MockPaymentLinkProvider)
	s.renderer = new(testutil.MockDocumentRenderer)
	s.sender = new(testutil.MockNotificationSender)

	now := time.Now().UTC()
	s.invoice = &invoice.Invoice{
		ID:            "inv_01",
		InvoiceNumber: "PROF-1001",
		Series:        "PROF",
		Kind:          types.InvoiceKindProforma,
		PaymentStatus: types.PaymentStatusPending,
		InvoiceStatus: types.InvoiceStatusIssued,
		Buyer:         invoice.Buyer{Name: "Ana Pop", Email: "ana@example.com"},
		Package:       invoice.Package{Name: "Gold"},
		Currency:      "EUR",
		Subtotal:      decimal.NewFromInt(100),
		VATPercentage: decimal.NewFromInt(19),
		VATAmount:     decimal.NewFromInt(19),
		TotalAmount:   decimal.NewFromInt(119),
		IssuedAt:      now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.Require().NoError(s.store.Create(s.ctx, s.invoice))
}

func (s *OrchestratorSuite) orchestrator(c Collaborators) *Orchestrator {
	return NewOrchestrator(s.cfg, c, s.store, nil, logger.NewNoopLogger())
}

func (s *OrchestratorSuite) all() Collaborators {
	return Collaborators{Links: s.links, Renderer: s.renderer, Sender: s.sender}
}

func (s *OrchestratorSuite) TestRun_AllStepsSucceed() {
	doc := &invoice.Document{FileName: "PROF-1001.pdf", Content: []byte("%PDF"), URL: "https://files.example.com/inv_01.pdf"}

	s.links.On("CreateLink", mock.Anything, mock.MatchedBy(func(r invoice.LinkRequest) bool {
		return r.InvoiceID == "inv_01" && r.Amount.Equal(decimal.NewFromInt(119))
	})).Return("https://pay.example.com/inv_01", nil)
	s.renderer.On("Render", mock.Anything, mock.Anything, "https://pay.example.com/inv_01").Return(doc, nil)
	s.sender.On("Send", mock.Anything, mock.MatchedBy(func(n invoice.Notification) bool {
		return n.To == "ana@example.com" && n.Attachment == doc && n.Subject == "Proforma invoice PROF-1001"
	})).Return("msg_1", nil)

	report := s.orchestrator(s.all()).Run(s.ctx, Request{Invoice: s.invoice, CreatePaymentLink: true})

	s.True(report.PaymentLinkCreated)
	s.True(report.PDFGenerated)
	s.True(report.NotificationSent)
	s.False(report.HasFailures())
	s.Len(report.Steps, 3)
	s.Equal(invoice.StepPaymentLink, report.Steps[0].Step)
	s.Equal("https://pay.example.com/inv_01", report.PaymentLinkURL)
	s.NotNil(report.CompletedAt)

	stored, err := s.store.Get(s.ctx, "inv_01")
	s.Require().NoError(err)
	s.Equal("https://pay.example.com/inv_01", *stored.PaymentLinkURL)
	s.Equal(doc.URL, *stored.DocumentURL)
	s.True(stored.SideEffects.NotificationSent)

	s.links.AssertExpectations(s.T())
	s.renderer.AssertExpectations(s.T())
	s.sender.AssertExpectations(s.T())
}

func (s *OrchestratorSuite) TestRun_LinkFailureContinuesWithPartialData() {
	doc := &invoice.Document{FileName: "PROF-1001.pdf", Content: []byte("%PDF")}

	s.links.On("CreateLink", mock.Anything, mock.Anything).Return("", errors.New("stripe unavailable"))
	s.renderer.On("Render", mock.Anything, mock.Anything, "").Return(doc, nil)
	s.sender.On("Send", mock.Anything, mock.Anything).Return("msg_1", nil)

	report := s.orchestrator(s.all()).Run(s.ctx, Request{Invoice: s.invoice, CreatePaymentLink: true})

	s.False(report.PaymentLinkCreated)
	s.True(report.PDFGenerated)
	s.True(report.NotificationSent)
	s.True(report.HasFailures())
	s.Equal(invoice.StepStatusFailed, report.Step(invoice.StepPaymentLink).Status)
	s.Contains(report.Step(invoice.StepPaymentLink).Error, "stripe unavailable")
}

func (s *OrchestratorSuite) TestRun_RendererPanicIsRecorded() {
	s.renderer.On("Render", mock.Anything, mock.Anything, "").Run(func(args mock.Arguments) {
		panic("template exploded")
	}).Return(nil, nil)
	s.sender.On("Send", mock.Anything, mock.MatchedBy(func(n invoice.Notification) bool {
		return n.Attachment == nil
	})).Return("msg_1", nil)

	report := s.orchestrator(s.all()).Run(s.ctx, Request{Invoice: s.invoice})

	s.Nil(report.Step(invoice.StepPaymentLink))
	s.False(report.PDFGenerated)
	s.True(report.NotificationSent)
	s.Equal(invoice.StepStatusFailed, report.Step(invoice.StepDocument).Status)
	s.Contains(report.Step(invoice.StepDocument).Error, "template exploded")
}

func (s *OrchestratorSuite) TestRun_StepTimeout() {
	s.cfg.SideEffects.StepTimeout = 20 * time.Millisecond

	s.renderer.On("Render", mock.Anything, mock.Anything, "").Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded)
	s.sender.On("Send", mock.Anything, mock.Anything).Return("msg_1", nil)

	report := s.orchestrator(s.all()).Run(s.ctx, Request{Invoice: s.invoice})

	s.Equal(invoice.StepStatusFailed, report.Step(invoice.StepDocument).Status)
	s.True(report.NotificationSent)
}

func (s *OrchestratorSuite) TestRun_MissingCollaboratorsAreSkipped() {
	report := s.orchestrator(Collaborators{}).Run(s.ctx, Request{Invoice: s.invoice, CreatePaymentLink: true})

	s.Len(report.Steps, 3)
	for _, step := range report.Steps {
		s.Equal(invoice.StepStatusSkipped, step.Status)
	}
	s.False(report.HasFailures())
	s.False(report.PDFGenerated)
}

func (s *OrchestratorSuite) TestDispatch_AsyncReturnsPendingAndPersists() {
	s.cfg.SideEffects.Mode = types.SideEffectModeAsync

	release := make(chan struct{})
	s.renderer.On("Render", mock.Anything, mock.Anything, "").Run(func(args mock.Arguments) {
		<-release
	}).Return(&invoice.Document{FileName: "PROF-1001.pdf", URL: "https://files.example.com/x.pdf"}, nil)
	s.sender.On("Send", mock.Anything, mock.Anything).Return("msg_1", nil)

	o := s.orchestrator(s.all())
	report := o.Dispatch(s.ctx, Request{Invoice: s.invoice})

	s.Len(report.Steps, 2)
	for _, step := range report.Steps {
		s.Equal(invoice.StepStatusPending, step.Status)
	}
	s.False(report.PDFGenerated)

	close(release)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Require().NoError(o.Shutdown(shutdownCtx))

	stored, err := s.store.Get(s.ctx, "inv_01")
	s.Require().NoError(err)
	s.Require().NotNil(stored.SideEffects)
	s.True(stored.SideEffects.PDFGenerated)
	s.True(stored.SideEffects.NotificationSent)
	s.Equal("https://files.example.com/x.pdf", *stored.DocumentURL)
}

func (s *OrchestratorSuite) TestDispatch_SyncRunsInline() {
	s.renderer.On("Render", mock.Anything, mock.Anything, "").Return(&invoice.Document{FileName: "x.pdf"}, nil)
	s.sender.On("Send", mock.Anything, mock.Anything).Return("msg_1", nil)

	report := s.orchestrator(s.all()).Dispatch(s.ctx, Request{Invoice: s.invoice})

	s.True(report.PDFGenerated)
	s.True(report.NotificationSent)
}
