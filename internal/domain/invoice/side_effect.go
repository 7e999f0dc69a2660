package invoice

import (
	"time"
)

// SideEffectStep names one of the actions that follow issuance
type SideEffectStep string

const (
	StepPaymentLink  SideEffectStep = "payment_link"
	StepDocument     SideEffectStep = "document"
	StepNotification SideEffectStep = "notification"
)

// StepStatus is the outcome of a single side-effect step
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusPending   StepStatus = "pending"
)

// StepResult is recorded for every step, including skipped ones
type StepResult struct {
	Step       SideEffectStep `json:"step"`
	Status     StepStatus     `json:"status"`
	Error      string         `json:"error,omitempty"`
	Output     string         `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// SideEffectReport is the structured outcome of a side-effect run.
// Failures live here and never surface as errors to the caller.
type SideEffectReport struct {
	InvoiceID          string        `json:"invoice_id"`
	Mode               string        `json:"mode"`
	Steps              []*StepResult `json:"steps"`
	PaymentLinkCreated bool          `json:"payment_link_created"`
	PDFGenerated       bool          `json:"pdf_generated"`
	NotificationSent   bool          `json:"notification_sent"`
	PaymentLinkURL     string        `json:"payment_link_url,omitempty"`
	DocumentURL        string        `json:"document_url,omitempty"`
	StartedAt          time.Time     `json:"started_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
}

// Step returns the result for a step or nil
func (r *SideEffectReport) Step(step SideEffectStep) *StepResult {
	if r == nil {
		return nil
	}
	for _, s := range r.Steps {
		if s.Step == step {
			return s
		}
	}
	return nil
}

// HasFailures is true when any step failed
func (r *SideEffectReport) HasFailures() bool {
	if r == nil {
		return false
	}
	for _, s := range r.Steps {
		if s.Status == StepStatusFailed {
			return true
		}
	}
	return false
}
