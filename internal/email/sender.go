package email

import (
	"context"

	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
)

var _ invoice.NotificationSender = (*Sender)(nil)

// Sender delivers invoice notifications over Resend
type Sender struct {
	client *EmailClient
	logger *logger.Logger
}

// NewSender returns nil when the client is nil so the notification step is skipped
func NewSender(client *EmailClient, logger *logger.Logger) *Sender {
	if client == nil {
		return nil
	}
	return &Sender{
		client: client,
		logger: logger,
	}
}

func (s *Sender) Send(ctx context.Context, n invoice.Notification) (string, error) {
	if n.To == "" {
		return "", ierr.NewError("notification has no recipient").
			WithHint("Buyer email is missing").
			WithReportableDetails(map[string]any{
				"invoice_id": n.InvoiceID,
				"step":       "notification",
			}).
			Mark(ierr.ErrValidation)
	}

	var attachments []Attachment
	if n.Attachment != nil && len(n.Attachment.Content) > 0 {
		attachments = append(attachments, Attachment{
			Filename:    n.Attachment.FileName,
			ContentType: n.Attachment.ContentType,
			Content:     n.Attachment.Content,
		})
	}

	messageID, err := s.client.SendEmail(ctx, n.To, n.Subject, n.Body, attachments...)
	if err != nil {
		s.logger.Errorw("failed to send invoice email",
			"error", err,
			"invoice_id", n.InvoiceID,
			"to", n.To)
		return "", err
	}

	s.logger.Infow("invoice email sent",
		"message_id", messageID,
		"invoice_id", n.InvoiceID,
		"to", n.To,
		"attachments", len(attachments))

	return messageID, nil
}
