package email

import (
	"context"

	"github.com/flexprice/invoicing/internal/config"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/resend/resend-go/v2"
)

// emailAPI is the part of the resend client we send through
type emailAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailClient represents an email client wrapper
type EmailClient struct {
	emails      emailAPI
	fromAddress string
	replyTo     string
}

// NewEmailClient creates a new email client. It returns nil when email is
// disabled or no api key is configured.
func NewEmailClient(cfg config.EmailConfig) *EmailClient {
	if !cfg.Enabled || cfg.APIKey == "" {
		return nil
	}

	client := resend.NewClient(cfg.APIKey)

	return &EmailClient{
		emails:      client.Emails,
		fromAddress: cfg.FromAddress,
		replyTo:     cfg.ReplyTo,
	}
}

// Attachment is a file sent along with a message
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// SendEmail sends a plain text email and returns the provider message id
func (c *EmailClient) SendEmail(ctx context.Context, to, subject, text string, attachments ...Attachment) (string, error) {
	params := &resend.SendEmailRequest{
		From:    c.fromAddress,
		To:      []string{to},
		Subject: subject,
		Text:    text,
	}

	if c.replyTo != "" {
		params.ReplyTo = c.replyTo
	}

	for _, a := range attachments {
		params.Attachments = append(params.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}

	sent, err := c.emails.SendWithContext(ctx, params)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to send email").
			Mark(ierr.ErrDependency)
	}

	return sent.Id, nil
}
