package email

import (
	"context"
	"errors"
	"testing"

	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/resend/resend-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmails struct {
	sent []*resend.SendEmailRequest
	err  error
}

func (f *fakeEmails) SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	return &resend.SendEmailResponse{Id: "msg_1"}, nil
}

func newTestSender(emails *fakeEmails) *Sender {
	client := &EmailClient{
		emails:      emails,
		fromAddress: "billing@example.com",
		replyTo:     "support@example.com",
	}
	return NewSender(client, logger.NewNoopLogger())
}

func TestSend_WithAttachment(t *testing.T) {
	emails := &fakeEmails{}
	sender := newTestSender(emails)

	id, err := sender.Send(context.Background(), invoice.Notification{
		InvoiceID: "inv_1",
		To:        "buyer@example.com",
		Subject:   "Proforma PROF-1001",
		Body:      "Please find attached",
		Attachment: &invoice.Document{
			FileName:    "PROF-1001.pdf",
			ContentType: "application/pdf",
			Content:     []byte("%PDF"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_1", id)

	require.Len(t, emails.sent, 1)
	msg := emails.sent[0]
	assert.Equal(t, "billing@example.com", msg.From)
	assert.Equal(t, []string{"buyer@example.com"}, msg.To)
	assert.Equal(t, "support@example.com", msg.ReplyTo)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "PROF-1001.pdf", msg.Attachments[0].Filename)
}

func TestSend_WithoutAttachment(t *testing.T) {
	emails := &fakeEmails{}
	sender := newTestSender(emails)

	_, err := sender.Send(context.Background(), invoice.Notification{
		InvoiceID: "inv_1",
		To:        "buyer@example.com",
		Subject:   "Proforma PROF-1001",
		Body:      "Your invoice",
	})
	require.NoError(t, err)
	assert.Empty(t, emails.sent[0].Attachments)
}

func TestSend_ProviderError(t *testing.T) {
	sender := newTestSender(&fakeEmails{err: errors.New("rate limited")})

	_, err := sender.Send(context.Background(), invoice.Notification{InvoiceID: "inv_1", To: "buyer@example.com"})
	require.Error(t, err)
	assert.True(t, ierr.IsDependency(err))
}

func TestSend_MissingRecipient(t *testing.T) {
	emails := &fakeEmails{}
	sender := newTestSender(emails)

	_, err := sender.Send(context.Background(), invoice.Notification{InvoiceID: "inv_1"})
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
	assert.Empty(t, emails.sent)
}

func TestNewEmailClient_Disabled(t *testing.T) {
	assert.Nil(t, NewEmailClient(config.EmailConfig{Enabled: true}))
	assert.Nil(t, NewSender(nil, logger.NewNoopLogger()))
}
