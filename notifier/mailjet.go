package notifier

import (
	"context"
	"fmt"

	"github.com/mailjet/mailjet-apiv3-go/v4"
)

// MailjetSender sends through the Mailjet v3.1 send API.
type MailjetSender struct {
	client    *mailjet.Client
	fromEmail string
	fromName  string
}

// NewMailjetSender builds a sender for the given credentials. baseURL
// overrides the API root, which defaults to https://api.mailjet.com/v3.
func NewMailjetSender(apiKey, apiSecret, fromEmail, fromName string, baseURL ...string) *MailjetSender {
	return &MailjetSender{
		client:    mailjet.NewMailjetClient(apiKey, apiSecret, baseURL...),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (m *MailjetSender) Name() string {
	return "mailjet"
}

func (m *MailjetSender) Send(ctx context.Context, msg Message) error {
	messages := &mailjet.MessagesV31{
		Info: []mailjet.InfoMessagesV31{
			{
				From:     &mailjet.RecipientV31{Email: m.fromEmail, Name: m.fromName},
				To:       &mailjet.RecipientsV31{{Email: msg.To}},
				Subject:  msg.Subject,
				TextPart: msg.Text,
			},
		},
	}

	// The client has no per-call context; the caller's deadline still wins.
	done := make(chan error, 1)
	go func() {
		_, err := m.client.SendMailV31(messages)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mailjet send failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
