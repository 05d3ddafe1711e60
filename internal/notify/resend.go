package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"

	"github.com/kuitang/textile-e2e/internal/obs"
)

// ResendNotifier sends reports through the Resend API.
type ResendNotifier struct {
	client      *resend.Client
	fromAddress string
	to          []string
}

// NewResendNotifier creates a notifier. fromAddress must be verified in Resend.
func NewResendNotifier(apiKey, fromAddress string, to []string) *ResendNotifier {
	return NewResendNotifierWithClient(resend.NewClient(apiKey), fromAddress, to)
}

// NewResendNotifierWithClient wraps an existing Resend client.
func NewResendNotifierWithClient(client *resend.Client, fromAddress string, to []string) *ResendNotifier {
	return &ResendNotifier{
		client:      client,
		fromAddress: fromAddress,
		to:          cleanRecipients(to),
	}
}

func (r *ResendNotifier) Send(ctx context.Context, subject, html string) error {
	if len(r.to) == 0 {
		return ErrNoRecipients
	}
	params := &resend.SendEmailRequest{
		From:    r.fromAddress,
		To:      r.to,
		Subject: subject,
		Html:    html,
	}
	sent, err := r.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("resend: failed to send report: %w", err)
	}
	obs.From(ctx).Info("report_sent", "pkg", "notify", "provider", "resend", "id", sent.Id, "recipients", len(r.to))
	return nil
}
