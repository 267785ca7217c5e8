package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// OrderMailer emails the customer an order confirmation via SendGrid. Same
// best-effort contract as the admin notifier.
type OrderMailer struct {
	APIKey string
	From   string
	Log    *slog.Logger
}

func (m *OrderMailer) SendConfirmation(ctx context.Context, o OrderNotification) bool {
	l := m.Log
	if l == nil {
		l = slog.Default()
	}
	if m.APIKey == "" || m.From == "" || o.Customer.Email == "" {
		l.Warn("order mail skipped", "order", o.Number, "reason", "mailer not configured")
		return false
	}

	from := mail.NewEmail("Fruteira", m.From)
	to := mail.NewEmail(o.Customer.Name, o.Customer.Email)
	subject := fmt.Sprintf("Order %s confirmed", o.Number)
	body := FormatOrderMessage(o)
	message := mail.NewSingleEmail(from, subject, to, body, fmt.Sprintf("<pre>%s</pre>", body))

	if err := ctx.Err(); err != nil {
		l.Error("order mail failed", "order", o.Number, "error", err)
		return false
	}

	resp, err := sendgrid.NewSendClient(m.APIKey).Send(message)
	if err != nil {
		l.Error("order mail failed", "order", o.Number, "error", err)
		return false
	}
	if resp.StatusCode >= 400 {
		l.Error("order mail rejected", "order", o.Number, "status", resp.StatusCode, "body", resp.Body)
		return false
	}

	l.Info("order mail sent", "order", o.Number, "to", o.Customer.Email)
	return true
}
