package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/andrelucass/fruteira/internal/models"
)

const defaultTimeout = 10 * time.Second

// OrderNotification carries everything the outbound message needs, snapshotted
// at checkout time.
type OrderNotification struct {
	Customer models.User
	Items    []models.OrderItem
	Total    float64
	Number   string
	PlacedAt time.Time
}

// MessageClient is the raw transport: one message from one address to another.
type MessageClient interface {
	Send(ctx context.Context, from, to, body string) error
}

// AdminNotifier tells the shop admin about a completed order. Best effort:
// every transport failure is logged and reported as false, nothing propagates.
type AdminNotifier struct {
	Client  MessageClient
	From    string
	To      string
	Timeout time.Duration
	Log     *slog.Logger
}

func (n *AdminNotifier) NotifyOrder(ctx context.Context, o OrderNotification) bool {
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := n.Client.Send(ctx, n.From, n.To, FormatOrderMessage(o)); err != nil {
		n.logger().Error("order notification failed", "order", o.Number, "error", err)
		return false
	}
	n.logger().Info("order notification sent", "order", o.Number, "to", n.To)
	return true
}

func (n *AdminNotifier) logger() *slog.Logger {
	if n.Log != nil {
		return n.Log
	}
	return slog.Default()
}

// FormatOrderMessage renders the fixed admin message: customer contact data,
// one line per item with its subtotal, the order total and the timestamp.
func FormatOrderMessage(o OrderNotification) string {
	var b strings.Builder

	fmt.Fprintf(&b, "NEW ORDER %s\n\n", o.Number)
	fmt.Fprintf(&b, "Client: %s\n", o.Customer.Name)
	fmt.Fprintf(&b, "Email: %s\n", o.Customer.Email)
	phone := o.Customer.Phone
	if phone == "" {
		phone = "not provided"
	}
	fmt.Fprintf(&b, "Phone: %s\n\n", phone)

	b.WriteString("Items:\n")
	for _, it := range o.Items {
		fmt.Fprintf(&b, "- %s (%dx): R$%.2f\n", it.Name, it.Quantity, it.LineTotal)
	}

	fmt.Fprintf(&b, "\nTotal: R$%.2f\n", o.Total)
	fmt.Fprintf(&b, "Placed at: %s\n", o.PlacedAt.Format("02/01/2006 15:04"))

	return b.String()
}
