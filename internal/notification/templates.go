package notification

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/fjod/go_cinema/internal/domain"
)

type emailTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[domain.OrderStatus]emailTemplate{
	domain.OrderStatusPaid: {
		subject: "Payment Confirmation",
		body: template.Must(template.New("paid").Parse(
			"We received your payment of {{.Total.StringFixed 2}} {{.Currency}} for order {{.OrderID}}.\n" +
				"Your movies are now available in your library.\n")),
	},
	domain.OrderStatusFailed: {
		subject: "Payment Failed",
		body: template.Must(template.New("failed").Parse(
			"The payment of {{.Total.StringFixed 2}} {{.Currency}} for order {{.OrderID}} did not go through" +
				"{{if .Reason}}: {{.Reason}}{{end}}.\n" +
				"You can retry the payment from your orders page.\n")),
	},
	domain.OrderStatusRefunded: {
		subject: "Refund Processed",
		body: template.Must(template.New("refunded").Parse(
			"Order {{.OrderID}} was refunded. {{.Total.StringFixed 2}} {{.Currency}} is on its way back to you.\n")),
	},
	domain.OrderStatusCancelled: {
		subject: "Order Canceled",
		body: template.Must(template.New("cancelled").Parse(
			"Order {{.OrderID}} for {{.Total.StringFixed 2}} {{.Currency}} was canceled. You have not been charged.\n")),
	},
}

// Render builds the email for a status change. ok is false for statuses the
// customer is not told about.
func Render(ev domain.OrderStatusChanged) (subject, body string, ok bool, err error) {
	t, found := templates[ev.Status]
	if !found {
		return "", "", false, nil
	}
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, ev); err != nil {
		return "", "", false, fmt.Errorf("render %s email: %w", ev.Status, err)
	}
	return t.subject, buf.String(), true, nil
}
