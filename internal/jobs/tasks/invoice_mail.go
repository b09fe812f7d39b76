package tasks

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strconv"
	"strings"
	texttemplate "text/template"

	"github.com/yungbote/myshop-backend/internal/clients/sendgrid"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

var invoiceText = texttemplate.Must(texttemplate.New("invoice.txt").Parse(
	`Hello {{.FirstName}} {{.LastName}},

thank you for your order #{{.OrderID}}.
{{range .Lines}}
  product {{.ProductID}}  {{.Quantity}} x {{.UnitPrice.StringFixed 2}} = {{.Cost.StringFixed 2}}{{end}}

Total: {{.Total.StringFixed 2}}
{{if .PaymentReference}}Payment reference: {{.PaymentReference}}
{{end}}`))

var invoiceHTML = htmltemplate.Must(htmltemplate.New("invoice.html").Parse(
	`<p>Hello {{.FirstName}} {{.LastName}},</p>
<p>thank you for your order #{{.OrderID}}.</p>
<table>
<tr><th>Product</th><th>Qty</th><th>Unit price</th><th>Cost</th></tr>
{{range .Lines}}<tr><td>{{.ProductID}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice.StringFixed 2}}</td><td>{{.Cost.StringFixed 2}}</td></tr>
{{end}}</table>
<p><strong>Total: {{.Total.StringFixed 2}}</strong></p>
{{if .PaymentReference}}<p>Payment reference: {{.PaymentReference}}</p>{{end}}`))

// MailInvoiceSender renders the invoice and mails it through SendGrid.
type MailInvoiceSender struct {
	log    *logger.Logger
	client sendgrid.Client
}

func NewMailInvoiceSender(baseLog *logger.Logger, client sendgrid.Client) *MailInvoiceSender {
	return &MailInvoiceSender{log: baseLog.With("service", "MailInvoiceSender"), client: client}
}

func (s *MailInvoiceSender) SendInvoice(ctx context.Context, inv Invoice) error {
	msg, err := RenderInvoice(inv)
	if err != nil {
		return err
	}
	res, err := s.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("mail invoice for order %d: %w", inv.OrderID, err)
	}
	s.log.Info("Invoice mailed", "order_id", inv.OrderID, "message_id", res.MessageID)
	return nil
}

func RenderInvoice(inv Invoice) (sendgrid.Message, error) {
	var text, html bytes.Buffer
	if err := invoiceText.Execute(&text, inv); err != nil {
		return sendgrid.Message{}, fmt.Errorf("render invoice text: %w", err)
	}
	if err := invoiceHTML.Execute(&html, inv); err != nil {
		return sendgrid.Message{}, fmt.Errorf("render invoice html: %w", err)
	}
	return sendgrid.Message{
		To: sendgrid.EmailAddress{
			Email: inv.Email,
			Name:  strings.TrimSpace(inv.FirstName + " " + inv.LastName),
		},
		Subject:    fmt.Sprintf("Your invoice for order #%d", inv.OrderID),
		Text:       text.String(),
		HTML:       html.String(),
		Categories: []string{"invoice"},
		CustomArgs: map[string]string{"order_id": strconv.FormatUint(uint64(inv.OrderID), 10)},
	}, nil
}
