// Package sendgrid sends order and stock notifications as SendGrid dynamic
// template emails.
package sendgrid

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/catalog"
	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/order"
)

// Template keys for stock messages. Order messages use the event kind.
const (
	TemplateLowStock    = "stock.low"
	TemplateBackInStock = "stock.back_in_stock"
)

// Sender is the part of *sendgrid.Client the notifier needs.
type Sender interface {
	SendWithContext(ctx context.Context, m *mail.SGMailV3) (*rest.Response, error)
}

// Settings configures sender identity and template ids.
type Settings struct {
	FromEmail string
	FromName  string
	// AdminEmail receives store-owner messages.
	AdminEmail string
	// Templates maps an order event kind or stock template key to a
	// SendGrid dynamic template id. Unmapped kinds are not sent.
	Templates map[string]string
}

var (
	_ order.Notifier     = (*Notifier)(nil)
	_ inventory.Notifier = (*Notifier)(nil)
)

// Notifier implements order.Notifier and inventory.Notifier.
type Notifier struct {
	sender   Sender
	settings Settings
}

// NewClient creates a SendGrid client for apiKey.
func NewClient(apiKey string) *sendgrid.Client {
	return sendgrid.NewSendClient(apiKey)
}

// NewNotifier creates a Notifier.
func NewNotifier(sender Sender, settings Settings) *Notifier {
	return &Notifier{sender: sender, settings: settings}
}

// NotifyOrder emails the billing contact about kind.
func (n *Notifier) NotifyOrder(ctx context.Context, kind order.EventKind, o *order.Order) error {
	if o.BillingAddress == nil || o.BillingAddress.Email == "" {
		return nil
	}
	number := o.CustomOrderNumber
	if number == "" {
		number = o.ID
	}
	name := o.BillingAddress.FirstName + " " + o.BillingAddress.LastName
	return n.send(ctx, string(kind), mail.NewEmail(name, o.BillingAddress.Email), map[string]any{
		"order_id":       o.ID,
		"order_number":   number,
		"status":         string(o.Status),
		"payment_status": string(o.PaymentStatus),
		"total":          o.Total.StringFixed(2),
		"currency":       o.CustomerCurrencyCode,
		"refunded":       o.RefundedAmount.StringFixed(2),
		"items":          len(o.Items),
	})
}

// NotifyLowStock tells the store owner that stock fell below the threshold.
func (n *Notifier) NotifyLowStock(ctx context.Context, p *catalog.Product, c *catalog.AttributeCombination, quantity int) error {
	return n.send(ctx, TemplateLowStock, n.admin(), stockData(p, c, quantity))
}

// NotifyBackInStock tells the store owner that subscribers can be notified.
func (n *Notifier) NotifyBackInStock(ctx context.Context, p *catalog.Product, c *catalog.AttributeCombination) error {
	qty := p.Inventory.StockQuantity
	if c != nil {
		qty = c.StockQuantity
	}
	return n.send(ctx, TemplateBackInStock, n.admin(), stockData(p, c, qty))
}

func (n *Notifier) admin() *mail.Email {
	if n.settings.AdminEmail == "" {
		return nil
	}
	return mail.NewEmail("", n.settings.AdminEmail)
}

func stockData(p *catalog.Product, c *catalog.AttributeCombination, quantity int) map[string]any {
	data := map[string]any{
		"product_id":   p.ID,
		"product_name": p.Name,
		"sku":          p.SKU,
		"quantity":     quantity,
	}
	if c != nil {
		data["sku"] = c.SKU
		data["selection"] = c.Selection
	}
	return data
}

func (n *Notifier) send(ctx context.Context, key string, to *mail.Email, data map[string]any) error {
	templateID, ok := n.settings.Templates[key]
	if !ok || templateID == "" || to == nil {
		zctx.From(ctx).Debug("Notification skipped", zap.String("template", key))
		return nil
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(n.settings.FromName, n.settings.FromEmail))
	m.SetTemplateID(templateID)

	p := mail.NewPersonalization()
	p.AddTos(to)
	for k, v := range data {
		p.SetDynamicTemplateData(k, v)
	}
	m.AddPersonalizations(p)

	resp, err := n.sender.SendWithContext(ctx, m)
	if err != nil {
		return errors.Wrapf(err, "send %s email", key)
	}
	if resp.StatusCode >= 400 {
		return errors.Errorf("sendgrid %s: status %d: %s", key, resp.StatusCode, resp.Body)
	}
	return nil
}
