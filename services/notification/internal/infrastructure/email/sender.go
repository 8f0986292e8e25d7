package email

import (
	"context"
	"fmt"
	"html"
	"strings"

	pkgdomain "github.com/mulu-store/checkout/pkg/domain"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Sender interface {
	SendOrderConfirmation(ctx context.Context, event pkgdomain.OrderPaidEvent) error
	SendOrderCancelled(ctx context.Context, event pkgdomain.OrderCancelledEvent) error
}

// MailClient is the part of *sendgrid.Client the sender needs.
type MailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type SenderConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

type sendgridSender struct {
	client MailClient
	from   *mail.Email
	logger *zap.Logger
	tracer trace.Tracer
}

func NewSendGridSender(cfg SenderConfig, logger *zap.Logger) Sender {
	return NewSenderWithClient(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func NewSenderWithClient(client MailClient, cfg SenderConfig, logger *zap.Logger) Sender {
	return &sendgridSender{
		client: client,
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
		tracer: otel.Tracer("notification/infrastructure/email"),
	}
}

func (s *sendgridSender) SendOrderConfirmation(ctx context.Context, event pkgdomain.OrderPaidEvent) error {
	ctx, span := s.tracer.Start(ctx, "sendgrid.SendOrderConfirmation")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", event.OrderID))

	amount := FormatAmount(event.TotalAmount, event.Currency)
	subject := fmt.Sprintf("Order %s confirmed", shortID(event.OrderID))

	text := fmt.Sprintf(
		"Hi %s,\n\nwe received your payment of %s for order %s. We will let you know when it ships.\n",
		greeting(event.FullName), amount, event.OrderID,
	)
	body := fmt.Sprintf(`
		<h1>Thank you for your order!</h1>
		<p>Hi %s, we received your payment of <b>%s</b>.</p>
		<p>Order reference: %s</p>
	`, html.EscapeString(greeting(event.FullName)), amount, html.EscapeString(event.OrderID))

	msg := mail.NewSingleEmail(s.from, subject, mail.NewEmail(event.FullName, event.Email), text, body)

	return s.send(ctx, span, "order confirmation", event.Email, msg)
}

func (s *sendgridSender) SendOrderCancelled(ctx context.Context, event pkgdomain.OrderCancelledEvent) error {
	ctx, span := s.tracer.Start(ctx, "sendgrid.SendOrderCancelled")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", event.OrderID))

	var (
		textLines []string
		htmlLines []string
	)
	for _, item := range event.Items {
		textLines = append(textLines, fmt.Sprintf("- %d x %s", item.Quantity, item.Title))
		htmlLines = append(htmlLines, fmt.Sprintf("<li>%d x %s</li>", item.Quantity, html.EscapeString(item.Title)))
	}

	subject := fmt.Sprintf("Order %s was not completed", shortID(event.OrderID))
	text := fmt.Sprintf(
		"Your order %s could not be completed and you have not been charged.\n\n%s\n",
		event.OrderID, strings.Join(textLines, "\n"),
	)
	body := fmt.Sprintf(`
		<h1>Your order was not completed</h1>
		<p>You have not been charged. The items below are available again:</p>
		<ul>%s</ul>
	`, strings.Join(htmlLines, ""))

	msg := mail.NewSingleEmail(s.from, subject, mail.NewEmail("", event.Email), text, body)

	return s.send(ctx, span, "order cancelled", event.Email, msg)
}

func (s *sendgridSender) send(ctx context.Context, span trace.Span, kind, to string, msg *mail.SGMailV3) error {
	mylogger.Info(ctx, s.logger, "Sending email", zap.String("kind", kind), zap.String("to", to))

	resp, err := s.client.SendWithContext(ctx, msg)
	if err == nil && resp.StatusCode >= 400 {
		err = fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			s.logger,
			"Error sending email",
			zap.String("kind", kind),
			zap.String("to", to),
			zap.Error(err),
		)

		return fmt.Errorf("failed to send mail: %w", err)
	}

	mylogger.Info(ctx, s.logger, "Email sent", zap.String("kind", kind), zap.String("to", to))
	return nil
}

// FormatAmount renders minor units as "12.34 EUR".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}

func greeting(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "there"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
