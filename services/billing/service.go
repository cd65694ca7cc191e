package billing

import (
	"context"
	"fmt"
	"time"

	"licensegate/pkg/config"
	"licensegate/pkg/db/option"
	"licensegate/pkg/repository"
	"licensegate/services/setting"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ReasonInvoiceOverdue = "invoice_overdue"

	defaultGraceDays = 7
)

type Service struct {
	db       *gorm.DB
	invoices repository.Repository[Invoice]
	settings setting.Provider
	config   *config.Config

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Settings setting.Provider
	Config   *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		invoices: repository.ProvideStore[Invoice](p.DB),
		settings: p.Settings,
		config:   p.Config,
		now:      time.Now,
	}
}

// InvoiceBlockStatus decides whether the customer's billing standing blocks
// access. The oldest open invoice defines the grace window: due date plus
// the invoice_grace_days setting. Past the window the customer is blocked
// with reason invoice_overdue; inside it the verdict is "due" so the gate
// can surface a notice without blocking.
func (s *Service) InvoiceBlockStatus(ctx context.Context, customerID string) (*BlockStatus, error) {
	span := trace.SpanFromContext(ctx)

	traceOpt := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}

	invoices, err := s.invoices.Find(ctx, &Invoice{CustomerID: customerID},
		option.WithSortBy(option.QuerySortBy{SortBy: "due_date", OrderBy: "ASC"}))
	if err != nil {
		zap.L().With(traceOpt...).Error("failed to list invoices", zap.Error(err), zap.String("customer_id", customerID))
		return nil, err
	}

	now := s.now()
	graceDays := s.settings.GetInt(ctx, setting.KeyInvoiceGraceDays, defaultGraceDays)

	for _, invoice := range invoices {
		if !invoice.Status.open() || invoice.DueDate == nil {
			continue
		}
		if invoice.DueDate.After(now) {
			continue
		}

		graceEndsAt := invoice.DueDate.Add(time.Duration(graceDays) * 24 * time.Hour)
		status := &BlockStatus{
			GraceEndsAt:   &graceEndsAt,
			PaymentURL:    s.paymentURL(invoice),
			InvoiceID:     &invoice.ID,
			InvoiceNumber: &invoice.Number,
			InvoiceStatus: strPtr(invoice.Status.String()),
		}

		if now.After(graceEndsAt) {
			status.Blocked = true
			status.Reason = ReasonInvoiceOverdue
			return status, nil
		}

		status.Due = true
		return status, nil
	}

	return &BlockStatus{}, nil
}

func (s *Service) paymentURL(invoice *Invoice) *string {
	if s.config == nil || s.config.RootDomain == "" {
		return nil
	}
	url := fmt.Sprintf("https://%s/invoices/%s/pay", s.config.RootDomain, invoice.ID)
	return &url
}

func strPtr(v string) *string {
	return &v
}
