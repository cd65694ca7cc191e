package license

import (
	"context"
	"strings"
	"time"

	"licensegate/pkg/db/option"
	"licensegate/pkg/dns"
	"licensegate/pkg/errutil"
	"licensegate/pkg/repository"
	"licensegate/pkg/task"
	"licensegate/services/billing"
	"licensegate/services/setting"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Block reason codes, in pipeline order. The first failing check wins and
// the reasons never leak why beyond what the caller is entitled to know.
const (
	ReasonLicenseNotFound      = "license_not_found"
	ReasonCustomerInactive     = "customer_inactive"
	ReasonLicenseInactive      = "license_inactive"
	ReasonLicenseExpired       = "license_expired"
	ReasonSubscriptionInactive = "subscription_inactive"
	ReasonInvalidDomain        = "invalid_domain"
	ReasonDomainNotAllowed     = "domain_not_allowed"

	StatusActive  = "active"
	StatusBlocked = "blocked"

	NoticeInvoiceDue = "invoice_due"
)

// InvoiceEvaluator is the billing collaborator: it decides whether the
// customer's payment standing blocks access after all license checks pass.
type InvoiceEvaluator interface {
	InvoiceBlockStatus(ctx context.Context, customerID string) (*billing.BlockStatus, error)
}

type VerifyRequest struct {
	LicenseKey string
	Domain     string
	ClientIP   string
	Channel    string
}

type VerifyResult struct {
	Status  string  `json:"status"`
	Blocked bool    `json:"blocked"`
	Reason  string  `json:"reason,omitempty"`
	Notice  *string `json:"notice"`

	LicenseID  string `json:"license_id,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Domain     string `json:"domain,omitempty"`

	GraceEndsAt   *time.Time `json:"grace_ends_at"`
	PaymentURL    *string    `json:"payment_url"`
	InvoiceID     *string    `json:"invoice_id,omitempty"`
	InvoiceNumber *string    `json:"invoice_number,omitempty"`
	InvoiceStatus *string    `json:"invoice_status,omitempty"`
}

// bindOutcome reports what the binding transaction committed. notAllowed is
// a business verdict, not an error: revocations performed while reaching it
// must survive the commit either way.
type bindOutcome struct {
	notAllowed bool
	boundNew   bool
	revokedIDs []string
}

type Service struct {
	db            *gorm.DB
	node          *snowflake.Node
	licenses      repository.Repository[License]
	domains       repository.Repository[LicenseDomain]
	subscriptions repository.Repository[Subscription]
	customers     repository.Repository[Customer]
	settings      setting.Provider
	invoices      InvoiceEvaluator
	enqueuer      task.Enqueuer

	resolve func(hostname string) error
	now     func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Settings setting.Provider
	Invoices InvoiceEvaluator
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:            p.DB,
		node:          p.Node,
		licenses:      repository.ProvideStore[License](p.DB),
		domains:       repository.ProvideStore[LicenseDomain](p.DB),
		subscriptions: repository.ProvideStore[Subscription](p.DB),
		customers:     repository.ProvideStore[Customer](p.DB),
		settings:      p.Settings,
		invoices:      p.Invoices,
		enqueuer:      p.Enqueuer,
		resolve:       dns.Resolvable,
		now:           time.Now,
	}
}

// Verify runs the full decision pipeline for one phone-home call. Checks
// run in a fixed order and the first failure wins:
//
//	key lookup, customer, license status, expiry, subscription,
//	domain shape, domain binding, then billing standing.
//
// Only after every license-side check passes are last_check_at and
// last_check_ip bumped, so a later invoice block still counts as a
// successful check-in from the installation.
func (s *Service) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
	span := trace.SpanFromContext(ctx)

	log := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("domain", req.Domain),
		zap.String("client_ip", req.ClientIP),
		zap.String("channel", req.Channel),
	)

	now := s.now()

	lic, err := s.licenses.FindOne(ctx, &License{LicenseKey: req.LicenseKey})
	if err != nil {
		log.Error("license lookup failed", zap.Error(err))
		return nil, err
	}
	if lic == nil {
		return s.block(log, nil, req, now, ReasonLicenseNotFound, nil), nil
	}

	log = log.With(zap.String("license_id", lic.ID))

	// empty foreign keys never hit the database: a zero-value struct
	// condition would match an arbitrary row instead of none
	var sub *Subscription
	if lic.SubscriptionID != "" {
		sub, err = s.subscriptions.FindOne(ctx, &Subscription{ID: lic.SubscriptionID})
		if err != nil {
			log.Error("subscription lookup failed", zap.Error(err))
			return nil, err
		}
	}

	var customer *Customer
	if sub != nil && sub.CustomerID != "" {
		customer, err = s.customers.FindOne(ctx, &Customer{ID: sub.CustomerID})
		if err != nil {
			log.Error("customer lookup failed", zap.Error(err))
			return nil, err
		}
	}

	if sub == nil || customer == nil || customer.Status != CustomerActive {
		return s.block(log, lic, req, now, ReasonCustomerInactive, nil), nil
	}

	if lic.Status != LicenseActive {
		return s.block(log, lic, req, now, ReasonLicenseInactive, nil), nil
	}

	if lic.ExpiresAt != nil && lic.ExpiresAt.Before(now) {
		return s.block(log, lic, req, now, ReasonLicenseExpired, nil), nil
	}

	if sub.Status != SubscriptionActive {
		return s.block(log, lic, req, now, ReasonSubscriptionInactive, nil), nil
	}

	domain, err := NormalizeDomain(req.Domain)
	if err != nil {
		return s.block(log, lic, req, now, ReasonInvalidDomain, nil), nil
	}

	outcome, err := s.bindDomain(ctx, lic, domain, now)
	if err != nil {
		log.Error("domain binding failed", zap.Error(err))
		return nil, err
	}
	s.publishBindEvents(log, lic, domain, now, outcome)
	if outcome.notAllowed {
		return s.block(log, lic, req, now, ReasonDomainNotAllowed, nil), nil
	}

	if err := s.licenses.Update(ctx, lic.ID, map[string]any{
		"last_check_at": now,
		"last_check_ip": req.ClientIP,
	}); err != nil {
		log.Error("failed to record license check", zap.Error(err))
		return nil, err
	}

	standing, err := s.invoices.InvoiceBlockStatus(ctx, sub.CustomerID)
	if err != nil {
		log.Error("invoice standing lookup failed", zap.Error(err))
		return nil, err
	}

	if standing.Blocked {
		return s.block(log, lic, req, now, standing.Reason, standing), nil
	}

	result := &VerifyResult{
		Status:        StatusActive,
		LicenseID:     lic.ID,
		ProductID:     lic.ProductID,
		CustomerID:    sub.CustomerID,
		Domain:        domain,
		GraceEndsAt:   standing.GraceEndsAt,
		PaymentURL:    standing.PaymentURL,
		InvoiceID:     standing.InvoiceID,
		InvoiceNumber: standing.InvoiceNumber,
		InvoiceStatus: standing.InvoiceStatus,
	}
	if standing.Due {
		notice := NoticeInvoiceDue
		result.Notice = &notice
	}

	verifyTotal.WithLabelValues("active", "").Inc()
	s.recordCheck(log, lic, req, now, "active", "")
	log.Info("license verified", zap.String("normalized_domain", domain))

	return result, nil
}

// ListDomains returns every binding row for a license, active and revoked,
// in binding order.
func (s *Service) ListDomains(ctx context.Context, licenseKey string) ([]*LicenseDomain, error) {
	lic, err := s.licenses.FindOne(ctx, &License{LicenseKey: licenseKey})
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found", nil)
	}

	return s.domains.Find(ctx, &LicenseDomain{LicenseID: lic.ID},
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "ASC"}))
}

// bindDomain runs the binding state machine inside one transaction:
//
//   - more than one active row is corrupt state: keep the oldest binding
//     and revoke the rest before deciding anything; the revocations commit
//     even when the call is then refused
//   - an active binding must match the presented domain exactly, a
//     mismatch never rebinds
//   - with no active binding, auto_bind_domains decides whether the
//     presented domain gets adopted; a previously revoked row for the
//     same domain is reactivated instead of duplicated
func (s *Service) bindDomain(ctx context.Context, lic *License, domain string, now time.Time) (*bindOutcome, error) {
	outcome := &bindOutcome{}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		domains := s.domains.WithTrx(tx)

		active, err := domains.Find(ctx, &LicenseDomain{LicenseID: lic.ID, Status: DomainActive},
			option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "ASC"}))
		if err != nil {
			return err
		}

		if len(active) > 1 {
			for _, extra := range active[1:] {
				if err := domains.Update(ctx, extra.ID, map[string]any{"status": DomainRevoked}); err != nil {
					return err
				}
				outcome.revokedIDs = append(outcome.revokedIDs, extra.ID)
			}
			active = active[:1]
		}

		if len(active) == 1 {
			bound := active[0]
			if strings.ToLower(bound.Domain) != domain {
				outcome.notAllowed = true
				return nil
			}
			return domains.Update(ctx, bound.ID, map[string]any{"last_seen_at": now})
		}

		if !s.settings.GetBool(ctx, setting.KeyAutoBindDomains, false) {
			outcome.notAllowed = true
			return nil
		}

		if s.settings.GetBool(ctx, setting.KeyVerifyDomainDNS, false) && s.resolve != nil {
			if err := s.resolve(domain); err != nil {
				zap.L().Warn("domain does not resolve, refusing to bind",
					zap.String("domain", domain), zap.Error(err))
				outcome.notAllowed = true
				return nil
			}
		}

		existing, err := domains.FindOne(ctx, &LicenseDomain{LicenseID: lic.ID, Domain: domain})
		if err != nil {
			return err
		}
		if existing != nil {
			outcome.boundNew = true
			return domains.Update(ctx, existing.ID, map[string]any{
				"status":       DomainActive,
				"verified_at":  now,
				"last_seen_at": now,
			})
		}

		record := &LicenseDomain{
			ID:         s.node.Generate().String(),
			CreatedAt:  now,
			UpdatedAt:  now,
			LicenseID:  lic.ID,
			Domain:     domain,
			Status:     DomainActive,
			VerifiedAt: &now,
			LastSeenAt: &now,
		}
		outcome.boundNew = true
		return domains.Create(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	return outcome, nil
}

func (s *Service) block(log *zap.Logger, lic *License, req *VerifyRequest, now time.Time, reason string, standing *billing.BlockStatus) *VerifyResult {
	result := &VerifyResult{
		Status:  StatusBlocked,
		Blocked: true,
		Reason:  reason,
	}
	if standing != nil {
		result.GraceEndsAt = standing.GraceEndsAt
		result.PaymentURL = standing.PaymentURL
		result.InvoiceID = standing.InvoiceID
		result.InvoiceNumber = standing.InvoiceNumber
		result.InvoiceStatus = standing.InvoiceStatus
	}

	verifyTotal.WithLabelValues("blocked", reason).Inc()
	s.recordCheck(log, lic, req, now, "blocked", reason)
	log.Info("license blocked", zap.String("reason", reason))

	return result
}

// recordCheck hands the verify outcome to the audit worker. Losing an audit
// record must never fail the verify call itself.
func (s *Service) recordCheck(log *zap.Logger, lic *License, req *VerifyRequest, now time.Time, outcome, reason string) {
	if s.enqueuer == nil {
		return
	}

	payload := CheckRecordedPayload{
		Domain:    req.Domain,
		ClientIP:  req.ClientIP,
		Channel:   req.Channel,
		Outcome:   outcome,
		Reason:    reason,
		CheckedAt: now,
	}
	if lic != nil {
		payload.LicenseID = lic.ID
	}

	t, err := NewCheckRecordedTask(payload)
	if err != nil {
		log.Warn("failed to build audit task", zap.Error(err))
		return
	}
	if _, err := s.enqueuer.Enqueue(t); err != nil {
		log.Warn("failed to enqueue audit task", zap.Error(err))
	}
}

func (s *Service) publishBindEvents(log *zap.Logger, lic *License, domain string, now time.Time, outcome *bindOutcome) {
	if s.enqueuer == nil || outcome == nil {
		return
	}

	for _, id := range outcome.revokedIDs {
		t, err := NewDomainRevokedTask(DomainRevokedPayload{
			LicenseDomainID: id,
			LicenseID:       lic.ID,
			RevokedAt:       now,
		})
		if err != nil {
			log.Warn("failed to build revoke event", zap.Error(err))
			continue
		}
		if _, err := s.enqueuer.Enqueue(t); err != nil {
			log.Warn("failed to enqueue revoke event", zap.Error(err))
		}
	}

	if outcome.boundNew {
		t, err := NewDomainBoundTask(DomainBoundPayload{
			LicenseID: lic.ID,
			Domain:    domain,
			BoundAt:   now,
		})
		if err != nil {
			log.Warn("failed to build bind event", zap.Error(err))
			return
		}
		if _, err := s.enqueuer.Enqueue(t); err != nil {
			log.Warn("failed to enqueue bind event", zap.Error(err))
		}
	}
}
