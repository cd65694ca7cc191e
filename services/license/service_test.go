package license

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"licensegate/pkg/errutil"
	"licensegate/pkg/repository"
	"licensegate/services/billing"
	"licensegate/services/setting"
	"licensegate/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type settingsStub struct {
	values map[string]string
}

func (s *settingsStub) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *settingsStub) GetBool(ctx context.Context, key string, fallback bool) bool {
	v, ok := s.values[key]
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s *settingsStub) GetInt(ctx context.Context, key string, fallback int) int {
	v, ok := s.values[key]
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

type billingStub struct {
	status *billing.BlockStatus
	err    error
	calls  int
}

func (b *billingStub) InvoiceBlockStatus(ctx context.Context, customerID string) (*billing.BlockStatus, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	if b.status != nil {
		return b.status, nil
	}
	return &billing.BlockStatus{}, nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.tasks))
	for _, t := range f.tasks {
		names = append(names, t.Type())
	}
	return names
}

type testEnv struct {
	svc      *Service
	db       *gorm.DB
	enqueuer *fakeEnqueuer
	billing  *billingStub
}

func newTestEnv(t *testing.T, settings map[string]string) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t, &Customer{}, &Subscription{}, &License{}, &LicenseDomain{}, &VerificationLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	enqueuer := &fakeEnqueuer{}
	billingStub := &billingStub{}

	svc := &Service{
		db:            db,
		node:          node,
		licenses:      repository.ProvideStore[License](db),
		domains:       repository.ProvideStore[LicenseDomain](db),
		subscriptions: repository.ProvideStore[Subscription](db),
		customers:     repository.ProvideStore[Customer](db),
		settings:      &settingsStub{values: settings},
		invoices:      billingStub,
		enqueuer:      enqueuer,
		resolve:       func(string) error { return nil },
		now:           func() time.Time { return testNow },
	}

	return &testEnv{svc: svc, db: db, enqueuer: enqueuer, billing: billingStub}
}

// seedLicense creates an active customer/subscription/license chain.
func (e *testEnv) seedLicense(t *testing.T, key string) *License {
	t.Helper()

	customer := &Customer{ID: "cust_1", Name: "Acme", Status: CustomerActive}
	subscription := &Subscription{ID: "sub_1", CustomerID: customer.ID, Status: SubscriptionActive}
	lic := &License{
		ID:             "lic_1",
		LicenseKey:     key,
		ProductID:      "prod_1",
		SubscriptionID: subscription.ID,
		Status:         LicenseActive,
	}

	require.NoError(t, e.db.Create(customer).Error)
	require.NoError(t, e.db.Create(subscription).Error)
	require.NoError(t, e.db.Create(lic).Error)

	return lic
}

func (e *testEnv) bindDomainRow(t *testing.T, id, licenseID, domain string, status DomainStatus) {
	t.Helper()
	require.NoError(t, e.db.Create(&LicenseDomain{
		ID:        id,
		LicenseID: licenseID,
		Domain:    domain,
		Status:    status,
	}).Error)
}

func (e *testEnv) verify(t *testing.T, key, domain string) *VerifyResult {
	t.Helper()
	result, err := e.svc.Verify(context.Background(), &VerifyRequest{
		LicenseKey: key,
		Domain:     domain,
		ClientIP:   "203.0.113.9",
		Channel:    "api",
	})
	require.NoError(t, err)
	return result
}

func (e *testEnv) activeDomains(t *testing.T, licenseID string) []*LicenseDomain {
	t.Helper()
	var rows []*LicenseDomain
	require.NoError(t, e.db.
		Where(&LicenseDomain{LicenseID: licenseID, Status: DomainActive}).
		Order("id ASC").
		Find(&rows).Error)
	return rows
}

func TestVerifyActiveBoundDomain(t *testing.T) {
	env := newTestEnv(t, nil)
	lic := env.seedLicense(t, "KEY-1")
	env.bindDomainRow(t, "10", lic.ID, "myapp.com", DomainActive)

	result := env.verify(t, "KEY-1", "myapp.com")

	require.Equal(t, StatusActive, result.Status)
	require.False(t, result.Blocked)
	require.Empty(t, result.Reason)
	require.Nil(t, result.Notice)
	require.Equal(t, lic.ID, result.LicenseID)
	require.Equal(t, "cust_1", result.CustomerID)
	require.Equal(t, "myapp.com", result.Domain)

	var stored License
	require.NoError(t, env.db.First(&stored, "id = ?", lic.ID).Error)
	require.NotNil(t, stored.LastCheckAt)
	require.Equal(t, testNow.Unix(), stored.LastCheckAt.Unix())
	require.Equal(t, "203.0.113.9", stored.LastCheckIP)

	var bound LicenseDomain
	require.NoError(t, env.db.First(&bound, "id = ?", "10").Error)
	require.NotNil(t, bound.LastSeenAt)
}

func TestVerifyUnknownKeyHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t, map[string]string{setting.KeyAutoBindDomains: "true"})

	result := env.verify(t, "NOPE", "myapp.com")

	require.Equal(t, StatusBlocked, result.Status)
	require.True(t, result.Blocked)
	require.Equal(t, ReasonLicenseNotFound, result.Reason)

	var count int64
	require.NoError(t, env.db.Model(&LicenseDomain{}).Count(&count).Error)
	require.Zero(t, count)
	require.Zero(t, env.billing.calls)
}

func TestVerifyAutoBindsFirstDomain(t *testing.T) {
	env := newTestEnv(t, map[string]string{setting.KeyAutoBindDomains: "true"})
	lic := env.seedLicense(t, "ABC123")

	result := env.verify(t, "ABC123", "myapp.com")

	require.Equal(t, StatusActive, result.Status)
	require.Equal(t, "myapp.com", result.Domain)

	active := env.activeDomains(t, lic.ID)
	require.Len(t, active, 1)
	require.Equal(t, "myapp.com", active[0].Domain)
	require.NotNil(t, active[0].VerifiedAt)
	require.NotNil(t, active[0].LastSeenAt)
}

func TestVerifyIsIdempotentPerDomain(t *testing.T) {
	env := newTestEnv(t, map[string]string{setting.KeyAutoBindDomains: "true"})
	lic := env.seedLicense(t, "ABC123")

	first := env.verify(t, "ABC123", "myapp.com")
	second := env.verify(t, "ABC123", "myapp.com")

	require.Equal(t, first.Status, second.Status)

	var count int64
	require.NoError(t, env.db.Model(&LicenseDomain{}).Where("license_id = ?", lic.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestVerifyConcurrentFirstBindConverges(t *testing.T) {
	env := newTestEnv(t, map[string]string{setting.KeyAutoBindDomains: "true"})
	lic := env.seedLicense(t, "ABC123")

	const callers = 8
	results := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.Verify(context.Background(), &VerifyRequest{
				LicenseKey: "ABC123",
				Domain:     "myapp.com",
				ClientIP:   "203.0.113.9",
				Channel:    "api",
			})
			if err == nil && res.Blocked {
				err = fmt.Errorf("blocked: %s", res.Reason)
			}
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		require.NoError(t, err)
	}

	active := env.activeDomains(t, lic.ID)
	require.Len(t, active, 1)
	require.Equal(t, "myapp.com", active[0].Domain)
}

func TestVerifyDomainMismatchNeverRebinds(t *testing.T) {
	env := newTestEnv(t, map[string]string{setting.KeyAutoBindDomains: "true"})
	lic := env.seedLicense(t, "KEY-1")
	env.bindDomainRow(t, "10", lic.ID, "other.com", DomainActive)

	result := env.verify(t, "KEY-1", "evil.com")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonDomainNotAllowed, result.Reason)

	active := env.activeDomains(t, lic.ID)
	require.Len(t, active, 1)
	require.Equal(t, "other.com", active[0].Domain)

	// a blocked check never counts as a successful check-in
	var stored License
	require.NoError(t, env.db.First(&stored, "id = ?", lic.ID).Error)
	require.Nil(t, stored.LastCheckAt)
	require.Zero(t, env.billing.calls)
}

func TestVerifySelfHealsMultipleActiveBindings(t *testing.T) {
	env := newTestEnv(t, nil)
	lic := env.seedLicense(t, "KEY-1")
	env.bindDomainRow(t, "10", lic.ID, "first.com", DomainActive)
	env.bindDomainRow(t, "11", lic.ID, "second.com", DomainActive)
	env.bindDomainRow(t, "12", lic.ID, "third.com", DomainActive)

	result := env.verify(t, "KEY-1", "first.com")

	require.Equal(t, StatusActive, result.Status)

	active := env.activeDomains(t, lic.ID)
	require.Len(t, active, 1)
	require.Equal(t, "10", active[0].ID)

	var revoked []*LicenseDomain
	require.NoError(t, env.db.
		Where(&LicenseDomain{LicenseID: lic.ID, Status: DomainRevoked}).
		Order("id ASC").
		Find(&revoked).Error)
	require.Len(t, revoked, 2)
	require.Equal(t, "11", revoked[0].ID)
	require.Equal(t, "12", revoked[1].ID)
}

func TestVerifySelfHealThenMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	lic := env.seedLicense(t, "KEY-1")
	env.bindDomainRow(t, "10", lic.ID, "first.com", DomainActive)
	env.bindDomainRow(t, "11", lic.ID, "second.com", DomainActive)

	// second.com lost the race: the surviving binding is the oldest row,
	// and the self-heal must stick even though this call is refused
	result := env.verify(t, "KEY-1", "second.com")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonDomainNotAllowed, result.Reason)

	active := env.activeDomains(t, lic.ID)
	require.Len(t, active, 1)
	require.Equal(t, "10", active[0].ID)

	var revoked LicenseDomain
	require.NoError(t, env.db.First(&revoked, "id = ?", "11").Error)
	require.Equal(t, DomainRevoked, revoked.Status)
	require.Contains(t, env.enqueuer.types(), "license:domain:revoked")
}

func TestVerifyNormalizesURLBeforeBinding(t *testing.T) {
	env := newTestEnv(t, map[string]string{setting.KeyAutoBindDomains: "true"})
	lic := env.seedLicense(t, "KEY-1")

	result := env.verify(t, "KEY-1", "https://www.Example.com/path")

	require.Equal(t, StatusActive, result.Status)
	require.Equal(t, "example.com", result.Domain)

	active := env.activeDomains(t, lic.ID)
	require.Len(t, active, 1)
	require.Equal(t, "example.com", active[0].Domain)
}

func TestVerifyInvalidDomain(t *testing.T) {
	env := newTestEnv(t, map[string]string{setting.KeyAutoBindDomains: "true"})
	env.seedLicense(t, "KEY-1")

	result := env.verify(t, "KEY-1", "not a domain!")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonInvalidDomain, result.Reason)
}

func TestVerifyAutoBindDisabled(t *testing.T) {
	env := newTestEnv(t, map[string]string{setting.KeyAutoBindDomains: "false"})
	lic := env.seedLicense(t, "KEY-1")

	result := env.verify(t, "KEY-1", "myapp.com")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonDomainNotAllowed, result.Reason)
	require.Empty(t, env.activeDomains(t, lic.ID))
}

func TestVerifyReactivatesRevokedBinding(t *testing.T) {
	env := newTestEnv(t, map[string]string{setting.KeyAutoBindDomains: "true"})
	lic := env.seedLicense(t, "KEY-1")
	env.bindDomainRow(t, "10", lic.ID, "myapp.com", DomainRevoked)

	result := env.verify(t, "KEY-1", "myapp.com")

	require.Equal(t, StatusActive, result.Status)

	var count int64
	require.NoError(t, env.db.Model(&LicenseDomain{}).Where("license_id = ?", lic.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)

	active := env.activeDomains(t, lic.ID)
	require.Len(t, active, 1)
	require.Equal(t, "10", active[0].ID)
	require.NotNil(t, active[0].VerifiedAt)
}

func TestVerifyDNSCheckBlocksUnresolvableDomain(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		setting.KeyAutoBindDomains: "true",
		setting.KeyVerifyDomainDNS: "true",
	})
	lic := env.seedLicense(t, "KEY-1")
	env.svc.resolve = func(string) error { return errors.New("NXDOMAIN") }

	result := env.verify(t, "KEY-1", "ghost.example")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonDomainNotAllowed, result.Reason)
	require.Empty(t, env.activeDomains(t, lic.ID))
}

func TestVerifyExpiredLicense(t *testing.T) {
	env := newTestEnv(t, nil)
	lic := env.seedLicense(t, "KEY-1")
	expired := testNow.Add(-time.Hour)
	require.NoError(t, env.db.Model(&License{}).Where("id = ?", lic.ID).
		Update("expires_at", expired).Error)

	result := env.verify(t, "KEY-1", "myapp.com")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonLicenseExpired, result.Reason)

	var stored License
	require.NoError(t, env.db.First(&stored, "id = ?", lic.ID).Error)
	require.Nil(t, stored.LastCheckAt)
}

func TestVerifyInactiveLicense(t *testing.T) {
	env := newTestEnv(t, nil)
	lic := env.seedLicense(t, "KEY-1")
	require.NoError(t, env.db.Model(&License{}).Where("id = ?", lic.ID).
		Update("status", LicenseInactive).Error)

	result := env.verify(t, "KEY-1", "myapp.com")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonLicenseInactive, result.Reason)
}

func TestVerifyInactiveCustomer(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedLicense(t, "KEY-1")
	require.NoError(t, env.db.Model(&Customer{}).Where("id = ?", "cust_1").
		Update("status", CustomerInactive).Error)

	result := env.verify(t, "KEY-1", "myapp.com")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonCustomerInactive, result.Reason)
}

func TestVerifyMissingSubscriptionReadsAsCustomerInactive(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedLicense(t, "KEY-1")
	require.NoError(t, env.db.Model(&License{}).Where("id = ?", "lic_1").
		Update("subscription_id", "sub_gone").Error)

	result := env.verify(t, "KEY-1", "myapp.com")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonCustomerInactive, result.Reason)
}

func TestVerifyOrphanLicenseNeverBorrowsAnotherCustomer(t *testing.T) {
	env := newTestEnv(t, map[string]string{setting.KeyAutoBindDomains: "true"})
	// a fully healthy, unrelated chain sits in the same tables
	env.seedLicense(t, "KEY-1")

	orphan := &License{
		ID:             "lic_orphan",
		LicenseKey:     "ORPHAN",
		ProductID:      "prod_1",
		SubscriptionID: "",
		Status:         LicenseActive,
	}
	require.NoError(t, env.db.Create(orphan).Error)

	result := env.verify(t, "ORPHAN", "myapp.com")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonCustomerInactive, result.Reason)
	require.Empty(t, result.CustomerID)
	require.Empty(t, env.activeDomains(t, orphan.ID))
}

func TestVerifySubscriptionWithoutCustomerBlocks(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedLicense(t, "KEY-1")

	require.NoError(t, env.db.Create(&Subscription{
		ID:         "sub_orphan",
		CustomerID: "",
		Status:     SubscriptionActive,
	}).Error)
	require.NoError(t, env.db.Create(&License{
		ID:             "lic_2",
		LicenseKey:     "KEY-2",
		ProductID:      "prod_1",
		SubscriptionID: "sub_orphan",
		Status:         LicenseActive,
	}).Error)

	result := env.verify(t, "KEY-2", "myapp.com")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonCustomerInactive, result.Reason)
}

func TestVerifySuspendedSubscription(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedLicense(t, "KEY-1")
	require.NoError(t, env.db.Model(&Subscription{}).Where("id = ?", "sub_1").
		Update("status", SubscriptionSuspended).Error)

	result := env.verify(t, "KEY-1", "myapp.com")

	require.True(t, result.Blocked)
	require.Equal(t, ReasonSubscriptionInactive, result.Reason)
}

func TestVerifyInactiveStatusWinsOverExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	lic := env.seedLicense(t, "KEY-1")
	expired := testNow.Add(-time.Hour)
	require.NoError(t, env.db.Model(&License{}).Where("id = ?", lic.ID).
		Updates(map[string]any{"status": LicenseInactive, "expires_at": expired}).Error)

	result := env.verify(t, "KEY-1", "myapp.com")

	require.Equal(t, ReasonLicenseInactive, result.Reason)
}

func TestVerifyInvoiceOverdueBlocksAfterCheckIn(t *testing.T) {
	env := newTestEnv(t, nil)
	lic := env.seedLicense(t, "KEY-1")
	env.bindDomainRow(t, "10", lic.ID, "myapp.com", DomainActive)

	graceEndsAt := testNow.Add(-24 * time.Hour)
	paymentURL := "https://portal.example.com/invoices/inv_1/pay"
	invoiceID := "inv_1"
	env.billing.status = &billing.BlockStatus{
		Blocked:     true,
		Reason:      billing.ReasonInvoiceOverdue,
		GraceEndsAt: &graceEndsAt,
		PaymentURL:  &paymentURL,
		InvoiceID:   &invoiceID,
	}

	result := env.verify(t, "KEY-1", "myapp.com")

	require.True(t, result.Blocked)
	require.Equal(t, billing.ReasonInvoiceOverdue, result.Reason)
	require.Equal(t, &paymentURL, result.PaymentURL)
	require.Equal(t, &invoiceID, result.InvoiceID)

	// the installation still checked in successfully before the block
	var stored License
	require.NoError(t, env.db.First(&stored, "id = ?", lic.ID).Error)
	require.NotNil(t, stored.LastCheckAt)
	require.Equal(t, "203.0.113.9", stored.LastCheckIP)
}

func TestVerifyInvoiceDueSurfacesNotice(t *testing.T) {
	env := newTestEnv(t, nil)
	lic := env.seedLicense(t, "KEY-1")
	env.bindDomainRow(t, "10", lic.ID, "myapp.com", DomainActive)

	graceEndsAt := testNow.Add(3 * 24 * time.Hour)
	env.billing.status = &billing.BlockStatus{Due: true, GraceEndsAt: &graceEndsAt}

	result := env.verify(t, "KEY-1", "myapp.com")

	require.Equal(t, StatusActive, result.Status)
	require.False(t, result.Blocked)
	require.NotNil(t, result.Notice)
	require.Equal(t, NoticeInvoiceDue, *result.Notice)
	require.Equal(t, &graceEndsAt, result.GraceEndsAt)
}

func TestVerifyBillingErrorPropagates(t *testing.T) {
	env := newTestEnv(t, nil)
	lic := env.seedLicense(t, "KEY-1")
	env.bindDomainRow(t, "10", lic.ID, "myapp.com", DomainActive)
	env.billing.err = errors.New("billing down")

	_, err := env.svc.Verify(context.Background(), &VerifyRequest{
		LicenseKey: "KEY-1",
		Domain:     "myapp.com",
	})
	require.Error(t, err)
}

func TestVerifyEnqueuesAuditTask(t *testing.T) {
	env := newTestEnv(t, map[string]string{setting.KeyAutoBindDomains: "true"})
	env.seedLicense(t, "KEY-1")

	env.verify(t, "KEY-1", "myapp.com")

	require.Contains(t, env.enqueuer.types(), "license:check:recorded")
	require.Contains(t, env.enqueuer.types(), "license:domain:bound")
}

func TestListDomainsUnknownKey(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.ListDomains(context.Background(), "NOPE")
	require.Error(t, err)

	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusNotFound, base.Code)
}

func TestListDomainsReturnsAllBindings(t *testing.T) {
	env := newTestEnv(t, nil)
	lic := env.seedLicense(t, "KEY-1")
	env.bindDomainRow(t, "10", lic.ID, "old.com", DomainRevoked)
	env.bindDomainRow(t, "11", lic.ID, "myapp.com", DomainActive)

	rows, err := env.svc.ListDomains(context.Background(), "KEY-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "10", rows[0].ID)
	require.Equal(t, "11", rows[1].ID)
}
