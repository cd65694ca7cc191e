package main

import (
	"context"
	"log"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"licensegate/pkg/config"
	"licensegate/pkg/db"
	"licensegate/pkg/gen"
	"licensegate/pkg/logger"
	"licensegate/pkg/redis"
	"licensegate/pkg/security"
	"licensegate/pkg/sequence"
	"licensegate/services/billing"
	"licensegate/services/bootstrap"
	"licensegate/services/license"
)

// Seeds one demo customer with an active subscription, a fresh license key
// and an open invoice due in two weeks, then exits.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		fx.Invoke(bootstrap.Migrate, seed),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

type seedParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Sequence sequence.Generator
	Shutdown fx.Shutdowner
}

func seed(p seedParams) error {
	defer func() { _ = p.Shutdown.Shutdown() }()

	ctx := context.Background()
	now := time.Now()

	key, err := security.GenerateLicenseKey()
	if err != nil {
		return err
	}

	customer := &license.Customer{
		ID:     p.Node.Generate().String(),
		Name:   "Demo Customer",
		Status: license.CustomerActive,
	}
	subscription := &license.Subscription{
		ID:         p.Node.Generate().String(),
		CustomerID: customer.ID,
		Status:     license.SubscriptionActive,
	}
	lic := &license.License{
		ID:             p.Node.Generate().String(),
		LicenseKey:     key,
		ProductID:      "demo-product",
		SubscriptionID: subscription.ID,
		Status:         license.LicenseActive,
	}

	number, err := p.Sequence.NextInvoiceNumber(ctx, customer.ID)
	if err != nil {
		return err
	}

	dueDate := now.Add(14 * 24 * time.Hour)
	invoice := &billing.Invoice{
		ID:         p.Node.Generate().String(),
		CustomerID: customer.ID,
		Number:     number,
		Status:     billing.InvoiceUnpaid,
		Amount:     9900,
		Currency:   "USD",
		DueDate:    &dueDate,
	}

	err = p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, record := range []any{customer, subscription, lic, invoice} {
			if err := tx.Create(record).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	zap.L().Info("seeded demo license",
		zap.String("customer_id", customer.ID),
		zap.String("license_key", key),
		zap.String("invoice_number", number),
	)
	return nil
}
