package bootstrap

import (
	"context"

	"licensegate/services/billing"
	"licensegate/services/license"
	"licensegate/services/setting"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// defaultSettings are written once on startup and never overwritten, so
// operator changes in the settings table survive redeploys.
var defaultSettings = []setting.Setting{
	{Key: setting.KeyAutoBindDomains, Value: "true"},
	{Key: setting.KeyVerifyDomainDNS, Value: "false"},
	{Key: setting.KeyInvoiceGraceDays, Value: "7"},
}

// Migrate brings the schema up to date and seeds default settings.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&license.Customer{},
		&license.Subscription{},
		&license.License{},
		&license.LicenseDomain{},
		&license.VerificationLog{},
		&billing.Invoice{},
		&setting.Setting{},
	); err != nil {
		return err
	}

	if err := db.WithContext(context.Background()).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&defaultSettings).Error; err != nil {
		return err
	}

	zap.L().Info("schema migrated")
	return nil
}
