package setting

import "time"

// Keys the license gate reads. Values live in the settings table and may be
// overridden per environment through Flagsmith (booleans only).
const (
	KeyAutoBindDomains  = "auto_bind_domains"
	KeyVerifyDomainDNS  = "verify_domain_dns"
	KeyInvoiceGraceDays = "invoice_grace_days"
)

type Setting struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}
