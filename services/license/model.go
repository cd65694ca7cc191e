package license

import (
	"time"

	"gorm.io/datatypes"
)

type LicenseStatus string

var (
	LicenseActive   LicenseStatus = "active"
	LicenseInactive LicenseStatus = "inactive"
	LicenseRevoked  LicenseStatus = "revoked"
)

func (s LicenseStatus) String() string {
	switch s {
	case LicenseActive, LicenseInactive, LicenseRevoked:
		return string(s)
	default:
		return ""
	}
}

type SubscriptionStatus string

var (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type CustomerStatus string

var (
	CustomerActive   CustomerStatus = "active"
	CustomerInactive CustomerStatus = "inactive"
)

type DomainStatus string

var (
	DomainActive  DomainStatus = "active"
	DomainRevoked DomainStatus = "revoked"
)

// License is a product entitlement tied to a subscription, identified by a
// secret key. The gate only mutates the last_check telemetry columns.
type License struct {
	ID             string         `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
	LicenseKey     string         `gorm:"column:license_key;uniqueIndex"`
	ProductID      string         `gorm:"column:product_id"`
	SubscriptionID string         `gorm:"column:subscription_id;index"`
	Status         LicenseStatus  `gorm:"column:status"`
	ExpiresAt      *time.Time     `gorm:"column:expires_at"`
	LastCheckAt    *time.Time     `gorm:"column:last_check_at"`
	LastCheckIP    string         `gorm:"column:last_check_ip"`
	Metadata       datatypes.JSON `gorm:"column:metadata"`
}

type Subscription struct {
	ID         string             `gorm:"column:id;primaryKey"`
	CreatedAt  time.Time          `gorm:"column:created_at"`
	UpdatedAt  time.Time          `gorm:"column:updated_at"`
	CustomerID string             `gorm:"column:customer_id;index"`
	Status     SubscriptionStatus `gorm:"column:status"`
}

type Customer struct {
	ID        string         `gorm:"column:id;primaryKey"`
	CreatedAt time.Time      `gorm:"column:created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
	Name      string         `gorm:"column:name"`
	Status    CustomerStatus `gorm:"column:status"`
}

// LicenseDomain is a license→hostname binding. Rows are never deleted, only
// status-transitioned; at most one row per license is active at a time and
// the gate itself enforces that on every verify call.
type LicenseDomain struct {
	ID         string       `gorm:"column:id;primaryKey"`
	CreatedAt  time.Time    `gorm:"column:created_at"`
	UpdatedAt  time.Time    `gorm:"column:updated_at"`
	LicenseID  string       `gorm:"column:license_id;index"`
	Domain     string       `gorm:"column:domain"`
	Status     DomainStatus `gorm:"column:status"`
	VerifiedAt *time.Time   `gorm:"column:verified_at"`
	LastSeenAt *time.Time   `gorm:"column:last_seen_at"`
}

// VerificationLog is the asynchronous audit trail of verify calls, written
// by the worker from license:check:recorded tasks.
type VerificationLog struct {
	ID        string    `gorm:"column:id;primaryKey"`
	LicenseID string    `gorm:"column:license_id;index"`
	Domain    string    `gorm:"column:domain"`
	ClientIP  string    `gorm:"column:client_ip"`
	Channel   string    `gorm:"column:channel"`
	Outcome   string    `gorm:"column:outcome"`
	Reason    string    `gorm:"column:reason"`
	CheckedAt time.Time `gorm:"column:checked_at"`
}
