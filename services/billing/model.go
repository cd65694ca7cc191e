package billing

import "time"

type InvoiceStatus string

var (
	InvoiceDraft   InvoiceStatus = "draft"
	InvoiceSent    InvoiceStatus = "sent"
	InvoiceUnpaid  InvoiceStatus = "unpaid"
	InvoiceOverdue InvoiceStatus = "overdue"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceVoid    InvoiceStatus = "void"
)

func (s InvoiceStatus) String() string {
	return string(s)
}

// open reports whether the invoice still expects payment.
func (s InvoiceStatus) open() bool {
	switch s {
	case InvoiceUnpaid, InvoiceOverdue, InvoiceSent:
		return true
	default:
		return false
	}
}

type Invoice struct {
	ID         string        `gorm:"column:id;primaryKey"`
	CreatedAt  time.Time     `gorm:"column:created_at"`
	UpdatedAt  time.Time     `gorm:"column:updated_at"`
	CustomerID string        `gorm:"column:customer_id;index"`
	Number     string        `gorm:"column:number"`
	Status     InvoiceStatus `gorm:"column:status"`
	Amount     int64         `gorm:"column:amount"`
	Currency   string        `gorm:"column:currency"`
	DueDate    *time.Time    `gorm:"column:due_date"`
	PaidAt     *time.Time    `gorm:"column:paid_at"`
}

// BlockStatus is the gate-facing verdict on a customer's billing standing.
// Blocked means access must be denied even when the license itself is fine;
// Due means an open invoice exists but is still inside its grace window.
type BlockStatus struct {
	Blocked       bool
	Due           bool
	Reason        string
	PaymentURL    *string
	GraceEndsAt   *time.Time
	InvoiceID     *string
	InvoiceNumber *string
	InvoiceStatus *string
}
