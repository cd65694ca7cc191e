package rediskey

import "fmt"

// Key conventions shared by every binary touching redis.
const (
	SequenceInvoicePrefix = "seq:INV"
	SequenceLicenseKey    = "seq:license"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildInvoiceSequenceKey returns "seq:INV:{customerID}:{day}". The day
// segment scopes the counter so invoice numbers restart daily.
func BuildInvoiceSequenceKey(customerID, day string) string {
	return NamespaceKey(SequenceInvoicePrefix, fmt.Sprintf("%s:%s", customerID, day))
}
