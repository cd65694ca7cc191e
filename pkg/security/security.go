package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// alphabet excludes ambiguous characters (0/O, 1/I/L) so keys survive
// being read over the phone.
const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateLicenseKey returns a key of the form XXXXX-XXXXX-XXXXX-XXXXX.
func GenerateLicenseKey() (string, error) {
	groups := make([]string, 4)
	for i := range groups {
		group, err := randomAlphaNumeric(5)
		if err != nil {
			return "", fmt.Errorf("failed to generate license key: %w", err)
		}
		groups[i] = group
	}
	return strings.Join(groups, "-"), nil
}

func randomAlphaNumeric(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		b[i] = alphabet[num.Int64()]
	}
	return string(b), nil
}
