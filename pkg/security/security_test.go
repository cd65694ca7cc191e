package security

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateLicenseKeyShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-HJKMNP-Z2-9]{5}(-[A-HJKMNP-Z2-9]{5}){3}$`)

	key, err := GenerateLicenseKey()
	require.NoError(t, err)
	require.Regexp(t, pattern, key)

	// the alphabet skips 0/O and 1/I/L on purpose
	require.NotRegexp(t, `[01OIL]`, key)
}

func TestGenerateLicenseKeyIsRandom(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		key, err := GenerateLicenseKey()
		require.NoError(t, err)
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key generated: %s", key)
		}
		seen[key] = struct{}{}
	}
}
