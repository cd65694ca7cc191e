package license

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrInvalidDomain = errors.New("invalid domain")

	domainPattern = regexp.MustCompile(`^[a-z0-9.-]+$`)
)

// NormalizeDomain canonicalizes what clients send as their site identity.
// Full URLs are reduced to the host component, a leading www. label is
// stripped, and the result must be lowercase hostname characters only.
func NormalizeDomain(raw string) (string, error) {
	domain := strings.ToLower(strings.TrimSpace(raw))

	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		u, err := url.Parse(domain)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidDomain, err)
		}
		domain = u.Hostname()
	}

	domain = strings.TrimPrefix(domain, "www.")

	if domain == "" || !domainPattern.MatchString(domain) {
		return "", ErrInvalidDomain
	}

	return domain, nil
}
