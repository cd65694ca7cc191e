package dns

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// Resolvable reports whether the hostname resolves to at least one address.
// It first asks the public resolvers (1.1.1.1 / 8.8.8.8), then falls back
// to the system resolver.
func Resolvable(hostname string) error {
	if strings.TrimSpace(hostname) == "" {
		return fmt.Errorf("hostname cannot be empty")
	}

	host := dns.Fqdn(hostname)
	zap.L().Debug("Resolving hostname", zap.String("host", host))

	publicResolvers := []string{"1.1.1.1:53", "8.8.8.8:53"}
	for _, resolver := range publicResolvers {
		if err := queryAWithResolver(host, resolver); err == nil {
			zap.L().Debug("hostname resolved", zap.String("resolver", resolver), zap.String("hostname", hostname))
			return nil
		}
	}

	zap.L().Warn("Falling back to system resolver", zap.String("hostname", hostname))
	addrs, err := net.LookupHost(hostname)
	if err != nil {
		return fmt.Errorf("hostname %s does not resolve: %w", hostname, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("hostname %s does not resolve", hostname)
	}

	return nil
}

// queryAWithResolver asks a specific DNS resolver for an A record.
func queryAWithResolver(hostname, resolver string) error {
	client := &dns.Client{
		Timeout: 3 * time.Second,
	}

	msg := dns.Msg{}
	msg.SetQuestion(hostname, dns.TypeA)

	resp, _, err := client.Exchange(&msg, resolver)
	if err != nil {
		zap.L().Debug("DNS query failed", zap.String("resolver", resolver), zap.Error(err))
		return err
	}

	if len(resp.Answer) == 0 {
		return fmt.Errorf("no A record for %s at resolver %s", hostname, resolver)
	}

	return nil
}
