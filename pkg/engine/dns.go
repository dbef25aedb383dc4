package engine

import (
	"fmt"
	"strings"
)

// DNSConfig is the DNS configuration attached to a server. The zone name is
// mandatory; the subdomain is optional.
type DNSConfig struct {
	// Zone is the DNS zone name (e.g., "example.com").
	Zone string `json:"zone" validate:"required,hostname_rfc1123"`

	// Subdomain is an optional subdomain inserted between the record
	// prefix and the zone (e.g., "stage").
	Subdomain string `json:"subdomain,omitempty" validate:"omitempty,hostname_rfc1123"`
}

// Validate checks the configuration for structural problems.
func (c *DNSConfig) Validate() error {
	if c == nil || strings.TrimSpace(c.Zone) == "" {
		return NewValidationError("dns zone name is required")
	}
	return nil
}

// Domain computes the fully qualified domain for a record prefix. This is
// the single implementation of the domain formula; all call sites share it.
//
//	Domain("app")  with zone "example.com"                 -> "app.example.com"
//	Domain("app")  with zone "example.com", subdomain "stage" -> "app.stage.example.com"
func (c *DNSConfig) Domain(prefix string) string {
	if c.Subdomain != "" {
		return fmt.Sprintf("%s.%s.%s", prefix, c.Subdomain, c.Zone)
	}
	return fmt.Sprintf("%s.%s", prefix, c.Zone)
}

// GenerateDomain computes a fully qualified domain from its parts. The
// optional subdomain may be passed as a trailing argument.
func GenerateDomain(prefix, zone string, subdomain ...string) string {
	cfg := DNSConfig{Zone: zone}
	if len(subdomain) > 0 {
		cfg.Subdomain = subdomain[0]
	}
	return cfg.Domain(prefix)
}
