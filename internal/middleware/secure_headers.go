package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// SecureHeadersConfig contains configuration for secure headers on JSON responses
type SecureHeadersConfig struct {
	UseHSTS               bool
	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool
	ReferrerPolicy        string
}

// DefaultSecureHeadersConfig returns the default secure headers configuration.
// HSTS is only sent in production where the API sits behind TLS.
func DefaultSecureHeadersConfig(environment string) SecureHeadersConfig {
	return SecureHeadersConfig{
		UseHSTS:               environment == "production",
		HSTSMaxAge:            365 * 24 * time.Hour,
		HSTSIncludeSubdomains: true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}
}

// SecureHeadersMiddleware adds security headers to responses
func SecureHeadersMiddleware(config SecureHeadersConfig) gin.HandlerFunc {
	hsts := "max-age=" + strconv.FormatInt(int64(config.HSTSMaxAge.Seconds()), 10)
	if config.HSTSIncludeSubdomains {
		hsts += "; includeSubDomains"
	}

	return func(c *gin.Context) {
		if config.UseHSTS {
			c.Header("Strict-Transport-Security", hsts)
		}
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		if config.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", config.ReferrerPolicy)
		}
		c.Next()
	}
}
