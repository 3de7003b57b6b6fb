package server

import (
	"log/slog"
	"net/url"
	"strings"
)

// Config holds gateway server configuration
type Config struct {
	// Issuer is the gateway's issuer identifier (base URL). Emitted as the
	// iss claim in userinfo documents and used to decide HSTS emission.
	Issuer string

	// LoginPageURI is the absolute or relative URI of the login page users
	// are redirected to with a fresh challenge. Required for issuing
	// challenges; a gateway that only records and redeems claims can leave
	// it empty.
	LoginPageURI string

	// RedeemPath is the gateway path that accepts a login_claims token and
	// establishes the session.
	RedeemPath string // default: "/authenticate"

	// ChallengeTTL is how long login challenges are valid
	ChallengeTTL int64 // seconds, default: 600 (10 minutes)

	// ClaimsTTL is how long login claims are valid
	ClaimsTTL int64 // seconds, default: 300 (5 minutes)

	// SessionTTL is the server-side lifetime of sessions created without
	// remember-me
	SessionTTL int64 // seconds, default: 86400 (1 day)

	// PersistentSessionTTL is the server-side lifetime of remember-me
	// sessions
	PersistentSessionTTL int64 // seconds, default: 2592000 (30 days)

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used with TrustProxy to extract the client IP.
	TrustedProxyCount int // default: 1
}

// applySecureDefaults applies default configuration values and warns about
// settings that weaken the deployment.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.RedeemPath == "" {
		config.RedeemPath = "/authenticate"
	}
	if config.ChallengeTTL == 0 {
		config.ChallengeTTL = 600 // 10 minutes
	}
	if config.ClaimsTTL == 0 {
		config.ClaimsTTL = 300 // 5 minutes
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = 86400 // 1 day
	}
	if config.PersistentSessionTTL == 0 {
		config.PersistentSessionTTL = 2592000 // 30 days
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}

	logSecurityWarnings(config, logger)

	return config
}

// logSecurityWarnings logs warnings for settings that are acceptable in
// development but dangerous in production.
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.Issuer != "" {
		if parsed, err := url.Parse(config.Issuer); err == nil &&
			parsed.Scheme == "http" && !isLoopbackHost(parsed.Hostname()) {
			logger.Warn("Issuer uses plain HTTP on a non-loopback host",
				"issuer", config.Issuer,
				"recommendation", "Serve the gateway over HTTPS; handoff tokens travel in URLs")
		}
	}

	if config.TrustProxy {
		logger.Warn("Proxy headers are trusted for client IP extraction",
			"trusted_proxy_count", config.TrustedProxyCount,
			"recommendation", "Only enable TrustProxy behind a reverse proxy you control")
	}
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return false
}
