package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. Subjects are
// hashed before they reach the log stream; token IDs are opaque and logged
// as-is for correlation.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	onEvent func(eventType string)
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string
	TokenID   string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// SetEventHook installs a callback invoked once per logged event with the
// event type. Used to feed audit event counters.
func (a *Auditor) SetEventHook(fn func(eventType string)) {
	a.onEvent = fn
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	if a.onEvent != nil {
		a.onEvent(event.Type)
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"token_id", event.TokenID,
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogChallengeIssued logs creation of a login challenge.
func (a *Auditor) LogChallengeIssued(challengeID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventChallengeIssued,
		TokenID:   challengeID,
		IPAddress: ipAddress,
	})
}

// LogClaimsRecorded logs claims being recorded against a challenge.
func (a *Auditor) LogClaimsRecorded(subject, claimsID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClaimsRecorded,
		Subject:   subject,
		TokenID:   claimsID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogClaimsRedeemed logs a successful redemption.
func (a *Auditor) LogClaimsRedeemed(subject, claimsID, sessionID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClaimsRedeemed,
		Subject:   subject,
		TokenID:   claimsID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"session_id": sessionID,
		},
	})
}

// LogConsumptionConflict logs a failed consumption attempt. tokenKind is
// "challenge" or "claims".
func (a *Auditor) LogConsumptionConflict(tokenKind, tokenID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventConsumptionConflict,
		TokenID:   tokenID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_kind": tokenKind,
		},
	})
}

// LogAuthFailure logs a machine client authentication failure.
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
