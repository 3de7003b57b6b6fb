package security

// Event type constants for security audit logging.
const (
	// Handoff lifecycle events

	// EventChallengeIssued is logged when a login challenge is created
	EventChallengeIssued = "challenge_issued"

	// EventClaimsRecorded is logged when login claims are recorded against a challenge
	EventClaimsRecorded = "claims_recorded"

	// EventClaimsRedeemed is logged when login claims are redeemed for a session
	EventClaimsRedeemed = "claims_redeemed"

	// EventSessionCreated is logged when a session principal is established
	EventSessionCreated = "session_created"

	// EventSessionEnded is logged when a session is deleted on sign-out
	EventSessionEnded = "session_ended"

	// Security violation events

	// EventConsumptionConflict is logged when a challenge or claims record fails
	// to consume. Covers replay, expiry, and unknown IDs alike; the audit trail
	// keeps them distinct even though callers cannot tell them apart.
	EventConsumptionConflict = "consumption_conflict"

	// EventAuthFailure is logged when machine client authentication fails
	EventAuthFailure = "auth_failure"

	// EventInsufficientScope is logged when an authenticated client lacks the
	// scope required for an operation
	EventInsufficientScope = "insufficient_scope"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
