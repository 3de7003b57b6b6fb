// Package storage defines interfaces for persisting login challenges, login
// claims, sessions, and machine clients. It supports in-memory and relational
// backend implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/accelist/authgateway/principal"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrNotConsumable indicates a challenge or claims record could not be
// consumed: it does not exist, has expired, or was already consumed. The three
// causes are deliberately indistinguishable so that callers cannot probe
// token state.
var ErrNotConsumable = errors.New("record is not consumable")

// LoginChallenge is a short-lived token representing a login in progress.
// It is created before the user authenticates and consumed exactly once when
// login claims are recorded against it.
type LoginChallenge struct {
	ID         string
	Valid      bool
	ValidUntil time.Time
	ReturnURL  string
	CreatedAt  time.Time
}

// LoginClaims is a short-lived token representing completed identity
// collection, pending redemption. ChallengeID references the originating
// challenge; a claims record belongs to exactly one challenge.
type LoginClaims struct {
	ID          string
	ChallengeID string
	Valid       bool
	ValidUntil  time.Time
	Subject     string
	RememberMe  bool
	Attributes  principal.ProfileAttributes
	CreatedAt   time.Time
}

// Session is a server-side session issued on redemption. Persistent sessions
// survive browser restarts; session-scoped ones are bound to the cookie
// lifetime but still expire server-side at ExpiresAt.
type Session struct {
	ID         string
	Principal  principal.SessionPrincipal
	Persistent bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// MachineClient is a trusted backend credential allowed to call the claims
// recording API. SecretHash is a bcrypt hash.
type MachineClient struct {
	ClientID   string
	SecretHash string
	Name       string
	Scopes     []string
	CreatedAt  time.Time
}

// HasScope reports whether the client was granted the named scope.
func (c *MachineClient) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ChallengeStore persists login challenges.
// All methods accept context.Context for tracing and cancellation.
type ChallengeStore interface {
	// SaveChallenge persists a new challenge.
	SaveChallenge(ctx context.Context, challenge *LoginChallenge) error

	// GetChallenge retrieves a challenge by ID regardless of validity.
	// Returns ErrNotFound when no such challenge exists.
	GetChallenge(ctx context.Context, id string) (*LoginChallenge, error)

	// AtomicConsumeChallenge marks the challenge invalid and returns it, but
	// only if it is still valid and unexpired at now. Returns ErrNotConsumable
	// otherwise. The check-and-invalidate MUST be a single atomic operation so
	// that exactly one of any number of concurrent consumers succeeds.
	AtomicConsumeChallenge(ctx context.Context, id string, now time.Time) (*LoginChallenge, error)
}

// ClaimsStore persists login claims records.
// All methods accept context.Context for tracing and cancellation.
type ClaimsStore interface {
	// SaveClaims persists a new claims record.
	SaveClaims(ctx context.Context, claims *LoginClaims) error

	// AtomicConsumeClaims marks the claims record invalid and returns it, but
	// only if it is still valid and unexpired at now. Returns ErrNotConsumable
	// otherwise. Subject to the same atomicity requirement as
	// AtomicConsumeChallenge: exactly one redemption per record.
	AtomicConsumeClaims(ctx context.Context, id string, now time.Time) (*LoginClaims, error)
}

// SessionStore persists session principals issued by redemption.
type SessionStore interface {
	SaveSession(ctx context.Context, session *Session) error

	// GetSession retrieves an unexpired session. Returns ErrNotFound when the
	// session does not exist or has expired.
	GetSession(ctx context.Context, id string) (*Session, error)

	DeleteSession(ctx context.Context, id string) error
}

// ClientStore manages machine client registrations for the claims API.
type ClientStore interface {
	SaveClient(ctx context.Context, client *MachineClient) error

	// GetClient retrieves a client by ID. Returns ErrNotFound when no such
	// client exists.
	GetClient(ctx context.Context, clientID string) (*MachineClient, error)

	// ValidateClientSecret checks a client's secret against its stored hash.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error
}

// Reaper is implemented by stores that can reclaim expired rows. Cleanup is a
// storage-hygiene optimization only; expiry is always enforced at consumption
// time.
type Reaper interface {
	// DeleteExpired removes challenges, claims, and sessions whose validity
	// window ended before now. Returns the number of rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Counter is implemented by stores that can report live record counts, used
// to feed storage size gauges. Implementations return 0 when a count cannot
// be determined.
type Counter interface {
	CountChallenges() int64
	CountClaims() int64
	CountSessions() int64
}
