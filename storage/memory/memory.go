// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/accelist/authgateway/storage"
)

// DefaultCleanupInterval is how often the background reaper scans for
// expired records.
const DefaultCleanupInterval = time.Minute

// Store is an in-memory implementation of all storage interfaces.
// Consumption runs under the store lock, so the check-and-invalidate of a
// challenge or claims record is atomic with respect to concurrent consumers.
type Store struct {
	mu sync.RWMutex

	challenges map[string]*storage.LoginChallenge
	claims     map[string]*storage.LoginClaims
	sessions   map[string]*storage.Session
	clients    map[string]*storage.MachineClient

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ChallengeStore = (*Store)(nil)
	_ storage.ClaimsStore    = (*Store)(nil)
	_ storage.SessionStore   = (*Store)(nil)
	_ storage.ClientStore    = (*Store)(nil)
	_ storage.Reaper         = (*Store)(nil)
	_ storage.Counter        = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval.
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. An interval of 0 disables background cleanup; expiry is still
// enforced at consumption time.
func NewWithInterval(interval time.Duration) *Store {
	s := &Store{
		challenges:      make(map[string]*storage.LoginChallenge),
		claims:          make(map[string]*storage.LoginClaims),
		sessions:        make(map[string]*storage.Session),
		clients:         make(map[string]*storage.MachineClient),
		cleanupInterval: interval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	if interval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// SetLogger sets the logger used by the background reaper.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := s.DeleteExpired(context.Background(), time.Now())
			if err != nil {
				s.logger.Warn("Expired record cleanup failed", "error", err)
			} else if removed > 0 {
				s.logger.Debug("Removed expired records", "count", removed)
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// CountChallenges returns the number of stored challenges.
func (s *Store) CountChallenges() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.challenges))
}

// CountClaims returns the number of stored claims records.
func (s *Store) CountClaims() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.claims))
}

// CountSessions returns the number of stored sessions.
func (s *Store) CountSessions() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.sessions))
}

// SaveChallenge persists a new challenge.
func (s *Store) SaveChallenge(ctx context.Context, challenge *storage.LoginChallenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *challenge
	s.challenges[c.ID] = &c
	return nil
}

// GetChallenge retrieves a challenge by ID regardless of validity.
func (s *Store) GetChallenge(ctx context.Context, id string) (*storage.LoginChallenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	challenge, ok := s.challenges[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *challenge
	return &c, nil
}

// AtomicConsumeChallenge invalidates a consumable challenge and returns it.
// The entire check-and-invalidate runs under the write lock so exactly one
// concurrent consumer succeeds.
func (s *Store) AtomicConsumeChallenge(ctx context.Context, id string, now time.Time) (*storage.LoginChallenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[id]
	if !ok || !challenge.Valid || !now.Before(challenge.ValidUntil) {
		return nil, storage.ErrNotConsumable
	}

	challenge.Valid = false
	c := *challenge
	return &c, nil
}

// SaveClaims persists a new claims record.
func (s *Store) SaveClaims(ctx context.Context, claims *storage.LoginClaims) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *claims
	s.claims[c.ID] = &c
	return nil
}

// AtomicConsumeClaims invalidates a consumable claims record and returns it.
func (s *Store) AtomicConsumeClaims(ctx context.Context, id string, now time.Time) (*storage.LoginClaims, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	claims, ok := s.claims[id]
	if !ok || !claims.Valid || !now.Before(claims.ValidUntil) {
		return nil, storage.ErrNotConsumable
	}

	claims.Valid = false
	c := *claims
	return &c, nil
}

// SaveSession persists a session.
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := *session
	s.sessions[sess.ID] = &sess
	return nil
}

// GetSession retrieves an unexpired session.
func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || !time.Now().Before(session.ExpiresAt) {
		return nil, storage.ErrNotFound
	}
	sess := *session
	return &sess, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// SaveClient persists a machine client registration.
func (s *Store) SaveClient(ctx context.Context, client *storage.MachineClient) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	c.Scopes = append([]string(nil), client.Scopes...)
	s.clients[c.ClientID] = &c
	return nil
}

// GetClient retrieves a machine client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.MachineClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *client
	c.Scopes = append([]string(nil), client.Scopes...)
	return &c, nil
}

// ValidateClientSecret checks a client's secret against its bcrypt hash.
// bcrypt comparison is constant-time for equal-cost hashes, which avoids
// leaking secret prefixes through timing.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	return bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret))
}

// DeleteExpired removes challenges, claims, and sessions past their validity
// window. Hygiene only; consumption never depends on it.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, claims := range s.claims {
		if !now.Before(claims.ValidUntil) {
			delete(s.claims, id)
			removed++
		}
	}

	// Stored claims still resolve their challenge's return URL at
	// redemption, so a challenge stays until no claims record references it.
	referenced := make(map[string]struct{}, len(s.claims))
	for _, claims := range s.claims {
		referenced[claims.ChallengeID] = struct{}{}
	}
	for id, challenge := range s.challenges {
		if _, ok := referenced[id]; ok {
			continue
		}
		if !now.Before(challenge.ValidUntil) {
			delete(s.challenges, id)
			removed++
		}
	}
	for id, session := range s.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
