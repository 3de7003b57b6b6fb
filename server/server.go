package server

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/accelist/authgateway/instrumentation"
	"github.com/accelist/authgateway/security"
	"github.com/accelist/authgateway/storage"
)

// Sentinel errors returned by flow operations. The root package maps these to
// wire-level error responses.
var (
	// ErrLoginPageNotConfigured is returned by IssueChallenge when no login
	// page URI is configured.
	ErrLoginPageNotConfigured = errors.New("login page URI is not configured")

	// ErrInvalidCredentials is returned when machine client authentication
	// fails. Unknown client IDs and wrong secrets produce the same error.
	ErrInvalidCredentials = errors.New("invalid client credentials")

	// ErrInsufficientScope is returned when an authenticated machine client
	// lacks the scope an operation requires.
	ErrInsufficientScope = errors.New("insufficient scope")
)

// Server coordinates the handoff flow using the storage backends.
type Server struct {
	challengeStore storage.ChallengeStore
	claimsStore    storage.ClaimsStore
	sessionStore   storage.SessionStore
	clientStore    storage.ClientStore

	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config
}

// New creates a new gateway server
func New(
	challengeStore storage.ChallengeStore,
	claimsStore storage.ClaimsStore,
	sessionStore storage.SessionStore,
	clientStore storage.ClientStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if challengeStore == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if claimsStore == nil {
		return nil, fmt.Errorf("claims store is required")
	}
	if sessionStore == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	return &Server{
		challengeStore: challengeStore,
		claimsStore:    claimsStore,
		sessionStore:   sessionStore,
		clientStore:    clientStore,
		Config:         config,
		Logger:         logger,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation sets the OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// metrics returns the metrics holder, or nil when instrumentation is unset.
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

// newTokenID generates a time-ordered unique token identifier. UUIDv7 keeps
// identifiers sortable by creation time, which helps relational backends.
// Falls back to UUIDv4 if the monotonic source fails.
func newTokenID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
