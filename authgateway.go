// Package authgateway implements the authentication handoff layer of an
// OAuth2/OIDC provider: it decouples credential collection, performed by an
// external login UI, from token issuance, performed by the protocol engine.
//
// The handoff runs through two single-use tokens. A login challenge is issued
// when an application sends the user to sign in; the login UI's backend
// records login claims against that challenge once credentials are verified;
// the user's browser then redeems the claims for a server-side session.
// Challenges and claims are consumed atomically, so replays and concurrent
// submissions resolve to exactly one winner.
//
// The protocol engine calls back into Destinations during token issuance and
// Userinfo when serving its userinfo endpoint; both are exposed here as
// methods on Gateway.
package authgateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/accelist/authgateway/instrumentation"
	"github.com/accelist/authgateway/principal"
	"github.com/accelist/authgateway/security"
	"github.com/accelist/authgateway/server"
	"github.com/accelist/authgateway/storage"
)

// Config holds the gateway configuration
type Config struct {
	// Server is the handoff flow configuration (login page URI, issuer,
	// token TTLs, proxy trust).
	Server server.Config

	// RateLimit is the per-IP rate limiting configuration
	RateLimit RateLimitConfig

	// AuditEnabled turns on security audit logging with hashed PII
	AuditEnabled bool

	// CleanupInterval is how often expired records are reaped when the
	// storage backend supports it. Zero disables the gateway-run reaper;
	// backends with their own cleanup loop are unaffected.
	CleanupInterval time.Duration

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Instrumentation enables OpenTelemetry metrics and tracing (optional)
	Instrumentation *instrumentation.Instrumentation
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int
}

// Gateway bundles the handoff server, its HTTP handler, and the ambient
// security components.
type Gateway struct {
	server  *server.Server
	handler *Handler
	logger  *slog.Logger

	rateLimiter *security.RateLimiter

	reaper     storage.Reaper
	stopReaper chan struct{}
}

// New creates a gateway from storage backends and configuration. A single
// store value may serve several of the storage parameters; the memory and
// sqlite backends implement all of them.
func New(
	challengeStore storage.ChallengeStore,
	claimsStore storage.ClaimsStore,
	sessionStore storage.SessionStore,
	clientStore storage.ClientStore,
	config Config,
) (*Gateway, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv, err := server.New(challengeStore, claimsStore, sessionStore, clientStore, &config.Server, logger)
	if err != nil {
		return nil, err
	}

	auditor := security.NewAuditor(logger, config.AuditEnabled)
	srv.SetAuditor(auditor)
	if config.Instrumentation != nil {
		srv.SetInstrumentation(config.Instrumentation)
		if m := config.Instrumentation.Metrics(); m != nil {
			auditor.SetEventHook(func(eventType string) {
				m.RecordAuditEvent(context.Background(), eventType)
			})
		}
		if counter, ok := challengeStore.(storage.Counter); ok {
			err := config.Instrumentation.RegisterStorageSizeCallbacks(
				counter.CountChallenges, counter.CountClaims, counter.CountSessions)
			if err != nil {
				logger.Warn("Failed to register storage size gauges", "error", err)
			}
		}
	}

	g := &Gateway{
		server:     srv,
		logger:     logger,
		stopReaper: make(chan struct{}),
	}

	if config.RateLimit.Rate > 0 {
		g.rateLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger)
		srv.SetRateLimiter(g.rateLimiter)
	}

	if reaper, ok := challengeStore.(storage.Reaper); ok && config.CleanupInterval > 0 {
		g.reaper = reaper
		go g.reapLoop(config.CleanupInterval)
	}

	g.handler = NewHandler(srv, logger)
	return g, nil
}

// Server returns the underlying handoff server.
func (g *Gateway) Server() *server.Server {
	return g.server
}

// Handler returns the HTTP handler with the gateway routes registered.
func (g *Gateway) Handler() *Handler {
	return g.handler
}

// Close stops background components. The storage backends are not closed;
// they belong to the caller.
func (g *Gateway) Close() {
	if g.rateLimiter != nil {
		g.rateLimiter.Stop()
	}
	if g.reaper != nil {
		close(g.stopReaper)
	}
}

func (g *Gateway) reapLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := g.reaper.DeleteExpired(context.Background(), time.Now())
			if err != nil {
				g.logger.Warn("Expired record cleanup failed", "error", err)
			} else if removed > 0 {
				g.logger.Debug("Removed expired records", "count", removed)
			}
		case <-g.stopReaper:
			return
		}
	}
}

// Destinations reports which token kinds a claim is embedded into for the
// given scopes and grant type. The protocol engine calls this for every claim
// on the session principal during token issuance. An unrecognized grant type
// returns a GatewayError with code unsupported_operation.
func (g *Gateway) Destinations(claim string, scopes []string, grant principal.GrantType) ([]principal.Destination, error) {
	destinations, err := principal.Destinations(claim, scopes, grant)
	if err != nil {
		return nil, ErrUnsupportedOperation(err.Error())
	}
	return destinations, nil
}

// Userinfo assembles the scope-gated userinfo document for a session. The
// protocol engine calls this when serving its userinfo endpoint. Unknown or
// expired sessions return storage.ErrNotFound.
func (g *Gateway) Userinfo(ctx context.Context, sessionID string, scopes []string) (map[string]any, error) {
	session, err := g.server.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return principal.Userinfo(session.Principal, scopes, g.server.Config.Issuer), nil
}
