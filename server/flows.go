package server

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/accelist/authgateway/principal"
	"github.com/accelist/authgateway/security"
	"github.com/accelist/authgateway/storage"
)

// QueryParamChallenge is the query parameter carrying a challenge ID to the
// login page.
const QueryParamChallenge = "login_challenge"

// QueryParamClaims is the query parameter carrying a claims ID to the redeem
// endpoint.
const QueryParamClaims = "login_claims"

// IssueChallenge creates a login challenge and returns the login page URL the
// user should be redirected to. returnURL is where the user lands after the
// whole handoff completes; an empty value defaults to "/".
func (s *Server) IssueChallenge(ctx context.Context, returnURL, clientIP string) (*storage.LoginChallenge, string, error) {
	if s.Config.LoginPageURI == "" {
		return nil, "", ErrLoginPageNotConfigured
	}
	if returnURL == "" {
		returnURL = "/"
	}

	now := time.Now()
	challenge := &storage.LoginChallenge{
		ID:         newTokenID(),
		Valid:      true,
		ValidUntil: now.Add(time.Duration(s.Config.ChallengeTTL) * time.Second),
		ReturnURL:  returnURL,
		CreatedAt:  now,
	}

	start := time.Now()
	err := s.challengeStore.SaveChallenge(ctx, challenge)
	s.recordStorageOp(ctx, "save_challenge", start, err)
	if err != nil {
		return nil, "", fmt.Errorf("failed to save login challenge: %w", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogChallengeIssued(challenge.ID, clientIP)
	}
	if m := s.metrics(); m != nil {
		m.RecordChallengeIssued(ctx)
	}
	s.Logger.Info("Login challenge issued",
		"challenge_id", challenge.ID,
		"valid_until", challenge.ValidUntil)

	return challenge, appendQueryParam(s.Config.LoginPageURI, QueryParamChallenge, challenge.ID), nil
}

// RecordClaimsRequest carries the parameters for recording login claims.
type RecordClaimsRequest struct {
	// ChallengeID is the login challenge being answered. Consumed by this
	// call; a challenge answers at most one request.
	ChallengeID string

	// Subject is the authenticated user's stable identifier. Required.
	Subject string

	// RememberMe requests a persistent session at redemption time.
	RememberMe bool

	// Attributes carries the user's profile attributes as verified by the
	// identity backend.
	Attributes principal.ProfileAttributes

	// ClientID identifies the machine client making the call, for auditing.
	ClientID string

	// ClientIP is the caller's IP address, for auditing.
	ClientIP string
}

// RecordClaims consumes a login challenge and records login claims against
// it. On success it returns the claims record and the relative URL the user's
// browser should be sent to for redemption.
//
// The challenge is consumed before the claims record is written. A challenge
// that cannot be consumed, whether replayed, expired, or unknown, fails with
// storage.ErrNotConsumable and nothing is persisted.
func (s *Server) RecordClaims(ctx context.Context, req RecordClaimsRequest) (*storage.LoginClaims, string, error) {
	if req.ChallengeID == "" {
		return nil, "", fmt.Errorf("challenge ID is required")
	}
	if req.Subject == "" {
		return nil, "", fmt.Errorf("subject is required")
	}

	now := time.Now()
	_, err := s.challengeStore.AtomicConsumeChallenge(ctx, req.ChallengeID, now)
	s.recordStorageOp(ctx, "consume_challenge", now, err)
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogConsumptionConflict("challenge", req.ChallengeID, req.ClientIP)
		}
		if m := s.metrics(); m != nil {
			m.RecordConsumptionConflict(ctx, "challenge")
		}
		s.Logger.Warn("Login challenge consumption failed",
			"challenge_id", req.ChallengeID,
			"error", err)
		return nil, "", err
	}

	claims := &storage.LoginClaims{
		ID:          newTokenID(),
		ChallengeID: req.ChallengeID,
		Valid:       true,
		ValidUntil:  now.Add(time.Duration(s.Config.ClaimsTTL) * time.Second),
		Subject:     req.Subject,
		RememberMe:  req.RememberMe,
		Attributes:  req.Attributes,
		CreatedAt:   now,
	}

	start := time.Now()
	err = s.claimsStore.SaveClaims(ctx, claims)
	s.recordStorageOp(ctx, "save_claims", start, err)
	if err != nil {
		return nil, "", fmt.Errorf("failed to save login claims: %w", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogClaimsRecorded(req.Subject, claims.ID, req.ClientID, req.ClientIP)
	}
	if m := s.metrics(); m != nil {
		m.RecordClaimsRecorded(ctx, req.ClientID)
	}
	s.Logger.Info("Login claims recorded",
		"claims_id", claims.ID,
		"challenge_id", req.ChallengeID,
		"remember_me", req.RememberMe)

	return claims, appendQueryParam(s.Config.RedeemPath, QueryParamClaims, claims.ID), nil
}

// RedeemResult is the outcome of a successful redemption.
type RedeemResult struct {
	// Session is the stored server-side session.
	Session *storage.Session

	// Principal is the session principal built from the recorded claims.
	Principal principal.SessionPrincipal

	// ReturnURL is where the user's browser should be redirected, taken from
	// the originating challenge.
	ReturnURL string

	// Persistent reports whether the session should outlive the browser
	// (remember-me).
	Persistent bool
}

// Redeem consumes a login claims record and establishes a session. Expired,
// replayed, and unknown claims IDs all fail with storage.ErrNotConsumable.
func (s *Server) Redeem(ctx context.Context, claimsID, clientIP string) (*RedeemResult, error) {
	if claimsID == "" {
		return nil, fmt.Errorf("claims ID is required")
	}

	now := time.Now()
	claims, err := s.claimsStore.AtomicConsumeClaims(ctx, claimsID, now)
	s.recordStorageOp(ctx, "consume_claims", now, err)
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogConsumptionConflict("claims", claimsID, clientIP)
		}
		if m := s.metrics(); m != nil {
			m.RecordConsumptionConflict(ctx, "claims")
		}
		s.Logger.Warn("Login claims consumption failed",
			"claims_id", claimsID,
			"error", err)
		return nil, err
	}

	// The challenge row is already consumed; it is read back only for the
	// return URL. A reaped challenge degrades to the root path.
	returnURL := "/"
	if challenge, err := s.challengeStore.GetChallenge(ctx, claims.ChallengeID); err == nil {
		returnURL = challenge.ReturnURL
	} else {
		s.Logger.Warn("Originating challenge not found during redemption",
			"claims_id", claims.ID,
			"challenge_id", claims.ChallengeID)
	}

	// auth_time is when the session was established, not when the login UI
	// recorded the claims.
	p := principal.New(claims.Subject, claims.Attributes, now)

	ttl := time.Duration(s.Config.SessionTTL) * time.Second
	if claims.RememberMe {
		ttl = time.Duration(s.Config.PersistentSessionTTL) * time.Second
	}
	session := &storage.Session{
		ID:         newTokenID(),
		Principal:  p,
		Persistent: claims.RememberMe,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	start := time.Now()
	if err := s.sessionStore.SaveSession(ctx, session); err != nil {
		s.recordStorageOp(ctx, "save_session", start, err)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.recordStorageOp(ctx, "save_session", start, nil)

	if s.Auditor != nil {
		s.Auditor.LogClaimsRedeemed(claims.Subject, claims.ID, session.ID, clientIP)
	}
	if m := s.metrics(); m != nil {
		m.RecordClaimsRedeemed(ctx)
	}
	s.Logger.Info("Login claims redeemed",
		"claims_id", claims.ID,
		"session_id", session.ID,
		"persistent", session.Persistent)

	return &RedeemResult{
		Session:    session,
		Principal:  p,
		ReturnURL:  returnURL,
		Persistent: claims.RememberMe,
	}, nil
}

// GetSession returns the unexpired session with the given ID.
func (s *Server) GetSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	return s.sessionStore.GetSession(ctx, sessionID)
}

// SignOut deletes a session. Deleting an unknown session is not an error.
func (s *Server) SignOut(ctx context.Context, sessionID string) error {
	if err := s.sessionStore.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:    security.EventSessionEnded,
			TokenID: sessionID,
		})
	}
	return nil
}

// recordStorageOp records duration and outcome of a storage call.
func (s *Server) recordStorageOp(ctx context.Context, operation string, start time.Time, err error) {
	m := s.metrics()
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Milliseconds()))
}

// appendQueryParam appends name=value to a URI, preserving any query the URI
// already carries.
func appendQueryParam(uri, name, value string) string {
	separator := "?"
	if parsed, err := url.Parse(uri); err == nil && parsed.RawQuery != "" {
		separator = "&"
	}
	return uri + separator + name + "=" + url.QueryEscape(value)
}
