package authgateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/accelist/authgateway/instrumentation"
	"github.com/accelist/authgateway/principal"
	"github.com/accelist/authgateway/security"
	"github.com/accelist/authgateway/server"
	"github.com/accelist/authgateway/storage"
)

// Gateway endpoint paths. The redeem endpoint is registered at
// Config.RedeemPath, which defaults to PathAuthenticate.
const (
	PathSignIn       = "/connect/signin"
	PathSignOut      = "/connect/signout"
	PathLogin        = "/api/login"
	PathAuthenticate = "/authenticate"
)

// SessionCookieName is the cookie carrying the opaque session ID.
const SessionCookieName = "authgateway_session"

// maxLoginBodySize bounds the claims recording request body.
const maxLoginBodySize = 1 << 20 // 1 MiB

// Handler exposes the handoff flow over HTTP.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates an HTTP handler for the gateway server
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes registers the gateway endpoints on mux and returns a handler
// with request ID propagation and HTTP metrics applied.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) http.Handler {
	mux.HandleFunc(PathSignIn, h.HandleSignIn)
	mux.HandleFunc(PathSignOut, h.HandleSignOut)
	mux.HandleFunc(PathLogin, h.HandleLogin)
	mux.HandleFunc(h.server.Config.RedeemPath, h.HandleAuthenticate)
	return security.RequestIDMiddleware(h.metricsMiddleware(mux))
}

// metricsMiddleware records request counts and latencies per endpoint. A no-op
// when instrumentation is not configured.
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	if h.server.Instrumentation == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		if m := h.server.Instrumentation.Metrics(); m != nil {
			m.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, recorder.status,
				float64(time.Since(start).Milliseconds()))
		}
	})
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// loginRequest is the JSON body of the claims recording API. Field names
// follow the wire contract used by login UI backends; absent attributes stay
// nil and are omitted from the session principal.
type loginRequest struct {
	Subject             string  `json:"subject"`
	RememberMe          bool    `json:"rememberMe"`
	Address             *string `json:"address,omitempty"`
	Birthdate           *string `json:"birthdate,omitempty"`
	Email               *string `json:"email,omitempty"`
	EmailVerified       *bool   `json:"emailVerified,omitempty"`
	FamilyName          *string `json:"familyName,omitempty"`
	Gender              *string `json:"gender,omitempty"`
	GivenName           *string `json:"givenName,omitempty"`
	Locale              *string `json:"locale,omitempty"`
	MiddleName          *string `json:"middleName,omitempty"`
	Name                *string `json:"name,omitempty"`
	Nickname            *string `json:"nickname,omitempty"`
	PhoneNumber         *string `json:"phoneNumber,omitempty"`
	PhoneNumberVerified *bool   `json:"phoneNumberVerified,omitempty"`
	Picture             *string `json:"picture,omitempty"`
	PreferredUsername   *string `json:"preferredUsername,omitempty"`
	Profile             *string `json:"profile,omitempty"`
	UpdatedAt           *int64  `json:"updatedAt,omitempty"`
	Website             *string `json:"website,omitempty"`
	ZoneInfo            *string `json:"zoneInfo,omitempty"`
}

// attributes converts the wire representation into profile attributes.
// Birthdate arrives as an ISO-8601 date and updatedAt as Unix seconds.
func (req *loginRequest) attributes() (principal.ProfileAttributes, *GatewayError) {
	attrs := principal.ProfileAttributes{
		Address:             req.Address,
		Email:               req.Email,
		EmailVerified:       req.EmailVerified,
		FamilyName:          req.FamilyName,
		Gender:              req.Gender,
		GivenName:           req.GivenName,
		Locale:              req.Locale,
		MiddleName:          req.MiddleName,
		Name:                req.Name,
		Nickname:            req.Nickname,
		PhoneNumber:         req.PhoneNumber,
		PhoneNumberVerified: req.PhoneNumberVerified,
		Picture:             req.Picture,
		PreferredUsername:   req.PreferredUsername,
		Profile:             req.Profile,
		Website:             req.Website,
		Zoneinfo:            req.ZoneInfo,
	}

	if req.Birthdate != nil {
		parsed, err := time.Parse("2006-01-02", *req.Birthdate)
		if err != nil {
			return attrs, ErrValidation("birthdate", "must be an ISO-8601 date (YYYY-MM-DD)")
		}
		attrs.Birthdate = &parsed
	}
	if req.UpdatedAt != nil {
		updatedAt := time.Unix(*req.UpdatedAt, 0).UTC()
		attrs.UpdatedAt = &updatedAt
	}

	return attrs, nil
}

// HandleSignIn issues a login challenge and redirects the user's browser to
// the external login page.
//
//	GET /connect/signin?returnUrl=<url>
func (h *Handler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "gateway.http.signin")
	defer h.endSpan(span)

	if r.Method != http.MethodGet {
		h.writeError(w, NewGatewayError(ErrorCodeValidationError, "Method not allowed", http.StatusMethodNotAllowed))
		return
	}

	clientIP := h.clientIP(r)
	if h.rateLimited(w, clientIP) {
		return
	}

	_, redirect, err := h.server.IssueChallenge(ctx, r.URL.Query().Get("returnUrl"), clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, h.mapFlowError(err, "returnUrl"))
		return
	}
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// HandleLogin records login claims against a challenge on behalf of an
// authenticated login UI backend.
//
//	POST /api/login?login_challenge=<id>
//
// The caller authenticates with HTTP Basic machine credentials holding the
// identity-management scope. On success the response body carries the
// redemption URL the user's browser should be sent to.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "gateway.http.login")
	defer h.endSpan(span)

	if r.Method != http.MethodPost {
		h.writeError(w, NewGatewayError(ErrorCodeValidationError, "Method not allowed", http.StatusMethodNotAllowed))
		return
	}

	clientIP := h.clientIP(r)
	if h.rateLimited(w, clientIP) {
		return
	}

	clientID, clientSecret, _ := r.BasicAuth()
	client, err := h.server.AuthenticateMachineClient(ctx, clientID, clientSecret, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, h.mapFlowError(err, ""))
		return
	}

	challengeID := r.URL.Query().Get(server.QueryParamChallenge)
	if challengeID == "" {
		h.writeError(w, ErrValidation(server.QueryParamChallenge, "login_challenge query parameter is required"))
		return
	}

	var req loginRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodySize))
	if err := decoder.Decode(&req); err != nil {
		h.writeError(w, ErrValidation("body", "request body must be a valid JSON object"))
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		h.writeError(w, ErrValidation("subject", "subject is required"))
		return
	}

	attrs, gerr := req.attributes()
	if gerr != nil {
		h.writeError(w, gerr)
		return
	}

	instrumentation.AddHandoffAttributes(span, "challenge", req.RememberMe)
	_, redirect, err := h.server.RecordClaims(ctx, server.RecordClaimsRequest{
		ChallengeID: challengeID,
		Subject:     req.Subject,
		RememberMe:  req.RememberMe,
		Attributes:  attrs,
		ClientID:    client.ClientID,
		ClientIP:    clientIP,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, h.mapFlowError(err, server.QueryParamChallenge))
		return
	}
	instrumentation.SetSpanSuccess(span)

	h.writeJSON(w, http.StatusOK, map[string]string{"redirectTo": redirect})
}

// HandleAuthenticate redeems login claims for a session, sets the session
// cookie, and redirects to the originating challenge's return URL.
//
//	GET /authenticate?login_claims=<id>
func (h *Handler) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "gateway.http.authenticate")
	defer h.endSpan(span)

	if r.Method != http.MethodGet {
		h.writeError(w, NewGatewayError(ErrorCodeValidationError, "Method not allowed", http.StatusMethodNotAllowed))
		return
	}

	clientIP := h.clientIP(r)
	if h.rateLimited(w, clientIP) {
		return
	}

	claimsID := r.URL.Query().Get(server.QueryParamClaims)
	if claimsID == "" {
		h.writeError(w, ErrValidation(server.QueryParamClaims, "login_claims query parameter is required"))
		return
	}

	result, err := h.server.Redeem(ctx, claimsID, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, h.mapFlowError(err, server.QueryParamClaims))
		return
	}
	instrumentation.AddHandoffAttributes(span, "claims", result.Persistent)
	instrumentation.SetSpanSuccess(span)

	http.SetCookie(w, h.sessionCookie(result))
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, result.ReturnURL, http.StatusFound)
}

// HandleSignOut deletes the session referenced by the session cookie and
// expires the cookie. Requests without a session cookie succeed without
// effect.
//
//	POST /connect/signout
func (h *Handler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "gateway.http.signout")
	defer h.endSpan(span)

	if r.Method != http.MethodPost {
		h.writeError(w, NewGatewayError(ErrorCodeValidationError, "Method not allowed", http.StatusMethodNotAllowed))
		return
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.server.SignOut(ctx, cookie.Value); err != nil {
			h.writeError(w, ErrServer("Failed to end session"))
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.cookiesSecure(),
	})
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusNoContent)
}

// SessionFromRequest resolves the session principal for a request using the
// session cookie. Returns storage.ErrNotFound when no valid session exists.
func (h *Handler) SessionFromRequest(r *http.Request) (*storage.Session, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, storage.ErrNotFound
	}
	return h.server.GetSession(r.Context(), cookie.Value)
}

// sessionCookie builds the session cookie for a redemption result. Persistent
// sessions get a Max-Age spanning the server-side lifetime; session-scoped
// ones omit it so the cookie dies with the browser.
func (h *Handler) sessionCookie(result *server.RedeemResult) *http.Cookie {
	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    result.Session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.cookiesSecure(),
	}
	if result.Persistent {
		cookie.MaxAge = int(time.Until(result.Session.ExpiresAt).Seconds())
	}
	return cookie
}

func (h *Handler) cookiesSecure() bool {
	parsed, err := url.Parse(h.server.Config.Issuer)
	return err == nil && parsed.Scheme == "https"
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// rateLimited applies the per-IP limiter and writes the 429 response when the
// request is over its rate.
func (h *Handler) rateLimited(w http.ResponseWriter, clientIP string) bool {
	if h.server.RateLimiter == nil {
		return false
	}
	if h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP)
	}
	if h.server.Instrumentation != nil {
		if m := h.server.Instrumentation.Metrics(); m != nil {
			m.RecordRateLimitExceeded(context.Background(), "ip")
		}
	}
	h.writeError(w, NewGatewayError(ErrorCodeRateLimitExceeded,
		"Rate limit exceeded. Please try again later.", http.StatusTooManyRequests))
	return true
}

// mapFlowError translates flow and storage errors into wire-level gateway
// errors. Consumption failures surface as the same validation error whether
// the token was replayed, expired, or never existed.
func (h *Handler) mapFlowError(err error, field string) *GatewayError {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr
	}

	var unsupported *principal.UnsupportedGrantTypeError
	switch {
	case errors.Is(err, storage.ErrNotConsumable):
		switch field {
		case server.QueryParamClaims:
			return ErrValidation(field, "invalid login claims")
		default:
			return ErrValidation(server.QueryParamChallenge, "invalid login challenge")
		}
	case errors.Is(err, server.ErrLoginPageNotConfigured):
		return ErrConfiguration("Login page URI is not configured")
	case errors.Is(err, server.ErrInvalidCredentials):
		return ErrAuthorization("Client authentication failed", http.StatusUnauthorized)
	case errors.Is(err, server.ErrInsufficientScope):
		return ErrAuthorization("Client lacks the identity-management scope", http.StatusForbidden)
	case errors.As(err, &unsupported):
		return ErrUnsupportedOperation(unsupported.Error())
	default:
		h.logger.Error("Gateway operation failed", "error", err)
		return ErrServer("Internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, gerr *GatewayError) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if gerr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="authgateway"`)
	}

	body := map[string]string{
		"error":             gerr.Code,
		"error_description": gerr.Description,
	}
	if gerr.Field != "" {
		body["field"] = gerr.Field
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gerr.Status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return r.Context(), nil
	}
	return h.tracer.Start(r.Context(), name)
}

func (h *Handler) endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}
