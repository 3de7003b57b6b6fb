package authgateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/accelist/authgateway/principal"
	"github.com/accelist/authgateway/server"
	"github.com/accelist/authgateway/storage"
	"github.com/accelist/authgateway/storage/memory"
)

const (
	testClientID     = "login-ui"
	testClientSecret = "s3cret-login-ui"
)

func newTestGateway(t *testing.T, mutate func(*Config)) (*Gateway, http.Handler) {
	t.Helper()

	store := memory.NewWithInterval(0)
	t.Cleanup(store.Stop)

	hash, err := bcrypt.GenerateFromPassword([]byte(testClientSecret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword() error = %v", err)
	}
	err = store.SaveClient(context.Background(), &storage.MachineClient{
		ClientID:   testClientID,
		SecretHash: string(hash),
		Name:       "Login UI Backend",
		Scopes:     []string{principal.ScopeIdentityManagement},
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	config := Config{
		Server: server.Config{
			Issuer:       "http://localhost:8080",
			LoginPageURI: "http://login.example.com/signin",
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&config)
	}

	gateway, err := New(store, store, store, store, config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(gateway.Close)

	return gateway, gateway.Handler().RegisterRoutes(http.NewServeMux())
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Field       string `json:"field"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body
}

// issueChallenge drives the signin endpoint and returns the challenge ID from
// the login page redirect.
func issueChallenge(t *testing.T, handler http.Handler, returnURL string) string {
	t.Helper()

	target := PathSignIn
	if returnURL != "" {
		target += "?returnUrl=" + url.QueryEscape(returnURL)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("signin status = %d, want %d", rec.Code, http.StatusFound)
	}
	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing signin redirect: %v", err)
	}
	challengeID := location.Query().Get(server.QueryParamChallenge)
	if challengeID == "" {
		t.Fatalf("signin redirect %q carries no challenge", location)
	}
	return challengeID
}

// recordClaims drives the login API and returns the redemption URL.
func recordClaims(t *testing.T, handler http.Handler, challengeID, body string) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost,
		PathLogin+"?"+server.QueryParamChallenge+"="+challengeID, strings.NewReader(body))
	req.SetBasicAuth(testClientID, testClientSecret)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		RedirectTo string `json:"redirectTo"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	if resp.RedirectTo == "" {
		t.Fatal("login response carries no redirectTo")
	}
	return resp.RedirectTo
}

func sessionCookieFrom(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookieName {
			return cookie
		}
	}
	return nil
}

func TestHandoffFlow(t *testing.T) {
	gateway, handler := newTestGateway(t, nil)

	challengeID := issueChallenge(t, handler, "/dashboard")
	redeemURL := recordClaims(t, handler, challengeID,
		`{"subject":"user-1","rememberMe":true,"email":"user@example.com","emailVerified":true,"name":"User One"}`)

	if !strings.HasPrefix(redeemURL, PathAuthenticate+"?"+server.QueryParamClaims+"=") {
		t.Fatalf("redirectTo = %q, want redemption URL", redeemURL)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, redeemURL, nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("authenticate status = %d, body %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Location"); got != "/dashboard" {
		t.Errorf("authenticate redirect = %q, want %q", got, "/dashboard")
	}

	cookie := sessionCookieFrom(rec)
	if cookie == nil {
		t.Fatal("authenticate response carries no session cookie")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}
	if cookie.Secure {
		t.Error("session cookie is Secure on an http issuer")
	}
	if cookie.MaxAge <= 0 {
		t.Errorf("persistent session cookie MaxAge = %d, want > 0", cookie.MaxAge)
	}

	userinfo, err := gateway.Userinfo(context.Background(), cookie.Value,
		[]string{principal.ScopeOpenID, principal.ScopeEmail})
	if err != nil {
		t.Fatalf("Userinfo() error = %v", err)
	}
	if got := userinfo["sub"]; got != "user-1" {
		t.Errorf("userinfo sub = %v, want %q", got, "user-1")
	}
	if got := userinfo["email"]; got != "user@example.com" {
		t.Errorf("userinfo email = %v, want %q", got, "user@example.com")
	}
}

func TestHandleAuthenticate_SingleUse(t *testing.T) {
	_, handler := newTestGateway(t, nil)

	challengeID := issueChallenge(t, handler, "/app")
	redeemURL := recordClaims(t, handler, challengeID, `{"subject":"user-2"}`)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, redeemURL, nil))
	if first.Code != http.StatusFound {
		t.Fatalf("first redemption status = %d, want %d", first.Code, http.StatusFound)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, redeemURL, nil))
	if second.Code != http.StatusBadRequest {
		t.Fatalf("second redemption status = %d, want %d", second.Code, http.StatusBadRequest)
	}
	if cookie := sessionCookieFrom(second); cookie != nil {
		t.Error("second redemption issued a session cookie")
	}
	body := decodeError(t, second)
	if body.Error != ErrorCodeValidationError || body.Field != server.QueryParamClaims {
		t.Errorf("second redemption error = %+v, want validation_error on login_claims", body)
	}
}

func TestHandleAuthenticate_NonPersistentCookie(t *testing.T) {
	_, handler := newTestGateway(t, nil)

	challengeID := issueChallenge(t, handler, "")
	redeemURL := recordClaims(t, handler, challengeID, `{"subject":"user-3","rememberMe":false}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, redeemURL, nil))

	if got := rec.Header().Get("Location"); got != "/" {
		t.Errorf("default redirect = %q, want %q", got, "/")
	}
	cookie := sessionCookieFrom(rec)
	if cookie == nil {
		t.Fatal("no session cookie issued")
	}
	if cookie.MaxAge != 0 {
		t.Errorf("session-scoped cookie MaxAge = %d, want 0", cookie.MaxAge)
	}
}

func TestHandleLogin_Authentication(t *testing.T) {
	_, handler := newTestGateway(t, nil)
	challengeID := issueChallenge(t, handler, "/app")

	tests := []struct {
		name       string
		clientID   string
		secret     string
		wantStatus int
	}{
		{name: "wrong secret", clientID: testClientID, secret: "wrong", wantStatus: http.StatusUnauthorized},
		{name: "unknown client", clientID: "nobody", secret: "wrong", wantStatus: http.StatusUnauthorized},
		{name: "missing credentials", clientID: "", secret: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost,
				PathLogin+"?"+server.QueryParamChallenge+"="+challengeID,
				strings.NewReader(`{"subject":"user-1"}`))
			if tt.clientID != "" {
				req.SetBasicAuth(tt.clientID, tt.secret)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Basic") {
				t.Errorf("WWW-Authenticate = %q, want Basic challenge", got)
			}
			if body := decodeError(t, rec); body.Error != ErrorCodeAuthorizationError {
				t.Errorf("error code = %q, want %q", body.Error, ErrorCodeAuthorizationError)
			}
		})
	}
}

func TestHandleLogin_InsufficientScope(t *testing.T) {
	store := memory.NewWithInterval(0)
	t.Cleanup(store.Stop)

	hash, err := bcrypt.GenerateFromPassword([]byte("other-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword() error = %v", err)
	}
	err = store.SaveClient(context.Background(), &storage.MachineClient{
		ClientID:   "metrics-scraper",
		SecretHash: string(hash),
		Scopes:     []string{"metrics:read"},
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	gateway, err := New(store, store, store, store, Config{
		Server: server.Config{
			Issuer:       "http://localhost:8080",
			LoginPageURI: "http://login.example.com/signin",
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(gateway.Close)
	handler := gateway.Handler().RegisterRoutes(http.NewServeMux())

	challengeID := issueChallenge(t, handler, "/app")

	req := httptest.NewRequest(http.MethodPost,
		PathLogin+"?"+server.QueryParamChallenge+"="+challengeID,
		strings.NewReader(`{"subject":"user-1"}`))
	req.SetBasicAuth("metrics-scraper", "other-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if body := decodeError(t, rec); body.Error != ErrorCodeAuthorizationError {
		t.Errorf("error code = %q, want %q", body.Error, ErrorCodeAuthorizationError)
	}
}

func TestHandleLogin_Validation(t *testing.T) {
	_, handler := newTestGateway(t, nil)

	tests := []struct {
		name      string
		target    string
		body      string
		wantField string
	}{
		{
			name:      "missing challenge parameter",
			target:    PathLogin,
			body:      `{"subject":"user-1"}`,
			wantField: server.QueryParamChallenge,
		},
		{
			name:      "malformed body",
			target:    PathLogin + "?" + server.QueryParamChallenge + "=whatever",
			body:      `{"subject":`,
			wantField: "body",
		},
		{
			name:      "missing subject",
			target:    PathLogin + "?" + server.QueryParamChallenge + "=whatever",
			body:      `{"rememberMe":true}`,
			wantField: "subject",
		},
		{
			name:      "malformed birthdate",
			target:    PathLogin + "?" + server.QueryParamChallenge + "=whatever",
			body:      `{"subject":"user-1","birthdate":"01/02/1990"}`,
			wantField: "birthdate",
		},
		{
			name:      "unknown challenge",
			target:    PathLogin + "?" + server.QueryParamChallenge + "=no-such-challenge",
			body:      `{"subject":"user-1"}`,
			wantField: server.QueryParamChallenge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			req.SetBasicAuth(testClientID, testClientSecret)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			body := decodeError(t, rec)
			if body.Error != ErrorCodeValidationError {
				t.Errorf("error code = %q, want %q", body.Error, ErrorCodeValidationError)
			}
			if body.Field != tt.wantField {
				t.Errorf("error field = %q, want %q", body.Field, tt.wantField)
			}
		})
	}
}

func TestHandleLogin_ChallengeSingleUse(t *testing.T) {
	_, handler := newTestGateway(t, nil)
	challengeID := issueChallenge(t, handler, "/app")

	recordClaims(t, handler, challengeID, `{"subject":"user-1"}`)

	req := httptest.NewRequest(http.MethodPost,
		PathLogin+"?"+server.QueryParamChallenge+"="+challengeID,
		strings.NewReader(`{"subject":"user-1"}`))
	req.SetBasicAuth(testClientID, testClientSecret)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replayed challenge status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, rec); body.Field != server.QueryParamChallenge {
		t.Errorf("error field = %q, want %q", body.Field, server.QueryParamChallenge)
	}
}

func TestHandleSignIn_LoginPageNotConfigured(t *testing.T) {
	_, handler := newTestGateway(t, func(config *Config) {
		config.Server.LoginPageURI = ""
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathSignIn, nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if body := decodeError(t, rec); body.Error != ErrorCodeConfigurationError {
		t.Errorf("error code = %q, want %q", body.Error, ErrorCodeConfigurationError)
	}
}

func TestHandleSignOut(t *testing.T) {
	gateway, handler := newTestGateway(t, nil)

	challengeID := issueChallenge(t, handler, "/app")
	redeemURL := recordClaims(t, handler, challengeID, `{"subject":"user-1"}`)

	redeemed := httptest.NewRecorder()
	handler.ServeHTTP(redeemed, httptest.NewRequest(http.MethodGet, redeemURL, nil))
	cookie := sessionCookieFrom(redeemed)
	if cookie == nil {
		t.Fatal("no session cookie issued")
	}

	req := httptest.NewRequest(http.MethodPost, PathSignOut, nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: cookie.Value})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("signout status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	cleared := sessionCookieFrom(rec)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Error("signout did not expire the session cookie")
	}

	if _, err := gateway.Server().GetSession(context.Background(), cookie.Value); err == nil {
		t.Error("session still resolvable after signout")
	}

	// Signout without a cookie succeeds without effect.
	bare := httptest.NewRecorder()
	handler.ServeHTTP(bare, httptest.NewRequest(http.MethodPost, PathSignOut, nil))
	if bare.Code != http.StatusNoContent {
		t.Errorf("cookieless signout status = %d, want %d", bare.Code, http.StatusNoContent)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, handler := newTestGateway(t, nil)

	tests := []struct {
		method string
		target string
	}{
		{method: http.MethodPost, target: PathSignIn},
		{method: http.MethodGet, target: PathLogin},
		{method: http.MethodPost, target: PathAuthenticate},
		{method: http.MethodGet, target: PathSignOut},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
			}
		})
	}
}

func TestRateLimiting(t *testing.T) {
	_, handler := newTestGateway(t, func(config *Config) {
		config.RateLimit = RateLimitConfig{Rate: 1, Burst: 1}
	})

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, PathSignIn, nil))
	if first.Code != http.StatusFound {
		t.Fatalf("first request status = %d, want %d", first.Code, http.StatusFound)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, PathSignIn, nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", second.Code, http.StatusTooManyRequests)
	}
	if body := decodeError(t, second); body.Error != ErrorCodeRateLimitExceeded {
		t.Errorf("error code = %q, want %q", body.Error, ErrorCodeRateLimitExceeded)
	}
}

func TestSecurityHeaders(t *testing.T) {
	_, handler := newTestGateway(t, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathSignIn, nil))

	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want %q", got, "DENY")
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
	if got := rec.Header().Get("X-Request-Id"); got == "" {
		t.Error("response carries no request ID")
	}
}

func TestSessionFromRequest(t *testing.T) {
	gateway, handler := newTestGateway(t, nil)

	challengeID := issueChallenge(t, handler, "/app")
	redeemURL := recordClaims(t, handler, challengeID, `{"subject":"user-9"}`)

	redeemed := httptest.NewRecorder()
	handler.ServeHTTP(redeemed, httptest.NewRequest(http.MethodGet, redeemURL, nil))
	cookie := sessionCookieFrom(redeemed)
	if cookie == nil {
		t.Fatal("no session cookie issued")
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: cookie.Value})
	session, err := gateway.Handler().SessionFromRequest(req)
	if err != nil {
		t.Fatalf("SessionFromRequest() error = %v", err)
	}
	if session.Principal.Subject != "user-9" {
		t.Errorf("session subject = %q, want %q", session.Principal.Subject, "user-9")
	}

	bare := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if _, err := gateway.Handler().SessionFromRequest(bare); err == nil {
		t.Error("SessionFromRequest() without cookie succeeded")
	}
}
