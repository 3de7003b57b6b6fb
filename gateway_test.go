package authgateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/accelist/authgateway/principal"
	"github.com/accelist/authgateway/server"
	"github.com/accelist/authgateway/storage"
	"github.com/accelist/authgateway/storage/memory"
)

func TestNew_RequiresStores(t *testing.T) {
	store := memory.NewWithInterval(0)
	t.Cleanup(store.Stop)

	if _, err := New(nil, store, store, store, Config{}); err == nil {
		t.Error("New() with nil challenge store succeeded")
	}
	if _, err := New(store, store, store, nil, Config{}); err == nil {
		t.Error("New() with nil client store succeeded")
	}
}

func TestGateway_Destinations(t *testing.T) {
	gateway, _ := newTestGateway(t, nil)

	dests, err := gateway.Destinations(principal.ClaimEmail,
		[]string{principal.ScopeOpenID, principal.ScopeEmail}, principal.GrantTypeAuthorizationCode)
	if err != nil {
		t.Fatalf("Destinations() error = %v", err)
	}
	want := []principal.Destination{principal.DestinationAccessToken, principal.DestinationIdentityToken}
	if len(dests) != len(want) {
		t.Fatalf("Destinations() = %v, want %v", dests, want)
	}
	for i := range want {
		if dests[i] != want[i] {
			t.Errorf("Destinations()[%d] = %q, want %q", i, dests[i], want[i])
		}
	}
}

func TestGateway_Destinations_UnsupportedGrant(t *testing.T) {
	gateway, _ := newTestGateway(t, nil)

	_, err := gateway.Destinations(principal.ClaimEmail, nil, principal.GrantType("device_code"))
	if err == nil {
		t.Fatal("Destinations() with unknown grant succeeded")
	}

	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("Destinations() error = %T, want *GatewayError", err)
	}
	if gerr.Code != ErrorCodeUnsupportedOperation {
		t.Errorf("error code = %q, want %q", gerr.Code, ErrorCodeUnsupportedOperation)
	}
}

func TestGateway_Userinfo_UnknownSession(t *testing.T) {
	gateway, _ := newTestGateway(t, nil)

	_, err := gateway.Userinfo(context.Background(), "no-such-session", []string{principal.ScopeOpenID})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Userinfo() error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestGateway_ServerAccessor(t *testing.T) {
	gateway, _ := newTestGateway(t, nil)

	if gateway.Server() == nil {
		t.Fatal("Server() = nil")
	}
	if gateway.Server().Config.RedeemPath != "/authenticate" {
		t.Error("server config defaults were not applied")
	}
}

func TestGateway_CloseStopsComponents(t *testing.T) {
	store := memory.NewWithInterval(0)
	defer store.Stop()

	gateway, err := New(store, store, store, store, Config{
		Server: server.Config{
			Issuer:       "http://localhost:8080",
			LoginPageURI: "http://login.example.com/signin",
		},
		RateLimit: RateLimitConfig{Rate: 10, Burst: 10},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	gateway.Close()
}
