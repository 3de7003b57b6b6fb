package principal

import (
	"testing"
	"time"
)

func testPrincipal(t *testing.T) SessionPrincipal {
	t.Helper()

	birthdate := time.Date(1985, time.December, 1, 0, 0, 0, 0, time.UTC)
	updatedAt := time.Date(2022, time.June, 6, 10, 9, 36, 0, time.UTC)
	return New("u1", ProfileAttributes{
		Birthdate:           timePtr(birthdate),
		Email:               strPtr("u1@example.com"),
		EmailVerified:       boolPtr(true),
		FamilyName:          strPtr("One"),
		GivenName:           strPtr("Uno"),
		Locale:              strPtr("id-ID"),
		Name:                strPtr("Uno One"),
		PhoneNumber:         strPtr("+62-21-555-0100"),
		PhoneNumberVerified: boolPtr(false),
		PreferredUsername:   strPtr("uno"),
		UpdatedAt:           timePtr(updatedAt),
		Website:             strPtr("https://blog.example/u1"),
		Zoneinfo:            strPtr("Asia/Jakarta"),
	}, time.Now())
}

func TestUserinfo_NoScopes(t *testing.T) {
	p := testPrincipal(t)

	claims := Userinfo(p, nil, "https://auth.example.com")

	if len(claims) != 2 {
		t.Fatalf("Userinfo() = %v, want only sub and iss", claims)
	}
	if claims[ClaimSubject] != "u1" {
		t.Errorf("sub = %v, want %q", claims[ClaimSubject], "u1")
	}
	if claims[ClaimIssuer] != "https://auth.example.com" {
		t.Errorf("iss = %v, want issuer", claims[ClaimIssuer])
	}
}

func TestUserinfo_NoIssuerConfigured(t *testing.T) {
	claims := Userinfo(testPrincipal(t), nil, "")

	if _, ok := claims[ClaimIssuer]; ok {
		t.Error("Userinfo() emitted iss with no issuer configured")
	}
	if len(claims) != 1 {
		t.Errorf("Userinfo() = %v, want only sub", claims)
	}
}

func TestUserinfo_ProfileScope(t *testing.T) {
	claims := Userinfo(testPrincipal(t), []string{ScopeProfile}, "")

	for _, name := range []string{
		ClaimGivenName, ClaimFamilyName, ClaimName, ClaimLocale,
		ClaimZoneinfo, ClaimBirthdate, ClaimPreferredUsername, ClaimWebsite,
	} {
		if _, ok := claims[name]; !ok {
			t.Errorf("Userinfo() missing %q under profile scope", name)
		}
	}
	if got, ok := claims[ClaimUpdatedAt].(int64); !ok || got == 0 {
		t.Errorf("updated_at = %v, want non-zero Unix seconds", claims[ClaimUpdatedAt])
	}

	// Email and phone stay gated behind their own scopes.
	if _, ok := claims[ClaimEmail]; ok {
		t.Error("Userinfo() leaked email under profile scope")
	}
	if _, ok := claims[ClaimPhoneNumber]; ok {
		t.Error("Userinfo() leaked phone_number under profile scope")
	}
}

func TestUserinfo_ProfileScopeDefaultsUpdatedAt(t *testing.T) {
	p := New("u2", ProfileAttributes{Name: strPtr("Two")}, time.Now())

	claims := Userinfo(p, []string{ScopeProfile}, "")

	if got, ok := claims[ClaimUpdatedAt].(int64); !ok || got != 0 {
		t.Errorf("updated_at = %v, want default 0", claims[ClaimUpdatedAt])
	}
}

func TestUserinfo_EmailScope(t *testing.T) {
	claims := Userinfo(testPrincipal(t), []string{ScopeEmail}, "")

	if claims[ClaimEmail] != "u1@example.com" {
		t.Errorf("email = %v, want %q", claims[ClaimEmail], "u1@example.com")
	}
	if claims[ClaimEmailVerified] != true {
		t.Errorf("email_verified = %v, want true", claims[ClaimEmailVerified])
	}
}

func TestUserinfo_EmailScopeDefaultsVerified(t *testing.T) {
	p := New("u3", ProfileAttributes{Email: strPtr("u3@example.com")}, time.Now())

	claims := Userinfo(p, []string{ScopeEmail}, "")

	if claims[ClaimEmailVerified] != false {
		t.Errorf("email_verified = %v, want default false", claims[ClaimEmailVerified])
	}
}

func TestUserinfo_PhoneScope(t *testing.T) {
	claims := Userinfo(testPrincipal(t), []string{ScopePhone}, "")

	if claims[ClaimPhoneNumber] != "+62-21-555-0100" {
		t.Errorf("phone_number = %v, want stored number", claims[ClaimPhoneNumber])
	}
	if claims[ClaimPhoneNumberVerified] != false {
		t.Errorf("phone_number_verified = %v, want false", claims[ClaimPhoneNumberVerified])
	}
}

func TestUserinfo_AddressScopeReserved(t *testing.T) {
	addr := "Jl. Jend. Sudirman No.Kav 52-53"
	p := New("u4", ProfileAttributes{Address: &addr}, time.Now())

	claims := Userinfo(p, []string{ScopeAddress}, "")

	if _, ok := claims[ClaimAddress]; ok {
		t.Error("Userinfo() populated reserved address claim")
	}
}
