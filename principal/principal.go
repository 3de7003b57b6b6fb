package principal

import (
	"time"
)

// ProfileAttributes is the set of optional identity attributes collected by
// the external login UI. Nil fields were not supplied and are omitted from
// the resulting principal.
type ProfileAttributes struct {
	Address             *string
	Birthdate           *time.Time
	Email               *string
	EmailVerified       *bool
	FamilyName          *string
	Gender              *string
	GivenName           *string
	Locale              *string
	MiddleName          *string
	Name                *string
	Nickname            *string
	PhoneNumber         *string
	PhoneNumberVerified *bool
	Picture             *string
	PreferredUsername   *string
	Profile             *string
	UpdatedAt           *time.Time
	Website             *string
	Zoneinfo            *string
}

// SessionPrincipal is the authenticated identity materialized from a redeemed
// login claims record. Claims is keyed by standard OIDC claim name; values are
// strings except email_verified and phone_number_verified (bool) and
// updated_at (int64 Unix seconds).
type SessionPrincipal struct {
	Subject  string         `json:"sub"`
	AuthTime int64          `json:"auth_time"`
	Claims   map[string]any `json:"claims,omitempty"`
}

// New builds a session principal from collected profile attributes.
// AuthTime is recorded as Unix seconds; every non-nil attribute is mapped to
// its correspondingly named standard claim. Birthdate is rendered as an
// ISO-8601 calendar date and updated_at as Unix seconds.
func New(subject string, attrs ProfileAttributes, authTime time.Time) SessionPrincipal {
	claims := make(map[string]any)

	putString := func(name string, value *string) {
		if value != nil {
			claims[name] = *value
		}
	}

	putString(ClaimAddress, attrs.Address)
	if attrs.Birthdate != nil {
		claims[ClaimBirthdate] = attrs.Birthdate.UTC().Format("2006-01-02")
	}
	putString(ClaimEmail, attrs.Email)
	if attrs.EmailVerified != nil {
		claims[ClaimEmailVerified] = *attrs.EmailVerified
	}
	putString(ClaimFamilyName, attrs.FamilyName)
	putString(ClaimGender, attrs.Gender)
	putString(ClaimGivenName, attrs.GivenName)
	putString(ClaimLocale, attrs.Locale)
	putString(ClaimMiddleName, attrs.MiddleName)
	putString(ClaimName, attrs.Name)
	putString(ClaimNickname, attrs.Nickname)
	putString(ClaimPhoneNumber, attrs.PhoneNumber)
	if attrs.PhoneNumberVerified != nil {
		claims[ClaimPhoneNumberVerified] = *attrs.PhoneNumberVerified
	}
	putString(ClaimPicture, attrs.Picture)
	putString(ClaimPreferredUsername, attrs.PreferredUsername)
	putString(ClaimProfile, attrs.Profile)
	if attrs.UpdatedAt != nil {
		claims[ClaimUpdatedAt] = attrs.UpdatedAt.UTC().Unix()
	}
	putString(ClaimWebsite, attrs.Website)
	putString(ClaimZoneinfo, attrs.Zoneinfo)

	return SessionPrincipal{
		Subject:  subject,
		AuthTime: authTime.UTC().Unix(),
		Claims:   claims,
	}
}

// StringClaim returns the named claim as a string, or "" when absent or not
// a string.
func (p SessionPrincipal) StringClaim(name string) string {
	if name == ClaimSubject {
		return p.Subject
	}
	if v, ok := p.Claims[name].(string); ok {
		return v
	}
	return ""
}

// BoolClaim returns the named claim as a bool, defaulting to false when the
// claim is absent or not a bool.
func (p SessionPrincipal) BoolClaim(name string) bool {
	if v, ok := p.Claims[name].(bool); ok {
		return v
	}
	return false
}

// Int64Claim returns the named claim as an int64, defaulting to 0 when the
// claim is absent. JSON round trips store numbers as float64, so both
// representations are accepted.
func (p SessionPrincipal) Int64Claim(name string) int64 {
	switch v := p.Claims[name].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// HasClaim reports whether the named claim is present.
func (p SessionPrincipal) HasClaim(name string) bool {
	if name == ClaimSubject {
		return p.Subject != ""
	}
	_, ok := p.Claims[name]
	return ok
}
