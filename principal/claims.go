package principal

// Standard OpenID Connect claim names carried by a session principal.
const (
	ClaimAddress             = "address"
	ClaimAuthTime            = "auth_time"
	ClaimBirthdate           = "birthdate"
	ClaimEmail               = "email"
	ClaimEmailVerified       = "email_verified"
	ClaimFamilyName          = "family_name"
	ClaimGender              = "gender"
	ClaimGivenName           = "given_name"
	ClaimIssuer              = "iss"
	ClaimLocale              = "locale"
	ClaimMiddleName          = "middle_name"
	ClaimName                = "name"
	ClaimNickname            = "nickname"
	ClaimPhoneNumber         = "phone_number"
	ClaimPhoneNumberVerified = "phone_number_verified"
	ClaimPicture             = "picture"
	ClaimPreferredUsername   = "preferred_username"
	ClaimProfile             = "profile"
	ClaimRole                = "role"
	ClaimSubject             = "sub"
	ClaimUpdatedAt           = "updated_at"
	ClaimWebsite             = "website"
	ClaimZoneinfo            = "zoneinfo"

	// ClaimSecurityStamp is an internal claim used to invalidate credentials
	// when a user's security-sensitive state changes. It must never leave the
	// server in an issued token.
	ClaimSecurityStamp = "security_stamp"
)

// OAuth scopes understood by the gateway.
const (
	ScopeAddress       = "address"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
	ScopeOpenID        = "openid"
	ScopePhone         = "phone"
	ScopeProfile       = "profile"
	ScopeRoles         = "roles"

	// ScopeIdentityManagement authorizes a machine caller to record login
	// claims on behalf of the external login UI.
	ScopeIdentityManagement = "identity-management"
)

// GrantType identifies the OAuth grant under which tokens are being issued.
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeRefreshToken      GrantType = "refresh_token"
)

// HasScope reports whether scope is present in the granted scope set.
func HasScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
