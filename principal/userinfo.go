package principal

// Userinfo assembles a scope-gated claim map for the protocol engine's
// userinfo endpoint. The subject is always present, and the issuer when
// configured; everything else is disclosed only under its gating scope:
//
//   - profile: naming, locale, zoneinfo, gender, birthdate, profile URI,
//     preferred username, website, picture, nickname and updated_at
//     (Unix seconds, 0 when never set)
//   - email: email and email_verified (false when never set)
//   - phone: phone_number and phone_number_verified (false when never set)
//   - address: reserved, not populated
func Userinfo(p SessionPrincipal, scopes []string, issuer string) map[string]any {
	claims := map[string]any{
		ClaimSubject: p.Subject,
	}
	if issuer != "" {
		claims[ClaimIssuer] = issuer
	}

	putString := func(name string) {
		if v := p.StringClaim(name); v != "" {
			claims[name] = v
		}
	}

	if HasScope(scopes, ScopeProfile) {
		putString(ClaimGivenName)
		putString(ClaimFamilyName)
		putString(ClaimMiddleName)
		putString(ClaimNickname)
		putString(ClaimPicture)
		putString(ClaimLocale)
		putString(ClaimZoneinfo)
		putString(ClaimGender)
		putString(ClaimBirthdate)
		putString(ClaimProfile)
		putString(ClaimPreferredUsername)
		putString(ClaimWebsite)
		putString(ClaimName)
		claims[ClaimUpdatedAt] = p.Int64Claim(ClaimUpdatedAt)
	}

	if HasScope(scopes, ScopeEmail) {
		putString(ClaimEmail)
		claims[ClaimEmailVerified] = p.BoolClaim(ClaimEmailVerified)
	}

	if HasScope(scopes, ScopePhone) {
		putString(ClaimPhoneNumber)
		claims[ClaimPhoneNumberVerified] = p.BoolClaim(ClaimPhoneNumberVerified)
	}

	// The address scope is accepted but the structured address claim is
	// reserved for a future schema.

	return claims
}
