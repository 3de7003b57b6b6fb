package principal

import "fmt"

// Destination identifies an issued token a claim may be serialized into.
type Destination string

const (
	DestinationAccessToken   Destination = "access_token"
	DestinationIdentityToken Destination = "id_token"
)

// UnsupportedGrantTypeError reports a grant type the destination policy has
// no rules for. There is no generic fallback: issuing tokens under an unknown
// grant would bypass the claim disclosure policy entirely.
type UnsupportedGrantTypeError struct {
	Grant GrantType
}

func (e *UnsupportedGrantTypeError) Error() string {
	return fmt.Sprintf("no claim destination policy for grant type %q", e.Grant)
}

// destinationRule is a single declarative policy entry. A claim is routed to
// Always unconditionally; the identity token is added when IdentityScope is
// granted. Suppressed claims are never serialized into any token.
type destinationRule struct {
	Always        []Destination
	IdentityScope string
	Suppressed    bool
}

var accessOnly = destinationRule{Always: []Destination{DestinationAccessToken}}

// authorizationCodeRules applies to the authorization-code and refresh-token
// grants: each profile-bearing claim reaches the identity token only when the
// matching scope was granted, honoring least-privilege disclosure.
var authorizationCodeRules = map[string]destinationRule{
	ClaimName:  {Always: []Destination{DestinationAccessToken}, IdentityScope: ScopeProfile},
	ClaimEmail: {Always: []Destination{DestinationAccessToken}, IdentityScope: ScopeEmail},
	ClaimRole:  {Always: []Destination{DestinationAccessToken}, IdentityScope: ScopeRoles},

	// The security stamp is a secret value and never leaves the server.
	ClaimSecurityStamp: {Suppressed: true},
}

// clientCredentialsRules applies to machine callers: name and subject identify
// the client application in both tokens, everything else stays in the access
// token.
var clientCredentialsRules = map[string]destinationRule{
	ClaimName:    {Always: []Destination{DestinationAccessToken, DestinationIdentityToken}},
	ClaimSubject: {Always: []Destination{DestinationAccessToken, DestinationIdentityToken}},
}

// Destinations resolves the token destinations for a claim under the given
// grant type and granted scopes. Unknown claim types default to the access
// token only.
//
// For the client-credentials grant no identity token exists unless the
// "openid" scope was explicitly granted, so identity destinations are
// stripped in its absence.
func Destinations(claim string, scopes []string, grant GrantType) ([]Destination, error) {
	switch grant {
	case GrantTypeClientCredentials:
		rule, ok := clientCredentialsRules[claim]
		if !ok {
			rule = accessOnly
		}
		dests := rule.resolve(scopes)
		if !HasScope(scopes, ScopeOpenID) {
			dests = withoutIdentity(dests)
		}
		return dests, nil

	case GrantTypeAuthorizationCode, GrantTypeRefreshToken:
		rule, ok := authorizationCodeRules[claim]
		if !ok {
			rule = accessOnly
		}
		return rule.resolve(scopes), nil

	default:
		return nil, &UnsupportedGrantTypeError{Grant: grant}
	}
}

func (r destinationRule) resolve(scopes []string) []Destination {
	if r.Suppressed {
		return nil
	}
	dests := make([]Destination, len(r.Always))
	copy(dests, r.Always)
	if r.IdentityScope != "" && HasScope(scopes, r.IdentityScope) {
		dests = append(dests, DestinationIdentityToken)
	}
	return dests
}

func withoutIdentity(dests []Destination) []Destination {
	filtered := dests[:0]
	for _, d := range dests {
		if d != DestinationIdentityToken {
			filtered = append(filtered, d)
		}
	}
	return filtered
}
