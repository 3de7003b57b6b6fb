// Package principal defines the authenticated session principal and the
// claim-level policy applied to it: which standard OpenID Connect claims a
// principal carries, which issued token each claim may appear in, and how a
// scope-gated userinfo response is assembled.
package principal
