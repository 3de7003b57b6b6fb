// Package server implements the authentication handoff logic: issuing login
// challenges, recording login claims against them, and redeeming claims for
// server-side sessions.
//
// The package is transport-agnostic. HTTP endpoints live in the root package;
// Server methods take plain values and return results or errors, which makes
// the handoff flow directly testable without a network.
//
// Challenges and claims are single-use. Consumption goes through the storage
// layer's atomic consume operations, so concurrent attempts on the same token
// resolve to exactly one winner regardless of backend.
package server
