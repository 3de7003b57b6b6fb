// Package security provides security features for the authentication gateway:
// audit logging with PII protection, per-identifier rate limiting, client IP
// extraction behind proxies, request ID propagation, and secure response
// headers.
package security
