// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the authentication gateway.
//
// Metrics cover the handoff lifecycle (challenges issued, claims recorded,
// claims redeemed, consumption conflicts), the HTTP layer, and storage
// operations. Traces span the issue, record, and redeem flows.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "authgateway",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// When disabled, no-op providers are used and recording has zero overhead.
//
// # Available Metrics
//
// HTTP layer:
//   - gateway.http.requests.total{method, endpoint, status}
//   - gateway.http.request.duration{endpoint}
//
// Handoff lifecycle:
//   - gateway.challenge.issued
//   - gateway.claims.recorded{client_id}
//   - gateway.claims.redeemed
//   - gateway.consumption.conflicts{token_kind}
//
// Security:
//   - gateway.rate_limit.exceeded{limiter_type}
//   - gateway.auth.failures{reason}
//   - gateway.audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.size.challenges, storage.size.claims, storage.size.sessions
//
// Never record token IDs, subjects, or claim values as metric attributes;
// they are either secrets or PII. Trace attributes carry only metadata such
// as grant types and token kinds.
package instrumentation
