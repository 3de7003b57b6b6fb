package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the gateway
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Handoff Lifecycle Metrics
	ChallengesIssued     metric.Int64Counter
	ClaimsRecorded       metric.Int64Counter
	ClaimsRedeemed       metric.Int64Counter
	ConsumptionConflicts metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter
	AuthFailures      metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageChallengesCount   metric.Int64ObservableGauge
	StorageClaimsCount       metric.Int64ObservableGauge
	StorageSessionsCount     metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"gateway.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"gateway.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.ChallengesIssued, err = serverMeter.Int64Counter(
		"gateway.challenge.issued",
		metric.WithDescription("Number of login challenges issued"),
		metric.WithUnit("{challenge}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge.issued counter: %w", err)
	}

	m.ClaimsRecorded, err = serverMeter.Int64Counter(
		"gateway.claims.recorded",
		metric.WithDescription("Number of login claims recorded against challenges"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create claims.recorded counter: %w", err)
	}

	m.ClaimsRedeemed, err = serverMeter.Int64Counter(
		"gateway.claims.redeemed",
		metric.WithDescription("Number of login claims redeemed for sessions"),
		metric.WithUnit("{redemption}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create claims.redeemed counter: %w", err)
	}

	m.ConsumptionConflicts, err = securityMeter.Int64Counter(
		"gateway.consumption.conflicts",
		metric.WithDescription("Number of failed consumption attempts on challenges or claims"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumption.conflicts counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"gateway.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.AuthFailures, err = securityMeter.Int64Counter(
		"gateway.auth.failures",
		metric.WithDescription("Number of machine client authentication failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.failures counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"gateway.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageChallengesCount, err = storageMeter.Int64ObservableGauge(
		"storage.size.challenges",
		metric.WithDescription("Current number of stored login challenges"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.challenges gauge: %w", err)
	}

	m.StorageClaimsCount, err = storageMeter.Int64ObservableGauge(
		"storage.size.claims",
		metric.WithDescription("Current number of stored login claims"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.claims gauge: %w", err)
	}

	m.StorageSessionsCount, err = storageMeter.Int64ObservableGauge(
		"storage.size.sessions",
		metric.WithDescription("Current number of stored sessions"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.sessions gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordChallengeIssued records the creation of a login challenge
func (m *Metrics) RecordChallengeIssued(ctx context.Context) {
	m.ChallengesIssued.Add(ctx, 1)
}

// RecordClaimsRecorded records claims being recorded against a challenge
func (m *Metrics) RecordClaimsRecorded(ctx context.Context, clientID string) {
	m.ClaimsRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordClaimsRedeemed records a successful redemption
func (m *Metrics) RecordClaimsRedeemed(ctx context.Context) {
	m.ClaimsRedeemed.Add(ctx, 1)
}

// RecordConsumptionConflict records a failed consumption attempt.
// tokenKind is "challenge" or "claims".
func (m *Metrics) RecordConsumptionConflict(ctx context.Context, tokenKind string) {
	m.ConsumptionConflicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token_kind", tokenKind),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordAuthFailure records a machine client authentication failure
func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	m.AuthFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
