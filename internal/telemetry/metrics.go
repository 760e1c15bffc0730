// Package telemetry records portal gateway counters with OpenTelemetry.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/kiranshivaraju/portalgate"

// Metrics holds the counters shared by the resolver, provisioner, and authenticator.
// The zero value is not usable; build one with New or NewNoop.
type Metrics struct {
	resolutions   metric.Int64Counter
	transitions   metric.Int64Counter
	providerCalls metric.Int64Counter
	codesIssued   metric.Int64Counter
	verifications metric.Int64Counter
	sessions      metric.Int64Counter
}

// New registers every counter on a meter from mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.resolutions, "portal.resolver.lookups", "Hostname resolutions by route and outcome"},
		{&m.transitions, "portal.domains.transitions", "Custom hostname status transitions"},
		{&m.providerCalls, "portal.edge.calls", "Edge provider calls by operation and outcome"},
		{&m.codesIssued, "portal.auth.codes", "Login code issue attempts by outcome"},
		{&m.verifications, "portal.auth.verifications", "Login code verifications by outcome"},
		{&m.sessions, "portal.sessions", "Session lifecycle events"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

// NewNoop returns Metrics that discard everything.
func NewNoop() *Metrics {
	m, _ := New(noop.NewMeterProvider())
	return m
}

func (m *Metrics) Resolved(ctx context.Context, via, outcome string) {
	m.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("via", via),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) Transition(ctx context.Context, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) ProviderCall(ctx context.Context, op, outcome string) {
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) CodeIssued(ctx context.Context, outcome string) {
	m.codesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) CodeVerified(ctx context.Context, outcome string) {
	m.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) Session(ctx context.Context, event string) {
	m.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
