package metrics

// otelProvider implements Provider on top of an OpenTelemetry MeterProvider,
// selected when configuration names the "otel" backend instead of "prom".
// Keeping the same Provider abstraction over either backend means an
// operator can point pumpguard at an OTLP collector by layering an exporter
// onto the MeterProvider returned here, without anything upstream of
// NewOTelProvider knowing the difference.

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelProviderOptions configures an otelProvider.
type OTelProviderOptions struct {
	ServiceName      string
	CardinalityLimit int
}

// NewOTelProvider returns a Provider backed by an OTEL MeterProvider bound
// to a meter named after opts.ServiceName's instrumentation scope
// ("pumpguard" when ServiceName is empty).
func NewOTelProvider(opts OTelProviderOptions) Provider {
	mp := sdkmetric.NewMeterProvider()
	scope := opts.ServiceName
	if scope == "" {
		scope = "pumpguard"
	}
	meter := mp.Meter(scope)

	warnCounter, _ := meter.Float64Counter(
		"pumpguard.internal.cardinality_exceeded.total",
		metric.WithDescription("count of metrics whose label cardinality exceeded the configured limit"),
	)

	p := &otelProvider{mp: mp, meter: meter}
	p.guard = newCardinalityGuard(opts.CardinalityLimit, func(metricName string) {
		if warnCounter != nil {
			warnCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("metric", metricName)))
		}
	})
	return p
}

type otelProvider struct {
	mp    *sdkmetric.MeterProvider
	meter metric.Meter
	guard *cardinalityGuard
}

// otelName composes namespace.subsystem.name, OTel's conventional dotted
// instrument-naming style, skipping any empty segment.
func otelName(c CommonOpts) string {
	segments := make([]string, 0, 3)
	for _, s := range []string{c.Namespace, c.Subsystem, c.Name} {
		if s != "" {
			segments = append(segments, s)
		}
	}
	name := ""
	for i, s := range segments {
		if i > 0 {
			name += "."
		}
		name += s
	}
	return name
}

func (p *otelProvider) NewCounter(opts CounterOpts) Counter {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64Counter(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopCounter{}
	}
	return &otelCounter{instrument: inst, labelKeys: opts.Labels, guard: p.guard, name: name}
}

func (p *otelProvider) NewGauge(opts GaugeOpts) Gauge {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64UpDownCounter(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopGauge{}
	}
	return &otelGauge{instrument: inst, labelKeys: opts.Labels, guard: p.guard, name: name}
}

func (p *otelProvider) NewHistogram(opts HistogramOpts) Histogram {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64Histogram(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopHistogram{}
	}
	return &otelHistogram{instrument: inst, labelKeys: opts.Labels, guard: p.guard, name: name}
}

func (p *otelProvider) NewTimer(opts HistogramOpts) func() Timer {
	h := p.NewHistogram(opts)
	return func() Timer {
		start := time.Now()
		return timerFunc(func(labels ...string) { h.Observe(time.Since(start).Seconds(), labels...) })
	}
}

func (p *otelProvider) Health(context.Context) error { return nil }

func attributesFor(keys, values []string) []attribute.KeyValue {
	n := len(keys)
	if len(values) < n {
		n = len(values)
	}
	if n == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, attribute.String(keys[i], values[i]))
	}
	return out
}

type otelCounter struct {
	instrument metric.Float64Counter
	labelKeys  []string
	guard      *cardinalityGuard
	name       string
}

func (c *otelCounter) Inc(delta float64, labels ...string) {
	if delta <= 0 {
		return
	}
	c.guard.observe(c.name, labels)
	if attrs := attributesFor(c.labelKeys, labels); attrs != nil {
		c.instrument.Add(context.Background(), delta, metric.WithAttributes(attrs...))
		return
	}
	c.instrument.Add(context.Background(), delta)
}

// otelGauge emulates a gauge over OTel's up-down counter, which only
// exposes Add: Set tracks the last value itself and publishes the delta.
type otelGauge struct {
	mu         sync.Mutex
	instrument metric.Float64UpDownCounter
	last       float64
	labelKeys  []string
	guard      *cardinalityGuard
	name       string
}

func (g *otelGauge) Set(v float64, labels ...string) {
	g.mu.Lock()
	diff := v - g.last
	g.last = v
	g.mu.Unlock()
	if diff == 0 {
		return
	}
	g.publish(diff, labels)
}

func (g *otelGauge) Add(delta float64, labels ...string) {
	if delta == 0 {
		return
	}
	g.mu.Lock()
	g.last += delta
	g.mu.Unlock()
	g.publish(delta, labels)
}

func (g *otelGauge) publish(delta float64, labels []string) {
	g.guard.observe(g.name, labels)
	if attrs := attributesFor(g.labelKeys, labels); attrs != nil {
		g.instrument.Add(context.Background(), delta, metric.WithAttributes(attrs...))
		return
	}
	g.instrument.Add(context.Background(), delta)
}

type otelHistogram struct {
	instrument metric.Float64Histogram
	labelKeys  []string
	guard      *cardinalityGuard
	name       string
}

func (h *otelHistogram) Observe(v float64, labels ...string) {
	h.guard.observe(h.name, labels)
	if attrs := attributesFor(h.labelKeys, labels); attrs != nil {
		h.instrument.Record(context.Background(), v, metric.WithAttributes(attrs...))
		return
	}
	h.instrument.Record(context.Background(), v)
}
