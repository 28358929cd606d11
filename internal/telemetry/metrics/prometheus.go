package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var fqNamePattern = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// PrometheusProvider implements Provider on top of a Prometheus registry.
// Vectors are created on first use and cached by fully-qualified name so
// every subsystem can call NewCounter/NewGauge/NewHistogram from its own
// constructor without coordinating registration order with anyone else.
type PrometheusProvider struct {
	registry *prom.Registry
	handler  http.Handler
	guard    *cardinalityGuard

	mu         sync.RWMutex
	counters   map[string]*prom.CounterVec
	gauges     map[string]*prom.GaugeVec
	histograms map[string]*prom.HistogramVec
	regErrs    []error
}

// PrometheusProviderOptions configures a PrometheusProvider.
type PrometheusProviderOptions struct {
	Registry         *prom.Registry // nil uses a fresh, private registry
	CardinalityLimit int             // 0 uses a default of 100 distinct label combinations
}

// NewPrometheusProvider builds a provider and its /metrics handler.
func NewPrometheusProvider(opts PrometheusProviderOptions) *PrometheusProvider {
	registry := opts.Registry
	if registry == nil {
		registry = prom.NewRegistry()
	}

	warnVec := prom.NewCounterVec(prom.CounterOpts{
		Name: "pumpguard_internal_cardinality_exceeded_total",
		Help: "Count of metrics whose label cardinality exceeded the configured limit.",
	}, []string{"metric"})
	_ = registry.Register(warnVec) // best effort; a second provider on the same registry just shares it

	p := &PrometheusProvider{
		registry:   registry,
		counters:   make(map[string]*prom.CounterVec),
		gauges:     make(map[string]*prom.GaugeVec),
		histograms: make(map[string]*prom.HistogramVec),
	}
	p.guard = newCardinalityGuard(opts.CardinalityLimit, func(metricName string) {
		warnVec.WithLabelValues(metricName).Inc()
	})
	p.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return p
}

// MetricsHandler serves the registry's current state in the Prometheus
// exposition format.
func (p *PrometheusProvider) MetricsHandler() http.Handler { return p.handler }

// fqName joins namespace/subsystem/name with underscores, innermost first,
// and rejects anything Prometheus wouldn't accept as a metric name.
func fqName(c CommonOpts) (string, error) {
	if c.Name == "" {
		return "", errors.New("metric name must not be empty")
	}
	name := c.Name
	if c.Subsystem != "" {
		name = c.Subsystem + "_" + name
	}
	if c.Namespace != "" {
		name = c.Namespace + "_" + name
	}
	if !fqNamePattern.MatchString(name) {
		return "", fmt.Errorf("%q is not a valid metric name", name)
	}
	return name, nil
}

func (p *PrometheusProvider) NewCounter(opts CounterOpts) Counter {
	name, err := fqName(opts.CommonOpts)
	if err != nil {
		p.recordRegErr(err)
		return noopCounter{}
	}

	p.mu.RLock()
	vec, exists := p.counters[name]
	p.mu.RUnlock()
	if !exists {
		vec = prom.NewCounterVec(prom.CounterOpts{Name: name, Help: opts.Help}, opts.Labels)
		registered, ok := p.registerOrReuse(vec, name)
		if !ok {
			return noopCounter{}
		}
		vec = registered.(*prom.CounterVec)
		p.mu.Lock()
		p.counters[name] = vec
		p.mu.Unlock()
	}
	return &promCounter{vec: vec, guard: p.guard, name: name}
}

func (p *PrometheusProvider) NewGauge(opts GaugeOpts) Gauge {
	name, err := fqName(opts.CommonOpts)
	if err != nil {
		p.recordRegErr(err)
		return noopGauge{}
	}

	p.mu.RLock()
	vec, exists := p.gauges[name]
	p.mu.RUnlock()
	if !exists {
		vec = prom.NewGaugeVec(prom.GaugeOpts{Name: name, Help: opts.Help}, opts.Labels)
		registered, ok := p.registerOrReuse(vec, name)
		if !ok {
			return noopGauge{}
		}
		vec = registered.(*prom.GaugeVec)
		p.mu.Lock()
		p.gauges[name] = vec
		p.mu.Unlock()
	}
	return &promGauge{vec: vec, guard: p.guard, name: name}
}

func (p *PrometheusProvider) NewHistogram(opts HistogramOpts) Histogram {
	name, err := fqName(opts.CommonOpts)
	if err != nil {
		p.recordRegErr(err)
		return noopHistogram{}
	}

	p.mu.RLock()
	vec, exists := p.histograms[name]
	p.mu.RUnlock()
	if !exists {
		buckets := opts.Buckets
		if len(buckets) == 0 {
			buckets = prom.DefBuckets
		}
		vec = prom.NewHistogramVec(prom.HistogramOpts{Name: name, Help: opts.Help, Buckets: buckets}, opts.Labels)
		registered, ok := p.registerOrReuse(vec, name)
		if !ok {
			return noopHistogram{}
		}
		vec = registered.(*prom.HistogramVec)
		p.mu.Lock()
		p.histograms[name] = vec
		p.mu.Unlock()
	}
	return &promHistogram{vec: vec, guard: p.guard, name: name}
}

// registerOrReuse registers collector with the provider's registry. If a
// collector already exists under the same name (e.g. from a caller racing
// NewCounter with an unrelated registration) it returns the existing one
// instead of failing, as long as it's the right underlying type; any other
// registration failure is recorded via recordRegErr and reported false.
func (p *PrometheusProvider) registerOrReuse(collector prom.Collector, name string) (prom.Collector, bool) {
	if err := p.registry.Register(collector); err != nil {
		are, ok := err.(prom.AlreadyRegisteredError)
		if !ok {
			p.recordRegErr(fmt.Errorf("register metric %s: %w", name, err))
			return nil, false
		}
		if reflect.TypeOf(are.ExistingCollector) != reflect.TypeOf(collector) {
			p.recordRegErr(fmt.Errorf("register metric %s: already registered as %T", name, are.ExistingCollector))
			return nil, false
		}
		return are.ExistingCollector, true
	}
	return collector, true
}

func (p *PrometheusProvider) NewTimer(opts HistogramOpts) func() Timer {
	h := p.NewHistogram(opts)
	return func() Timer {
		start := time.Now()
		return timerFunc(func(labels ...string) { h.Observe(time.Since(start).Seconds(), labels...) })
	}
}

// Health reports the first metric-registration problem encountered, if any.
func (p *PrometheusProvider) Health(context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.regErrs) == 0 {
		return nil
	}
	return fmt.Errorf("%d metric registration problem(s), first: %w", len(p.regErrs), p.regErrs[0])
}

func (p *PrometheusProvider) recordRegErr(err error) {
	p.mu.Lock()
	p.regErrs = append(p.regErrs, err)
	p.mu.Unlock()
}

// timerFunc adapts a plain closure to the Timer interface, so NewTimer
// doesn't need its own named struct just to hold a start time and a
// histogram reference.
type timerFunc func(labels ...string)

func (f timerFunc) ObserveDuration(labels ...string) { f(labels...) }

type promCounter struct {
	vec   *prom.CounterVec
	guard *cardinalityGuard
	name  string
}

func (c *promCounter) Inc(delta float64, labels ...string) {
	if delta <= 0 {
		return
	}
	c.guard.observe(c.name, labels)
	c.vec.WithLabelValues(labels...).Add(delta)
}

type promGauge struct {
	vec   *prom.GaugeVec
	guard *cardinalityGuard
	name  string
}

func (g *promGauge) Set(v float64, labels ...string) {
	g.guard.observe(g.name, labels)
	g.vec.WithLabelValues(labels...).Set(v)
}

func (g *promGauge) Add(delta float64, labels ...string) {
	if delta == 0 {
		return
	}
	g.guard.observe(g.name, labels)
	g.vec.WithLabelValues(labels...).Add(delta)
}

type promHistogram struct {
	vec   *prom.HistogramVec
	guard *cardinalityGuard
	name  string
}

func (h *promHistogram) Observe(v float64, labels ...string) {
	h.guard.observe(h.name, labels)
	h.vec.WithLabelValues(labels...).Observe(v)
}
