// Package bridge connects the telemetry broker to the Store and
// FaultTracker, and publishes outbound Commands. See spec.md §4.1.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"pumpguard/internal/apierr"
	"pumpguard/internal/command"
	"pumpguard/internal/faulttracker"
	"pumpguard/internal/sample"
	"pumpguard/internal/store"
	"pumpguard/internal/telemetry/logging"
	"pumpguard/internal/telemetry/metrics"
	"pumpguard/internal/telemetry/tracing"
)

const connectMaxAttempts = 8

// connectInitialWait and connectMaxWait are vars (not consts) so tests can
// shrink the backoff schedule without waiting out the real 30s cap.
var (
	connectInitialWait = 500 * time.Millisecond
	connectMaxWait     = 30 * time.Second
)

// Conn is the subset of *nats.Conn the Bridge depends on, so tests can
// substitute a fake broker without a live NATS server.
type Conn interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
	IsConnected() bool
}

// Dialer opens a Conn given a NATS URL. Production code uses nats.Connect;
// tests supply a fake.
type Dialer func(url string) (Conn, error)

// DefaultDialer wraps nats.Connect.
func DefaultDialer(url string) (Conn, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return nc, nil
}

// Bridge subscribes to the telemetry topic, normalizes each payload into the
// Store/FaultTracker, and publishes outbound Commands.
type Bridge struct {
	url       string
	baseTopic string
	assetID   string

	store   *store.Store
	tracker *faulttracker.Tracker
	logger  logging.Logger
	metrics metrics.Provider

	dial Dialer
	conn Conn
	sub  *nats.Subscription

	malformedCounter metrics.Counter
}

// New constructs a Bridge. dial defaults to DefaultDialer if nil.
func New(url, baseTopic, assetID string, st *store.Store, tr *faulttracker.Tracker, logger logging.Logger, prov metrics.Provider, dial Dialer) *Bridge {
	if dial == nil {
		dial = DefaultDialer
	}
	if prov == nil {
		prov = metrics.NewNoopProvider()
	}
	return &Bridge{
		url:       url,
		baseTopic: baseTopic,
		assetID:   assetID,
		store:     st,
		tracker:   tr,
		logger:    logger,
		metrics:   prov,
		dial:      dial,
		malformedCounter: prov.NewCounter(metrics.CounterOpts{
			CommonOpts: metrics.CommonOpts{Name: "pumpguard_bridge_malformed_payloads_total", Help: "Count of telemetry payloads dropped for being malformed."},
		}),
	}
}

func (b *Bridge) telemetrySubject() string { return fmt.Sprintf("%s/%s/telemetry", b.baseTopic, b.assetID) }
func (b *Bridge) commandSubject() string   { return fmt.Sprintf("%s/%s/command", b.baseTopic, b.assetID) }

// Start connects to the broker with bounded exponential-backoff retry and
// subscribes to the telemetry subject. It returns once subscribed, or with
// a BrokerUnavailable error after exhausting the retry budget.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, span := tracing.Start(ctx, "bridge.connect", map[string]any{"url": b.url, "asset_id": b.assetID})
	defer span.End()

	conn, err := b.connectWithRetry(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	b.conn = conn

	sub, err := conn.Subscribe(b.telemetrySubject(), b.onMessage)
	if err != nil {
		conn.Close()
		return apierr.Wrap(apierr.BrokerUnavailable, "subscribe failed", err)
	}
	b.sub = sub
	b.logger.InfoCtx(ctx, "bridge subscribed", "subject", b.telemetrySubject())
	return nil
}

func (b *Bridge) connectWithRetry(ctx context.Context) (Conn, error) {
	wait := connectInitialWait
	var lastErr error
	for attempt := 1; attempt <= connectMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, apierr.Wrap(apierr.BrokerUnavailable, "connect canceled", ctx.Err())
		default:
		}

		conn, err := b.dial(b.url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		b.logger.WarnCtx(ctx, "broker connect failed, retrying", "attempt", attempt, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return nil, apierr.Wrap(apierr.BrokerUnavailable, "connect canceled", ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
		if wait > connectMaxWait {
			wait = connectMaxWait
		}
	}
	return nil, apierr.Wrap(apierr.BrokerUnavailable, "exhausted connect retry budget", lastErr)
}

// Connected reports whether the bridge currently holds a live broker
// connection, for the readiness probe.
func (b *Bridge) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Stop unsubscribes, disconnects, and releases resources.
func (b *Bridge) Stop() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
		b.sub = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// PublishCommand serializes cmd and publishes it with at-least-once
// delivery, returning once the broker acknowledges the flush or with
// PublishFailed on timeout/error.
func (b *Bridge) PublishCommand(ctx context.Context, cmd command.Command) error {
	ctx, span := tracing.Start(ctx, "bridge.publish", map[string]any{"command": string(cmd.Command), "request_id": cmd.RequestID})
	defer span.End()

	if b.conn == nil || !b.conn.IsConnected() {
		err := apierr.New(apierr.BrokerUnavailable, "not connected to broker")
		tracing.RecordError(ctx, err)
		return err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		wrapped := apierr.Wrap(apierr.InvalidInput, "cannot serialize command", err)
		tracing.RecordError(ctx, wrapped)
		return wrapped
	}
	if err := b.conn.Publish(b.commandSubject(), data); err != nil {
		wrapped := apierr.Wrap(apierr.PublishFailed, "publish failed", err)
		tracing.RecordError(ctx, wrapped)
		return wrapped
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		wrapped := apierr.Wrap(apierr.PublishFailed, "broker did not acknowledge", err)
		tracing.RecordError(ctx, wrapped)
		return wrapped
	}
	return nil
}

func (b *Bridge) onMessage(msg *nats.Msg) {
	smp, err := Normalize(msg.Data)
	if err != nil {
		b.malformedCounter.Inc(1)
		b.logger.WarnCtx(context.Background(), "dropping malformed telemetry payload", "error", err)
		return
	}

	prev := b.store.Latest()
	if prev == nil || prev.FaultState != smp.FaultState {
		b.tracker.OnSample(smp)
	}
	b.store.Ingest(smp)
}

// rawAmperage is the nested amperage.{phase_a,phase_b,phase_c} form accepted
// alongside the flat amps_A/amps_B/amps_C fields.
type rawAmperage struct {
	PhaseA float64 `json:"phase_a"`
	PhaseB float64 `json:"phase_b"`
	PhaseC float64 `json:"phase_c"`
}

// rawPayload mirrors both the flat and pre-nested wire shapes a telemetry
// producer may send; unknown fields are ignored and missing fields decode
// as zero.
type rawPayload struct {
	PumpID         string       `json:"pump_id"`
	Timestamp      string       `json:"timestamp"`
	Seq            int64        `json:"seq"`
	FaultState     string       `json:"fault_state"`
	FaultDurationS int          `json:"fault_duration_s"`
	AmpsA          float64      `json:"amps_A"`
	AmpsB          float64      `json:"amps_B"`
	AmpsC          float64      `json:"amps_C"`
	Amperage       *rawAmperage `json:"amperage"`
	Voltage        float64      `json:"voltage"`
	Vibration      float64      `json:"vibration"`
	Pressure       float64      `json:"pressure"`
	Temperature    float64      `json:"temperature"`
}

// Normalize parses a raw telemetry payload into a Sample per spec.md §4.1:
// unparseable timestamps fall back to now, missing numeric fields are 0,
// derived fields are recomputed, and fault_state is canonicalized. Both the
// flat amps_A/B/C and the nested amperage.phase_a/b/c forms are accepted;
// the nested form wins when both are present. A numeric field holding a
// non-number JSON value (for example a string) is not coerced to 0: the
// payload fails to decode and Normalize returns that error.
func Normalize(data []byte) (sample.Sample, error) {
	var raw rawPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return sample.Sample{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}

	ia, ib, ic := raw.AmpsA, raw.AmpsB, raw.AmpsC
	if raw.Amperage != nil {
		ia, ib, ic = raw.Amperage.PhaseA, raw.Amperage.PhaseB, raw.Amperage.PhaseC
	}

	s := sample.Sample{
		Timestamp:      ts,
		FaultState:     sample.CanonicalizeFaultState(raw.FaultState),
		FaultDurationS: raw.FaultDurationS,
		IA:             ia,
		IB:             ib,
		IC:             ic,
		Voltage:        raw.Voltage,
		Vibration:      raw.Vibration,
		Pressure:       raw.Pressure,
		Temperature:    raw.Temperature,
	}
	return sample.Normalize(s), nil
}
