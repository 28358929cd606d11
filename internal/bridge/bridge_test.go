package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpguard/internal/command"
	"pumpguard/internal/faulttracker"
	"pumpguard/internal/sample"
	"pumpguard/internal/store"
	"pumpguard/internal/telemetry/logging"
	"pumpguard/internal/telemetry/metrics"
)

type fakeConn struct {
	connected   bool
	published   [][]byte
	publishErr  error
	flushErr    error
	subscribeFn func(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

func (f *fakeConn) Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if f.subscribeFn != nil {
		return f.subscribeFn(subj, cb)
	}
	return &nats.Subscription{}, nil
}
func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, data)
	return nil
}
func (f *fakeConn) FlushTimeout(time.Duration) error { return f.flushErr }
func (f *fakeConn) Close()                           { f.connected = false }
func (f *fakeConn) IsConnected() bool                { return f.connected }

func newTestBridge(dial Dialer) *Bridge {
	st := store.New(10, 8)
	tr := faulttracker.New(0)
	return New("nats://unused", "digital_twin", "pump01", st, tr, logging.New(nil), metrics.NewNoopProvider(), dial)
}

func TestNormalize_FlatPayloadDerivesFields(t *testing.T) {
	payload := []byte(`{"timestamp":"2026-01-01T00:00:00Z","fault_state":"bearing wear","amps_A":10,"amps_B":10,"amps_C":10,"voltage":230,"vibration":2,"pressure":4,"temperature":80}`)
	s, err := Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, sample.BearingWear, s.FaultState)
	assert.Equal(t, 10.0, s.IAvg)
	assert.InDelta(t, 0, s.ImbalancePct, 1e-9)
}

func TestNormalize_UnparseableTimestampFallsBackToNow(t *testing.T) {
	payload := []byte(`{"timestamp":"not-a-time","fault_state":"Normal"}`)
	before := time.Now().UTC()
	s, err := Normalize(payload)
	require.NoError(t, err)
	assert.True(t, !s.Timestamp.Before(before.Add(-time.Second)))
}

func TestNormalize_MalformedJSONReturnsError(t *testing.T) {
	_, err := Normalize([]byte(`not json`))
	assert.Error(t, err)
}

func TestBridge_ConnectWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	origInitial, origMax := connectInitialWait, connectMaxWait
	connectInitialWait, connectMaxWait = time.Millisecond, 4*time.Millisecond
	defer func() { connectInitialWait, connectMaxWait = origInitial, origMax }()

	attempts := 0
	dial := func(url string) (Conn, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("refused")
		}
		return &fakeConn{connected: true}, nil
	}
	b := newTestBridge(dial)
	err := b.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestBridge_ConnectWithRetry_ExhaustsBudget(t *testing.T) {
	origInitial, origMax := connectInitialWait, connectMaxWait
	connectInitialWait, connectMaxWait = time.Millisecond, 4*time.Millisecond
	defer func() { connectInitialWait, connectMaxWait = origInitial, origMax }()

	dial := func(url string) (Conn, error) { return nil, errors.New("refused") }
	b := newTestBridge(dial)
	_, err := b.connectWithRetry(context.Background())
	assert.Error(t, err)
}

func TestBridge_PublishCommand_NotConnected(t *testing.T) {
	b := newTestBridge(func(url string) (Conn, error) { return &fakeConn{}, nil })
	err := b.PublishCommand(context.Background(), command.New(command.Reset, "pump01"))
	assert.Error(t, err)
}

func TestBridge_PublishCommand_SerializesAndPublishes(t *testing.T) {
	fc := &fakeConn{connected: true}
	b := newTestBridge(func(url string) (Conn, error) { return fc, nil })
	require.NoError(t, b.Start(context.Background()))

	cmd := command.New(command.InjectFault, "pump01").WithFault(sample.Cavitation)
	require.NoError(t, b.PublishCommand(context.Background(), cmd))
	require.Len(t, fc.published, 1)

	var got command.Command
	require.NoError(t, json.Unmarshal(fc.published[0], &got))
	assert.Equal(t, sample.Cavitation, got.FaultType)
}

func TestBridge_OnMessage_MalformedPayloadIsDroppedWithoutPanic(t *testing.T) {
	b := newTestBridge(func(url string) (Conn, error) { return &fakeConn{connected: true}, nil })
	assert.NotPanics(t, func() {
		b.onMessage(&nats.Msg{Data: []byte("garbage")})
	})
	assert.Nil(t, b.store.Latest())
}

func TestBridge_OnMessage_ValidPayloadReachesStoreAndTracker(t *testing.T) {
	b := newTestBridge(func(url string) (Conn, error) { return &fakeConn{connected: true}, nil })
	payload := []byte(`{"timestamp":"2026-01-01T00:00:00Z","fault_state":"Overload","amps_A":12,"amps_B":12,"amps_C":12,"voltage":230,"vibration":2,"pressure":4,"temperature":80}`)
	b.onMessage(&nats.Msg{Data: payload})

	latest := b.store.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, sample.Overload, latest.FaultState)

	active := b.tracker.Active()
	require.NotNil(t, active)
	assert.Equal(t, sample.Overload, active.FaultState)
}
