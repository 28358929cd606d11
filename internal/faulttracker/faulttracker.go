// Package faulttracker detects Normal<->Fault transitions in the sample
// stream and captures the start-of-fault snapshot, per spec.md §4.3.
package faulttracker

import (
	"sync"
	"time"

	"pumpguard/internal/sample"
)

// Context is the record captured at the moment a Sample first enters a
// non-Normal state; it carries that Sample verbatim.
type Context struct {
	FaultState        sample.FaultState `json:"fault_state"`
	FaultStartTime    time.Time         `json:"fault_start_time"`
	FaultStartSnapshot sample.Sample    `json:"fault_start_snapshot"`
}

// DefaultEventCap is the bound on the append-only event log (spec.md §3).
const DefaultEventCap = 256

// Tracker is a small explicit state machine, guarded by its own mutex,
// independent of the Store's lock so the two never nest (spec.md §5).
type Tracker struct {
	mu       sync.RWMutex
	prev     sample.FaultState
	hasPrev  bool
	active   *Context
	events   []Context
	eventCap int
	now      func() time.Time
}

// New creates a Tracker. eventCap<=0 uses DefaultEventCap.
func New(eventCap int) *Tracker {
	if eventCap <= 0 {
		eventCap = DefaultEventCap
	}
	return &Tracker{eventCap: eventCap, now: time.Now}
}

// OnSample applies the state machine of spec.md §4.3 to s.
func (t *Tracker) OnSample(s sample.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := s.FaultState
	p := t.prev
	wasKnown := t.hasPrev
	t.prev = f
	t.hasPrev = true

	switch {
	case !wasKnown && f == sample.Normal:
		// first sample, no fault: nothing to do.
	case !wasKnown && f != sample.Normal:
		t.open(f, s)
	case p == sample.Normal && f == sample.Normal:
		// none
	case p == sample.Normal && f != sample.Normal:
		t.open(f, s)
	case p != sample.Normal && f == p:
		// none
	case p != sample.Normal && f != sample.Normal && f != p:
		t.open(f, s)
	case p != sample.Normal && f == sample.Normal:
		t.active = nil
	}
}

func (t *Tracker) open(f sample.FaultState, s sample.Sample) {
	ctx := Context{FaultState: f, FaultStartTime: t.clock(), FaultStartSnapshot: s}
	t.active = &ctx
	t.events = append(t.events, ctx)
	if len(t.events) > t.eventCap {
		t.events = t.events[len(t.events)-t.eventCap:]
	}
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Active returns the current active context, or nil if no fault is ongoing.
func (t *Tracker) Active() *Context {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.active == nil {
		return nil
	}
	cp := *t.active
	return &cp
}

// Events returns a stable snapshot copy of the bounded event history.
func (t *Tracker) Events() []Context {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Context, len(t.events))
	copy(out, t.events)
	return out
}
