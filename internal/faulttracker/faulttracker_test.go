package faulttracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpguard/internal/sample"
)

func mk(fs sample.FaultState) sample.Sample {
	return sample.Sample{FaultState: fs, Timestamp: time.Now()}
}

func TestTracker_NormalToNormal_NoContext(t *testing.T) {
	tr := New(0)
	tr.OnSample(mk(sample.Normal))
	tr.OnSample(mk(sample.Normal))
	assert.Nil(t, tr.Active())
	assert.Empty(t, tr.Events())
}

func TestTracker_CapturesFaultStartSnapshot(t *testing.T) {
	tr := New(0)
	a := mk(sample.Normal)
	b := mk(sample.WindingDefect)
	tr.OnSample(a)
	tr.OnSample(b)

	active := tr.Active()
	require.NotNil(t, active)
	assert.Equal(t, sample.WindingDefect, active.FaultState)
	assert.Equal(t, b, active.FaultStartSnapshot)
	assert.Len(t, tr.Events(), 1)
}

func TestTracker_SameFaultRepeated_NoNewEvent(t *testing.T) {
	tr := New(0)
	tr.OnSample(mk(sample.Normal))
	tr.OnSample(mk(sample.Cavitation))
	tr.OnSample(mk(sample.Cavitation))
	tr.OnSample(mk(sample.Cavitation))
	assert.Len(t, tr.Events(), 1)
}

func TestTracker_TransitionToDifferentFault_ReplacesActive(t *testing.T) {
	tr := New(0)
	tr.OnSample(mk(sample.Normal))
	tr.OnSample(mk(sample.Cavitation))
	tr.OnSample(mk(sample.BearingWear))

	active := tr.Active()
	require.NotNil(t, active)
	assert.Equal(t, sample.BearingWear, active.FaultState)
	assert.Len(t, tr.Events(), 2)
}

func TestTracker_BackToNormal_ClearsActive(t *testing.T) {
	tr := New(0)
	tr.OnSample(mk(sample.Normal))
	tr.OnSample(mk(sample.Overload))
	tr.OnSample(mk(sample.Normal))
	assert.Nil(t, tr.Active())
	assert.Len(t, tr.Events(), 1)
}

func TestTracker_EventLogBounded(t *testing.T) {
	tr := New(3)
	tr.OnSample(mk(sample.Normal))
	faults := []sample.FaultState{sample.Cavitation, sample.BearingWear, sample.Overload, sample.SupplyFault, sample.WindingDefect}
	for _, f := range faults {
		tr.OnSample(mk(f))
		tr.OnSample(mk(sample.Normal))
	}
	assert.LessOrEqual(t, len(tr.Events()), 3)
}
