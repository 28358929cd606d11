package command

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pumpguard/internal/sample"
)

func TestNew_StampsRequestIDAndAsset(t *testing.T) {
	c := New(EmergencyStop, "pump01")
	assert.Equal(t, EmergencyStop, c.Command)
	assert.Equal(t, "pump01", c.PumpID)
	assert.NotEmpty(t, c.RequestID)
	assert.False(t, c.Timestamp.IsZero())
}

func TestNew_EachCallGetsAUniqueRequestID(t *testing.T) {
	a := New(Reset, "pump01")
	b := New(Reset, "pump01")
	assert.NotEqual(t, a.RequestID, b.RequestID)
}

func TestWithFaultAndTemperature(t *testing.T) {
	c := New(InjectFault, "pump01").WithFault(sample.BearingWear).WithTemperature(95.0, 3.0)
	assert.Equal(t, sample.BearingWear, c.FaultType)
	require := assert.New(t)
	require.NotNil(c.TemperatureTarget)
	require.NotNil(c.TemperatureBand)
	require.Equal(95.0, *c.TemperatureTarget)
	require.Equal(3.0, *c.TemperatureBand)
}
