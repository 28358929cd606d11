package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpguard/internal/sample"
)

func TestEvaluate_NormalOperation(t *testing.T) {
	s := sample.Sample{Temperature: 65, Vibration: 1.5, Voltage: 230, ImbalancePct: 0, Pressure: 5}
	d := Evaluate(s)
	assert.Equal(t, NormalOperation, d.Action)
	assert.Equal(t, Ok, d.Urgency)
	assert.Empty(t, d.CriticalConditions)
	assert.Empty(t, d.WarningConditions)
}

func TestEvaluate_CriticalShutdown(t *testing.T) {
	s := sample.Sample{Temperature: 92, ImbalancePct: 18, Voltage: 230, Vibration: 2, Pressure: 4}
	d := Evaluate(s)
	require.Equal(t, ImmediateShutdown, d.Action)
	assert.Equal(t, Critical, d.Urgency)

	byParam := map[string]Condition{}
	for _, c := range d.CriticalConditions {
		byParam[c.Parameter] = c
	}
	require.Contains(t, byParam, "Temperature")
	assert.Equal(t, 92.0, byParam["Temperature"].Value)
	assert.Equal(t, 90.0, byParam["Temperature"].Threshold)
	require.Contains(t, byParam, "Imbalance")
	assert.Equal(t, 18.0, byParam["Imbalance"].Value)
	assert.Equal(t, 15.0, byParam["Imbalance"].Threshold)
}

func TestEvaluate_WarningOnly(t *testing.T) {
	s := sample.Sample{Temperature: 82, ImbalancePct: 7, Voltage: 220, Vibration: 4, Pressure: 4}
	d := Evaluate(s)
	require.Equal(t, ContinueThenStop, d.Action)
	assert.Empty(t, d.CriticalConditions)

	params := map[string]bool{}
	for _, c := range d.WarningConditions {
		params[c.Parameter] = true
	}
	assert.True(t, params["Temperature"])
	assert.True(t, params["Imbalance"])
}

func TestEvaluate_Determinism(t *testing.T) {
	s := sample.Sample{Temperature: 91, Vibration: 11, ImbalancePct: 16, Voltage: 150, Pressure: -1}
	d1 := Evaluate(s)
	d2 := Evaluate(s)
	assert.Equal(t, d1, d2)
}

func TestEvaluate_VoltageBoundaries(t *testing.T) {
	cases := []struct {
		name    string
		voltage float64
		action  Action
	}{
		{"critical low", 179, ImmediateShutdown},
		{"warning low", 200, ContinueThenStop},
		{"nominal", 230, NormalOperation},
		{"warning high", 260, ContinueThenStop},
		{"critical high", 271, ImmediateShutdown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := sample.Sample{Voltage: tc.voltage, Temperature: 50, Vibration: 1, Pressure: 5}
			d := Evaluate(s)
			assert.Equal(t, tc.action, d.Action)
		})
	}
}

func TestEvaluate_PressureBoundaries(t *testing.T) {
	cases := []struct {
		name     string
		pressure float64
		action   Action
	}{
		{"critical zero", 0, ImmediateShutdown},
		{"critical negative", -1, ImmediateShutdown},
		{"warning low", 1, ContinueThenStop},
		{"nominal", 5, NormalOperation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := sample.Sample{Pressure: tc.pressure, Temperature: 50, Vibration: 1, Voltage: 230}
			d := Evaluate(s)
			assert.Equal(t, tc.action, d.Action)
		})
	}
}
