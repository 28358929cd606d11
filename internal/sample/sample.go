// Package sample holds the canonical telemetry Sample schema and the pure
// normalization/derivation rules applied to every inbound payload.
package sample

import (
	"math"
	"strings"
	"time"
)

// FaultState is the closed set of operating-condition identifiers.
type FaultState string

const (
	Normal         FaultState = "Normal"
	WindingDefect  FaultState = "WindingDefect"
	SupplyFault    FaultState = "SupplyFault"
	Cavitation     FaultState = "Cavitation"
	BearingWear    FaultState = "BearingWear"
	Overload       FaultState = "Overload"
)

var knownFaultStates = map[FaultState]struct{}{
	Normal:        {},
	WindingDefect: {},
	SupplyFault:   {},
	Cavitation:    {},
	BearingWear:   {},
	Overload:      {},
}

// Sample is a timestamped snapshot of the pump's sensors, per spec.md §3.
type Sample struct {
	Timestamp      time.Time  `json:"timestamp"`
	FaultState     FaultState `json:"fault_state"`
	FaultDurationS int        `json:"fault_duration_s"`

	IA float64 `json:"I_a"`
	IB float64 `json:"I_b"`
	IC float64 `json:"I_c"`

	IAvg         float64 `json:"I_avg"`
	ImbalancePct float64 `json:"imbalance_pct"`

	Voltage     float64 `json:"voltage"`
	Vibration   float64 `json:"vibration"`
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
}

// DeriveCurrents computes I_avg and imbalance_pct per spec.md §3's invariant:
// I_avg = (Ia+Ib+Ic)/3; imbalance_pct = 100 * max(|Ik-avg|)/avg when avg>0, else 0.
func DeriveCurrents(ia, ib, ic float64) (avg, imbalancePct float64) {
	avg = (ia + ib + ic) / 3
	if avg <= 0 {
		return avg, 0
	}
	maxDev := math.Max(math.Abs(ia-avg), math.Max(math.Abs(ib-avg), math.Abs(ic-avg)))
	return avg, 100 * maxDev / avg
}

// CoerceFinite returns v if finite, else 0. Non-finite numeric inputs
// (NaN, +/-Inf) are always coerced to 0 per spec.md §3.
func CoerceFinite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// CanonicalizeFaultState uppercases and normalizes whitespace/underscores,
// mapping unknown values to Normal, per spec.md §4.1.
func CanonicalizeFaultState(raw string) FaultState {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Normal
	}
	upper := strings.ToUpper(trimmed)
	upper = strings.ReplaceAll(upper, "_", "")
	upper = strings.ReplaceAll(upper, " ", "")

	for fs := range knownFaultStates {
		candidate := strings.ToUpper(string(fs))
		candidate = strings.ReplaceAll(candidate, "_", "")
		candidate = strings.ReplaceAll(candidate, " ", "")
		if candidate == upper {
			return fs
		}
	}
	return Normal
}

// Normalize applies the full derivation pipeline to a decoded Sample whose
// numeric fields may already have been coerced by the caller, filling in
// I_avg/imbalance_pct and re-canonicalizing fault state. It never mutates
// the passed value; it returns the normalized copy.
func Normalize(s Sample) Sample {
	s.IA = CoerceFinite(s.IA)
	s.IB = CoerceFinite(s.IB)
	s.IC = CoerceFinite(s.IC)
	s.Voltage = CoerceFinite(s.Voltage)
	s.Vibration = CoerceFinite(s.Vibration)
	s.Pressure = CoerceFinite(s.Pressure)
	s.Temperature = CoerceFinite(s.Temperature)
	if s.FaultDurationS < 0 {
		s.FaultDurationS = 0
	}
	s.FaultState = CanonicalizeFaultState(string(s.FaultState))
	if s.FaultState == Normal {
		s.FaultDurationS = 0
	}
	s.IAvg, s.ImbalancePct = DeriveCurrents(s.IA, s.IB, s.IC)
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	} else {
		s.Timestamp = s.Timestamp.UTC()
	}
	return s
}
