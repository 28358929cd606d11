// Package safety implements the deterministic safety classifier: a pure
// function from a Sample to a shutdown decision, with no I/O and no shared
// state. See spec.md §4.4.
package safety

import "pumpguard/internal/sample"

// Action is the recommended operator/automation response.
type Action string

const (
	ImmediateShutdown Action = "ImmediateShutdown"
	ContinueThenStop  Action = "ContinueThenStop"
	NormalOperation   Action = "NormalOperation"
)

// Urgency mirrors Action at a coarser granularity for dashboard coloring.
type Urgency string

const (
	Critical Urgency = "Critical"
	Warning  Urgency = "Warning"
	Ok       Urgency = "Ok"
)

// Condition is a single threshold breach, always carrying the parameter
// name, the observed value, the threshold that was crossed, and a reason.
type Condition struct {
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Reason    string  `json:"reason"`
}

// Decision is the outcome of evaluating a single Sample.
type Decision struct {
	Action             Action      `json:"action"`
	Urgency            Urgency     `json:"urgency"`
	CriticalConditions []Condition `json:"critical_conditions,omitempty"`
	WarningConditions  []Condition `json:"warning_conditions,omitempty"`
}

// Evaluate classifies s against the fixed critical/warning thresholds of
// spec.md §4.4. It is pure and deterministic: identical samples always
// produce identical decisions.
func Evaluate(s sample.Sample) Decision {
	var critical, warning []Condition

	// Temperature: critical >90, warning [80,90].
	switch {
	case s.Temperature > 90:
		critical = append(critical, Condition{"Temperature", s.Temperature, 90, "temperature exceeds critical threshold"})
	case s.Temperature >= 80 && s.Temperature <= 90:
		warning = append(warning, Condition{"Temperature", s.Temperature, 80, "temperature elevated"})
	}

	// Vibration: critical >10, warning (5,10].
	switch {
	case s.Vibration > 10:
		critical = append(critical, Condition{"Vibration", s.Vibration, 10, "vibration exceeds critical threshold"})
	case s.Vibration > 5 && s.Vibration <= 10:
		warning = append(warning, Condition{"Vibration", s.Vibration, 5, "vibration elevated"})
	}

	// Imbalance: critical >15, warning (5,15].
	switch {
	case s.ImbalancePct > 15:
		critical = append(critical, Condition{"Imbalance", s.ImbalancePct, 15, "phase current imbalance exceeds critical threshold"})
	case s.ImbalancePct > 5 && s.ImbalancePct <= 15:
		warning = append(warning, Condition{"Imbalance", s.ImbalancePct, 5, "phase current imbalance elevated"})
	}

	// Voltage: critical <180 or >270, warning outside [207,253] but within [180,270].
	switch {
	case s.Voltage < 180:
		critical = append(critical, Condition{"Voltage", s.Voltage, 180, "voltage below critical low threshold"})
	case s.Voltage > 270:
		critical = append(critical, Condition{"Voltage", s.Voltage, 270, "voltage above critical high threshold"})
	case s.Voltage < 207:
		warning = append(warning, Condition{"Voltage", s.Voltage, 207, "voltage below nominal band"})
	case s.Voltage > 253:
		warning = append(warning, Condition{"Voltage", s.Voltage, 253, "voltage above nominal band"})
	}

	// Pressure: critical <=0, warning (0,2).
	switch {
	case s.Pressure <= 0:
		critical = append(critical, Condition{"Pressure", s.Pressure, 0, "pressure at or below critical floor"})
	case s.Pressure > 0 && s.Pressure < 2:
		warning = append(warning, Condition{"Pressure", s.Pressure, 2, "pressure below nominal band"})
	}

	if len(critical) > 0 {
		return Decision{Action: ImmediateShutdown, Urgency: Critical, CriticalConditions: critical, WarningConditions: warning}
	}
	if len(warning) > 0 {
		return Decision{Action: ContinueThenStop, Urgency: Warning, WarningConditions: warning}
	}
	return Decision{Action: NormalOperation, Urgency: Ok}
}
