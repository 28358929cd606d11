// Package command models the operator/diagnostic commands accepted by the
// Bridge for publication to the simulated asset, per spec.md §3/§6.
package command

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"pumpguard/internal/sample"
)

// Kind is the closed set of commands the bridge can publish, using the
// wire-level spelling of spec.md §6.
type Kind string

const (
	InjectFault   Kind = "INJECT_FAULT"
	Reset         Kind = "RESET"
	EmergencyStop Kind = "EMERGENCY_STOP"
)

// Command is the wire shape published on the command topic.
type Command struct {
	PumpID            string            `json:"pump_id"`
	RequestID         string            `json:"request_id"`
	Timestamp         time.Time         `json:"timestamp"`
	Command           Kind              `json:"command"`
	FaultType         sample.FaultState `json:"fault_type,omitempty"`
	TemperatureTarget *float64          `json:"temperature_target,omitempty"`
	TemperatureBand   *float64          `json:"temperature_band,omitempty"`
}

// New stamps a command with a fresh request_id and the current asset/time,
// leaving the caller to fill in the kind-specific fields. The request_id
// carries the millisecond epoch so it sorts and is human-debuggable, with a
// uuid suffix guaranteeing idempotency-key uniqueness under rapid retries.
func New(kind Kind, pumpID string) Command {
	now := time.Now().UTC()
	return Command{
		PumpID:    pumpID,
		RequestID: fmt.Sprintf("req-%d-%s", now.UnixMilli(), uuid.NewString()),
		Timestamp: now,
		Command:   kind,
	}
}

// WithFault sets the target fault state for an InjectFault command.
func (c Command) WithFault(fs sample.FaultState) Command {
	c.FaultType = fs
	return c
}

// WithTemperature sets an optional target/band override for InjectFault.
func (c Command) WithTemperature(target, band float64) Command {
	c.TemperatureTarget = &target
	c.TemperatureBand = &band
	return c
}
