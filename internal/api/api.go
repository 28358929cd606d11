// Package api exposes the REST and WebSocket surface over the Store,
// FaultTracker, Bridge, ChatSessions, and DiagnosticEngine. Handlers are
// built with the teacher's handler-factory-with-injected-options style
// (NewXHandler(opts XOptions) http.Handler), grounded in
// engine/adapters/telemetryhttp/handlers.go. See spec.md §6.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pumpguard/internal/apierr"
	"pumpguard/internal/bridge"
	"pumpguard/internal/chatsession"
	"pumpguard/internal/command"
	"pumpguard/internal/diagnostic"
	"pumpguard/internal/faulttracker"
	"pumpguard/internal/safety"
	"pumpguard/internal/sample"
	"pumpguard/internal/store"
	"pumpguard/internal/telemetry/logging"
	"pumpguard/internal/telemetry/metrics"
)

// Options bundles every collaborator the API surface depends on. NewMux
// takes one Options value and wires every route, mirroring the teacher's
// preference for an options struct per handler rather than a god object.
type Options struct {
	Store    *store.Store
	Tracker  *faulttracker.Tracker
	Bridge   *bridge.Bridge
	Sessions *chatsession.Sessions
	Engine   *diagnostic.Engine
	Metrics  metrics.Provider
	Logger   logging.Logger
	AssetID  string
}

// NewMux builds the full pumpguard HTTP surface on one http.ServeMux.
func NewMux(opts Options) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /", NewLivenessHandler())
	mux.Handle("GET /healthz", NewReadinessHandler(ReadinessOptions{Bridge: opts.Bridge}))
	mux.Handle("GET /metrics", NewMetricsHandler(opts.Metrics))

	mux.Handle("GET /api/sensor-data", NewSensorDataHandler(opts.Store))
	mux.Handle("GET /api/sensor-history", NewSensorHistoryHandler(opts.Store))
	mux.Handle("POST /api/inject-fault", NewInjectFaultHandler(opts.Bridge, opts.AssetID))
	mux.Handle("POST /api/emergency-stop", NewEmergencyStopHandler(opts.Bridge, opts.AssetID))
	mux.Handle("POST /api/diagnose", NewDiagnoseHandler(opts.Engine))
	mux.Handle("POST /api/chat", NewChatHandler(opts.Engine, opts.Sessions, opts.Store, opts.Tracker))
	mux.Handle("POST /api/logigramme", NewLogigrammeHandler(opts.Engine))
	mux.Handle("GET /api/fault-types", NewFaultTypesHandler())
	mux.Handle("GET /api/fault-context", NewFaultContextHandler(opts.Tracker))

	mux.Handle("GET /ws/sensor-stream", NewSensorStreamHandler(opts.Store, opts.Logger))
	return mux
}

// amperageDTO is the nested amperage shape required by GET /api/sensor-data,
// distinct from sample.Sample's own flat JSON tags (which the WebSocket
// sensor_update payload uses verbatim per spec.md §6).
type amperageDTO struct {
	PhaseA       float64 `json:"phase_a"`
	PhaseB       float64 `json:"phase_b"`
	PhaseC       float64 `json:"phase_c"`
	Average      float64 `json:"average"`
	ImbalancePct float64 `json:"imbalance_pct"`
}

type sampleDTO struct {
	Timestamp      time.Time         `json:"timestamp"`
	FaultState     sample.FaultState `json:"fault_state"`
	FaultDurationS int               `json:"fault_duration_s"`
	Amperage       amperageDTO       `json:"amperage"`
	Voltage        float64           `json:"voltage"`
	Vibration      float64           `json:"vibration"`
	Pressure       float64           `json:"pressure"`
	Temperature    float64           `json:"temperature"`
}

func toSampleDTO(s sample.Sample) sampleDTO {
	return sampleDTO{
		Timestamp:      s.Timestamp,
		FaultState:     s.FaultState,
		FaultDurationS: s.FaultDurationS,
		Amperage: amperageDTO{
			PhaseA: s.IA, PhaseB: s.IB, PhaseC: s.IC,
			Average: s.IAvg, ImbalancePct: s.ImbalancePct,
		},
		Voltage:     s.Voltage,
		Vibration:   s.Vibration,
		Pressure:    s.Pressure,
		Temperature: s.Temperature,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the HTTP status/body of spec.md §7, wrapping any
// error not already carrying an apierr.Kind as InternalError.
func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.Wrap(apierr.InternalError, "unexpected error", err)
	}
	writeJSON(w, apierr.HTTPStatus(apiErr.Kind), map[string]*apierr.Error{"error": apiErr})
}

// NewLivenessHandler reports process liveness unconditionally: it never
// depends on a collaborator, so it can answer before anything else has
// finished starting.
func NewLivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
}

// ReadinessOptions configures the readiness probe.
type ReadinessOptions struct {
	Bridge *bridge.Bridge
}

type readinessResponse struct {
	Ready          bool `json:"ready"`
	BrokerConnected bool `json:"broker_connected"`
}

// NewReadinessHandler reports broker-connected state, generalized from the
// teacher's readinessTracker status-transition handler.
func NewReadinessHandler(opts ReadinessOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connected := opts.Bridge != nil && opts.Bridge.Connected()
		status := http.StatusOK
		if !connected {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, readinessResponse{Ready: connected, BrokerConnected: connected})
	})
}

// NewMetricsHandler exposes the Prometheus scrape endpoint when the active
// provider supports it, mirroring the teacher's NewMetricsHandler fallback.
func NewMetricsHandler(p metrics.Provider) http.Handler {
	if p == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	}
	if promP, ok := p.(interface{ MetricsHandler() http.Handler }); ok {
		return promP.MetricsHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metrics handler unavailable", http.StatusNotImplemented)
	})
}

// NewSensorDataHandler returns the current Sample, or NoData if nothing has
// been ingested yet.
func NewSensorDataHandler(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		latest := st.Latest()
		if latest == nil {
			writeError(w, apierr.New(apierr.NoData, "no sensor data has been ingested yet"))
			return
		}
		writeJSON(w, http.StatusOK, toSampleDTO(*latest))
	})
}

type historyResponse struct {
	Samples []sampleDTO `json:"samples"`
}

// NewSensorHistoryHandler returns the rolling history, oldest first.
func NewSensorHistoryHandler(st *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		history := st.History()
		dtos := make([]sampleDTO, len(history))
		for i, s := range history {
			dtos[i] = toSampleDTO(s)
		}
		writeJSON(w, http.StatusOK, historyResponse{Samples: dtos})
	})
}

type injectFaultRequest struct {
	FaultType         sample.FaultState `json:"fault_type"`
	TemperatureTarget *float64          `json:"temperature_target,omitempty"`
	TemperatureBand   *float64          `json:"temperature_band,omitempty"`
}

// NewInjectFaultHandler publishes an InjectFault command for the requested
// fault type, rejecting the Normal pseudo-fault and any unrecognized one.
func NewInjectFaultHandler(br *bridge.Bridge, assetID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req injectFaultRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierr.Wrap(apierr.InvalidInput, "malformed request body", err))
			return
		}
		canonical := sample.CanonicalizeFaultState(string(req.FaultType))
		if req.FaultType == "" || canonical == sample.Normal {
			writeError(w, apierr.New(apierr.InvalidInput, fmt.Sprintf("unrecognized fault_type %q", req.FaultType)))
			return
		}

		cmd := command.New(command.InjectFault, assetID).WithFault(canonical)
		if req.TemperatureTarget != nil && req.TemperatureBand != nil {
			cmd = cmd.WithTemperature(*req.TemperatureTarget, *req.TemperatureBand)
		}

		if err := br.PublishCommand(r.Context(), cmd); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"request_id": cmd.RequestID})
	})
}

// NewEmergencyStopHandler publishes an EmergencyStop command.
func NewEmergencyStopHandler(br *bridge.Bridge, assetID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cmd := command.New(command.EmergencyStop, assetID)
		if err := br.PublishCommand(r.Context(), cmd); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"request_id": cmd.RequestID})
	})
}

// shutdownDecisionDTO adds the operator-facing icon/message/recommendation
// fields spec.md §6 requires on top of the pure safety.Decision.
type shutdownDecisionDTO struct {
	Action             string      `json:"action"`
	Urgency            string      `json:"urgency"`
	Icon               string      `json:"icon"`
	Message            string      `json:"message"`
	CriticalConditions any         `json:"critical_conditions,omitempty"`
	WarningConditions  any         `json:"warning_conditions,omitempty"`
	Recommendation     string      `json:"recommendation"`
}

type diagnoseRequest struct {
	SensorData sample.Sample `json:"sensor_data"`
}

type diagnoseResponse struct {
	Diagnosis        string              `json:"diagnosis"`
	ShutdownDecision shutdownDecisionDTO `json:"shutdown_decision"`
	References       []diagnostic.Reference `json:"references"`
	FaultDetected    bool                `json:"fault_detected"`
}

// NewDiagnoseHandler runs DiagnosticEngine.Diagnose over the posted sample.
func NewDiagnoseHandler(engine *diagnostic.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req diagnoseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierr.Wrap(apierr.InvalidInput, "malformed request body", err))
			return
		}
		if req.SensorData.Timestamp.IsZero() {
			writeError(w, apierr.New(apierr.InvalidInput, "sensor_data is required"))
			return
		}

		report, err := engine.Diagnose(r.Context(), req.SensorData)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, diagnoseResponse{
			Diagnosis:        report.DiagnosisText,
			ShutdownDecision: toShutdownDecisionDTO(report.ShutdownDecision),
			References:       report.References,
			FaultDetected:    report.FaultDetected,
		})
	})
}

// toShutdownDecisionDTO adds operator-facing icon/message/recommendation
// text on top of the pure safety.Decision, keyed off urgency.
func toShutdownDecisionDTO(d safety.Decision) shutdownDecisionDTO {
	dto := shutdownDecisionDTO{
		Action:             string(d.Action),
		Urgency:            string(d.Urgency),
		CriticalConditions: d.CriticalConditions,
		WarningConditions:  d.WarningConditions,
	}
	switch d.Urgency {
	case safety.Critical:
		dto.Icon = "🛑"
		dto.Message = "Immediate shutdown required."
		dto.Recommendation = "Stop the pump now and address the critical conditions before restarting."
	case safety.Warning:
		dto.Icon = "⚠️"
		dto.Message = "Operating outside nominal range."
		dto.Recommendation = "Continue operation but schedule maintenance for the flagged conditions."
	default:
		dto.Icon = "✅"
		dto.Message = "Operating normally."
		dto.Recommendation = "No action required."
	}
	return dto
}

type chatRequest struct {
	Message            string `json:"message"`
	IncludeSensorContext bool `json:"include_sensor_context,omitempty"`
	SessionID           string `json:"session_id"`
}

type chatResponse struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChatHandler runs DiagnosticEngine.Ask, threading session history and
// (optionally) the current Sample/fault context, then records both turns.
func NewChatHandler(engine *diagnostic.Engine, sessions *chatsession.Sessions, st *store.Store, tracker *faulttracker.Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierr.Wrap(apierr.InvalidInput, "malformed request body", err))
			return
		}
		if req.Message == "" || req.SessionID == "" {
			writeError(w, apierr.New(apierr.InvalidInput, "message and session_id are required"))
			return
		}

		var s *sample.Sample
		if req.IncludeSensorContext {
			s = st.Latest()
		}
		var faultCtx *faulttracker.Context
		if tracker != nil {
			faultCtx = tracker.Active()
		}
		history := sessions.History(req.SessionID)

		reply, err := engine.Ask(r.Context(), req.Message, s, faultCtx, history)
		if err != nil {
			writeError(w, err)
			return
		}

		sessions.Append(req.SessionID, "user", req.Message)
		sessions.Append(req.SessionID, "assistant", reply)

		writeJSON(w, http.StatusOK, chatResponse{Response: reply, Timestamp: time.Now().UTC()})
	})
}

type logigrammeRequest struct {
	FaultType sample.FaultState `json:"fault_type"`
	Diagnosis string            `json:"diagnosis,omitempty"`
}

type logigrammeResponse struct {
	Steps []diagnostic.Step `json:"steps"`
}

// NewLogigrammeHandler runs DiagnosticEngine.Checklist for the given fault type.
func NewLogigrammeHandler(engine *diagnostic.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req logigrammeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierr.Wrap(apierr.InvalidInput, "malformed request body", err))
			return
		}
		if req.FaultType == "" {
			writeError(w, apierr.New(apierr.InvalidInput, "fault_type is required"))
			return
		}

		steps, err := engine.Checklist(r.Context(), req.FaultType, nil, req.Diagnosis)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, logigrammeResponse{Steps: steps})
	})
}

var knownFaultTypes = []sample.FaultState{
	sample.WindingDefect, sample.SupplyFault, sample.Cavitation, sample.BearingWear, sample.Overload,
}

// NewFaultTypesHandler enumerates the injectable fault identifiers.
func NewFaultTypesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]sample.FaultState{"fault_types": knownFaultTypes})
	})
}

type faultContextResponse struct {
	Active *faulttracker.Context  `json:"active"`
	Events []faulttracker.Context `json:"events"`
}

// NewFaultContextHandler returns the active fault (if any) plus the bounded
// event log.
func NewFaultContextHandler(tracker *faulttracker.Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, faultContextResponse{
			Active: tracker.Active(),
			Events: tracker.Events(),
		})
	})
}
