package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"pumpguard/internal/store"
	"pumpguard/internal/telemetry/logging"
)

// writeDeadline bounds every WebSocket send, per spec.md §5.
const writeDeadline = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type sensorUpdateMessage struct {
	Type          string        `json:"type"`
	Data          sampleWireDTO `json:"data"`
	HistoryLength int           `json:"history_length"`
}

// sampleWireDTO is the flat WebSocket wire shape of spec.md §6, distinct
// from the nested-amperage REST DTO used by GET /api/sensor-data.
type sampleWireDTO struct {
	Timestamp      time.Time `json:"timestamp"`
	FaultState     string    `json:"fault_state"`
	FaultDurationS int       `json:"fault_duration_s"`
	IA             float64   `json:"I_a"`
	IB             float64   `json:"I_b"`
	IC             float64   `json:"I_c"`
	IAvg           float64   `json:"I_avg"`
	ImbalancePct   float64   `json:"imbalance_pct"`
	Voltage        float64   `json:"voltage"`
	Vibration      float64   `json:"vibration"`
	Pressure       float64   `json:"pressure"`
	Temperature    float64   `json:"temperature"`
}

// NewSensorStreamHandler upgrades to WebSocket, subscribes to the Store, and
// runs a dedicated writer goroutine per connection: each ingest is pushed
// with a bounded write deadline, and a slow client never blocks ingestion or
// other subscribers, per spec.md §5 and the Store's own drop-oldest
// backpressure discipline.
func NewSensorStreamHandler(st *store.Store, logger logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle := st.Subscribe()
		defer handle.Close()
		defer conn.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case smp, ok := <-handle.C():
				if !ok {
					return
				}
				history := st.History()
				msg := sensorUpdateMessage{
					Type:          "sensor_update",
					HistoryLength: len(history),
					Data: sampleWireDTO{
						Timestamp:      smp.Timestamp,
						FaultState:     string(smp.FaultState),
						FaultDurationS: smp.FaultDurationS,
						IA:             smp.IA,
						IB:             smp.IB,
						IC:             smp.IC,
						IAvg:           smp.IAvg,
						ImbalancePct:   smp.ImbalancePct,
						Voltage:        smp.Voltage,
						Vibration:      smp.Vibration,
						Pressure:       smp.Pressure,
						Temperature:    smp.Temperature,
					},
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := conn.WriteJSON(msg); err != nil {
					if logger != nil {
						logger.WarnCtx(r.Context(), "sensor stream write failed, closing connection", "error", err)
					}
					return
				}
			}
		}
	})
}
