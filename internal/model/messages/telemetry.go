package messages

import (
	"time"

	"github.com/akriger/neveryawn/internal/model"
)

// ChannelValue is one channel inside a telemetry message: the measured
// value plus the status code the dashboard renders (0 normal, 1 alert,
// 2 critical).
type ChannelValue struct {
	Value  float64 `json:"value"`
	Status int     `json:"status"`
}

// Telemetry is the combined per-device snapshot published every cycle.
type Telemetry struct {
	DeviceID  string                         `json:"device_id"`
	Seq       uint64                         `json:"seq"`
	Channels  map[model.Channel]ChannelValue `json:"channels"`
	Health    HealthCounters                 `json:"health"`
	Timestamp time.Time                      `json:"timestamp"`
}

// HealthCounters ride along with every telemetry message so the
// dashboard can surface degraded status without a separate poll.
type HealthCounters struct {
	SensorFaults   uint64 `json:"sensor_faults"`
	ConfigRejects  uint64 `json:"config_rejects"`
	LinkDrops      uint64 `json:"link_drops"`
	QueueOverflows uint64 `json:"queue_overflows"`
	ActuatorFaults uint64 `json:"actuator_faults"`
}
