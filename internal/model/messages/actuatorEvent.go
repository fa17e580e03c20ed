package messages

import (
	"time"

	"github.com/akriger/neveryawn/internal/model"
)

// ActuatorStateEvent is published whenever the controller flips a
// physical output, so recorded actuator state always matches the
// telemetry snapshot of the same cycle.
type ActuatorStateEvent struct {
	DeviceID  string              `json:"device_id"`
	Actuator  model.ActuatorID    `json:"actuator"`
	NewState  model.ActuatorState `json:"new_state"`
	Seq       uint64              `json:"seq"`
	Reason    string              `json:"reason"` // "rule" | "override" | "dwell"
	Timestamp time.Time           `json:"timestamp"`
}
