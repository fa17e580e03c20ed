package messages

import (
	"time"

	"github.com/akriger/neveryawn/internal/model"
)

// ThresholdUpdate arrives from the dashboard on the config topic.
// Channels absent from the map keep their current thresholds.
type ThresholdUpdate struct {
	Thresholds map[model.Channel]model.ChannelThreshold `json:"thresholds"`
	Timestamp  time.Time                                `json:"timestamp"`
}

// Command carries manual overrides from the dashboard:
// MUTE (status ON/OFF), BUZZER (status ON/OFF), FLAG (action WAVE).
type Command struct {
	Command string `json:"command"`
	Status  string `json:"status,omitempty"`
	Action  string `json:"action,omitempty"`
}
