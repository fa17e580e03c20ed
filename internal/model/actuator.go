package model

// ActuatorState indicates whether a physical output is driven.
type ActuatorState string

const (
	StateOff ActuatorState = "off"
	StateOn  ActuatorState = "on"
)

// ActuatorID names a physical output on the device.
type ActuatorID string

const (
	ActuatorFan    ActuatorID = "fan"
	ActuatorBuzzer ActuatorID = "buzzer"
	ActuatorServo  ActuatorID = "servo"
)

// ActuatorAction is what a rule asks of an actuator. Pulse is a
// momentary action (the servo wave) that does not latch a state.
type ActuatorAction string

const (
	ActionOn    ActuatorAction = "on"
	ActionOff   ActuatorAction = "off"
	ActionPulse ActuatorAction = "pulse"
)

// ActuatorRule maps a channel alert level onto an actuator action.
// Forced actions ignore the mute flag (the critical CO2 buzzer).
type ActuatorRule struct {
	Channel  Channel        `json:"channel"`
	MinLevel AlertLevel     `json:"min_level"`
	Actuator ActuatorID     `json:"actuator"`
	OnRaise  ActuatorAction `json:"on_raise"`
	OnClear  ActuatorAction `json:"on_clear"`
	Forced   bool           `json:"forced,omitempty"`
}

// DefaultActuatorRules mirrors the device's wiring: the fan follows
// the CO2 alert, the buzzer follows the critical CO2 tier regardless
// of mute, and the servo waves once on any alert.
func DefaultActuatorRules() []ActuatorRule {
	rules := []ActuatorRule{
		{Channel: ChannelCO2, MinLevel: LevelAlert, Actuator: ActuatorFan, OnRaise: ActionOn, OnClear: ActionOff},
		{Channel: ChannelCO2, MinLevel: LevelCritical, Actuator: ActuatorBuzzer, OnRaise: ActionOn, OnClear: ActionOff, Forced: true},
	}
	for _, ch := range Channels {
		rules = append(rules, ActuatorRule{
			Channel: ch, MinLevel: LevelAlert, Actuator: ActuatorServo, OnRaise: ActionPulse, OnClear: ActionOff,
		})
	}
	return rules
}
