package actuator

import (
	"log"

	"github.com/akriger/neveryawn/internal/model"
)

// Driver is the only path to the physical outputs. Drive latches an
// on/off state (relay, buzzer PWM); Pulse performs a momentary action
// (the servo wave) without latching anything.
type Driver interface {
	Drive(id model.ActuatorID, state model.ActuatorState) error
	Pulse(id model.ActuatorID) error
}

// LogDriver stands in for GPIO on development machines: it just logs
// what the pins would do.
type LogDriver struct{}

func (LogDriver) Drive(id model.ActuatorID, state model.ActuatorState) error {
	log.Printf("actuator: %s -> %s", id, state)
	return nil
}

func (LogDriver) Pulse(id model.ActuatorID) error {
	log.Printf("actuator: %s pulse", id)
	return nil
}
