package actuator

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/akriger/neveryawn/internal/health"
	"github.com/akriger/neveryawn/internal/model"
	"github.com/akriger/neveryawn/internal/services/threshold"
)

// DefaultDwell is the minimum interval between state flips of one
// actuator; it protects relays and the fan motor from rapid cycling.
const DefaultDwell = 5 * time.Second

// StateChange reports an applied flip so the caller can publish it.
type StateChange struct {
	Actuator model.ActuatorID
	State    model.ActuatorState
	Reason   string // "rule" | "override" | "dwell"
	At       time.Time
}

type pendingFlip struct {
	state  model.ActuatorState
	forced bool
	reason string
}

// Controller owns every physical output. Alert intents map onto
// actuators through the configured rules; flips inside the dwell
// window are queued and applied at window expiry, a later request
// superseding an earlier queued one for the same actuator.
type Controller struct {
	mu       sync.Mutex
	driver   Driver
	rules    []model.ActuatorRule
	dwell    map[model.ActuatorID]time.Duration
	states   map[model.ActuatorID]model.ActuatorState
	lastFlip map[model.ActuatorID]time.Time
	pending  map[model.ActuatorID]pendingFlip
	muted    bool
	breakers map[model.ActuatorID]*gobreaker.CircuitBreaker
	counters *health.Counters
}

func New(driver Driver, rules []model.ActuatorRule, dwell map[model.ActuatorID]time.Duration, counters *health.Counters) *Controller {
	c := &Controller{
		driver:   driver,
		rules:    rules,
		dwell:    dwell,
		states:   make(map[model.ActuatorID]model.ActuatorState),
		lastFlip: make(map[model.ActuatorID]time.Time),
		pending:  make(map[model.ActuatorID]pendingFlip),
		breakers: make(map[model.ActuatorID]*gobreaker.CircuitBreaker),
		counters: counters,
	}
	for _, r := range rules {
		if _, ok := c.states[r.Actuator]; !ok {
			c.states[r.Actuator] = model.StateOff
			c.breakers[r.Actuator] = newBreaker(r.Actuator)
		}
	}
	return c
}

func newBreaker(id model.ActuatorID) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(id),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})
}

func (c *Controller) dwellFor(id model.ActuatorID) time.Duration {
	if d, ok := c.dwell[id]; ok {
		return d
	}
	return DefaultDwell
}

// HandleIntents maps alert transitions onto actuator requests and
// returns the flips applied this cycle.
func (c *Controller) HandleIntents(intents []threshold.Intent, now time.Time) []StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changes []StateChange
	for _, in := range intents {
		for _, r := range c.rules {
			if r.Channel != in.Channel {
				continue
			}
			raised := in.Level >= r.MinLevel && in.Prev < r.MinLevel
			cleared := in.Level < r.MinLevel && in.Prev >= r.MinLevel
			switch {
			case raised:
				changes = append(changes, c.request(r.Actuator, r.OnRaise, r.Forced, "rule", now)...)
			case cleared:
				changes = append(changes, c.request(r.Actuator, r.OnClear, r.Forced, "rule", now)...)
			}
		}
	}
	return changes
}

// Tick applies queued flips whose dwell window has expired. The device
// loop calls it once per cycle.
func (c *Controller) Tick(now time.Time) []StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changes []StateChange
	for id, p := range c.pending {
		if now.Sub(c.lastFlip[id]) < c.dwellFor(id) {
			continue
		}
		sc, ok := c.apply(id, p.state, "dwell", now)
		if !ok {
			// Drive failed; the flip stays queued for the next tick.
			// The breaker bounds how hard a dead output gets hammered.
			continue
		}
		delete(c.pending, id)
		changes = append(changes, sc)
	}
	return changes
}

// request handles one action under the mute and dwell policies.
// Caller holds the lock.
func (c *Controller) request(id model.ActuatorID, action model.ActuatorAction, forced bool, reason string, now time.Time) []StateChange {
	if action == model.ActionPulse {
		c.pulse(id, now)
		return nil
	}

	state := model.StateOff
	if action == model.ActionOn {
		state = model.StateOn
	}
	if c.muted && id == model.ActuatorBuzzer && state == model.StateOn && !forced {
		log.Printf("actuator: %s on suppressed (muted)", id)
		return nil
	}
	if c.states[id] == state {
		// A queued opposite flip is obsolete once we are asked to stay.
		delete(c.pending, id)
		return nil
	}
	if now.Sub(c.lastFlip[id]) < c.dwellFor(id) {
		c.pending[id] = pendingFlip{state: state, forced: forced, reason: reason}
		log.Printf("actuator: %s -> %s queued (dwell)", id, state)
		return nil
	}
	if sc, ok := c.apply(id, state, reason, now); ok {
		return []StateChange{sc}
	}
	return nil
}

// apply drives the output through the breaker. On failure the actuator
// is assumed stuck in its last known state. Caller holds the lock.
func (c *Controller) apply(id model.ActuatorID, state model.ActuatorState, reason string, now time.Time) (StateChange, bool) {
	br := c.breakers[id]
	if br == nil {
		br = newBreaker(id)
		c.breakers[id] = br
	}
	_, err := br.Execute(func() (interface{}, error) {
		return nil, c.driver.Drive(id, state)
	})
	if err != nil {
		log.Printf("actuator: drive %s -> %s failed: %v", id, state, err)
		c.counters.ActuatorFault(id)
		return StateChange{}, false
	}
	c.states[id] = state
	c.lastFlip[id] = now
	return StateChange{Actuator: id, State: state, Reason: reason, At: now}, true
}

// pulse fires a momentary action; pulses inside the dwell window are
// dropped rather than queued. Caller holds the lock.
func (c *Controller) pulse(id model.ActuatorID, now time.Time) {
	if now.Sub(c.lastFlip[id]) < c.dwellFor(id) {
		return
	}
	br := c.breakers[id]
	if br == nil {
		br = newBreaker(id)
		c.breakers[id] = br
	}
	if _, err := br.Execute(func() (interface{}, error) {
		return nil, c.driver.Pulse(id)
	}); err != nil {
		log.Printf("actuator: pulse %s failed: %v", id, err)
		c.counters.ActuatorFault(id)
		return
	}
	c.lastFlip[id] = now
}

// States returns a copy of the current per-actuator states for the
// display and the telemetry publisher.
func (c *Controller) States() map[model.ActuatorID]model.ActuatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[model.ActuatorID]model.ActuatorState, len(c.states))
	for id, st := range c.states {
		out[id] = st
	}
	return out
}

// Muted reports the buzzer mute flag.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// HandleCommand applies a manual override from the dashboard:
// MUTE ON/OFF, BUZZER ON/OFF, FLAG WAVE.
func (c *Controller) HandleCommand(command, status, action string, now time.Time) []StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch strings.ToUpper(command) {
	case "MUTE":
		c.muted = strings.EqualFold(status, "ON")
		log.Printf("actuator: mute %v", c.muted)
		if c.muted {
			return c.request(model.ActuatorBuzzer, model.ActionOff, true, "override", now)
		}
	case "BUZZER":
		act := model.ActionOff
		if strings.EqualFold(status, "ON") {
			act = model.ActionOn
		}
		return c.request(model.ActuatorBuzzer, act, true, "override", now)
	case "FLAG":
		if strings.EqualFold(action, "WAVE") {
			c.pulse(model.ActuatorServo, now)
		}
	default:
		log.Printf("actuator: unknown command %q", command)
	}
	return nil
}
