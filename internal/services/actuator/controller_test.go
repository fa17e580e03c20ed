package actuator

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/akriger/neveryawn/internal/health"
	"github.com/akriger/neveryawn/internal/model"
	"github.com/akriger/neveryawn/internal/services/threshold"
)

type driveCall struct {
	id    model.ActuatorID
	state model.ActuatorState
}

// fakeDriver records drive/pulse calls and can be made to fail.
type fakeDriver struct {
	drives []driveCall
	pulses []model.ActuatorID
	fail   error
}

func (d *fakeDriver) Drive(id model.ActuatorID, state model.ActuatorState) error {
	if d.fail != nil {
		return d.fail
	}
	d.drives = append(d.drives, driveCall{id, state})
	return nil
}

func (d *fakeDriver) Pulse(id model.ActuatorID) error {
	if d.fail != nil {
		return d.fail
	}
	d.pulses = append(d.pulses, id)
	return nil
}

func fanRule() []model.ActuatorRule {
	return []model.ActuatorRule{{
		Channel:  model.ChannelCO2,
		MinLevel: model.LevelAlert,
		Actuator: model.ActuatorFan,
		OnRaise:  model.ActionOn,
		OnClear:  model.ActionOff,
	}}
}

func co2Intent(level, prev model.AlertLevel) []threshold.Intent {
	return []threshold.Intent{{Channel: model.ChannelCO2, Level: level, Prev: prev}}
}

func newController(d Driver, rules []model.ActuatorRule) *Controller {
	return New(d, rules, nil, health.New(prometheus.NewRegistry()))
}

func TestRaiseAndClearDriveTheFan(t *testing.T) {
	d := &fakeDriver{}
	c := newController(d, fanRule())
	t0 := time.Now()

	changes := c.HandleIntents(co2Intent(model.LevelAlert, model.LevelNormal), t0)
	if len(changes) != 1 || changes[0].Actuator != model.ActuatorFan || changes[0].State != model.StateOn {
		t.Fatalf("raise: got %+v", changes)
	}
	if changes[0].Reason != "rule" {
		t.Fatalf("reason = %q", changes[0].Reason)
	}

	changes = c.HandleIntents(co2Intent(model.LevelNormal, model.LevelAlert), t0.Add(10*time.Second))
	if len(changes) != 1 || changes[0].State != model.StateOff {
		t.Fatalf("clear: got %+v", changes)
	}
	if len(d.drives) != 2 {
		t.Fatalf("driver calls = %+v", d.drives)
	}
}

func TestDwellQueuesAndAppliesAtExpiry(t *testing.T) {
	d := &fakeDriver{}
	c := newController(d, fanRule())
	t0 := time.Now()

	c.HandleIntents(co2Intent(model.LevelAlert, model.LevelNormal), t0)

	// A clear one second later lands inside the dwell window: queued,
	// nothing driven.
	changes := c.HandleIntents(co2Intent(model.LevelNormal, model.LevelAlert), t0.Add(time.Second))
	if len(changes) != 0 {
		t.Fatalf("flip inside dwell applied immediately: %+v", changes)
	}
	if len(d.drives) != 1 {
		t.Fatalf("driver calls = %+v", d.drives)
	}

	// Ticks inside the window do nothing.
	if changes := c.Tick(t0.Add(3 * time.Second)); len(changes) != 0 {
		t.Fatalf("tick inside dwell applied: %+v", changes)
	}

	// The first tick past expiry applies the queued flip.
	changes = c.Tick(t0.Add(DefaultDwell))
	if len(changes) != 1 || changes[0].State != model.StateOff || changes[0].Reason != "dwell" {
		t.Fatalf("tick at expiry: got %+v", changes)
	}
	if got := c.States()[model.ActuatorFan]; got != model.StateOff {
		t.Fatalf("state = %v, want off", got)
	}
}

func TestSupersedingFlipCancelsQueuedOpposite(t *testing.T) {
	d := &fakeDriver{}
	c := newController(d, fanRule())
	t0 := time.Now()

	c.HandleIntents(co2Intent(model.LevelAlert, model.LevelNormal), t0)
	// Clear queued inside dwell, then a re-raise supersedes it: the fan
	// must stay on and nothing fires at expiry.
	c.HandleIntents(co2Intent(model.LevelNormal, model.LevelAlert), t0.Add(time.Second))
	c.HandleIntents(co2Intent(model.LevelAlert, model.LevelNormal), t0.Add(2*time.Second))

	if changes := c.Tick(t0.Add(DefaultDwell + time.Second)); len(changes) != 0 {
		t.Fatalf("superseded flip still applied: %+v", changes)
	}
	if got := c.States()[model.ActuatorFan]; got != model.StateOn {
		t.Fatalf("state = %v, want on", got)
	}
	if len(d.drives) != 1 {
		t.Fatalf("driver calls = %+v, want the initial On only", d.drives)
	}
}

func TestNeverTwoFlipsInsideOneDwellWindow(t *testing.T) {
	d := &fakeDriver{}
	c := New(d, fanRule(), map[model.ActuatorID]time.Duration{model.ActuatorFan: 4 * time.Second}, health.New(prometheus.NewRegistry()))
	t0 := time.Now()

	// Alternate raise/clear every second for a while; count applied
	// flips per sliding dwell window.
	var applied []time.Time
	level := model.LevelAlert
	prev := model.LevelNormal
	for i := 0; i < 20; i++ {
		now := t0.Add(time.Duration(i) * time.Second)
		for _, sc := range c.Tick(now) {
			applied = append(applied, sc.At)
		}
		for _, sc := range c.HandleIntents(co2Intent(level, prev), now) {
			applied = append(applied, sc.At)
		}
		level, prev = prev, level
	}
	for i := 1; i < len(applied); i++ {
		if applied[i].Sub(applied[i-1]) < 4*time.Second {
			t.Fatalf("two flips %v apart, dwell is 4s", applied[i].Sub(applied[i-1]))
		}
	}
	if len(applied) < 2 {
		t.Fatalf("expected multiple applied flips, got %d", len(applied))
	}
}

func TestQueuedFlipSurvivesDriveFailure(t *testing.T) {
	d := &fakeDriver{}
	counters := health.New(prometheus.NewRegistry())
	c := New(d, fanRule(), nil, counters)
	t0 := time.Now()

	c.HandleIntents(co2Intent(model.LevelAlert, model.LevelNormal), t0)
	c.HandleIntents(co2Intent(model.LevelNormal, model.LevelAlert), t0.Add(time.Second)) // queued

	// The drive fails at window expiry: the flip must stay queued,
	// not vanish with only a fault count.
	d.fail = errors.New("relay stuck")
	if changes := c.Tick(t0.Add(DefaultDwell)); len(changes) != 0 {
		t.Fatalf("failed drive reported as applied: %+v", changes)
	}
	if got := counters.Snapshot().ActuatorFaults; got != 1 {
		t.Fatalf("actuator faults = %d, want 1", got)
	}

	d.fail = nil
	changes := c.Tick(t0.Add(DefaultDwell + time.Second))
	if len(changes) != 1 || changes[0].State != model.StateOff || changes[0].Reason != "dwell" {
		t.Fatalf("retried flip: got %+v, want the queued Off", changes)
	}
	if got := c.States()[model.ActuatorFan]; got != model.StateOff {
		t.Fatalf("state = %v, want off", got)
	}
}

func TestMuteSuppressesBuzzerButNotForced(t *testing.T) {
	d := &fakeDriver{}
	rules := []model.ActuatorRule{
		{Channel: model.ChannelCO2, MinLevel: model.LevelAlert, Actuator: model.ActuatorBuzzer, OnRaise: model.ActionOn, OnClear: model.ActionOff},
		{Channel: model.ChannelCO2, MinLevel: model.LevelCritical, Actuator: model.ActuatorBuzzer, OnRaise: model.ActionOn, OnClear: model.ActionOff, Forced: true},
	}
	c := newController(d, rules)
	t0 := time.Now()

	c.HandleCommand("MUTE", "ON", "", t0)
	if !c.Muted() {
		t.Fatal("mute flag not set")
	}

	// Plain alert: buzzer suppressed.
	if changes := c.HandleIntents(co2Intent(model.LevelAlert, model.LevelNormal), t0.Add(6*time.Second)); len(changes) != 0 {
		t.Fatalf("muted buzzer driven: %+v", changes)
	}
	// Critical is forced past the mute.
	changes := c.HandleIntents(co2Intent(model.LevelCritical, model.LevelAlert), t0.Add(12*time.Second))
	if len(changes) != 1 || changes[0].State != model.StateOn {
		t.Fatalf("forced critical buzzer: got %+v", changes)
	}
}

func TestBuzzerOverrideCommand(t *testing.T) {
	d := &fakeDriver{}
	c := newController(d, model.DefaultActuatorRules())
	t0 := time.Now()

	changes := c.HandleCommand("BUZZER", "ON", "", t0)
	if len(changes) != 1 || changes[0].Actuator != model.ActuatorBuzzer || changes[0].Reason != "override" {
		t.Fatalf("got %+v", changes)
	}
	c.HandleCommand("FLAG", "", "WAVE", t0.Add(10*time.Second))
	if len(d.pulses) != 1 || d.pulses[0] != model.ActuatorServo {
		t.Fatalf("pulses = %+v", d.pulses)
	}
}

func TestDriverFailureKeepsLastKnownState(t *testing.T) {
	d := &fakeDriver{}
	counters := health.New(prometheus.NewRegistry())
	c := New(d, fanRule(), nil, counters)
	t0 := time.Now()

	c.HandleIntents(co2Intent(model.LevelAlert, model.LevelNormal), t0)

	d.fail = errors.New("relay stuck")
	changes := c.HandleIntents(co2Intent(model.LevelNormal, model.LevelAlert), t0.Add(10*time.Second))
	if len(changes) != 0 {
		t.Fatalf("failed drive reported as applied: %+v", changes)
	}
	if got := c.States()[model.ActuatorFan]; got != model.StateOn {
		t.Fatalf("state = %v, want last known (on)", got)
	}
	if got := counters.Snapshot().ActuatorFaults; got != 1 {
		t.Fatalf("actuator faults = %d, want 1", got)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	d := &fakeDriver{fail: errors.New("bus error")}
	c := newController(d, fanRule())
	t0 := time.Now()

	// A failed drive leaves the state off, so every raise retries the
	// On request. Three consecutive failures trip the breaker.
	for i := 0; i < 3; i++ {
		now := t0.Add(time.Duration(i) * 10 * time.Second)
		c.HandleIntents(co2Intent(model.LevelAlert, model.LevelNormal), now)
	}

	d.fail = nil
	// Breaker is open for its 30s timeout: the driver must not be
	// reached even though it would now succeed.
	c.HandleIntents(co2Intent(model.LevelAlert, model.LevelNormal), t0.Add(31*time.Second))
	if len(d.drives) != 0 {
		t.Fatalf("driver reached while breaker open: %+v", d.drives)
	}
}
