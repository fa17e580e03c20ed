package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/akriger/neveryawn/internal/health"
	"github.com/akriger/neveryawn/internal/model"
	"github.com/akriger/neveryawn/internal/model/messages"
	"github.com/akriger/neveryawn/internal/services/actuator"
	"github.com/akriger/neveryawn/internal/services/display"
	"github.com/akriger/neveryawn/internal/services/sampler"
	"github.com/akriger/neveryawn/internal/services/telemetry"
	"github.com/akriger/neveryawn/internal/services/threshold"
	"github.com/akriger/neveryawn/pkg/dedup"
)

// Config identifies the device and sets the sampling cadence.
type Config struct {
	DeviceID    string
	Interval    time.Duration
	UseSmoothed bool
}

// Device is the cooperative control loop: one tick samples, evaluates
// thresholds, drives actuators, publishes telemetry and renders the
// display, in that fixed order, so everything a cycle reports is
// mutually consistent.
type Device struct {
	cfg       Config
	sampler   *sampler.Sampler
	engine    *threshold.Engine
	actuators *actuator.Controller
	publisher *telemetry.Publisher
	presenter *display.Presenter
	counters  *health.Counters
	deduper   *dedup.Deduper

	// Async inbound updates park here and are applied at the top of
	// the next cycle, never mid-cycle.
	mu          sync.Mutex
	pendingCfg  *model.ThresholdConfig
	pendingCmds []messages.Command
}

func New(cfg Config, smp *sampler.Sampler, eng *threshold.Engine, act *actuator.Controller,
	pub *telemetry.Publisher, pres *display.Presenter, counters *health.Counters) *Device {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Device{
		cfg:       cfg,
		sampler:   smp,
		engine:    eng,
		actuators: act,
		publisher: pub,
		presenter: pres,
		counters:  counters,
		deduper:   dedup.New(2*time.Minute, 10000),
	}
}

// Run drives the tick loop until ctx is cancelled. The publisher's
// network task must be started separately; a stalled link never blocks
// a tick.
func (d *Device) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	log.Printf("device %s: loop started (interval %s)", d.cfg.DeviceID, d.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("device %s: loop stopped", d.cfg.DeviceID)
			return
		case now := <-ticker.C:
			d.cycle(now)
		}
	}
}

// cycle runs one tick. Fan-out order is fixed: sampler, threshold
// engine (intents handed to the actuator controller), display,
// telemetry publisher.
func (d *Device) cycle(now time.Time) {
	changes := d.applyPending(now)
	changes = append(changes, d.actuators.Tick(now)...)

	snap := d.sampler.Tick(now)

	var smoother threshold.Smoother
	if d.cfg.UseSmoothed {
		smoother = d.sampler.Smoothed
	}
	intents := d.engine.Evaluate(snap, smoother)
	changes = append(changes, d.actuators.HandleIntents(intents, now)...)

	states := d.actuators.States()
	if err := d.presenter.Render(display.View{
		DeviceID:  d.cfg.DeviceID,
		Snapshot:  snap,
		Levels:    d.engine.Levels(),
		Actuators: states,
		Config:    d.engine.Config(),
		Muted:     d.actuators.Muted(),
		At:        now,
	}); err != nil {
		log.Printf("device %s: %v", d.cfg.DeviceID, err)
	}

	if err := d.publisher.PublishTelemetry(d.telemetryFor(snap, now)); err != nil {
		log.Printf("device %s: telemetry: %v", d.cfg.DeviceID, err)
	}
	for _, sc := range changes {
		ev := messages.ActuatorStateEvent{
			DeviceID:  d.cfg.DeviceID,
			Actuator:  sc.Actuator,
			NewState:  sc.State,
			Reason:    sc.Reason,
			Timestamp: sc.At,
		}
		if err := d.publisher.PublishActuatorEvent(ev); err != nil {
			log.Printf("device %s: actuator event: %v", d.cfg.DeviceID, err)
		}
	}
}

func (d *Device) telemetryFor(snap model.Snapshot, now time.Time) messages.Telemetry {
	levels := d.engine.Levels()
	channels := make(map[model.Channel]messages.ChannelValue, len(snap))
	for ch, r := range snap {
		if !r.Valid {
			continue
		}
		channels[ch] = messages.ChannelValue{Value: r.Value, Status: int(levels[ch])}
	}
	return messages.Telemetry{
		DeviceID:  d.cfg.DeviceID,
		Channels:  channels,
		Health:    d.counters.Snapshot(),
		Timestamp: now,
	}
}

// applyPending swaps in parked config and override commands between
// cycles.
func (d *Device) applyPending(now time.Time) []actuator.StateChange {
	d.mu.Lock()
	cfg := d.pendingCfg
	cmds := d.pendingCmds
	d.pendingCfg = nil
	d.pendingCmds = nil
	d.mu.Unlock()

	if cfg != nil {
		d.engine.SetConfig(*cfg)
	}
	var changes []actuator.StateChange
	for _, cmd := range cmds {
		changes = append(changes, d.actuators.HandleCommand(cmd.Command, cmd.Status, cmd.Action, now)...)
	}
	return changes
}

// HandleConfigMessage consumes a threshold update from the dashboard.
// Invalid updates are rejected and counted; the previous config stays
// active. QoS1 redeliveries are dropped by payload hash.
func (d *Device) HandleConfigMessage(_ string, msg mqtt.Message) error {
	h := sha256.Sum256(msg.Payload())
	if d.deduper.Seen(hex.EncodeToString(h[:])) {
		return nil
	}

	var upd messages.ThresholdUpdate
	if err := json.Unmarshal(msg.Payload(), &upd); err != nil {
		d.counters.ConfigReject()
		log.Printf("device %s: bad threshold update: %v", d.cfg.DeviceID, err)
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	base := d.engine.Config()
	if d.pendingCfg != nil {
		base = *d.pendingCfg
	}
	merged := base.Merge(upd.Thresholds)
	if err := merged.Validate(); err != nil {
		d.counters.ConfigReject()
		log.Printf("device %s: threshold update rejected: %v", d.cfg.DeviceID, err)
		return nil
	}
	d.pendingCfg = &merged
	log.Printf("device %s: threshold update staged (v%d)", d.cfg.DeviceID, merged.Version)
	return nil
}

// HandleCommandMessage consumes a manual override (MUTE, BUZZER,
// FLAG/WAVE); it is applied at the next cycle boundary.
func (d *Device) HandleCommandMessage(_ string, msg mqtt.Message) error {
	h := sha256.Sum256(msg.Payload())
	if d.deduper.Seen(hex.EncodeToString(h[:])) {
		return nil
	}

	var cmd messages.Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		log.Printf("device %s: bad command: %v", d.cfg.DeviceID, err)
		return nil
	}
	d.mu.Lock()
	d.pendingCmds = append(d.pendingCmds, cmd)
	d.mu.Unlock()
	return nil
}
