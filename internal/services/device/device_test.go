package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/akriger/neveryawn/internal/health"
	"github.com/akriger/neveryawn/internal/model"
	"github.com/akriger/neveryawn/internal/model/messages"
	"github.com/akriger/neveryawn/internal/services/actuator"
	"github.com/akriger/neveryawn/internal/services/display"
	"github.com/akriger/neveryawn/internal/services/sampler"
	"github.com/akriger/neveryawn/internal/services/telemetry"
	"github.com/akriger/neveryawn/internal/services/threshold"
)

type fixedReader struct {
	mu     sync.Mutex
	values map[model.Channel]float64
}

func (r *fixedReader) Read(ch model.Channel) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[ch]
	if !ok {
		return 0, errors.New("no sensor")
	}
	return v, nil
}

func (r *fixedReader) set(ch model.Channel, v float64) {
	r.mu.Lock()
	r.values[ch] = v
	r.mu.Unlock()
}

// captureLink records everything the publisher ships.
type captureLink struct {
	mu        sync.Mutex
	published []struct {
		topic   string
		payload []byte
	}
}

func (l *captureLink) Connect(ctx context.Context) error { return nil }

func (l *captureLink) Publish(topic string, qos byte, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published = append(l.published, struct {
		topic   string
		payload []byte
	}{topic, payload})
	return nil
}

func (l *captureLink) Close() {}

func (l *captureLink) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.published)
}

// fakeMessage satisfies mqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fixture struct {
	dev    *Device
	reader *fixedReader
	engine *threshold.Engine
	ctrl   *actuator.Controller
	pub    *telemetry.Publisher
	link   *captureLink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reader := &fixedReader{values: map[model.Channel]float64{
		model.ChannelTemperature: 21.0,
		model.ChannelHumidity:    45.0,
		model.ChannelCO2:         600,
		model.ChannelVOC:         120,
	}}
	counters := health.New(prometheus.NewRegistry())
	smp := sampler.New(reader, 5, counters)
	cfg := model.ThresholdConfig{
		Version: 1,
		Thresholds: map[model.Channel]model.ChannelThreshold{
			model.ChannelCO2: {Low: 0, High: 1000, Margin: 100},
		},
	}
	eng := threshold.New(cfg, false)
	ctrl := actuator.New(&actuator.LogDriver{}, model.DefaultActuatorRules(), nil, counters)
	link := &captureLink{}
	pub := telemetry.New(link, telemetry.Config{
		TelemetryTopic:      "airmonitor/telemetry/dev1",
		ActuatorTopicPrefix: "airmonitor/actuator/dev1",
	}, counters)
	pres := display.New(&bytes.Buffer{})

	dev := New(Config{DeviceID: "dev1", Interval: 2 * time.Second}, smp, eng, ctrl, pub, pres, counters)
	return &fixture{dev: dev, reader: reader, engine: eng, ctrl: ctrl, pub: pub, link: link}
}

func (f *fixture) waitPublished(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.link.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d messages published", f.link.count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCycleAlertDrivesFanAndPublishesBoth(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.pub.Run(ctx)

	t0 := time.Now()
	f.dev.cycle(t0) // calm cycle: telemetry only
	f.waitPublished(t, 1)

	f.reader.set(model.ChannelCO2, 1200)
	f.dev.cycle(t0.Add(2 * time.Second))
	f.waitPublished(t, 3) // telemetry + fan state event, same cycle

	if got := f.ctrl.States()[model.ActuatorFan]; got != model.StateOn {
		t.Fatalf("fan = %v, want on", got)
	}

	var sawTelemetry, sawEvent bool
	f.link.mu.Lock()
	for _, p := range f.link.published[1:] {
		switch p.topic {
		case "airmonitor/telemetry/dev1":
			var tm messages.Telemetry
			if err := json.Unmarshal(p.payload, &tm); err != nil {
				t.Fatalf("unmarshal telemetry: %v", err)
			}
			if got := tm.Channels[model.ChannelCO2]; got.Value != 1200 || got.Status != 1 {
				t.Fatalf("co2 channel = %+v, want value 1200 status 1", got)
			}
			sawTelemetry = true
		case "airmonitor/actuator/dev1/fan":
			var ev messages.ActuatorStateEvent
			if err := json.Unmarshal(p.payload, &ev); err != nil {
				t.Fatalf("unmarshal event: %v", err)
			}
			if ev.NewState != model.StateOn || ev.Reason != "rule" {
				t.Fatalf("event = %+v", ev)
			}
			sawEvent = true
		}
	}
	f.link.mu.Unlock()
	if !sawTelemetry || !sawEvent {
		t.Fatalf("telemetry=%v event=%v, want both in the alert cycle", sawTelemetry, sawEvent)
	}
}

func TestConfigUpdateAppliesAtNextCycle(t *testing.T) {
	f := newFixture(t)
	t0 := time.Now()

	f.reader.set(model.ChannelCO2, 1200)
	f.dev.cycle(t0)
	if got := f.ctrl.States()[model.ActuatorFan]; got != model.StateOn {
		t.Fatalf("setup: fan = %v", got)
	}

	upd, _ := json.Marshal(messages.ThresholdUpdate{
		Thresholds: map[model.Channel]model.ChannelThreshold{
			model.ChannelCO2: {Low: 0, High: 2000, Margin: 100},
		},
	})
	if err := f.dev.HandleConfigMessage("airmonitor/config/thresholds", &fakeMessage{payload: upd}); err != nil {
		t.Fatalf("config message: %v", err)
	}

	// Staged only: the active config is untouched until the next cycle.
	if got := f.engine.Config().Version; got != 1 {
		t.Fatalf("config version before cycle = %d, want 1", got)
	}

	f.dev.cycle(t0.Add(6 * time.Second))
	if got := f.engine.Config().Version; got != 2 {
		t.Fatalf("config version after cycle = %d, want 2", got)
	}
	// 1200 is normal under the new high of 2000; the fan goes back off.
	if got := f.ctrl.States()[model.ActuatorFan]; got != model.StateOff {
		t.Fatalf("fan = %v, want off under new thresholds", got)
	}
}

func TestDuplicateConfigMessageIgnored(t *testing.T) {
	f := newFixture(t)

	upd, _ := json.Marshal(messages.ThresholdUpdate{
		Thresholds: map[model.Channel]model.ChannelThreshold{
			model.ChannelCO2: {Low: 0, High: 1800, Margin: 100},
		},
	})
	f.dev.HandleConfigMessage("t", &fakeMessage{payload: upd})
	f.dev.HandleConfigMessage("t", &fakeMessage{payload: upd}) // QoS1 redelivery

	f.dev.cycle(time.Now())
	// One staged merge, one version bump.
	if got := f.engine.Config().Version; got != 2 {
		t.Fatalf("config version = %d, want 2", got)
	}
}

func TestInvalidConfigRejectedAndCounted(t *testing.T) {
	reader := &fixedReader{values: map[model.Channel]float64{model.ChannelCO2: 600}}
	counters := health.New(prometheus.NewRegistry())
	smp := sampler.New(reader, 5, counters)
	eng := threshold.New(model.DefaultThresholds(), false)
	ctrl := actuator.New(&actuator.LogDriver{}, model.DefaultActuatorRules(), nil, counters)
	pub := telemetry.New(&captureLink{}, telemetry.Config{TelemetryTopic: "t", ActuatorTopicPrefix: "a"}, counters)
	dev := New(Config{DeviceID: "dev1"}, smp, eng, ctrl, pub, display.New(&bytes.Buffer{}), counters)

	bad, _ := json.Marshal(messages.ThresholdUpdate{
		Thresholds: map[model.Channel]model.ChannelThreshold{
			model.ChannelCO2: {Low: 500, High: 400, Margin: 10}, // high below low
		},
	})
	dev.HandleConfigMessage("t", &fakeMessage{payload: bad})
	dev.HandleConfigMessage("t", &fakeMessage{payload: []byte("not json")})

	if got := counters.Snapshot().ConfigRejects; got != 2 {
		t.Fatalf("config rejects = %d, want 2", got)
	}
	dev.cycle(time.Now())
	if got := eng.Config().Version; got != 1 {
		t.Fatalf("rejected update changed the config: v%d", got)
	}
}

func TestCommandAppliedAtCycleBoundary(t *testing.T) {
	f := newFixture(t)

	cmd, _ := json.Marshal(messages.Command{Command: "MUTE", Status: "ON"})
	if err := f.dev.HandleCommandMessage("airmonitor/command/dev1", &fakeMessage{payload: cmd}); err != nil {
		t.Fatalf("command: %v", err)
	}
	if f.ctrl.Muted() {
		t.Fatal("command applied before the cycle boundary")
	}
	f.dev.cycle(time.Now())
	if !f.ctrl.Muted() {
		t.Fatal("mute not applied at the cycle boundary")
	}
}

func TestSensorFaultsSurfaceInTelemetryHealth(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.pub.Run(ctx)

	t0 := time.Now()
	f.dev.cycle(t0)
	f.reader.set(model.ChannelVOC, 99999) // implausible
	f.dev.cycle(t0.Add(2 * time.Second))
	f.waitPublished(t, 2)

	f.link.mu.Lock()
	payload := f.link.published[1].payload
	f.link.mu.Unlock()
	var tm messages.Telemetry
	if err := json.Unmarshal(payload, &tm); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tm.Health.SensorFaults != 1 {
		t.Fatalf("health.SensorFaults = %d, want 1", tm.Health.SensorFaults)
	}
	// The held VOC value still reports.
	if got := tm.Channels[model.ChannelVOC]; got.Value != 120 {
		t.Fatalf("voc = %+v, want held 120", got)
	}
}
