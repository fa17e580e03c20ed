// Package recorder is the passive sink side of the telemetry stream:
// it subscribes to the device topics and writes every message into
// InfluxDB. The device core has no dependency on it.
package recorder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/akriger/neveryawn/internal/model/messages"
	"github.com/akriger/neveryawn/pkg/dedup"
	"github.com/akriger/neveryawn/pkg/mqttconn"
)

// InfluxConfig locates the bucket telemetry lands in.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Service consumes telemetry and actuator topics and persists them.
// The publisher delivers at-least-once; duplicates are dropped by
// payload hash before they reach the database.
type Service struct {
	consumer mqttconn.IConsumer
	writeAPI api.WriteAPIBlocking
	deduper  *dedup.Deduper
}

func NewService(consumer mqttconn.IConsumer, cfg InfluxConfig) (*Service, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	s := &Service{
		consumer: consumer,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		deduper:  dedup.New(10*time.Minute, 20000),
	}
	consumer.SetHandler(s.handleMessage)
	return s, nil
}

// Start blocks consuming until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.consumer.Consume(ctx)
}

func (s *Service) handleMessage(topic string, msg mqtt.Message) error {
	h := sha256.Sum256(msg.Payload())
	if s.deduper.Seen(hex.EncodeToString(h[:])) {
		return nil
	}

	switch {
	case strings.Contains(topic, "/telemetry/"):
		return s.writeTelemetry(topic, msg.Payload())
	case strings.Contains(topic, "/actuator/"):
		return s.writeActuatorEvent(topic, msg.Payload())
	default:
		return nil
	}
}

func (s *Service) writeTelemetry(topic string, payload []byte) error {
	var t messages.Telemetry
	if err := json.Unmarshal(payload, &t); err != nil {
		log.Printf("recorder: invalid telemetry on %s: %v", topic, err)
		return nil // do not stall the stream on one bad payload
	}

	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	for ch, cv := range t.Channels {
		tags := map[string]string{
			"device_id": t.DeviceID,
			"channel":   string(ch),
		}
		fields := map[string]interface{}{
			"value":  cv.Value,
			"status": int64(cv.Status),
			"seq":    int64(t.Seq),
		}
		point := influxdb2.NewPoint("air_quality", tags, fields, ts)
		if err := s.writeAPI.WritePoint(context.Background(), point); err != nil {
			log.Printf("recorder: write error: %v", err)
			return err
		}
	}

	healthFields := map[string]interface{}{
		"sensor_faults":   int64(t.Health.SensorFaults),
		"config_rejects":  int64(t.Health.ConfigRejects),
		"link_drops":      int64(t.Health.LinkDrops),
		"queue_overflows": int64(t.Health.QueueOverflows),
		"actuator_faults": int64(t.Health.ActuatorFaults),
	}
	point := influxdb2.NewPoint("device_health",
		map[string]string{"device_id": t.DeviceID}, healthFields, ts)
	if err := s.writeAPI.WritePoint(context.Background(), point); err != nil {
		log.Printf("recorder: health write error: %v", err)
		return err
	}

	log.Printf("recorder: wrote telemetry device=%s seq=%d channels=%d", t.DeviceID, t.Seq, len(t.Channels))
	return nil
}

func (s *Service) writeActuatorEvent(topic string, payload []byte) error {
	var ev messages.ActuatorStateEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("recorder: invalid actuator event on %s: %v", topic, err)
		return nil
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	tags := map[string]string{
		"device_id": ev.DeviceID,
		"actuator":  string(ev.Actuator),
		"reason":    ev.Reason,
	}
	fields := map[string]interface{}{
		"state": string(ev.NewState),
		"seq":   int64(ev.Seq),
	}
	point := influxdb2.NewPoint("actuator_state", tags, fields, ts)
	if err := s.writeAPI.WritePoint(context.Background(), point); err != nil {
		log.Printf("recorder: actuator write error: %v", err)
		return err
	}
	log.Printf("recorder: wrote actuator device=%s %s=%s", ev.DeviceID, ev.Actuator, ev.NewState)
	return nil
}
