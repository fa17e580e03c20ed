package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/akriger/neveryawn/internal/services/recorder"
	"github.com/akriger/neveryawn/pkg/mqttconn"
)

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	clientID := flag.String("client-id", "neveryawn-recorder", "MQTT client ID")
	flag.Parse()

	cfg := &mqttconn.Config{
		Host:     getenv("MQTT_HOST", "localhost"),
		Port:     1883,
		User:     getenv("MQTT_USER", "guest"),
		Password: getenv("MQTT_PASSWORD", "guest"),
		ClientID: *clientID,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := mqttconn.Connect(cfg, ctx)
	if err != nil {
		log.Fatalf("recorder: %v", err)
	}

	consumer := mqttconn.NewConsumer(client, 1, nil,
		"airmonitor/telemetry/+", "airmonitor/actuator/+/+")

	svc, err := recorder.NewService(consumer, recorder.InfluxConfig{
		URL:    getenv("INFLUX_URL", "http://influxdb:8086"),
		Token:  getenv("INFLUX_TOKEN", ""),
		Org:    getenv("INFLUX_ORG", "neveryawn"),
		Bucket: getenv("INFLUX_BUCKET", "air"),
	})
	if err != nil {
		log.Fatalf("recorder: %v", err)
	}

	log.Println("recorder: running")
	svc.Start(ctx)
}
