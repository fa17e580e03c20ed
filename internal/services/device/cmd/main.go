package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akriger/neveryawn/internal/health"
	"github.com/akriger/neveryawn/internal/model"
	"github.com/akriger/neveryawn/internal/sensorsim"
	"github.com/akriger/neveryawn/internal/services/actuator"
	"github.com/akriger/neveryawn/internal/services/device"
	"github.com/akriger/neveryawn/internal/services/display"
	"github.com/akriger/neveryawn/internal/services/sampler"
	"github.com/akriger/neveryawn/internal/services/telemetry"
	"github.com/akriger/neveryawn/internal/services/threshold"
	"github.com/akriger/neveryawn/pkg/mqttconn"
)

func main() {
	deviceID := flag.String("device-id", "neveryawn-"+uuid.NewString()[:8], "unique device identifier")
	interval := flag.Duration("interval", 2*time.Second, "sampling interval")
	flag.Parse()

	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counters := health.New(prometheus.DefaultRegisterer)

	gen := sensorsim.NewGenerator(time.Now().UnixNano())
	smp := sampler.New(gen, sampler.DefaultHistoryLen, counters)
	if err := smp.Probe(); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	eng := threshold.New(model.DefaultThresholds(), cfg.UseSmoothed)

	dwell := map[model.ActuatorID]time.Duration{
		model.ActuatorFan:    cfg.dwell(),
		model.ActuatorBuzzer: cfg.dwell(),
		model.ActuatorServo:  cfg.dwell(),
	}
	ctrl := actuator.New(actuator.LogDriver{}, model.DefaultActuatorRules(), dwell, counters)

	link := telemetry.NewMQTTLink(&mqttconn.Config{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		User:     cfg.MQTTUser,
		Password: cfg.MQTTPassword,
		ClientID: *deviceID + "-pub",
	})
	pub := telemetry.New(link, telemetry.Config{
		QueueCapacity:       cfg.QueueCapacity,
		MaxRetries:          cfg.MaxRetries,
		TelemetryTopic:      "airmonitor/telemetry/" + *deviceID,
		ActuatorTopicPrefix: "airmonitor/actuator/" + *deviceID,
	}, counters)
	go pub.Run(ctx)

	pres := display.New(os.Stdout)

	dev := device.New(device.Config{
		DeviceID:    *deviceID,
		Interval:    *interval,
		UseSmoothed: cfg.UseSmoothed,
	}, smp, eng, ctrl, pub, pres, counters)

	// Inbound control plane: threshold updates and manual overrides.
	// The device keeps sampling and actuating even when this fails;
	// only remote control is lost until restart.
	subCfg := &mqttconn.Config{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		User:     cfg.MQTTUser,
		Password: cfg.MQTTPassword,
		ClientID: *deviceID + "-sub",
	}
	if client, err := mqttconn.Connect(subCfg, ctx); err != nil {
		log.Printf("WARN: running without inbound control: %v", err)
	} else {
		cfgConsumer := mqttconn.NewConsumer(client, 1, dev.HandleConfigMessage,
			"airmonitor/config/thresholds")
		cmdConsumer := mqttconn.NewConsumer(client, 1, dev.HandleCommandMessage,
			"airmonitor/command/"+*deviceID)
		go cfgConsumer.Consume(ctx)
		go cmdConsumer.Consume(ctx)
	}

	http.Handle("/metrics", promhttp.Handler())
	http.Handle("/healthz", device.NewHealthHandler(pub, counters))
	http.Handle("/readyz", device.NewReadyHandler(pub))
	go func() {
		log.Printf("device %s: http on :%s", *deviceID, cfg.Port)
		if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
			log.Printf("http server: %v", err)
		}
	}()

	dev.Run(ctx)
}
