package main

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	MQTTHost     string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string

	Port string

	QueueCapacity int
	MaxRetries    int
	DwellSec      int
	UseSmoothed   bool
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getenvBool(k string, d bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return d
}

func loadConfig() Config {
	return Config{
		MQTTHost:     getenv("MQTT_HOST", "localhost"),
		MQTTPort:     getenvInt("MQTT_PORT", 1883),
		MQTTUser:     getenv("MQTT_USER", "guest"),
		MQTTPassword: getenv("MQTT_PASSWORD", "guest"),

		Port: getenv("PORT", "5010"),

		QueueCapacity: getenvInt("QUEUE_CAPACITY", 64),
		MaxRetries:    getenvInt("PUBLISH_MAX_RETRIES", 5),
		DwellSec:      getenvInt("ACTUATOR_DWELL_SEC", 5),
		UseSmoothed:   getenvBool("USE_SMOOTHED", true),
	}
}

func (c Config) dwell() time.Duration {
	return time.Duration(c.DwellSec) * time.Second
}
