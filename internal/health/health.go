// Package health tracks the recoverable-fault counters the dashboard
// uses to surface degraded status. Every counter is mirrored to a
// prometheus series and rides along inside each telemetry message.
package health

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/akriger/neveryawn/internal/model"
	"github.com/akriger/neveryawn/internal/model/messages"
)

// Counters accumulates recoverable faults. No fault is ever silently
// discarded: every drop, reject and read failure lands here.
type Counters struct {
	sensorFaults   atomic.Uint64
	configRejects  atomic.Uint64
	linkDrops      atomic.Uint64
	queueOverflows atomic.Uint64
	actuatorFaults atomic.Uint64

	promSensorFaults   *prometheus.CounterVec
	promConfigRejects  prometheus.Counter
	promLinkDrops      prometheus.Counter
	promQueueOverflows prometheus.Counter
	promActuatorFaults *prometheus.CounterVec
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
}

// New builds the counter set and registers the prometheus series on
// reg (use prometheus.DefaultRegisterer in mains, a fresh registry in
// tests).
func New(reg prometheus.Registerer) *Counters {
	c := &Counters{
		promSensorFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "air_sensor_faults_total",
			Help: "Sensor reads that failed or fell outside the plausible range",
		}, []string{"channel"}),
		promConfigRejects:  newCounter("air_config_rejects_total", "Threshold updates rejected as invalid"),
		promLinkDrops:      newCounter("air_link_drops_total", "Broker link failures"),
		promQueueOverflows: newCounter("air_queue_overflows_total", "Outbound messages dropped to bound the queue"),
		promActuatorFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "air_actuator_faults_total",
			Help: "Actuator drive failures",
		}, []string{"actuator"}),
	}
	reg.MustRegister(c.promSensorFaults, c.promConfigRejects, c.promLinkDrops,
		c.promQueueOverflows, c.promActuatorFaults)
	return c
}

func (c *Counters) SensorFault(ch model.Channel) {
	c.sensorFaults.Add(1)
	c.promSensorFaults.WithLabelValues(string(ch)).Inc()
}

func (c *Counters) ConfigReject() {
	c.configRejects.Add(1)
	c.promConfigRejects.Inc()
}

func (c *Counters) LinkDrop() {
	c.linkDrops.Add(1)
	c.promLinkDrops.Inc()
}

func (c *Counters) QueueOverflow() {
	c.queueOverflows.Add(1)
	c.promQueueOverflows.Inc()
}

func (c *Counters) ActuatorFault(id model.ActuatorID) {
	c.actuatorFaults.Add(1)
	c.promActuatorFaults.WithLabelValues(string(id)).Inc()
}

// Snapshot returns the current totals for embedding in telemetry.
func (c *Counters) Snapshot() messages.HealthCounters {
	return messages.HealthCounters{
		SensorFaults:   c.sensorFaults.Load(),
		ConfigRejects:  c.configRejects.Load(),
		LinkDrops:      c.linkDrops.Load(),
		QueueOverflows: c.queueOverflows.Load(),
		ActuatorFaults: c.actuatorFaults.Load(),
	}
}
