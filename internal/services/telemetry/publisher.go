package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/akriger/neveryawn/internal/health"
	"github.com/akriger/neveryawn/internal/model/messages"
)

// ConnState is the broker link state machine:
// Disconnected -> Connecting -> Connected -> (Disconnected on failure).
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config tunes the publisher. Zero fields take the defaults below; the
// numbers are configuration, not invariants, and tests pick their own.
type Config struct {
	QueueCapacity  int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	FlushTimeout   time.Duration

	TelemetryTopic      string
	ActuatorTopicPrefix string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.QueueCapacity <= 0 {
		out.QueueCapacity = 64
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 5
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = 500 * time.Millisecond
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 30 * time.Second
	}
	if out.FlushTimeout <= 0 {
		out.FlushTimeout = 3 * time.Second
	}
	return out
}

// Publisher serializes snapshots and actuator events, queues them with
// per-topic sequence numbers, and ships them to the broker from an
// independent goroutine so a stalled link never delays the tick loop.
type Publisher struct {
	cfg      Config
	link     Link
	q        *queue
	counters *health.Counters

	mu    sync.Mutex
	seq   map[string]uint64 // next sequence number per topic
	acked map[string]uint64 // highest acknowledged sequence per topic
	state ConnState

	wake chan struct{}
}

func New(link Link, cfg Config, counters *health.Counters) *Publisher {
	c := cfg.withDefaults()
	return &Publisher{
		cfg:      c,
		link:     link,
		q:        newQueue(c.QueueCapacity),
		counters: counters,
		seq:      make(map[string]uint64),
		acked:    make(map[string]uint64),
		wake:     make(chan struct{}, 1),
	}
}

// State returns the current link state.
func (p *Publisher) State() ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// QueueLen reports the number of unacknowledged messages.
func (p *Publisher) QueueLen() int { return p.q.len() }

func (p *Publisher) setState(s ConnState) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	if prev != s {
		log.Printf("telemetry: link %s -> %s", prev, s)
	}
}

func (p *Publisher) nextSeq(topic string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq[topic]++
	return p.seq[topic]
}

// PublishTelemetry enqueues the per-cycle snapshot message. Never
// blocks: on a full queue the oldest unacknowledged message is dropped
// and counted.
func (p *Publisher) PublishTelemetry(t messages.Telemetry) error {
	t.Seq = p.nextSeq(p.cfg.TelemetryTopic)
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	p.enqueue(p.cfg.TelemetryTopic, t.Seq, payload)
	return nil
}

// PublishActuatorEvent enqueues an actuator state change on the
// per-actuator topic.
func (p *Publisher) PublishActuatorEvent(ev messages.ActuatorStateEvent) error {
	topic := p.cfg.ActuatorTopicPrefix + "/" + string(ev.Actuator)
	ev.Seq = p.nextSeq(topic)
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal actuator event: %w", err)
	}
	p.enqueue(topic, ev.Seq, payload)
	return nil
}

func (p *Publisher) enqueue(topic string, seq uint64, payload []byte) {
	m := &Message{ID: uuid.NewString(), Topic: topic, Payload: payload, Seq: seq}
	if dropped := p.q.push(m); dropped != nil {
		p.counters.QueueOverflow()
		log.Printf("telemetry: queue full, dropped seq %d on %s", dropped.Seq, dropped.Topic)
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run is the network task. It owns the link: connect with capped
// exponential backoff, replay the queue in order, fall back to
// Disconnected on any publish failure. On ctx cancellation it flushes
// the queue within FlushTimeout and closes the link.
func (p *Publisher) Run(ctx context.Context) {
	for {
		if err := p.connect(ctx); err != nil {
			p.shutdown()
			return
		}
		if !p.pump(ctx) {
			p.flush()
			p.shutdown()
			return
		}
	}
}

// connect drives Disconnected -> Connecting -> Connected. Only a
// cancelled context makes it return an error.
func (p *Publisher) connect(ctx context.Context) error {
	p.setState(StateConnecting)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialBackoff
	bo.MaxInterval = p.cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // retry until cancelled

	err := backoff.Retry(func() error {
		if err := p.link.Connect(ctx); err != nil {
			log.Printf("telemetry: connect failed: %v", err)
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		p.setState(StateDisconnected)
		return err
	}
	p.setState(StateConnected)
	return nil
}

// pump drains the queue while connected. Returns true to reconnect
// after a link failure, false when ctx was cancelled.
func (p *Publisher) pump(ctx context.Context) bool {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if !p.drain() {
			p.setState(StateDisconnected)
			p.link.Close()
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// drain publishes queued messages in sequence order until the queue is
// empty. Returns false on a link failure with the failed message still
// at the head (unless its retry budget is exhausted).
func (p *Publisher) drain() bool {
	for {
		m := p.q.peek()
		if m == nil {
			return true
		}

		p.mu.Lock()
		alreadyAcked := m.Seq <= p.acked[m.Topic]
		p.mu.Unlock()
		if alreadyAcked {
			// Acknowledged in a previous session; never resend.
			p.q.popIf(m)
			continue
		}

		if err := p.link.Publish(m.Topic, 1, m.Payload); err != nil {
			p.counters.LinkDrop()
			m.Retries++
			if m.Retries > p.cfg.MaxRetries {
				// popIf false means an overflow already dropped and
				// counted m while the publish was in flight.
				if p.q.popIf(m) {
					p.counters.QueueOverflow()
				}
				log.Printf("telemetry: seq %d on %s exceeded %d retries, dropped: %v",
					m.Seq, m.Topic, p.cfg.MaxRetries, err)
				continue
			}
			log.Printf("telemetry: publish seq %d on %s failed (attempt %d): %v",
				m.Seq, m.Topic, m.Retries, err)
			return false
		}

		p.mu.Lock()
		if m.Seq > p.acked[m.Topic] {
			p.acked[m.Topic] = m.Seq
		}
		p.mu.Unlock()
		// Remove m by identity: if an overflow displaced it mid-flight
		// the current head is a different message and must stay.
		p.q.popIf(m)
	}
}

// flush makes a bounded last effort to deliver what is still queued.
func (p *Publisher) flush() {
	deadline := time.Now().Add(p.cfg.FlushTimeout)
	for p.q.len() > 0 && time.Now().Before(deadline) {
		if p.State() != StateConnected {
			break
		}
		if !p.drain() {
			break
		}
	}
}

func (p *Publisher) shutdown() {
	p.link.Close()
	p.setState(StateDisconnected)
	// Reached on every exit path, including a cancel that lands while
	// connect is still retrying with the queue untouched.
	if n := p.q.len(); n > 0 {
		log.Printf("telemetry: shutdown with %d undelivered messages", n)
	}
}
