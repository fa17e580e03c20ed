package sampler

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/akriger/neveryawn/internal/health"
	"github.com/akriger/neveryawn/internal/model"
)

// DefaultHistoryLen is the rolling window used for smoothing.
const DefaultHistoryLen = 5

// SensorReader reads one raw value from the physical (or simulated)
// sensor behind a channel. A hardware error surfaces as an error, an
// implausible value as a plain out-of-range float; the sampler treats
// both as a fault for that channel only.
type SensorReader interface {
	Read(ch model.Channel) (float64, error)
}

// history is a bounded ring of the last valid values for one channel.
type history struct {
	vals []float64
	max  int
}

func (h *history) push(v float64) {
	if len(h.vals) >= h.max {
		copy(h.vals, h.vals[1:])
		h.vals[len(h.vals)-1] = v
	} else {
		h.vals = append(h.vals, v)
	}
}

func (h *history) avg() (float64, bool) {
	if len(h.vals) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range h.vals {
		sum += v
	}
	return sum / float64(len(h.vals)), true
}

// Sampler polls every channel once per tick, filters implausible
// readings, holds the last valid snapshot entry per channel and keeps
// a short rolling history for smoothing.
type Sampler struct {
	mu       sync.Mutex
	reader   SensorReader
	snapshot model.Snapshot
	hist     map[model.Channel]*history
	counters *health.Counters
}

func New(reader SensorReader, historyLen int, counters *health.Counters) *Sampler {
	if historyLen <= 0 {
		historyLen = DefaultHistoryLen
	}
	hist := make(map[model.Channel]*history, len(model.Channels))
	for _, ch := range model.Channels {
		hist[ch] = &history{max: historyLen}
	}
	return &Sampler{
		reader:   reader,
		snapshot: make(model.Snapshot, len(model.Channels)),
		hist:     hist,
		counters: counters,
	}
}

// Probe verifies at startup that at least one sensor answers with a
// plausible value. This is the only unrecoverable failure: a device
// with no working sensors has nothing to monitor.
func (s *Sampler) Probe() error {
	for _, ch := range model.Channels {
		if v, err := s.reader.Read(ch); err == nil && ch.Plausible(v) {
			return nil
		}
	}
	return errors.New("sampler: no sensor produced a plausible reading at startup")
}

// Tick reads each channel once and returns an immutable snapshot copy.
// A failed or implausible read is counted, logged and held over: the
// previous valid entry for that channel stays in the snapshot, and the
// other channels are unaffected.
func (s *Sampler) Tick(now time.Time) model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range model.Channels {
		v, err := s.reader.Read(ch)
		switch {
		case err != nil:
			log.Printf("sampler: %s read error: %v (holding last valid)", ch, err)
			s.counters.SensorFault(ch)
		case !ch.Plausible(v):
			log.Printf("sampler: %s value %.2f outside %v (holding last valid)", ch, v, ch.PlausibleRange())
			s.counters.SensorFault(ch)
		default:
			s.snapshot[ch] = model.Reading{Channel: ch, Value: v, Timestamp: now, Valid: true}
			s.hist[ch].push(v)
		}
	}
	return s.snapshot.Clone()
}

// Smoothed returns the moving average over the rolling history for ch.
// ok is false until the channel has produced at least one valid value.
func (s *Sampler) Smoothed(ch model.Channel) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist[ch].avg()
}
