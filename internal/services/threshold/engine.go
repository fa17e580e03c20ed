package threshold

import (
	"log"
	"sync"

	"github.com/akriger/neveryawn/internal/model"
)

// Intent is emitted on an alert-state transition only, never for a
// cycle that stays in the same state.
type Intent struct {
	Channel model.Channel
	Level   model.AlertLevel
	Prev    model.AlertLevel
}

type side int

const (
	sideNone side = iota
	sideHigh
	sideLow
)

type chanState struct {
	level model.AlertLevel
	side  side
}

// Smoother supplies the rolling-average value for a channel; ok=false
// falls back to the raw snapshot value.
type Smoother func(ch model.Channel) (float64, bool)

// Engine evaluates snapshots against the active threshold config with
// hysteresis. The config is read-only during an evaluation; SetConfig
// swaps a new version in between cycles.
type Engine struct {
	mu          sync.Mutex
	cfg         model.ThresholdConfig
	state       map[model.Channel]chanState
	useSmoothed bool
}

func New(cfg model.ThresholdConfig, useSmoothed bool) *Engine {
	return &Engine{
		cfg:         cfg,
		state:       make(map[model.Channel]chanState, len(model.Channels)),
		useSmoothed: useSmoothed,
	}
}

// SetConfig atomically swaps the active config. Callers invoke it
// between cycles; an in-flight Evaluate always finishes on the version
// it started with.
func (e *Engine) SetConfig(cfg model.ThresholdConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	log.Printf("threshold: config v%d active", cfg.Version)
}

// Config returns the active config value.
func (e *Engine) Config() model.ThresholdConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Evaluate runs one cycle over the snapshot and returns the intents
// for every channel whose alert state changed. It never blocks.
func (e *Engine) Evaluate(snap model.Snapshot, smoothed Smoother) []Intent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var intents []Intent
	for _, ch := range model.Channels {
		t, ok := e.cfg.Thresholds[ch]
		if !ok {
			continue
		}
		r, ok := snap[ch]
		if !ok || !r.Valid {
			continue
		}
		v := r.Value
		if e.useSmoothed && smoothed != nil {
			if sv, ok := smoothed(ch); ok {
				v = sv
			}
		}

		prev := e.state[ch]
		next := evalChannel(prev, v, t)
		e.state[ch] = next
		if next.level != prev.level {
			log.Printf("threshold: %s %s -> %s (value %.1f)", ch, prev.level, next.level, v)
			intents = append(intents, Intent{Channel: ch, Level: next.level, Prev: prev.level})
		}
	}
	return intents
}

// Levels reports the current alert level per channel, for the status
// codes embedded in telemetry.
func (e *Engine) Levels() map[model.Channel]model.AlertLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[model.Channel]model.AlertLevel, len(e.state))
	for ch, st := range e.state {
		out[ch] = st.level
	}
	return out
}

// evalChannel applies the hysteresis rules: a raise needs the value to
// cross the threshold, a release needs it to retreat past the margin.
func evalChannel(cur chanState, v float64, t model.ChannelThreshold) chanState {
	alertedHigh := cur.side == sideHigh && cur.level >= model.LevelAlert
	alertedLow := cur.side == sideLow && cur.level >= model.LevelAlert

	criticalActive := false
	if t.CriticalHigh != 0 {
		if cur.level == model.LevelCritical {
			criticalActive = !(v < t.CriticalHigh-t.Margin)
		} else {
			criticalActive = v > t.CriticalHigh
		}
	}

	highActive := false
	if alertedHigh {
		highActive = !(v < t.High-t.Margin)
	} else {
		highActive = v > t.High
	}

	lowActive := false
	if alertedLow {
		lowActive = !(v > t.Low+t.Margin)
	} else {
		lowActive = v < t.Low
	}

	switch {
	case criticalActive:
		return chanState{level: model.LevelCritical, side: sideHigh}
	case highActive:
		return chanState{level: model.LevelAlert, side: sideHigh}
	case lowActive:
		return chanState{level: model.LevelAlert, side: sideLow}
	default:
		return chanState{level: model.LevelNormal, side: sideNone}
	}
}
