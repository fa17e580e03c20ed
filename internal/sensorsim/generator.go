// Package sensorsim generates plausible air-quality values so the
// whole control loop can run without the AHT10/CCS811 hardware.
package sensorsim

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/akriger/neveryawn/internal/model"
)

// channelWalk holds the drift parameters for one simulated channel.
type channelWalk struct {
	value float64
	step  float64 // max random step per read
	rest  float64 // value the walk is pulled back towards
	pull  float64 // pull strength per read, in [0..1]
}

// Generator random-walks each channel inside its plausible band. Faults
// and spikes are injectable so tests and demos can exercise the
// sampler's hold-last-valid path and the threshold tiers.
type Generator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	walks  map[model.Channel]*channelWalk
	faulty map[model.Channel]bool
	forced map[model.Channel]float64
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewSource(seed)),
		walks: map[model.Channel]*channelWalk{
			model.ChannelTemperature: {value: 21.5, step: 0.2, rest: 21.5, pull: 0.02},
			model.ChannelHumidity:    {value: 45.0, step: 0.8, rest: 45.0, pull: 0.02},
			model.ChannelCO2:         {value: 600, step: 25, rest: 550, pull: 0.01},
			model.ChannelVOC:         {value: 120, step: 15, rest: 100, pull: 0.01},
		},
		faulty: make(map[model.Channel]bool),
		forced: make(map[model.Channel]float64),
	}
}

// Read advances the walk for ch and returns the new value. A channel
// put into fault mode returns an error, like a broken I2C read would.
func (g *Generator) Read(ch model.Channel) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.faulty[ch] {
		return 0, fmt.Errorf("sensorsim: %s read failed", ch)
	}
	if v, ok := g.forced[ch]; ok {
		return v, nil
	}
	w, ok := g.walks[ch]
	if !ok {
		return 0, fmt.Errorf("sensorsim: unknown channel %q", ch)
	}

	w.value += (g.rng.Float64()*2 - 1) * w.step
	w.value += (w.rest - w.value) * w.pull
	r := ch.PlausibleRange()
	if w.value < r.Min {
		w.value = r.Min
	}
	if w.value > r.Max {
		w.value = r.Max
	}
	return w.value, nil
}

// SetFault toggles hard read failures for ch.
func (g *Generator) SetFault(ch model.Channel, broken bool) {
	g.mu.Lock()
	g.faulty[ch] = broken
	g.mu.Unlock()
}

// Force pins ch to a fixed value until ClearForce, bypassing the walk.
// Values outside the plausible band are allowed on purpose.
func (g *Generator) Force(ch model.Channel, v float64) {
	g.mu.Lock()
	g.forced[ch] = v
	g.mu.Unlock()
}

func (g *Generator) ClearForce(ch model.Channel) {
	g.mu.Lock()
	delete(g.forced, ch)
	g.mu.Unlock()
}
