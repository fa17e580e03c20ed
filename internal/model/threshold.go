package model

import "fmt"

// ChannelThreshold holds the alert band for one channel. A value above
// High raises an alert that releases below High-Margin; symmetric
// below Low (release at Low+Margin). CriticalHigh, when > 0, adds a
// second tier above the alert tier with the same margin.
type ChannelThreshold struct {
	Low          float64 `json:"low"`
	High         float64 `json:"high"`
	Margin       float64 `json:"margin"`
	CriticalHigh float64 `json:"critical_high,omitempty"`
}

// ThresholdConfig is the full per-channel threshold set. It is
// immutable between updates: the engine reads a config value for a
// whole cycle and new versions are swapped in only between cycles.
type ThresholdConfig struct {
	Version    uint64                       `json:"version"`
	Thresholds map[Channel]ChannelThreshold `json:"thresholds"`
}

// DefaultThresholds are the factory values the device boots with; the
// dashboard overrides them over the config topic.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		Version: 1,
		Thresholds: map[Channel]ChannelThreshold{
			ChannelTemperature: {Low: 5.0, High: 30.0, Margin: 1.0},
			ChannelHumidity:    {Low: 20.0, High: 60.0, Margin: 5.0},
			ChannelCO2:         {Low: 0, High: 1500, Margin: 100, CriticalHigh: 2500},
			ChannelVOC:         {Low: 0, High: 1000, Margin: 100},
		},
	}
}

// Validate rejects configs that would make the hysteresis bands
// overlap or leave the plausible range.
func (c ThresholdConfig) Validate() error {
	for ch, t := range c.Thresholds {
		if _, ok := plausibleRanges[ch]; !ok {
			return fmt.Errorf("unknown channel %q", ch)
		}
		if t.Margin < 0 {
			return fmt.Errorf("%s: negative margin %.2f", ch, t.Margin)
		}
		if t.High <= t.Low {
			return fmt.Errorf("%s: high %.2f not above low %.2f", ch, t.High, t.Low)
		}
		if t.High-t.Margin <= t.Low {
			return fmt.Errorf("%s: margin %.2f collapses the band", ch, t.Margin)
		}
		if t.CriticalHigh != 0 && t.CriticalHigh <= t.High {
			return fmt.Errorf("%s: critical %.2f not above high %.2f", ch, t.CriticalHigh, t.High)
		}
	}
	return nil
}

// Merge returns a copy of c with the channels present in upd replaced
// and the version bumped. c itself is never mutated.
func (c ThresholdConfig) Merge(upd map[Channel]ChannelThreshold) ThresholdConfig {
	out := ThresholdConfig{
		Version:    c.Version + 1,
		Thresholds: make(map[Channel]ChannelThreshold, len(c.Thresholds)),
	}
	for ch, t := range c.Thresholds {
		out.Thresholds[ch] = t
	}
	for ch, t := range upd {
		out.Thresholds[ch] = t
	}
	return out
}
