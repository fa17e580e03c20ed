package model

import "time"

// Reading is a single timestamped sample for one channel. Readings are
// immutable once created; an implausible or failed sample carries
// Valid=false and its Value must not be consumed.
type Reading struct {
	Channel   Channel   `json:"channel"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Valid     bool      `json:"valid"`
}

// Snapshot maps each channel to its latest valid reading. The sampler
// owns the live snapshot and hands immutable copies to consumers.
type Snapshot map[Channel]Reading

// Clone returns an independent copy safe to hand across goroutines.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for ch, r := range s {
		out[ch] = r
	}
	return out
}

// AlertLevel is the per-channel evaluation outcome. The numeric values
// are the status codes the dashboard has always received: 0 normal,
// 1 alert, 2 critical.
type AlertLevel int

const (
	LevelNormal AlertLevel = iota
	LevelAlert
	LevelCritical
)

func (l AlertLevel) String() string {
	switch l {
	case LevelAlert:
		return "alert"
	case LevelCritical:
		return "critical"
	default:
		return "normal"
	}
}
