// Package display renders the latest validated snapshot locally, the
// way the device LCD showed each value next to its threshold with
// alerting rows highlighted.
package display

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/akriger/neveryawn/internal/model"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	normalStyle = lipgloss.NewStyle()
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	critStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	frameStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// View is everything one frame needs. Presenter is a pure consumer:
// it owns none of this state.
type View struct {
	DeviceID  string
	Snapshot  model.Snapshot
	Levels    map[model.Channel]model.AlertLevel
	Actuators map[model.ActuatorID]model.ActuatorState
	Config    model.ThresholdConfig
	Muted     bool
	At        time.Time
}

// Presenter writes rendered frames to a target writer.
type Presenter struct {
	out io.Writer
}

func New(out io.Writer) *Presenter {
	return &Presenter{out: out}
}

// Render draws one frame. Errors are returned for the caller to log;
// they must never propagate into the sampling cycle.
func (p *Presenter) Render(v View) error {
	_, err := io.WriteString(p.out, Frame(v)+"\n")
	if err != nil {
		return fmt.Errorf("display: render: %w", err)
	}
	return nil
}

// Frame renders the view to a string; split out so tests can assert on
// content without a writer.
func Frame(v View) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("%s  %s", v.DeviceID, v.At.Format("15:04:05"))))
	if v.Muted {
		b.WriteString(dimStyle.Render("  [muted]"))
	}
	b.WriteString("\n")

	for _, ch := range model.Channels {
		style := normalStyle
		mark := " "
		switch v.Levels[ch] {
		case model.LevelAlert:
			style, mark = alertStyle, "!"
		case model.LevelCritical:
			style, mark = critStyle, "!!"
		}

		r, ok := v.Snapshot[ch]
		val := "--"
		if ok && r.Valid {
			val = fmt.Sprintf("%.1f %s", r.Value, ch.Unit())
		}

		line := fmt.Sprintf("%-12s %10s", ch, val)
		if t, ok := v.Config.Thresholds[ch]; ok {
			line += dimStyle.Render(fmt.Sprintf("  (high %.0f)", t.High))
		}
		b.WriteString(style.Render(fmt.Sprintf("%-2s %s", mark, line)))
		b.WriteString("\n")
	}

	ids := make([]string, 0, len(v.Actuators))
	for id := range v.Actuators {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		st := v.Actuators[model.ActuatorID(id)]
		s := fmt.Sprintf("%s:%s", id, st)
		if st == model.StateOn {
			s = alertStyle.Render(s)
		}
		parts = append(parts, s)
	}
	if len(parts) > 0 {
		b.WriteString(dimStyle.Render("outputs ") + strings.Join(parts, "  "))
	}

	return frameStyle.Render(b.String())
}
