package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/0xlemi/micnote/internal/meter"
	"github.com/0xlemi/micnote/internal/recorder"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	// How often session counters are refreshed
	tickInterval = 250 * time.Millisecond

	// Width of the level bar in cells
	barWidth = 40

	// A level older than this is shown as silence
	levelHoldDuration = 500 * time.Millisecond
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			PaddingLeft(2).
			PaddingRight(2).
			MarginBottom(1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCCCCC"))

	recordingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF0000"))

	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFA500"))

	noteStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#00A000")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333333")).
			Padding(0, 2)

	// Level bar colors, quiet to loud
	barColors = []struct {
		aboveDB float64
		color   string
	}{
		{-6, "#FF0000"},
		{-18, "#FFFF00"},
		{meter.MinDB, "#00FF00"},
	}
)

// Controller starts and stops recordings
type Controller interface {
	Start() error
	Stop() error
	Stats() (recorder.Stats, bool)
}

// TickMsg represents a timer tick
type TickMsg time.Time

// LevelMsg carries the level of the latest chunk
type LevelMsg meter.Level

// StartedMsg is sent once a recording has started
type StartedMsg struct{}

// StoppedMsg is sent once a stop request has completed
type StoppedMsg struct{}

// EndedMsg reports a finished session
type EndedMsg recorder.Summary

// EscalationMsg reports that a session is losing records
type EscalationMsg struct {
	SessionID string
}

// ErrMsg reports a failed start or stop
type ErrMsg struct {
	Err error
}

// Model represents the UI state
type Model struct {
	ctrl Controller

	recording  bool
	busy       bool
	level      *meter.Level
	levelAt    time.Time
	stats      recorder.Stats
	last       *recorder.Summary
	escalation string
	err        error

	width  int
	height int
}

// NewModel creates a new UI model driving ctrl
func NewModel(ctrl Controller) Model {
	return Model{ctrl: ctrl}
}

// Init initializes the UI model
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func startCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Start(); err != nil {
			return ErrMsg{Err: err}
		}
		return StartedMsg{}
	}
}

func stopCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Stop(); err != nil {
			return ErrMsg{Err: err}
		}
		return StoppedMsg{}
	}
}

// Update updates the UI model based on messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.recording {
				// stop first so buffered records are written
				return m, tea.Sequence(stopCmd(m.ctrl), tea.Quit)
			}
			return m, tea.Quit
		case "r":
			if !m.recording && !m.busy {
				m.busy = true
				m.err = nil
				return m, startCmd(m.ctrl)
			}
		case "s":
			if m.recording && !m.busy {
				m.busy = true
				return m, stopCmd(m.ctrl)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		if st, ok := m.ctrl.Stats(); ok {
			m.stats = st
		}
		if m.level != nil && time.Time(msg).Sub(m.levelAt) > levelHoldDuration {
			m.level = nil
		}
		return m, tick()

	case LevelMsg:
		lvl := meter.Level(msg)
		m.level = &lvl
		m.levelAt = time.Now()

	case StartedMsg:
		m.busy = false
		m.recording = true
		m.escalation = ""
		m.stats = recorder.Stats{}

	case StoppedMsg:
		m.busy = false
		m.recording = false
		m.level = nil

	case EndedMsg:
		summary := recorder.Summary(msg)
		m.last = &summary
		m.recording = false

	case EscalationMsg:
		m.escalation = msg.SessionID

	case ErrMsg:
		m.busy = false
		m.err = msg.Err
	}

	return m, nil
}

// levelBar renders dB on a fixed width bar
func levelBar(db float64) string {
	filled := int((db - meter.MinDB) / -meter.MinDB * barWidth)
	filled = max(0, min(barWidth, filled))

	color := barColors[len(barColors)-1].color
	for _, c := range barColors {
		if db > c.aboveDB {
			color = c.color
			break
		}
	}
	bar := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(strings.Repeat("█", filled))
	return bar + infoStyle.Render(strings.Repeat("·", barWidth-filled))
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// View renders the UI
func (m Model) View() string {
	s := titleStyle.Render("micnote - microphone capture")
	s += "\n"

	switch {
	case m.recording:
		s += recordingStyle.Render("● REC")
		if id := m.stats.SessionID; id != "" {
			s += infoStyle.Render(fmt.Sprintf("  %s  %s  %s",
				id[:min(8, len(id))],
				m.stats.Format,
				time.Since(m.stats.Started).Truncate(time.Second)))
		}
	case m.busy:
		s += infoStyle.Render("…")
	default:
		s += infoStyle.Render("Idle")
	}
	s += "\n\n"

	if m.level != nil {
		s += levelBar(m.level.DB)
		s += infoStyle.Render(fmt.Sprintf(" %5.1f dB  peak %5.1f dB", m.level.DB, m.level.PeakDB))
		s += "\n"
		if !m.level.Silent() {
			s += noteStyle.Render(m.level.Note.String())
			s += infoStyle.Render(fmt.Sprintf("  %.1f Hz  %+.0f cents", m.level.Frequency, m.level.Note.Cents))
		}
	} else {
		s += levelBar(meter.MinDB)
		if m.recording {
			s += infoStyle.Render(" listening…")
		}
	}
	s += "\n\n"

	if m.recording {
		c, p := m.stats.Capture, m.stats.Persist
		s += infoStyle.Render(fmt.Sprintf("chunks %d  captured %s  buffered %s  flushes %d",
			c.Chunks, formatBytes(c.Bytes), formatBytes(uint64(c.Buffered)), c.Flushes))
		s += "\n"
		s += infoStyle.Render(fmt.Sprintf("backlog %d  high water %d  dropped %d  persisted %d  failed %d  writing %d",
			c.Backlog, c.HighWater, c.Dropped, p.Persisted, p.Failed, p.InFlight))
		s += "\n"
	} else if m.last != nil {
		s += infoStyle.Render(fmt.Sprintf("last session: %d records persisted, %d failed, %s captured",
			m.last.Persist.Persisted, m.last.Persist.Failed, formatBytes(m.last.Capture.Bytes)))
		s += "\n"
	}

	if m.escalation != "" {
		s += warnStyle.Render("storage is failing: capture records are being lost")
		s += "\n"
	}
	if m.err != nil {
		s += warnStyle.Render("error: " + m.err.Error())
		s += "\n"
	}

	s += "\n"
	if m.recording {
		s += infoStyle.Render("Press s to stop, q to quit")
	} else {
		s += infoStyle.Render("Press r to record, q to quit")
	}
	return s
}
