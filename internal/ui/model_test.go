package ui

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/0xlemi/micnote/internal/capture"
	"github.com/0xlemi/micnote/internal/meter"
	"github.com/0xlemi/micnote/internal/persist"
	"github.com/0xlemi/micnote/internal/recorder"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeController struct {
	startErr error
	starts   int
	stops    int
	stats    recorder.Stats
	running  bool
}

func (c *fakeController) Start() error {
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.running = true
	return nil
}

func (c *fakeController) Stop() error {
	c.stops++
	c.running = false
	return nil
}

func (c *fakeController) Stats() (recorder.Stats, bool) {
	return c.stats, c.running
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// send runs one Update and executes the returned command, feeding its
// message back in
func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd != nil {
		if out := cmd(); out != nil {
			if _, isTick := out.(TickMsg); !isTick {
				next, _ = m.Update(out)
				m = next.(Model)
			}
		}
	}
	return m
}

func TestRecordAndStopKeys(t *testing.T) {
	ctrl := &fakeController{stats: recorder.Stats{
		SessionID: "0123456789abcdef",
		Started:   time.Now(),
		Capture:   capture.Stats{Chunks: 12, Flushes: 2, Dropped: 1},
		Persist:   persist.Stats{Persisted: 2},
	}}
	m := NewModel(ctrl)

	m = send(t, m, key("r"))
	if ctrl.starts != 1 || !m.recording {
		t.Fatalf("Expected a started recording, got starts=%d recording=%v", ctrl.starts, m.recording)
	}

	m = send(t, m, key("r"))
	if ctrl.starts != 1 {
		t.Errorf("Expected r to be ignored while recording, got %d starts", ctrl.starts)
	}

	next, _ := m.Update(TickMsg(time.Now()))
	m = next.(Model)
	view := m.View()
	for _, want := range []string{"REC", "01234567", "chunks 12", "flushes 2", "dropped 1", "persisted 2"} {
		if !strings.Contains(view, want) {
			t.Errorf("Expected view to contain %q", want)
		}
	}

	m = send(t, m, key("s"))
	if ctrl.stops != 1 || m.recording {
		t.Errorf("Expected a stopped recording, got stops=%d recording=%v", ctrl.stops, m.recording)
	}
	if !strings.Contains(m.View(), "Press r to record") {
		t.Error("Expected idle help text after stop")
	}
}

func TestStartErrorIsShown(t *testing.T) {
	ctrl := &fakeController{startErr: errors.New("no input device")}
	m := send(t, NewModel(ctrl), key("r"))
	if m.recording || m.busy {
		t.Error("Expected model to stay idle after a failed start")
	}
	if !strings.Contains(m.View(), "no input device") {
		t.Error("Expected the start error in the view")
	}
}

func TestLevelMsgShowsNote(t *testing.T) {
	m := NewModel(&fakeController{})
	next, _ := m.Update(LevelMsg(meter.Level{
		DB:        -12,
		PeakDB:    -6,
		Frequency: 440,
		Note:      meter.NearestNote(440),
	}))
	view := next.(Model).View()
	if !strings.Contains(view, "A4") || !strings.Contains(view, "440.0 Hz") {
		t.Errorf("Expected note and frequency in view, got:\n%s", view)
	}
}

func TestEscalationAndSummary(t *testing.T) {
	m := NewModel(&fakeController{})
	next, _ := m.Update(EscalationMsg{SessionID: "abc"})
	next, _ = next.(Model).Update(EndedMsg(recorder.Summary{Stats: recorder.Stats{
		Persist: persist.Stats{Persisted: 3, Failed: 4},
	}}))
	view := next.(Model).View()
	if !strings.Contains(view, "storage is failing") {
		t.Error("Expected an escalation warning")
	}
	if !strings.Contains(view, "3 records persisted, 4 failed") {
		t.Errorf("Expected last session summary, got:\n%s", view)
	}
}

func TestQuitStopsRecording(t *testing.T) {
	ctrl := &fakeController{}
	m := send(t, NewModel(ctrl), key("r"))

	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("Expected a quit command")
	}
	// tea.Sequence yields a message holding the commands to run in order
	msg := reflect.ValueOf(cmd())
	if msg.Kind() != reflect.Slice {
		t.Fatalf("Expected a command sequence, got %v", msg.Type())
	}
	for i := 0; i < msg.Len(); i++ {
		if c, ok := msg.Index(i).Interface().(tea.Cmd); ok && c != nil {
			c()
		}
	}
	if ctrl.stops != 1 {
		t.Errorf("Expected the recording to be stopped on quit, got %d stops", ctrl.stops)
	}
}

func TestLevelBarBounds(t *testing.T) {
	if n := strings.Count(levelBar(meter.MinDB), "█"); n != 0 {
		t.Errorf("Expected empty bar at the floor, got %d cells", n)
	}
	if n := strings.Count(levelBar(0), "█"); n != barWidth {
		t.Errorf("Expected full bar at 0 dB, got %d cells", n)
	}
	if n := strings.Count(levelBar(12), "█"); n != barWidth {
		t.Errorf("Expected bar clamped above 0 dB, got %d cells", n)
	}
}
