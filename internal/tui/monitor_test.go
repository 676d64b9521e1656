package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/zflow/internal/serial"
)

type fakeSource struct {
	lines chan serial.Line
	err   error
}

func (f *fakeSource) Lines() <-chan serial.Line { return f.lines }
func (f *fakeSource) Err() error               { return f.err }

func TestMonitorModelAppendsLines(t *testing.T) {
	src := &fakeSource{lines: make(chan serial.Line, 2)}
	m := NewMonitorModel(src, "/dev/ttyUSB0 @ 115200")
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 20})

	src.lines <- serial.Line{Text: "LED state: ON"}
	msg := m.Init()()
	_, cmd := m.Update(msg)
	if cmd == nil {
		t.Fatal("expected the model to wait for the next line")
	}

	if !strings.Contains(m.View(), "LED state: ON") {
		t.Errorf("view missing line:\n%s", m.View())
	}
}

func TestMonitorModelEnded(t *testing.T) {
	src := &fakeSource{lines: make(chan serial.Line), err: errors.New("serial port lost")}
	close(src.lines)
	m := NewMonitorModel(src, "port")

	m.Update(m.Init()())

	if !m.ended {
		t.Fatal("expected ended state")
	}
	if m.Err() == nil {
		t.Fatal("expected terminal error to be kept")
	}
	if !strings.Contains(m.View(), "PORT LOST") {
		t.Errorf("status bar should report the lost port:\n%s", m.View())
	}
}

func TestMonitorModelQuitKey(t *testing.T) {
	m := NewMonitorModel(&fakeSource{lines: make(chan serial.Line)}, "port")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestMonitorModelClear(t *testing.T) {
	m := NewMonitorModel(&fakeSource{lines: make(chan serial.Line)}, "port")
	m.Update(lineMsg{Text: "one"})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if len(m.lines) != 0 {
		t.Errorf("expected cleared scrollback, got %v", m.lines)
	}
}
