// Package tui is the full-screen serial monitor.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/zflow/internal/serial"
	"github.com/buckleypaul/zflow/internal/ui"
)

// maxLines bounds the scrollback kept in memory.
const maxLines = 5000

// LineSource is a running monitor session.
type LineSource interface {
	Lines() <-chan serial.Line
	Err() error
}

type lineMsg serial.Line

type endedMsg struct{ err error }

// MonitorModel shows a session's output in a scrollable viewport. It keeps
// following new output until the user scrolls away.
type MonitorModel struct {
	src      LineSource
	title    string
	viewport viewport.Model
	lines    []string
	follow   bool
	ended    bool
	err      error
	width    int
	height   int
}

// NewMonitorModel returns a model reading from src.
func NewMonitorModel(src LineSource, title string) *MonitorModel {
	return &MonitorModel{
		src:      src,
		title:    title,
		viewport: viewport.New(0, 0),
		follow:   true,
	}
}

func waitLine(src LineSource) tea.Cmd {
	return func() tea.Msg {
		l, ok := <-src.Lines()
		if !ok {
			return endedMsg{err: src.Err()}
		}
		return lineMsg(l)
	}
}

func (m *MonitorModel) Init() tea.Cmd {
	return waitLine(m.src)
}

func (m *MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(msg.Width-4, 10)
		m.viewport.Height = max(msg.Height-4, 3)
		m.refresh()
		return m, nil

	case lineMsg:
		m.lines = append(m.lines, msg.Text)
		if len(m.lines) > maxLines {
			m.lines = m.lines[len(m.lines)-maxLines:]
		}
		m.refresh()
		return m, waitLine(m.src)

	case endedMsg:
		m.ended = true
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, monitorKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, monitorKeys.Follow):
			m.follow = !m.follow
			m.refresh()
			return m, nil
		case key.Matches(msg, monitorKeys.Top):
			m.follow = false
			m.viewport.GotoTop()
			return m, nil
		case key.Matches(msg, monitorKeys.Bottom):
			m.follow = true
			m.viewport.GotoBottom()
			return m, nil
		case key.Matches(msg, monitorKeys.Clear):
			m.lines = nil
			m.refresh()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	if !m.viewport.AtBottom() {
		m.follow = false
	}
	return m, cmd
}

func (m *MonitorModel) refresh() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m *MonitorModel) View() string {
	width := m.width
	if width == 0 {
		width = 80
	}

	body := m.viewport.View()
	if len(m.lines) == 0 {
		body = ui.DimStyle.Render("Waiting for output...")
	}
	info := fmt.Sprintf("%d lines", len(m.lines))
	panel := ui.Frame(ui.Title(m.title), info, body, width, m.viewport.Height+2)
	return lipgloss.JoinVertical(lipgloss.Left, panel, m.statusBar(width))
}

func (m *MonitorModel) statusBar(width int) string {
	state := ui.Badge("LIVE", ui.ToneOK)
	switch {
	case m.err != nil:
		state = ui.Badge("PORT LOST", ui.ToneFail)
	case m.ended:
		state = ui.Badge("CLOSED", ui.ToneWarn)
	case !m.follow:
		state = ui.Badge("PAUSED", ui.ToneIdle)
	}
	parts := []string{
		state,
		ui.StatusKey("f", "follow"),
		ui.StatusKey("g/G", "top/bottom"),
		ui.StatusKey("c", "clear"),
		ui.StatusKey("q", "quit"),
	}
	return ui.StatusBarStyle.Width(width).Render(strings.Join(parts, "  "))
}

// Err is the session's terminal error once the output has ended.
func (m *MonitorModel) Err() error {
	return m.err
}

// RunMonitor runs the full-screen monitor until the user quits or ctx ends.
// The caller owns the session and must close it afterwards.
func RunMonitor(ctx context.Context, src LineSource, title string) error {
	m := NewMonitorModel(src, title)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && ctx.Err() == nil {
		return err
	}
	if fm, ok := final.(*MonitorModel); ok {
		return fm.Err()
	}
	return nil
}
