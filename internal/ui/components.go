package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Tone selects a badge color.
type Tone int

const (
	ToneIdle Tone = iota
	TonePending
	ToneOK
	ToneWarn
	ToneFail
)

func (t Tone) color() lipgloss.Color {
	switch t {
	case TonePending:
		return Secondary
	case ToneOK:
		return Success
	case ToneWarn:
		return Warning
	case ToneFail:
		return Error
	}
	return Subtle
}

// Badge renders text as a colored label.
func Badge(text string, tone Tone) string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("230")).
		Background(tone.color()).
		Padding(0, 1).
		Render(text)
}

// StageTone maps a workflow stage name to its badge tone: nothing built is
// idle, intermediate stages are pending, a flashed or monitored device is ok.
func StageTone(stage string) Tone {
	switch stage {
	case "NotBuilt", "":
		return ToneIdle
	case "Flashed", "Monitoring":
		return ToneOK
	}
	return TonePending
}

// Frame draws content in a rounded box of the given outer width with title
// set into the top-left of the border and info into the top-right.
// height=0 sizes the box to its content.
func Frame(title, info, content string, width, height int) string {
	edge := lipgloss.NewStyle().Foreground(Primary)

	head := lipgloss.Width("╭─ " + title + " ")
	tail := ""
	if info != "" {
		tail = " " + info + " ─"
	}
	fill := width - head - lipgloss.Width(tail) - 1
	if fill < 1 {
		tail = ""
		fill = max(width-head-1, 1)
	}
	top := edge.Render("╭─ ") + title + edge.Render(" "+strings.Repeat("─", fill))
	if tail != "" {
		top += DimStyle.Render(" "+info+" ") + edge.Render("─")
	}
	top += edge.Render("╮")

	body := lipgloss.NewStyle().
		Width(max(width-2, 0)).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderTop(false).
		BorderLeft(true).
		BorderRight(true).
		BorderBottom(true).
		BorderForeground(Primary).
		Padding(0, 1)
	if height > 0 {
		body = body.Height(height - 2)
	}
	return top + "\n" + body.Render(content)
}

// Title renders a styled title.
func Title(text string) string {
	return TitleStyle.Render(text)
}

// StatusKey renders a key hint for the status bar.
func StatusKey(k, desc string) string {
	return StatusBarKeyStyle.Render(k) + StatusBarStyle.Render(":"+desc)
}
