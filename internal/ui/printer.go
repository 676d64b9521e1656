package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Printer writes command results. Styling is applied only when the
// destination is a terminal, so piped output stays plain text.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a Printer for w, styled when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{w: w, color: color}
}

// PlainPrinter returns a Printer that never styles its output.
func PlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) render(style lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return style.Render(text)
}

func (p *Printer) badge(text string, tone Tone) string {
	if !p.color {
		return "[" + text + "]"
	}
	return Badge(text, tone)
}

// Success prints an OK line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.badge("OK", ToneOK), fmt.Sprintf(format, args...))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.badge("WARN", ToneWarn), fmt.Sprintf(format, args...))
}

// Heading prints a bold title line.
func (p *Printer) Heading(text string) {
	fmt.Fprintln(p.w, p.render(TitleStyle, text))
}

// Stage prints the workflow stage as a badge after label.
func (p *Printer) Stage(label, stage string) {
	fmt.Fprintf(p.w, "%s %s\n", p.render(TitleStyle, label), p.badge(stage, StageTone(stage)))
}

// Field prints an aligned key/value line.
func (p *Printer) Field(key, value string) {
	if value == "" {
		value = p.render(DimStyle, "-")
	}
	fmt.Fprintf(p.w, "  %s %s\n", p.render(KeyStyle, fmt.Sprintf("%-12s", key+":")), value)
}

// Line prints text unchanged.
func (p *Printer) Line(text string) {
	fmt.Fprintln(p.w, text)
}

// Failure prints a failed stage with its kind, the tool's raw output and a
// hint when there is one.
func (p *Printer) Failure(stage, kind, message, output, hint string) {
	label := "FAILED"
	if kind != "" {
		label = kind
	}
	fmt.Fprintf(p.w, "%s %s %s\n", p.badge(label, ToneFail), p.render(BoldStyle, stage), message)
	if out := strings.TrimRight(output, "\n"); strings.TrimSpace(out) != "" {
		fmt.Fprintln(p.w, p.render(OutputStyle, out))
	}
	if hint != "" {
		fmt.Fprintln(p.w, p.render(HintStyle, "hint: "+hint))
	}
}
