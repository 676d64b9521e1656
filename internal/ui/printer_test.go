package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestPlainPrinterHasNoEscapes(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Success("flashed %s", "/dev/ttyUSB0")
	p.Field("stage", "Flashed")
	p.Field("artifact", "")

	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Errorf("non-terminal output contains ANSI escapes: %q", out)
	}
	if !strings.Contains(out, "[OK] flashed /dev/ttyUSB0") {
		t.Errorf("missing success line: %q", out)
	}
	if !strings.Contains(out, "artifact:") || !strings.Contains(out, " -\n") {
		t.Errorf("empty field should render a dash: %q", out)
	}
}

func TestFailureIncludesOutputAndHint(t *testing.T) {
	var buf bytes.Buffer
	p := PlainPrinter(&buf)

	p.Failure("flash", "PortUnavailable", "serial port unavailable", "could not open port\n", "plug it in")

	out := buf.String()
	for _, want := range []string{"[PortUnavailable] flash", "could not open port", "hint: plug it in"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStageBadge(t *testing.T) {
	var buf bytes.Buffer
	PlainPrinter(&buf).Stage("zflow", "FirmwareBuilt")
	if got := buf.String(); got != "zflow [FirmwareBuilt]\n" {
		t.Errorf("stage line = %q", got)
	}

	tones := map[string]Tone{
		"NotBuilt":      ToneIdle,
		"ImageBuilt":    TonePending,
		"FirmwareBuilt": TonePending,
		"Flashed":       ToneOK,
		"Monitoring":    ToneOK,
	}
	for stage, want := range tones {
		if got := StageTone(stage); got != want {
			t.Errorf("StageTone(%q) = %d, want %d", stage, got, want)
		}
	}
}

func TestFrameFitsWidth(t *testing.T) {
	out := Frame("ttyUSB0", "115200 baud", "hello", 40, 0)
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		if w := lipgloss.Width(l); w != 40 {
			t.Errorf("line %d width = %d, want 40: %q", i, w, l)
		}
	}
	if !strings.Contains(lines[0], "115200 baud") {
		t.Errorf("info missing from top border: %q", lines[0])
	}

	narrow := Frame("a-very-long-title", "info", "x", 20, 0)
	if strings.Contains(strings.Split(narrow, "\n")[0], "info") {
		t.Error("info should be dropped when it does not fit")
	}
}
