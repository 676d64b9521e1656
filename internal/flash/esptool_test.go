package flash

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/buckleypaul/zflow/internal/runner"
	"github.com/buckleypaul/zflow/internal/runner/runnertest"
	"github.com/buckleypaul/zflow/internal/target"
)

var esp32s3 = target.FlashParams{
	Tool:      "esptool.py",
	Chip:      "esp32s3",
	BaudRate:  921600,
	Mode:      "dio",
	Frequency: "80m",
	Offset:    "0x0",
	Before:    "default_reset",
	After:     "hard_reset",
}

func TestArgs(t *testing.T) {
	args := Args(Request{Port: "/dev/ttyUSB0", Image: "/ws/apps/blink/build/zephyr/zephyr.bin", Params: esp32s3})
	want := "--chip esp32s3 --port /dev/ttyUSB0 --baud 921600 --before default_reset --after hard_reset " +
		"write_flash -fm dio -ff 80m 0x0 /ws/apps/blink/build/zephyr/zephyr.bin"
	if got := strings.Join(args, " "); got != want {
		t.Errorf("args = %q\nwant  %q", got, want)
	}
}

func TestArgsOmitsEmptyFlags(t *testing.T) {
	args := Args(Request{Port: "COM3", Image: "fw.bin", Params: target.FlashParams{Offset: "0x1000"}})
	if got := strings.Join(args, " "); got != "--port COM3 write_flash 0x1000 fw.bin" {
		t.Errorf("args = %q", got)
	}
}

func TestWriteClassifiesOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		result runner.Result
		want   Outcome
	}{
		{"success", runnertest.Ok("Wrote 180000 bytes\nHash of data verified.\nLeaving...\nHard resetting via RTS pin...\n"), Completed},
		{"busy", runnertest.Fail(2, "A fatal error occurred: Could not open /dev/ttyUSB0, the port is busy or doesn't exist.\n([Errno 16] Device or resource busy)"), PortUnavailable},
		{"permission", runnertest.Fail(2, "serial.serialutil.SerialException: [Errno 13] could not open port /dev/ttyUSB0: [Errno 13] Permission denied"), PortUnavailable},
		{"absent", runnertest.Fail(2, "could not open port /dev/ttyUSB9: [Errno 2] No such file or directory"), PortUnavailable},
		{"chip", runnertest.Fail(2, "A fatal error occurred: Failed to connect to ESP32-S3: No serial data received."), ToolFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &runnertest.Fake{Handler: func(string, []string) runner.Result { return tc.result }}
			report := NewTool(fake, nil).Write(context.Background(), Request{Port: "/dev/ttyUSB0", Image: "fw.bin", Params: esp32s3})
			if report.Outcome != tc.want {
				t.Errorf("outcome = %v, want %v", report.Outcome, tc.want)
			}
			if report.Output != tc.result.Output {
				t.Error("output must be carried verbatim")
			}
		})
	}
}

func TestWriteKeepsStartError(t *testing.T) {
	fake := &runnertest.Fake{Handler: func(string, []string) runner.Result {
		return runner.Result{ExitCode: -1, Err: exec.ErrNotFound}
	}}
	report := NewTool(fake, nil).Write(context.Background(), Request{Port: "/dev/ttyUSB0", Image: "fw.bin", Params: esp32s3})
	if report.Outcome != ToolFailed {
		t.Errorf("outcome = %v, want ToolFailed", report.Outcome)
	}
	if !errors.Is(report.Err, exec.ErrNotFound) {
		t.Errorf("report.Err = %v, want exec.ErrNotFound", report.Err)
	}
}

func TestWriteDetectsCompletionMarkers(t *testing.T) {
	fake := &runnertest.Fake{Handler: func(string, []string) runner.Result {
		return runnertest.Ok("Hash of data verified.\n\nLeaving...\nHard resetting via RTS pin...\n")
	}}
	report := NewTool(fake, nil).Write(context.Background(), Request{Port: "p", Image: "fw.bin", Params: esp32s3})
	if !report.Verified || !report.Reset {
		t.Errorf("markers not detected: %+v", report)
	}
	if c := fake.Calls()[0]; c.Name != "esptool.py" {
		t.Errorf("tool = %q", c.Name)
	}
}
