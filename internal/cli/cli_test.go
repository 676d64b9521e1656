package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/buckleypaul/zflow/internal/workflow"
)

// runCLI executes zflow in a fresh directory with an isolated home.
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), "test", append(args, "--lock-dir", t.TempDir()), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExitCode(t *testing.T) {
	stage := func(kind error) error {
		return fmt.Errorf("wrapped: %w", &workflow.StageError{Stage: "x", Kind: kind})
	}
	tests := []struct {
		err         error
		interrupted bool
		want        int
	}{
		{nil, false, ExitOK},
		{errors.New("boom"), false, ExitError},
		{usageError{errors.New("bad")}, false, ExitUsage},
		{stage(workflow.ErrBuildFailure), false, 10},
		{stage(workflow.ErrMountError), false, 11},
		{stage(workflow.ErrFirmwareBuildFailure), false, 12},
		{stage(workflow.ErrMissingArtifact), false, 13},
		{stage(workflow.ErrPortUnavailable), false, 14},
		{stage(workflow.ErrFlashToolError), false, 15},
		{stage(workflow.ErrPortLost), false, 16},
		{workflow.ErrInvalidTransition, false, 17},
		{workflow.ErrBusy, false, 17},
		{stage(workflow.ErrContainerFailure), false, 18},
		{stage(workflow.ErrBuildFailure), true, ExitInterrupted},
		{context.Canceled, false, ExitInterrupted},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err, tt.interrupted); got != tt.want {
			t.Errorf("ExitCode(%v, %v) = %d, want %d", tt.err, tt.interrupted, got, tt.want)
		}
	}
}

func TestStatusOnFreshWorkspace(t *testing.T) {
	code, out, errOut := runCLI(t, "status")
	if code != ExitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, errOut)
	}
	if !strings.Contains(out, "NotBuilt") {
		t.Errorf("status should report NotBuilt:\n%s", out)
	}
}

func TestTargetsListsBuiltins(t *testing.T) {
	code, out, _ := runCLI(t, "targets")
	if code != ExitOK {
		t.Fatalf("exit %d", code)
	}
	for _, want := range []string{"espressif", "esp32s3_devkitc/esp32s3/procpu", "esptool.py --chip esp32s3 @ 921600"} {
		if !strings.Contains(out, want) {
			t.Errorf("targets output missing %q:\n%s", want, out)
		}
	}
}

func TestUsageErrors(t *testing.T) {
	tests := [][]string{
		{"build-image"},
		{"build-image", "no-such-target"},
		{"flash"},
		{"monitor", "/dev/ttyUSB0", "fast"},
		{"status", "--no-such-flag"},
	}
	for _, args := range tests {
		if code, _, _ := runCLI(t, args...); code != ExitUsage {
			t.Errorf("%v: exit %d, want %d", args, code, ExitUsage)
		}
	}
}

func TestFlashWithoutBuild(t *testing.T) {
	code, _, errOut := runCLI(t, "flash", "/dev/ttyUSB0")
	if code != ExitMissingArtifact {
		t.Fatalf("exit %d, want %d; stderr:\n%s", code, ExitMissingArtifact, errOut)
	}
	if !strings.Contains(errOut, "MissingArtifact") {
		t.Errorf("failure report should name the kind:\n%s", errOut)
	}
}

func TestRunWithMissingWorkspace(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	code, _, errOut := runCLI(t, "run", "espressif", "--workspace", missing)
	if code != ExitMountError {
		t.Fatalf("exit %d, want %d; stderr:\n%s", code, ExitMountError, errOut)
	}
}

func TestRunWithoutImage(t *testing.T) {
	code, _, _ := runCLI(t, "run", "espressif")
	if code != ExitInvalidTransition {
		t.Fatalf("exit %d, want %d", code, ExitInvalidTransition)
	}
}

func TestMonitorWithoutFlash(t *testing.T) {
	code, _, _ := runCLI(t, "monitor", "/dev/ttyUSB0", "115200")
	if code != ExitInvalidTransition {
		t.Fatalf("exit %d, want %d", code, ExitInvalidTransition)
	}
}

func TestConfigSetWritesWorkspaceFile(t *testing.T) {
	code, _, errOut := runCLI(t, "config", "set", "board", "esp32c3_devkitm")
	if code != ExitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, errOut)
	}
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(cwd, ".zflow", "config.json"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "esp32c3_devkitm") {
		t.Errorf("config file:\n%s", data)
	}
	if strings.Contains(string(data), "lock_dir") {
		t.Errorf("flags must not be written to the file:\n%s", data)
	}
}

func TestConfigSetUnknownKey(t *testing.T) {
	if code, _, _ := runCLI(t, "config", "set", "colour", "red"); code != ExitUsage {
		t.Fatalf("exit %d, want %d", code, ExitUsage)
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("/dev/tty.usbserial-0001"); got != "tty.usbserial-0001" {
		t.Errorf("sanitize = %q", got)
	}
	if got := sanitize("COM3"); got != "COM3" {
		t.Errorf("sanitize = %q", got)
	}
}
