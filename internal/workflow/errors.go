package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every stage failure wraps exactly one of them and can be
// matched with errors.Is.
var (
	ErrBuildFailure         = errors.New("image build failed")
	ErrMountError           = errors.New("workspace mount invalid")
	ErrContainerFailure     = errors.New("container runtime failed")
	ErrFirmwareBuildFailure = errors.New("firmware build failed")
	ErrMissingArtifact      = errors.New("build artifact missing or stale")
	ErrPortUnavailable      = errors.New("serial port unavailable")
	ErrFlashToolError       = errors.New("flash tool failed")
	ErrPortLost             = errors.New("serial port lost")
)

// Precondition errors. These never involve an external tool.
var (
	ErrInvalidTransition = errors.New("stage not reachable from current state")
	ErrBusy              = errors.New("another stage is running")
	ErrInvalidArgument   = errors.New("invalid argument")
)

var kindNames = []struct {
	err  error
	name string
}{
	{ErrBuildFailure, "BuildFailure"},
	{ErrMountError, "MountError"},
	{ErrContainerFailure, "ContainerFailure"},
	{ErrFirmwareBuildFailure, "FirmwareBuildFailure"},
	{ErrMissingArtifact, "MissingArtifact"},
	{ErrPortUnavailable, "PortUnavailable"},
	{ErrFlashToolError, "FlashToolError"},
	{ErrPortLost, "PortLost"},
	{ErrInvalidTransition, "InvalidTransition"},
	{ErrBusy, "Busy"},
	{ErrInvalidArgument, "InvalidArgument"},
}

// KindName returns the taxonomy name of err, or "" when err is nil or not
// a workflow error.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

const (
	portUnavailableHint = "Check that the device is plugged in and that no other program (a serial terminal, " +
		"another zflow monitor or serve) has it open. On Linux add your user to the dialout group; " +
		"on macOS and Windows make sure the USB-UART driver is installed."
	portLostHint = "The device disconnected or reset its USB interface. Check the cable, then run monitor again."
)

// StageError is a failed stage with the raw diagnostics of the tool that
// failed.
type StageError struct {
	Stage  string
	Kind   error
	Output string
	Hint   string
	Err    error
}

func (e *StageError) Error() string {
	msg := e.Stage + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Detail renders the error with the tool output and hint, for terminals.
func (e *StageError) Detail() string {
	var b strings.Builder
	b.WriteString(e.Error())
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\n\n%s", out)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, "\n\nhint: %s", e.Hint)
	}
	return b.String()
}

func stageErr(stage string, kind error, output string, err error) *StageError {
	se := &StageError{Stage: stage, Kind: kind, Output: output, Err: err}
	switch kind {
	case ErrPortUnavailable:
		se.Hint = portUnavailableHint
	case ErrPortLost:
		se.Hint = portLostHint
	}
	return se
}
