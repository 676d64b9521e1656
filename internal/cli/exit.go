package cli

import (
	"context"
	"errors"

	"github.com/buckleypaul/zflow/internal/workflow"
)

// Process exit codes.
const (
	ExitOK                   = 0
	ExitError                = 1
	ExitUsage                = 2
	ExitBuildFailure         = 10
	ExitMountError           = 11
	ExitFirmwareBuildFailure = 12
	ExitMissingArtifact      = 13
	ExitPortUnavailable      = 14
	ExitFlashToolError       = 15
	ExitPortLost             = 16
	ExitInvalidTransition    = 17
	ExitContainerFailure     = 18
	ExitInterrupted          = 130
)

var exitCodes = []struct {
	err  error
	code int
}{
	{workflow.ErrBuildFailure, ExitBuildFailure},
	{workflow.ErrMountError, ExitMountError},
	{workflow.ErrFirmwareBuildFailure, ExitFirmwareBuildFailure},
	{workflow.ErrMissingArtifact, ExitMissingArtifact},
	{workflow.ErrPortUnavailable, ExitPortUnavailable},
	{workflow.ErrFlashToolError, ExitFlashToolError},
	{workflow.ErrPortLost, ExitPortLost},
	{workflow.ErrInvalidTransition, ExitInvalidTransition},
	{workflow.ErrBusy, ExitInvalidTransition},
	{workflow.ErrContainerFailure, ExitContainerFailure},
	{workflow.ErrInvalidArgument, ExitUsage},
}

// usageError marks bad command-line input.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// ExitCode maps a command error to the process exit code. interrupted is
// true when the user sent SIGINT or SIGTERM.
func ExitCode(err error, interrupted bool) int {
	if err == nil {
		return ExitOK
	}
	var ue usageError
	if errors.As(err, &ue) {
		return ExitUsage
	}
	if interrupted || errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	for _, c := range exitCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ExitError
}
