// Package flash drives esptool to write firmware images over a serial
// bootloader. It only ever runs on the host.
package flash

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/buckleypaul/zflow/internal/runner"
	"github.com/buckleypaul/zflow/internal/target"
)

// Request is one flashing job.
type Request struct {
	Port   string
	Image  string // Host path of the binary
	Params target.FlashParams
}

// Outcome classifies a finished esptool run.
type Outcome int

const (
	// Completed means the tool exited zero.
	Completed Outcome = iota
	// PortUnavailable means the tool could not open or hold the port.
	PortUnavailable
	// ToolFailed covers every other non-zero exit.
	ToolFailed
)

// Report is the result of a flashing run.
type Report struct {
	Outcome  Outcome
	Output   string
	ExitCode int
	Duration time.Duration
	// Verified is set when the tool printed its hash verification line.
	Verified bool
	// Reset is set when the tool reported resetting the chip after writing.
	Reset bool
	// Err is set when the tool could not be started or was killed.
	Err error
}

// Tool runs esptool through a host runner.
type Tool struct {
	runner runner.Runner
	log    *zap.SugaredLogger
}

// NewTool returns a Tool. r must execute on the host.
func NewTool(r runner.Runner, log *zap.SugaredLogger) *Tool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Tool{runner: r, log: log.Named("flash")}
}

// Args returns the esptool argument list for req.
func Args(req Request) []string {
	p := req.Params
	args := []string{}
	if p.Chip != "" {
		args = append(args, "--chip", p.Chip)
	}
	args = append(args, "--port", req.Port)
	if p.BaudRate > 0 {
		args = append(args, "--baud", strconv.Itoa(p.BaudRate))
	}
	if p.Before != "" {
		args = append(args, "--before", p.Before)
	}
	if p.After != "" {
		args = append(args, "--after", p.After)
	}
	args = append(args, "write_flash")
	if p.Mode != "" {
		args = append(args, "-fm", p.Mode)
	}
	if p.Frequency != "" {
		args = append(args, "-ff", p.Frequency)
	}
	return append(args, p.Offset, req.Image)
}

// Write runs the flashing tool once. It never retries: a second attempt
// after a partial write is the caller's decision.
func (t *Tool) Write(ctx context.Context, req Request) Report {
	args := Args(req)
	t.log.Infow("flashing", "tool", req.Params.Tool, "port", req.Port, "image", req.Image)
	res := t.runner.Run(ctx, req.Params.Tool, args...)

	report := Report{
		Output:   res.Output,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
		Err:      res.Err,
		Verified: strings.Contains(res.Output, "Hash of data verified"),
		Reset:    strings.Contains(res.Output, "Hard resetting") || strings.Contains(res.Output, "Leaving..."),
	}
	switch {
	case res.OK():
		report.Outcome = Completed
	case portProblem(res.Output):
		report.Outcome = PortUnavailable
	default:
		report.Outcome = ToolFailed
	}
	return report
}

// portMarkers are esptool/pyserial messages meaning the port could not be
// acquired, as opposed to a failure talking to the chip.
var portMarkers = []string{
	"could not open port",
	"could not exclusively lock port",
	"permission denied",
	"device or resource busy",
	"resource temporarily unavailable",
	"no such file or directory",
	"the system cannot find the file specified",
	"access is denied",
}

func portProblem(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range portMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
