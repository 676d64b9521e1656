package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Open errors, classified so callers can give actionable advice.
var (
	ErrBusy       = errors.New("serial port busy")
	ErrNotFound   = errors.New("serial port not found")
	ErrPermission = errors.New("serial port permission denied")
)

// readTimeout bounds each Read so the monitor loop can notice cancellation
// and unplugged devices.
const readTimeout = 250 * time.Millisecond

// Port is an open serial connection.
type Port interface {
	io.ReadWriteCloser
}

// ModemControl is implemented by ports that expose the DTR and RTS lines.
type ModemControl interface {
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// Opener opens a named port at a baud rate.
type Opener func(name string, baudRate int) (Port, error)

// Open opens a serial port 8N1 at baudRate.
func Open(name string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, classifyOpenError(name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("%s: set read timeout: %w", name, err)
	}
	return port, nil
}

func classifyOpenError(name string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortBusy:
			return fmt.Errorf("%s: %w: %v", name, ErrBusy, err)
		case serial.PortNotFound:
			return fmt.Errorf("%s: %w: %v", name, ErrNotFound, err)
		case serial.PermissionDenied:
			return fmt.Errorf("%s: %w: %v", name, ErrPermission, err)
		}
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%s: %w: %v", name, ErrNotFound, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%s: %w: %v", name, ErrPermission, err)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// Present reports whether a device node still exists. Names that are not
// filesystem paths (COM3) are assumed present.
func Present(name string) bool {
	if !strings.HasPrefix(name, "/dev/") {
		return true
	}
	_, err := os.Stat(name)
	return err == nil
}
