package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ErrPortLost is the terminal error of a monitor whose device went away.
var ErrPortLost = errors.New("serial port lost")

// Line is one line of device output, without its terminator.
type Line struct {
	Text string
	Time time.Time
}

// Hooks observe a Monitor from its reader goroutine.
type Hooks struct {
	// OnLine sees every line before it is delivered.
	OnLine func(Line)
	// OnClose runs with the terminal error after the port is closed and
	// before the Lines channel closes, so a consumer that sees the end of the
	// sequence can rely on every resource being released.
	OnClose func(err error)
}

// Monitor reads an open port and delivers its output line by line.
// Lines is unbuffered: the reader only advances as fast as the consumer
// receives. It closes when the context is cancelled, Close is called, or
// the port is lost.
type Monitor struct {
	name   string
	port   Port
	lines  chan Line
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	hooks  Hooks

	closeOnce sync.Once
	err       error
}

// Watch starts monitoring port.
func Watch(ctx context.Context, name string, port Port, hooks Hooks) *Monitor {
	ctx, cancel := context.WithCancel(ctx)
	m := &Monitor{
		name:   name,
		port:   port,
		lines:  make(chan Line),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		hooks:  hooks,
	}

	// Closing the port is the only way to unblock a Read that has no timeout.
	go func() {
		<-ctx.Done()
		m.closePort()
	}()
	go m.readLoop(ctx)
	return m
}

// Lines returns the output sequence.
func (m *Monitor) Lines() <-chan Line {
	return m.lines
}

// Done is closed once the monitor has fully stopped.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Err returns the terminal error after Done is closed: nil on cancellation,
// an error wrapping ErrPortLost when the device disappeared.
func (m *Monitor) Err() error {
	<-m.done
	return m.err
}

// Close stops the monitor and waits until the port is released.
func (m *Monitor) Close() error {
	m.cancel()
	<-m.done
	return nil
}

func (m *Monitor) closePort() {
	m.closeOnce.Do(func() {
		m.port.Close()
	})
}

func (m *Monitor) readLoop(ctx context.Context) {
	var err error
	defer func() {
		m.cancel()
		m.closePort()
		m.err = err
		if m.hooks.OnClose != nil {
			m.hooks.OnClose(err)
		}
		close(m.lines)
		close(m.done)
	}()

	var pending bytes.Buffer
	buf := make([]byte, 1024)
	for {
		n, readErr := m.port.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			if !m.flushLines(ctx, &pending) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		if readErr != nil {
			m.emitPartial(ctx, &pending)
			err = m.lost(readErr)
			return
		}
		// A timed-out read returns nothing; check the device is still there.
		if n == 0 && !Present(m.name) {
			m.emitPartial(ctx, &pending)
			err = m.lost(io.ErrUnexpectedEOF)
			return
		}
	}
}

func (m *Monitor) lost(cause error) error {
	return fmt.Errorf("%s: %w: %v", m.name, ErrPortLost, cause)
}

// flushLines sends every complete line in pending. It returns false when the
// context ended while waiting for the consumer.
func (m *Monitor) flushLines(ctx context.Context, pending *bytes.Buffer) bool {
	for {
		idx := bytes.IndexByte(pending.Bytes(), '\n')
		if idx < 0 {
			return true
		}
		raw := pending.Next(idx + 1)
		if !m.send(ctx, string(raw[:idx])) {
			return false
		}
	}
}

func (m *Monitor) emitPartial(ctx context.Context, pending *bytes.Buffer) {
	if pending.Len() > 0 {
		m.send(ctx, pending.String())
		pending.Reset()
	}
}

func (m *Monitor) send(ctx context.Context, text string) bool {
	line := Line{Text: strings.TrimRight(text, "\r"), Time: time.Now()}
	if m.hooks.OnLine != nil {
		m.hooks.OnLine(line)
	}
	select {
	case m.lines <- line:
		return true
	case <-ctx.Done():
		return false
	}
}
