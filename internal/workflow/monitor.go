package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/buckleypaul/zflow/internal/serial"
	"github.com/buckleypaul/zflow/internal/store"
)

// MonitorSession is a running serial monitor. The orchestrator stays busy
// until the session ends.
type MonitorSession struct {
	Port     string
	BaudRate int

	mon  *serial.Monitor
	mu   sync.Mutex
	err  error
	logf string
}

// Lines is the device output, one entry per line. It closes when the
// session ends; by then the port is closed and its lock released.
func (s *MonitorSession) Lines() <-chan serial.Line {
	return s.mon.Lines()
}

// Done is closed once the session has ended.
func (s *MonitorSession) Done() <-chan struct{} {
	return s.mon.Done()
}

// Err blocks until the session ends. It is nil after cancellation and a
// StageError of kind ErrPortLost when the device went away.
func (s *MonitorSession) Err() error {
	<-s.mon.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session and waits for the port to be released.
func (s *MonitorSession) Close() error {
	return s.mon.Close()
}

// LogFile is the path the session tees its output to, if any.
func (s *MonitorSession) LogFile() string {
	return s.logf
}

// MonitorOption configures a monitor session.
type MonitorOption func(*monitorOptions)

type monitorOptions struct {
	logFile string
}

// WithLogFile appends every received line to path.
func WithLogFile(path string) MonitorOption {
	return func(o *monitorOptions) { o.logFile = path }
}

// Monitor opens port at baud and streams its output. It requires a flashed
// device, takes the port exclusively and keeps the orchestrator busy until
// the returned session ends. Calling Monitor again after a session ended
// starts a new one.
func (o *Orchestrator) Monitor(ctx context.Context, port string, baud int, opts ...MonitorOption) (*MonitorSession, error) {
	var mo monitorOptions
	for _, opt := range opts {
		opt(&mo)
	}

	if err := o.enter(); err != nil {
		return nil, err
	}
	start := o.now()
	fail := func(err error) (*MonitorSession, error) {
		o.observe(StageMonitor, start, err)
		o.leave()
		return nil, err
	}

	snap := o.Status()
	if snap.Stage < Flashed {
		return fail(fmt.Errorf("%s: %w: nothing flashed yet (stage %s)", StageMonitor, ErrInvalidTransition, snap.Stage))
	}
	if baud <= 0 {
		if snap.Target == nil {
			return fail(fmt.Errorf("%s: %w: baud rate must be positive", StageMonitor, ErrInvalidArgument))
		}
		baud = snap.Target.BaudRate
	}

	lock, err := o.locker.Acquire(port)
	if err != nil {
		return fail(stageErr(StageMonitor, ErrPortUnavailable, "", err))
	}
	p, err := o.openPort(port, baud)
	if err != nil {
		lock.Release()
		return fail(stageErr(StageMonitor, ErrPortUnavailable, "", err))
	}

	var logFile *os.File
	if mo.logFile != "" {
		logFile, err = openLog(mo.logFile)
		if err != nil {
			p.Close()
			lock.Release()
			return fail(fmt.Errorf("%s: open log: %w", StageMonitor, err))
		}
	}

	o.update(func(s *Snapshot) {
		s.Stage = Monitoring
		s.MonitorPort = port
	})
	log := o.log.With("stage", StageMonitor, "port", port, "baud", baud)
	log.Infow("monitor started")

	session := &MonitorSession{Port: port, BaudRate: baud, logf: mo.logFile}
	lines := 0
	hooks := serial.Hooks{
		OnLine: func(l serial.Line) {
			lines++
			o.metrics.MonitorLine()
			if logFile != nil {
				fmt.Fprintln(logFile, l.Text)
			}
		},
		OnClose: func(cause error) {
			if logFile != nil {
				logFile.Close()
			}
			lock.Release()

			var err error
			if cause != nil {
				err = stageErr(StageMonitor, ErrPortLost, "", cause)
			}
			session.mu.Lock()
			session.err = err
			session.mu.Unlock()

			o.update(func(s *Snapshot) { s.reset(Flashed) })
			rec := store.SerialLog{
				Port:      port,
				BaudRate:  baud,
				Timestamp: start,
				LogFile:   mo.logFile,
				Lines:     lines,
			}
			if err != nil {
				rec.Error = KindName(err)
			}
			o.record("serial log", func(p Persistence) error { return p.AddSerialLog(rec) })
			o.observe(StageMonitor, start, err)
			if errors.Is(err, ErrPortLost) {
				log.Warnw("monitor lost the port", "lines", lines, "error", cause)
			} else {
				log.Infow("monitor stopped", "lines", lines)
			}
			o.leave()
		},
	}
	session.mon = serial.Watch(ctx, port, p, hooks)
	return session, nil
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
