package serial

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// pipePort is an in-memory Port; the test writes device output into w.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu     sync.Mutex
	closed bool
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *pipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.r.Close()
}

func (p *pipePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func receive(t *testing.T, m *Monitor) Line {
	t.Helper()
	select {
	case l, ok := <-m.Lines():
		if !ok {
			t.Fatal("lines closed early")
		}
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
	}
	return Line{}
}

func TestMonitorSplitsLines(t *testing.T) {
	port := newPipePort()
	m := Watch(context.Background(), "pipe", port, Hooks{})
	defer m.Close()

	go port.w.Write([]byte("LED state: ON\r\nLED st"))
	if got := receive(t, m).Text; got != "LED state: ON" {
		t.Errorf("line = %q", got)
	}
	go port.w.Write([]byte("ate: OFF\n"))
	if got := receive(t, m).Text; got != "LED state: OFF" {
		t.Errorf("line = %q", got)
	}
}

func TestMonitorOnLineHook(t *testing.T) {
	port := newPipePort()
	var seen []string
	m := Watch(context.Background(), "pipe", port, Hooks{OnLine: func(l Line) { seen = append(seen, l.Text) }})

	go func() {
		port.w.Write([]byte("a\nb\n"))
		port.w.Close()
	}()
	for range m.Lines() {
	}
	if strings.Join(seen, ",") != "a,b" {
		t.Errorf("hook saw %v", seen)
	}
}

func TestMonitorCancelReleasesBeforeClosing(t *testing.T) {
	port := newPipePort()
	released := false
	ctx, cancel := context.WithCancel(context.Background())
	m := Watch(ctx, "pipe", port, Hooks{OnClose: func(error) { released = true }})

	cancel()
	for range m.Lines() {
	}
	if !released {
		t.Error("onClose must run before the lines channel closes")
	}
	if !port.isClosed() {
		t.Error("port not closed")
	}
	if err := m.Err(); err != nil {
		t.Errorf("cancellation should end without error, got %v", err)
	}
}

func TestMonitorPortLost(t *testing.T) {
	port := newPipePort()
	m := Watch(context.Background(), "pipe", port, Hooks{})

	go func() {
		port.w.Write([]byte("booting\npartial"))
		port.w.CloseWithError(errors.New("device disconnected"))
	}()

	var got []string
	for l := range m.Lines() {
		got = append(got, l.Text)
	}
	if strings.Join(got, "|") != "booting|partial" {
		t.Errorf("lines = %v", got)
	}
	if err := m.Err(); !errors.Is(err, ErrPortLost) {
		t.Errorf("expected ErrPortLost, got %v", err)
	}
	if m.ctx.Err() == nil {
		t.Error("watcher context still live after the port was lost")
	}
}

func TestLockerExclusive(t *testing.T) {
	locker := Locker{Dir: t.TempDir()}

	first, err := locker.Acquire("/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := locker.Acquire("/dev/ttyUSB0"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	other, err := locker.Acquire("/dev/ttyUSB1")
	if err != nil {
		t.Fatalf("different port should be free: %v", err)
	}
	other.Release()

	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	first.Release()

	again, err := locker.Acquire("/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again.Release()
}

func TestLockFileRecordsHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.lock")

	held, err := LockFile(path)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock file holds %q, want our pid", got)
	}

	_, err = LockFile(path)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if !strings.Contains(err.Error(), "pid") {
		t.Errorf("error should name the holder: %v", err)
	}

	held.Release()
	again, err := LockFile(path)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again.Release()
}

func TestLockName(t *testing.T) {
	cases := map[string]string{
		"/dev/ttyUSB0":              "zflow-ttyUSB0.lock",
		"/dev/cu.usbserial-0001":    "zflow-cu.usbserial-0001.lock",
		"COM3":                      "zflow-COM3.lock",
		"/dev/serial/by-id/usb-x:1": "zflow-serial_by-id_usb-x_1.lock",
	}
	for in, want := range cases {
		if got := lockName(in); got != want {
			t.Errorf("lockName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPresent(t *testing.T) {
	if !Present("COM3") {
		t.Error("non-path names are assumed present")
	}
	if Present("/dev/zflow-no-such-device") {
		t.Error("missing device node reported present")
	}
}

func TestSortPortsUSBFirst(t *testing.T) {
	ports := []PortInfo{{Name: "/dev/ttyS0"}, {Name: "/dev/ttyUSB1", IsUSB: true}, {Name: "/dev/ttyUSB0", IsUSB: true}}
	sortPorts(ports)
	if ports[0].Name != "/dev/ttyUSB0" || ports[2].Name != "/dev/ttyS0" {
		t.Errorf("unexpected order: %+v", ports)
	}
}
