package bridge

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/zflow/internal/serial"
)

const testPort = "/dev/ttyUSB0"

// device is a fake serial port. The test writes device output into fromDev
// and reads what the bridge wrote from toDev.
type device struct {
	fromDevR *io.PipeReader
	fromDevW *io.PipeWriter
	toDevR   *io.PipeReader
	toDevW   *io.PipeWriter

	mu  sync.Mutex
	dtr []bool
	rts []bool
}

func newDevice() *device {
	d := &device{}
	d.fromDevR, d.fromDevW = io.Pipe()
	d.toDevR, d.toDevW = io.Pipe()
	return d
}

func (d *device) Read(b []byte) (int, error)  { return d.fromDevR.Read(b) }
func (d *device) Write(b []byte) (int, error) { return d.toDevW.Write(b) }
func (d *device) Close() error {
	d.fromDevR.Close()
	d.toDevW.Close()
	return nil
}

func (d *device) SetDTR(v bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dtr = append(d.dtr, v)
	return nil
}

func (d *device) SetRTS(v bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rts = append(d.rts, v)
	return nil
}

func (d *device) lines() ([]bool, []bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.dtr...), append([]bool(nil), d.rts...)
}

type fixture struct {
	srv    *Server
	addr   string
	locker serial.Locker
	opened chan *device
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, open serial.Opener) *fixture {
	t.Helper()
	f := &fixture{
		locker: serial.Locker{Dir: t.TempDir()},
		opened: make(chan *device, 4),
		done:   make(chan error, 1),
	}
	if open == nil {
		open = func(name string, baud int) (serial.Port, error) {
			d := newDevice()
			f.opened <- d
			return d, nil
		}
	}

	srv, err := New(Config{
		Port:          testPort,
		BaudRate:      115200,
		RetryInterval: 10 * time.Millisecond,
		Open:          open,
		Locker:        f.locker,
	})
	require.NoError(t, err)
	f.srv = srv

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return f
}

func (f *fixture) device(t *testing.T) *device {
	t.Helper()
	select {
	case d := <-f.opened:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("port was never opened")
	}
	return nil
}

func readN(t *testing.T, r io.Reader, n int) string {
	t.Helper()
	buf := make([]byte, n)
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(r, buf)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading")
	}
	return string(buf)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}

func TestBridgeCopiesBothWays(t *testing.T) {
	f := start(t, nil)

	conn, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer conn.Close()
	dev := f.device(t)

	_, err = conn.Write([]byte("help\n"))
	require.NoError(t, err)
	assert.Equal(t, "help\n", readN(t, dev.toDevR, 5))

	go dev.fromDevW.Write([]byte("uart:~$ "))
	assert.Equal(t, "uart:~$ ", readN(t, conn, 8))

	dtr, rts := dev.lines()
	assert.Equal(t, []bool{true}, dtr)
	assert.Equal(t, []bool{true}, rts)
}

func TestBridgeReleasesPortOnDisconnect(t *testing.T) {
	f := start(t, nil)

	conn, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	dev := f.device(t)

	_, err = f.locker.Acquire(testPort)
	require.ErrorIs(t, err, serial.ErrLocked, "port must be held while a client is connected")

	conn.Close()
	eventually(t, func() bool {
		lock, err := f.locker.Acquire(testPort)
		if err != nil {
			return false
		}
		lock.Release()
		return true
	}, "port lock not released after disconnect")

	dtr, rts := dev.lines()
	assert.Equal(t, []bool{true, false}, dtr)
	assert.Equal(t, []bool{true, false}, rts)
}

func TestBridgeOneClientAtATime(t *testing.T) {
	f := start(t, nil)

	first, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer first.Close()
	f.device(t)

	second, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = second.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "second client should be disconnected")
}

func TestBridgeRetriesAbsentPort(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	opened := make(chan *device, 1)
	open := func(name string, baud int) (serial.Port, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, serial.ErrNotFound
		}
		d := newDevice()
		opened <- d
		return d, nil
	}
	f := start(t, open)

	conn, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("port never opened")
	}
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestAllowed(t *testing.T) {
	srv, err := New(Config{Port: testPort, BaudRate: 115200})
	require.NoError(t, err)

	assert.True(t, srv.Allowed(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000}))
	assert.True(t, srv.Allowed(&net.TCPAddr{IP: net.ParseIP("::1"), Port: 5000}))
	assert.False(t, srv.Allowed(&net.TCPAddr{IP: net.ParseIP("192.168.1.20"), Port: 5000}))

	srv, err = New(Config{Port: testPort, BaudRate: 115200, Allow: []string{"localhost", "172.17.0.0/16"}})
	require.NoError(t, err)
	assert.True(t, srv.Allowed(&net.TCPAddr{IP: net.ParseIP("172.17.0.2"), Port: 5000}))
	assert.True(t, srv.Allowed(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000}))
	assert.False(t, srv.Allowed(&net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}))
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{BaudRate: 115200})
	assert.Error(t, err)
	_, err = New(Config{Port: testPort})
	assert.Error(t, err)
	_, err = New(Config{Port: testPort, BaudRate: 115200, Allow: []string{"not-an-ip"}})
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	f := start(t, nil)
	f.cancel()
	select {
	case err := <-f.done:
		assert.NoError(t, err)
		f.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
