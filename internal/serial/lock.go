package serial

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrLocked is returned when another process (or another stage in this
// process) already holds the port.
var ErrLocked = errors.New("serial port is held by another process")

// Locker hands out exclusive, cross-process ownership of serial ports.
// Ownership is coordinated through one lock file per port under Dir.
type Locker struct {
	Dir string
}

// DefaultLocker keeps lock files in the system temp directory.
func DefaultLocker() Locker {
	return Locker{Dir: filepath.Join(os.TempDir(), "zflow-locks")}
}

// Lock is held ownership of one port or lock file. Release is safe to call
// repeatedly.
type Lock struct {
	Port string
	path string
	file *os.File
	once sync.Once
	err  error
}

// Acquire takes the port without blocking. It fails with an error wrapping
// ErrLocked when the port is already owned.
func (l Locker) Acquire(port string) (*Lock, error) {
	dir := l.Dir
	if dir == "" {
		dir = DefaultLocker().Dir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	lock, err := LockFile(filepath.Join(dir, lockName(port)))
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%s: %w", port, err)
		}
		return nil, fmt.Errorf("lock %s: %w", port, err)
	}
	lock.Port = port
	return lock, nil
}

// LockFile takes the lock file at path without blocking and records this
// process's PID in it. The error wraps ErrLocked when another holder has it.
func LockFile(path string) (*Lock, error) {
	f, err := tryLock(path)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			if pid := holderPID(path); pid > 0 {
				return nil, fmt.Errorf("%w (pid %d)", ErrLocked, pid)
			}
		}
		return nil, err
	}

	lock := &Lock{path: path, file: f}
	if err := writePID(f); err != nil {
		lock.Release()
		return nil, fmt.Errorf("write pid to %s: %w", path, err)
	}
	return lock, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	return err
}

// Release gives up ownership.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		l.err = unlock(l.path, l.file)
	})
	return l.err
}

// lockName maps a device name such as /dev/ttyUSB0 or COM3 to a file name.
func lockName(port string) string {
	var b strings.Builder
	b.WriteString("zflow-")
	for _, r := range strings.TrimPrefix(port, "/dev/") {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteString(".lock")
	return b.String()
}

func holderPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}
