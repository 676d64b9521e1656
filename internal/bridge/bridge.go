// Package bridge exposes a host serial port over TCP so tools inside the
// toolchain container can reach the hardware. Bytes are copied verbatim in
// both directions; there is no telnet or RFC 2217 option negotiation.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/buckleypaul/zflow/internal/serial"
)

const (
	DefaultAddr          = ":2217"
	DefaultRetryInterval = time.Second
)

// Config describes one bridged port.
type Config struct {
	Port     string
	BaudRate int
	// Addr is the TCP listen address. Defaults to DefaultAddr.
	Addr string
	// Allow lists client IPs or CIDR ranges. Empty means loopback only.
	Allow []string
	// RetryInterval is the wait between attempts to open an absent port.
	RetryInterval time.Duration
	Open          serial.Opener
	Locker        serial.Locker
	Log           *zap.SugaredLogger
}

// Server bridges one serial port to at most one TCP client at a time. The
// port is locked and open only while a client is connected.
type Server struct {
	cfg    Config
	allow  []*net.IPNet
	log    *zap.SugaredLogger
	active atomic.Bool
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Port == "" {
		return nil, errors.New("bridge: serial port is required")
	}
	if cfg.BaudRate <= 0 {
		return nil, fmt.Errorf("bridge: invalid baud rate %d", cfg.BaudRate)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Open == nil {
		cfg.Open = serial.Open
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}

	allow, err := parseAllow(cfg.Allow)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, allow: allow, log: cfg.Log.Named("bridge")}, nil
}

func parseAllow(entries []string) ([]*net.IPNet, error) {
	if len(entries) == 0 {
		entries = []string{"127.0.0.0/8", "::1/128"}
	}
	var nets []*net.IPNet
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "localhost" {
			e = "127.0.0.1"
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("bridge: invalid allow entry %q", e)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("bridge: invalid allow entry %q: %w", e, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// Allowed reports whether a client at addr may connect.
func (s *Server) Allowed(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range s.allow {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ListenAndServe listens on the configured address and serves until ctx
// ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts clients from ln until ctx ends. A client arriving while
// another is connected is turned away.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Infow("listening", "addr", ln.Addr().String(), "port", s.cfg.Port, "baud", s.cfg.BaudRate)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		remote := conn.RemoteAddr().String()
		if !s.Allowed(conn.RemoteAddr()) {
			s.log.Warnw("connection denied", "remote", remote)
			conn.Close()
			continue
		}
		if !s.active.CompareAndSwap(false, true) {
			s.log.Warnw("connection refused, a client is already connected", "remote", remote)
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.active.Store(false)
			if err := s.handle(ctx, conn); err != nil {
				s.log.Warnw("session ended", "remote", remote, "error", err)
			}
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	log := s.log.With("remote", conn.RemoteAddr().String())
	log.Infow("client connected")

	port, lock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer lock.Release()

	// Raised lines tell the device a terminal is attached.
	setModem(port, true)

	var (
		closeOnce sync.Once
		closed    atomic.Bool
	)
	closeAll := func() {
		closeOnce.Do(func() {
			closed.Store(true)
			setModem(port, false)
			port.Close()
			conn.Close()
		})
	}
	defer closeAll()

	// Each copier returns a non-nil error so the group context ends the
	// session as soon as either direction stops.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		closeAll()
		return nil
	})
	g.Go(func() error {
		defer closeAll()
		_, err := io.Copy(conn, port)
		if closed.Load() {
			return errSessionEnd
		}
		return sessionEnd(err)
	})
	g.Go(func() error {
		defer closeAll()
		_, err := io.Copy(port, conn)
		if closed.Load() {
			return errSessionEnd
		}
		return sessionEnd(err)
	})

	err = g.Wait()
	log.Infow("client disconnected")
	if errors.Is(err, errSessionEnd) {
		return nil
	}
	return err
}

// acquire locks and opens the port, retrying while it is absent or held.
func (s *Server) acquire(ctx context.Context) (serial.Port, *serial.Lock, error) {
	for {
		lock, err := s.cfg.Locker.Acquire(s.cfg.Port)
		if err == nil {
			port, openErr := s.cfg.Open(s.cfg.Port, s.cfg.BaudRate)
			if openErr == nil {
				s.log.Infow("serial port open", "port", s.cfg.Port)
				return port, lock, nil
			}
			lock.Release()
			err = openErr
		}

		if errors.Is(err, serial.ErrLocked) || errors.Is(err, serial.ErrBusy) || errors.Is(err, serial.ErrPermission) {
			s.log.Errorw("serial port unavailable", "port", s.cfg.Port, "error", err)
		} else {
			s.log.Infow("waiting for serial port", "port", s.cfg.Port, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(s.cfg.RetryInterval):
		}
	}
}

func setModem(p serial.Port, on bool) {
	mc, ok := p.(serial.ModemControl)
	if !ok {
		return
	}
	mc.SetDTR(on)
	mc.SetRTS(on)
}

var errSessionEnd = errors.New("session ended")

// sessionEnd maps a copy result to the group error. EOF and errors from our
// own Close calls are a clean end.
func sessionEnd(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return errSessionEnd
	}
	return err
}
