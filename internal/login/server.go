package login

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/udisondev/wowcore/internal/config"
	"github.com/udisondev/wowcore/internal/constants"
	"github.com/udisondev/wowcore/internal/protocol"
)

// Server accepts login-port connections and drives each through the
// state machine (§4.5) via Handler: one accept loop, one goroutine per
// connection, no shared per-client state touched outside that goroutine
// — the same shape as gateway's Server.
type Server struct {
	cfg     config.LoginServer
	handler *Handler

	listener net.Listener
	mu       sync.Mutex
}

// NewServer wires a Server against an already-constructed Handler.
func NewServer(cfg config.LoginServer, handler *Handler) *Server {
	return &Server{cfg: cfg, handler: handler}
}

// Addr returns the address the server is listening on, or nil if not started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener, unblocking Run/Serve.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run listens on cfg.BindAddress:cfg.Port and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("login: listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections on a caller-supplied listener, useful for tests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		slog.Info("login server started", "address", ln.Addr())
		s.acceptLoop(ctx, &wg, ln)
	})

	wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			slog.Error("login: accept failed", "err", err)
			continue
		}
		wg.Go(func() {
			s.handleConnection(ctx, conn)
		})
	}
}

// frame is one decoded inbound packet, or a terminal read error.
type frame struct {
	opcode  byte
	payload []byte
	err     error
}

// readLoop feeds decoded frames to out until ReadFrame fails or done is
// closed. The payload is copied because Conn.ReadFrame's result is only
// valid until the next call, and this loop keeps calling it while the
// connection's own goroutine processes frames asynchronously off out.
func readLoop(conn *protocol.Conn, out chan<- frame, done <-chan struct{}) {
	for {
		opcode, payload, err := conn.ReadFrame()
		if err != nil {
			select {
			case out <- frame{err: err}:
			case <-done:
			}
			return
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		select {
		case out <- frame{opcode: opcode, payload: cp}:
		case <-done:
			return
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, nc net.Conn) {
	defer nc.Close()

	conn := protocol.NewConn(nc, constants.LoginMaxPacketSize)
	client, err := NewClient(conn)
	if err != nil {
		slog.Error("login: creating client", "err", err)
		return
	}

	done := make(chan struct{})
	defer close(done)

	frames := make(chan frame, 1)
	go readLoop(conn, frames, done)

	// One idle timer for the whole connection (§5: "each suspended state
	// has an associated steady-clock deadline") — unlike gateway, login's
	// states don't call out distinct per-phase caps, so a single timeout
	// reset on every successfully handled packet covers all of them.
	timeout := s.cfg.SessionTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	idleTimer := time.NewTimer(timeout)
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-idleTimer.C:
			slog.Info("login: connection idle timeout", "remote", client.IP(), "state", client.State())
			return

		case f := <-frames:
			if f.err != nil {
				if !errors.Is(f.err, io.EOF) {
					slog.Warn("login: read failed", "remote", client.IP(), "err", f.err)
				}
				return
			}

			ok, herr := s.handler.HandlePacket(ctx, client, f.opcode, f.payload)
			if herr != nil {
				slog.Warn("login: handling packet", "remote", client.IP(), "opcode", f.opcode, "err", herr)
			}
			if !ok {
				return
			}

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(timeout)
		}
	}
}
