package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/udisondev/wowcore/internal/config"
	"github.com/udisondev/wowcore/internal/constants"
	"github.com/udisondev/wowcore/internal/login"
	"github.com/udisondev/wowcore/internal/protocol"
	"github.com/udisondev/wowcore/internal/queue"
	"github.com/udisondev/wowcore/internal/spark"
)

// atomicCapacity implements Handler's CapacityTracker against a hard
// slot ceiling (§4.7) with a lock-free CAS loop.
type atomicCapacity struct {
	n     atomic.Int64
	limit int64
}

func newAtomicCapacity(limit int) *atomicCapacity {
	return &atomicCapacity{limit: int64(limit)}
}

func (a *atomicCapacity) TryAdmit() bool {
	for {
		cur := a.n.Load()
		if cur >= a.limit {
			return false
		}
		if a.n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (a *atomicCapacity) Release() {
	a.n.Add(-1)
}

// Server accepts gateway-port connections and drives each through the
// session state machine (§4.6) via Handler, mirroring login's Server:
// one accept loop, one goroutine per connection, no shared per-client
// state touched outside that goroutine.
type Server struct {
	cfg      config.GatewayServer
	handler  *Handler
	queue    *queue.Queue[uuid.UUID]
	capacity *atomicCapacity

	listener net.Listener
	mu       sync.Mutex
}

// NewServer wires a Server against its dependencies, constructing the
// Admission Queue and capacity tracker internally.
func NewServer(cfg config.GatewayServer, users login.UserStore, accounts spark.AccountService, characters spark.CharacterService) *Server {
	q := queue.New[uuid.UUID](cfg.QueueBroadcast)
	capacity := newAtomicCapacity(cfg.SlotCeiling)
	handler := NewHandler(cfg, users, accounts, characters, q, capacity)
	return &Server{cfg: cfg, handler: handler, queue: q, capacity: capacity}
}

// ConnectedCount returns the number of clients currently holding an
// admitted slot, usable as the Population a realm process publishes
// over C8 (§2, §3 Realm Record).
func (s *Server) ConnectedCount() int {
	return int(s.capacity.n.Load())
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
		return fmt.Errorf("gateway: listening on %s: %w", addr, err)
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
		s.queue.Run(ctx)
	})
	wg.Go(func() {
		slog.Info("gateway server started", "address", ln.Addr())
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
			slog.Error("gateway: accept failed", "err", err)
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
// done guards against blocking forever on a send nobody will ever drain
// once handleConnection has already returned.
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
		slog.Error("gateway: creating client", "err", err)
		return
	}
	defer close(client.done)

	if err := s.handler.Greet(client); err != nil {
		slog.Error("gateway: greeting failed", "remote", client.IP(), "err", err)
		return
	}

	frames := make(chan frame, 1)
	go readLoop(conn, frames, client.done)

	authTimer := time.NewTimer(s.handler.authTimeout())
	defer authTimer.Stop()
	var charTimer *time.Timer
	var charTimerC <-chan time.Time
	defer func() {
		if charTimer != nil {
			charTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.onDisconnect(client)
			return

		case task := <-client.events:
			task()

		case <-authTimer.C:
			if client.State() == StateAuthInProgress || client.State() == StateAuthQueued {
				slog.Info("gateway: authentication timed out", "remote", client.IP())
				s.onDisconnect(client)
				return
			}

		case <-charTimerC:
			if client.State() == StateCharacterList {
				slog.Info("gateway: character list timed out", "remote", client.IP())
				s.onDisconnect(client)
				return
			}

		case f := <-frames:
			if f.err != nil {
				if !errors.Is(f.err, io.EOF) {
					slog.Warn("gateway: read failed", "remote", client.IP(), "err", f.err)
				}
				s.onDisconnect(client)
				return
			}

			prevState := client.State()
			ok, herr := s.handler.HandlePacket(ctx, client, f.opcode, f.payload)
			if herr != nil {
				slog.Warn("gateway: handling packet", "remote", client.IP(), "opcode", f.opcode, "err", herr)
			}
			if !ok {
				s.onDisconnect(client)
				return
			}
			if prevState != StateCharacterList && client.State() == StateCharacterList {
				if charTimer != nil {
					charTimer.Stop()
				}
				charTimer = time.NewTimer(s.handler.characterListTimeout())
				charTimerC = charTimer.C
			}
		}
	}
}

// onDisconnect releases any capacity or queue slot the client held and
// cascades admission to the next waiting client, if any (§4.7).
func (s *Server) onDisconnect(c *Client) {
	switch c.State() {
	case StateAuthQueued:
		s.queue.Dequeue(c.Ref())
	case StateAuthSuccess, StateCharacterList, StateWorldEnter, StateInWorld:
		s.capacity.Release()
		if s.queue.Len() > 0 && s.capacity.TryAdmit() {
			s.queue.FreeSlot()
		}
	}
	c.SetState(StateSessionClosed)
}
