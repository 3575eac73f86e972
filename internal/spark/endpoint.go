package spark

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// HandlerFactory builds the Handler for a newly accepted channel
// carrying serviceName (may be empty) of a registered ServiceType.
type HandlerFactory func(ch *Channel, serviceName string) Handler

// defaultOpenTimeout bounds how long OpenChannel waits for
// OpenChannelResponse before giving up.
const defaultOpenTimeout = 5 * time.Second

// pingInterval and pongWarnThreshold drive the liveness check (§4.8).
const (
	pingInterval     = 15 * time.Second
	pongWarnThreshold = 2 * time.Second
)

// Endpoint owns one TCP connection's worth of multiplexed channels: the
// control channel (0) plus up to 255 application channels, each with its
// own tracking table (§4.8). One Endpoint exists per connection, on
// either side (login process or a realm's gateway process).
type Endpoint struct {
	conn   *frameConn
	banner string

	mu         sync.Mutex
	channels   [MaxChannels]*Channel
	registry   map[string]HandlerFactory
	peerBanner string

	pingSeq      uint32
	pingSentAt   time.Time
	awaitingPong bool

	closeOnce sync.Once
	closed    chan struct{}
}

// NewEndpoint wraps nc as a fresh Spark connection. banner identifies
// this process in the Hello exchange (e.g. "loginserver/1.0").
func NewEndpoint(nc net.Conn, maxInbound int, banner string) *Endpoint {
	e := &Endpoint{
		conn:     newFrameConn(nc, maxInbound),
		banner:   banner,
		registry: make(map[string]HandlerFactory),
		closed:   make(chan struct{}),
	}
	e.channels[ControlChannel] = newChannel(ControlChannel, e, "", nil)
	e.channels[ControlChannel].setState(StateOpen)
	e.channels[ControlChannel].handler = HandlerFunc(e.handleControl)
	return e
}

// Register installs the handler factory invoked when a peer opens a
// channel naming serviceType. Must be called before Serve.
func (e *Endpoint) Register(serviceType string, factory HandlerFactory) {
	e.mu.Lock()
	e.registry[serviceType] = factory
	e.mu.Unlock()
}

// PeerBanner returns the banner the peer sent in its Hello, or "" if
// none has arrived yet.
func (e *Endpoint) PeerBanner() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerBanner
}

// Serve sends the one-shot Hello, then runs the read loop and the ping
// loop until ctx is cancelled or the connection fails. It blocks.
func (e *Endpoint) Serve(ctx context.Context) error {
	if err := e.control().Send(encodeHello(Hello{Banner: e.banner})); err != nil {
		return fmt.Errorf("spark: sending hello: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.readLoop(gctx) })
	g.Go(func() error { return e.pingLoop(gctx) })

	err := g.Wait()
	e.Close()
	return err
}

func (e *Endpoint) control() *Channel { return e.channels[ControlChannel] }

func (e *Endpoint) readLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		e.conn.Close()
	}()

	for {
		msg, err := e.conn.readMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("spark: read loop: %w", err)
			}
		}

		e.mu.Lock()
		ch := e.channels[msg.channel]
		e.mu.Unlock()
		if ch == nil {
			slog.Warn("spark: message for unknown channel", "channel", msg.channel)
			continue
		}

		if msg.response {
			ch.deliverResponse(msg.token, msg.payload)
			continue
		}

		// OpenChannel is the one control message sent tracked (so the
		// initiator can await OpenChannelResponse via the generic
		// continuation table) that also requires a reply bound to that
		// same token; every other control/application message is either
		// untracked (Hello, Ping/Pong, CloseChannel, most application
		// events) or a reply itself (caught above).
		if msg.channel == ControlChannel && len(msg.payload) > 0 && ControlTag(msg.payload[0]) == CtrlOpenChannel {
			e.handleOpenChannel(msg.token, msg.payload)
			continue
		}

		ch.deliver(msg.payload)
	}
}

func (e *Endpoint) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.mu.Lock()
			e.pingSeq++
			seq := e.pingSeq
			e.pingSentAt = time.Now()
			e.awaitingPong = true
			e.mu.Unlock()
			if err := e.control().Send(encodePing(Ping{Seq: seq})); err != nil {
				return fmt.Errorf("spark: sending ping: %w", err)
			}
		}
	}
}

// handleControl dispatches messages on the reserved control channel.
func (e *Endpoint) handleControl(ch *Channel, payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch ControlTag(payload[0]) {
	case CtrlHello:
		h, err := decodeHello(payload[1:])
		if err != nil {
			slog.Warn("spark: malformed Hello", "err", err)
			return
		}
		e.mu.Lock()
		e.peerBanner = h.Banner
		e.mu.Unlock()

	case CtrlPing:
		p, err := decodePing(payload[1:])
		if err != nil {
			slog.Warn("spark: malformed Ping", "err", err)
			return
		}
		if err := ch.Send(encodePong(Pong{Seq: p.Seq})); err != nil {
			slog.Warn("spark: replying to ping", "err", err)
		}

	case CtrlPong:
		p, err := decodePong(payload[1:])
		if err != nil {
			slog.Warn("spark: malformed Pong", "err", err)
			return
		}
		e.mu.Lock()
		expected := e.pingSeq
		sentAt := e.pingSentAt
		e.awaitingPong = false
		e.mu.Unlock()
		if p.Seq != expected {
			slog.Warn("spark: pong sequence mismatch", "expected", expected, "got", p.Seq)
			return
		}
		if latency := time.Since(sentAt); latency > pongWarnThreshold {
			slog.Warn("spark: high pong latency", "latency", latency)
		}

	case CtrlCloseChannel:
		c, err := decodeCloseChannel(payload[1:])
		if err != nil {
			slog.Warn("spark: malformed CloseChannel", "err", err)
			return
		}
		e.mu.Lock()
		target := e.channels[c.ID]
		e.channels[c.ID] = nil
		e.mu.Unlock()
		if target != nil {
			target.close()
		}

	default:
		slog.Warn("spark: unknown control tag", "tag", payload[0])
	}
}

// handleOpenChannel processes an incoming OpenChannel request (§4.8 step
// 2): locates a registered handler factory for the requested service
// type, allocates a channel id (the proposal if free, else the next free
// id), and replies bound to the request's own token.
func (e *Endpoint) handleOpenChannel(token uuid.UUID, payload []byte) {
	req, err := decodeOpenChannel(payload[1:])
	if err != nil {
		slog.Warn("spark: malformed OpenChannel", "err", err)
		return
	}

	if req.ProposedID == ControlChannel {
		e.replyOpen(token, OpenChannelResponse{Result: OpenErrReservedID})
		return
	}

	e.mu.Lock()
	factory, known := e.registry[req.ServiceType]
	if !known {
		e.mu.Unlock()
		e.replyOpen(token, OpenChannelResponse{Result: OpenErrNoHandler})
		return
	}
	id, ok := e.allocateChannelID(req.ProposedID)
	if !ok {
		e.mu.Unlock()
		e.replyOpen(token, OpenChannelResponse{Result: OpenErrNoHandler})
		return
	}
	ch := newChannel(id, e, req.ServiceName, nil)
	e.channels[id] = ch
	e.mu.Unlock()

	ch.handler = factory(ch, req.ServiceName)
	ch.setState(StateOpen)

	e.replyOpen(token, OpenChannelResponse{Result: OpenOK, Actual: id})
}

func (e *Endpoint) replyOpen(token uuid.UUID, resp OpenChannelResponse) {
	if err := e.control().Reply(token, encodeOpenChannelResponse(resp)); err != nil {
		slog.Warn("spark: replying to OpenChannel", "err", err)
	}
}

// OpenChannel asks the peer to open a channel for serviceType (§4.8 step
// 1). proposedID must be in 1..255; the peer may assign a different id
// on collision, reported back in the returned Channel.
func (e *Endpoint) OpenChannel(ctx context.Context, serviceType, serviceName string, proposedID byte, handler Handler) (*Channel, error) {
	if proposedID == ControlChannel {
		return nil, ErrChannelIDReserved
	}

	req := OpenChannel{ServiceType: serviceType, ServiceName: serviceName, ProposedID: proposedID}
	res := e.control().SendTracked(ctx, encodeOpenChannel(req), defaultOpenTimeout)
	if res.Code != OK {
		return nil, res.Err()
	}

	resp, err := decodeOpenChannelResponse(res.Payload[1:])
	if err != nil {
		return nil, fmt.Errorf("spark: decoding OpenChannelResponse: %w", err)
	}
	if resp.Result != OpenOK {
		return nil, fmt.Errorf("spark: open channel rejected (code %d)", resp.Result)
	}

	ch := newChannel(resp.Actual, e, serviceName, handler)
	ch.setState(StateOpen)
	e.mu.Lock()
	e.channels[resp.Actual] = ch
	e.mu.Unlock()
	return ch, nil
}

// allocateChannelID returns proposed if free, otherwise the lowest free
// id in 1..255 (§4.8 step 2 collision rule). Caller holds e.mu.
func (e *Endpoint) allocateChannelID(proposed byte) (byte, bool) {
	if proposed != ControlChannel && e.channels[proposed] == nil {
		return proposed, true
	}
	for id := 1; id < MaxChannels; id++ {
		if e.channels[id] == nil {
			return byte(id), true
		}
	}
	return 0, false
}

// Close shuts down the endpoint: closes the connection and every channel
// (idempotent, §4.1).
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		err = e.conn.Close()
		e.mu.Lock()
		channels := make([]*Channel, 0, MaxChannels)
		for i := range e.channels {
			if e.channels[i] != nil {
				channels = append(channels, e.channels[i])
				e.channels[i] = nil
			}
		}
		e.mu.Unlock()
		for _, ch := range channels {
			ch.close()
		}
	})
	return err
}
