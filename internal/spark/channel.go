package spark

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a Channel's lifecycle stage (§3 Data Model).
type State int

const (
	StateAwaiting State = iota
	StateOpen
	StateClosed
)

// Handler receives every non-reply message delivered to a Channel,
// without its token. Replies (response bit set) are instead resolved
// against the sender's pending-token table and never reach Handler.
type Handler interface {
	OnMessage(ch *Channel, payload []byte)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ch *Channel, payload []byte)

func (f HandlerFunc) OnMessage(ch *Channel, payload []byte) { f(ch, payload) }

// Closer is implemented by a Handler that needs to react to its own
// Channel closing — e.g. reverting a replicated record to its
// disconnected state on link loss (§3 Realm Record: "flips back to
// offline on link loss"). Checked once, after the channel has already
// transitioned to Closed and drained its pending table.
type Closer interface {
	OnClose(ch *Channel)
}

// pendingRequest is one outstanding tracked request: the continuation
// waiting on resultCh and the timer that fires TimedOut if no reply
// arrives first.
type pendingRequest struct {
	resultCh chan Result
	timer    *time.Timer
}

// Channel is one logical sub-stream multiplexed on an Endpoint's
// connection, addressed by a one-byte id (§3 Data Model). All methods are
// safe for concurrent use; the tracking table is protected by mu and
// every continuation is invoked exactly once (§8).
type Channel struct {
	id          byte
	ep          *Endpoint
	peerBanner  string
	serviceName string
	handler     Handler

	mu      sync.Mutex
	state   State
	pending map[uuid.UUID]*pendingRequest
}

func newChannel(id byte, ep *Endpoint, serviceName string, handler Handler) *Channel {
	return &Channel{
		id:          id,
		ep:          ep,
		serviceName: serviceName,
		handler:     handler,
		state:       StateAwaiting,
		pending:     make(map[uuid.UUID]*pendingRequest),
	}
}

// ID returns the channel's wire id.
func (ch *Channel) ID() byte { return ch.id }

// State returns the channel's current lifecycle stage.
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) setState(s State) {
	ch.mu.Lock()
	ch.state = s
	ch.mu.Unlock()
}

// Send transmits an untracked (token-zero) message; the peer's Handler
// receives it via OnMessage with no continuation tracking.
func (ch *Channel) Send(payload []byte) error {
	if ch.State() == StateClosed {
		return ErrChannelClosed
	}
	return ch.ep.conn.writeMessage(ch.id, uuid.Nil, false, payload)
}

// Reply answers a tracked request identified by token, setting the
// response bit so the peer's pending-table lookup resolves it.
func (ch *Channel) Reply(token uuid.UUID, payload []byte) error {
	if ch.State() == StateClosed {
		return ErrChannelClosed
	}
	return ch.ep.conn.writeMessage(ch.id, token, true, payload)
}

// SendTracked sends payload with a freshly generated token and blocks
// until a matching reply arrives, timeout elapses, ctx is cancelled, or
// the channel closes (§4.8).
func (ch *Channel) SendTracked(ctx context.Context, payload []byte, timeout time.Duration) Result {
	if ch.State() == StateClosed {
		return Result{Code: ChannelClosed}
	}

	token := uuid.New()
	pr := &pendingRequest{resultCh: make(chan Result, 1)}

	ch.mu.Lock()
	if ch.state == StateClosed {
		ch.mu.Unlock()
		return Result{Code: ChannelClosed}
	}
	ch.pending[token] = pr
	ch.mu.Unlock()

	pr.timer = time.AfterFunc(timeout, func() {
		ch.resolve(token, Result{Code: TimedOut})
	})
	defer pr.timer.Stop()

	if err := ch.ep.conn.writeMessage(ch.id, token, false, payload); err != nil {
		ch.resolve(token, Result{Code: NetError})
	}

	select {
	case res := <-pr.resultCh:
		return res
	case <-ctx.Done():
		ch.resolve(token, Result{Code: Cancelled})
		return <-pr.resultCh
	}
}

// deliverResponse resolves a pending request from a reply frame. A
// reply whose token has no matching entry (already resolved by timeout,
// or a duplicate) is silently dropped (§4.8, §8).
func (ch *Channel) deliverResponse(token uuid.UUID, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	ch.resolve(token, Result{Payload: cp, Code: OK})
}

// resolve completes token's continuation exactly once; a second call for
// the same token (duplicate reply racing a timeout, say) is a no-op.
func (ch *Channel) resolve(token uuid.UUID, res Result) {
	ch.mu.Lock()
	pr, ok := ch.pending[token]
	if ok {
		delete(ch.pending, token)
	}
	ch.mu.Unlock()
	if !ok {
		return
	}
	pr.resultCh <- res
}

// deliver routes a non-reply message's payload to Handler; the token, if
// any, is not passed on.
func (ch *Channel) deliver(payload []byte) {
	if ch.handler != nil {
		ch.handler.OnMessage(ch, payload)
	}
}

// close transitions the channel to Closed and fails every pending
// request with ChannelClosed, draining the tracking table synchronously
// (§5: "deleted channels ... drain their tracking ... entries
// synchronously under the channel/connection strand").
func (ch *Channel) close() {
	ch.mu.Lock()
	if ch.state == StateClosed {
		ch.mu.Unlock()
		return
	}
	ch.state = StateClosed
	pending := ch.pending
	ch.pending = make(map[uuid.UUID]*pendingRequest)
	handler := ch.handler
	ch.mu.Unlock()

	for _, pr := range pending {
		pr.timer.Stop()
		pr.resultCh <- Result{Code: ChannelClosed}
	}

	if c, ok := handler.(Closer); ok {
		c.OnClose(ch)
	}
}

func (ch *Channel) String() string {
	return fmt.Sprintf("channel(%d, %s)", ch.id, ch.serviceName)
}
