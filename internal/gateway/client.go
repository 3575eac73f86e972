package gateway

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/udisondev/wowcore/internal/protocol"
	"github.com/udisondev/wowcore/internal/spark"
)

// Client holds the per-connection state the gateway session state
// machine (§4.6) carries between packets. Like login's Client, it is
// only ever touched by the single goroutine driving its connection
// (§5). The Admission Queue's broadcast goroutine never touches this
// state directly: its callbacks post a closure to events, which the
// connection's own goroutine drains alongside inbound frames, so every
// mutation still happens on the connection's own strand.
type Client struct {
	ref   uuid.UUID
	conn  *protocol.Conn
	ip    string
	state SessionState

	serverSeed  [4]byte
	accountID   int64
	accountName string
	build       uint32

	characters []spark.CharacterSummary

	events chan func()
	done   chan struct{}
}

// NewClient wraps conn as a fresh gateway connection in
// AUTHENTICATION(in_progress).
func NewClient(conn *protocol.Conn) (*Client, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("gateway: splitting host/port: %w", err)
	}
	return &Client{
		ref:    uuid.New(),
		conn:   conn,
		ip:     host,
		state:  StateAuthInProgress,
		events: make(chan func(), 4),
		done:   make(chan struct{}),
	}, nil
}

// postEvent hands fn to the connection's own goroutine for execution,
// or drops it silently if the connection has already exited (§5: state
// belongs to one strand, so a closed connection must not run fn at all).
func (c *Client) postEvent(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// Ref returns the client's reference (§3 Client Reference), used to tag
// queue and character-service events.
func (c *Client) Ref() uuid.UUID { return c.ref }

// IP returns the client's remote address, host only.
func (c *Client) IP() string { return c.ip }

// State returns the current session state.
func (c *Client) State() SessionState { return c.state }

// SetState sets the session state.
func (c *Client) SetState(s SessionState) { c.state = s }

// AccountID returns the authenticated account id (0 before success).
func (c *Client) AccountID() int64 { return c.accountID }
