package login

import (
	"fmt"
	"net"

	"github.com/udisondev/wowcore/internal/crypto"
	"github.com/udisondev/wowcore/internal/model"
	"github.com/udisondev/wowcore/internal/protocol"
)

// Client holds the per-connection state the login state machine (§4.5)
// carries between packets: the wire connection, the current state, the
// account record once resolved, and whichever transient handshake or
// transfer data the current state needs. A Client is only ever touched
// by the single goroutine driving its connection (§5's "pinned to a
// strand" model), so no internal locking is required.
type Client struct {
	conn  *protocol.Conn
	ip    string
	state ConnectionState

	// Populated once the client announces itself in INITIAL_CHALLENGE.
	username string
	build    int
	platform string
	os       string
	locale   string

	// Populated once the user record is fetched.
	user *model.User

	// SRP6 challenge/proof state, live only across LOGIN_PROOF.
	srp           *crypto.ServerSession
	mode          crypto.Mode
	group         crypto.Group
	challengeSalt []byte
	integritySalt []byte
	pinGridSeed   uint32

	// Reconnect path state.
	reconnectServerSeed [16]byte

	// Derived once the handshake (login or reconnect) succeeds.
	sessionKey []byte

	// Active patch/survey transfer, if any.
	transfer *transferState
}

// transferState tracks an in-progress TransferInitiate/TransferData
// exchange (§4.5). survey is true when the transfer is the client's
// survey-data download rather than a version-gate patch.
type transferState struct {
	patch   model.Patch
	offset  int64
	survey  bool
	content []byte
}

// NewClient wraps conn as a fresh login connection in StateInitialChallenge.
func NewClient(conn *protocol.Conn) (*Client, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("login: splitting host/port: %w", err)
	}
	return &Client{
		conn:  conn,
		ip:    host,
		state: StateInitialChallenge,
	}, nil
}

// IP returns the client's remote address, host only.
func (c *Client) IP() string { return c.ip }

// State returns the current connection state.
func (c *Client) State() ConnectionState { return c.state }

// SetState sets the connection state.
func (c *Client) SetState(s ConnectionState) { c.state = s }

// Username returns the account name the client announced.
func (c *Client) Username() string { return c.username }
