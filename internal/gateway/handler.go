package gateway

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/udisondev/wowcore/internal/config"
	"github.com/udisondev/wowcore/internal/constants"
	"github.com/udisondev/wowcore/internal/db"
	"github.com/udisondev/wowcore/internal/gateway/gatewaywire"
	"github.com/udisondev/wowcore/internal/login"
	"github.com/udisondev/wowcore/internal/queue"
	"github.com/udisondev/wowcore/internal/spark"
)

// CapacityTracker gates admission against the realm's configured slot
// ceiling (§4.7): TryAdmit reserves a slot if one is free, Release
// returns one when an admitted session ends. The gateway Server
// implements this with an atomic counter against cfg.SlotCeiling.
type CapacityTracker interface {
	TryAdmit() bool
	Release()
}

// Handler dispatches gateway-port packets against the session state
// machine (§4.6), mirroring login's handler: one call per inbound
// frame, touched only by the connection's own goroutine.
type Handler struct {
	cfg        config.GatewayServer
	users      login.UserStore
	accounts   spark.AccountService
	characters spark.CharacterService
	queue      *queue.Queue[uuid.UUID]
	capacity   CapacityTracker
}

// NewHandler wires a Handler against its dependencies.
func NewHandler(cfg config.GatewayServer, users login.UserStore, accounts spark.AccountService, characters spark.CharacterService, q *queue.Queue[uuid.UUID], capacity CapacityTracker) *Handler {
	return &Handler{cfg: cfg, users: users, accounts: accounts, characters: characters, queue: q, capacity: capacity}
}

// Greet sends the one-shot WorldChallenge immediately after accept
// (§4.6: the gateway-port session begins in AUTHENTICATION(in_progress)
// before the client has sent anything).
func (h *Handler) Greet(c *Client) error {
	if _, err := rand.Read(c.serverSeed[:]); err != nil {
		return fmt.Errorf("gateway: generating challenge seed: %w", err)
	}
	buf := make([]byte, 4)
	n := gatewaywire.EncodeWorldChallenge(buf, gatewaywire.WorldChallenge{ServerSeed: c.serverSeed})
	return c.conn.Send(constants.OpWorldChallenge, buf[:n])
}

// HandlePacket dispatches one inbound frame. ok reports whether the
// connection should stay open; err is logged by the caller but, per
// §4.1's handler contract, never by itself decides connection lifetime
// (only ok does).
func (h *Handler) HandlePacket(ctx context.Context, c *Client, opcode byte, payload []byte) (ok bool, err error) {
	switch c.state {
	case StateAuthInProgress, StateAuthQueued, StateAuthFailed:
		if opcode != constants.OpWorldAuth {
			return false, fmt.Errorf("gateway: opcode %#x not accepted in %s", opcode, c.state)
		}
		return h.handleWorldAuth(ctx, c, payload)

	case StateCharacterList:
		return h.handleCharacterList(ctx, c, opcode, payload)

	case StateWorldEnter:
		if opcode != constants.OpWorldEnter {
			return false, fmt.Errorf("gateway: opcode %#x not accepted in WORLD_ENTER", opcode)
		}
		return h.handleWorldEnter(ctx, c, payload)

	case StateInWorld, StateSessionClosed:
		return false, fmt.Errorf("gateway: no packets accepted in %s", c.state)

	default:
		return false, fmt.Errorf("gateway: unhandled state %s", c.state)
	}
}

func (h *Handler) handleWorldAuth(ctx context.Context, c *Client, payload []byte) (bool, error) {
	req, err := gatewaywire.DecodeWorldAuth(payload)
	if err != nil {
		return false, err
	}
	c.accountName = strings.ToUpper(req.AccountName)
	c.build = req.Build

	accountID, sessionKey, ok, err := h.lookupSession(ctx, c.accountName)
	if err != nil {
		return false, err
	}
	if !ok {
		return h.rejectAuth(c, constants.WorldAuthFailUnknown)
	}

	expected := worldAuthProof(c.serverSeed, c.accountName, sessionKey)
	if expected != req.ClientProof {
		return h.rejectAuth(c, constants.WorldAuthFailBadProof)
	}

	c.accountID = accountID
	if err := c.conn.EnableObfuscation(sessionKey); err != nil {
		return false, fmt.Errorf("gateway: enabling obfuscation: %w", err)
	}

	buf := make([]byte, 5)
	n := gatewaywire.EncodeWorldAuthResponse(buf, gatewaywire.WorldAuthResponse{Result: constants.WorldAuthSuccess, ServerSeed: c.serverSeed})
	if err := c.conn.Send(constants.OpWorldAuthResponse, buf[:n]); err != nil {
		return false, err
	}

	c.SetState(StateAuthSuccess)
	slog.Info("gateway: authenticated", "account", c.accountName, "ip", c.IP())

	if h.capacity.TryAdmit() {
		h.enterCharacterList(c)
		return true, nil
	}

	c.SetState(StateAuthQueued)
	h.queue.Enqueue(c.ref,
		func(pos int) { c.postEvent(func() { h.sendQueuePosition(c, pos) }) },
		func() { c.postEvent(func() { h.releaseFromQueue(c) }) },
		0)
	return true, nil
}

// lookupSession resolves an account name to an id via the same
// UserStore the login process uses (both processes share the accounts
// database, §2), then asks the Account service — populated by login at
// the end of a successful SRP6 handshake — for that account's session
// key.
func (h *Handler) lookupSession(ctx context.Context, accountName string) (accountID int64, sessionKey []byte, ok bool, err error) {
	user, err := h.users.ByUsername(ctx, accountName)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	key, present, err := h.accounts.GetSession(ctx, user.ID)
	if err != nil {
		return 0, nil, false, err
	}
	return user.ID, key, present, nil
}

func worldAuthProof(serverSeed [4]byte, accountName string, sessionKey []byte) [20]byte {
	h := sha1.New()
	h.Write(serverSeed[:])
	h.Write([]byte(accountName))
	h.Write(sessionKey)
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (h *Handler) rejectAuth(c *Client, result byte) (bool, error) {
	buf := make([]byte, 5)
	n := gatewaywire.EncodeWorldAuthResponse(buf, gatewaywire.WorldAuthResponse{Result: result})
	if err := c.conn.Send(constants.OpWorldAuthResponse, buf[:n]); err != nil {
		return false, err
	}
	c.SetState(StateAuthFailed)
	return false, nil
}

func (h *Handler) sendQueuePosition(c *Client, position int) {
	buf := make([]byte, 4)
	n := gatewaywire.EncodeQueuePosition(buf, gatewaywire.QueuePosition{Position: int32(position)})
	if err := c.conn.Send(constants.OpQueuePosition, buf[:n]); err != nil {
		slog.Warn("gateway: sending queue position", "err", err)
	}
}

func (h *Handler) releaseFromQueue(c *Client) {
	h.sendQueuePosition(c, 0)
	h.enterCharacterList(c)
}

func (h *Handler) enterCharacterList(c *Client) {
	c.SetState(StateCharacterList)
	// The RPC wait below is a suspension point on the connection's own
	// strand (§5), not a second goroutine touching Client state.
	h.sendCharacterList(context.Background(), c)
}

func (h *Handler) sendCharacterList(ctx context.Context, c *Client) {
	chars, err := h.characters.EnumerateCharacters(ctx, c.accountID)
	if err != nil {
		slog.Warn("gateway: enumerating characters", "err", err)
		return
	}
	c.characters = chars

	entries := make([]gatewaywire.CharacterEntry, len(chars))
	for i, ch := range chars {
		zone := ch.ZoneID
		if h.cfg.MaskNewCharacterZone && ch.FirstLogin {
			zone = 0
		}
		entries[i] = gatewaywire.CharacterEntry{ID: ch.ID, Name: ch.Name, Class: ch.Class, Race: ch.Race, Level: ch.Level, ZoneID: zone}
	}
	buf := make([]byte, 1+64*len(entries))
	n := gatewaywire.EncodeCharacterList(buf, entries)
	if err := c.conn.Send(constants.OpCharacterList, buf[:n]); err != nil {
		slog.Warn("gateway: sending character list", "err", err)
	}
}

func (h *Handler) handleCharacterList(ctx context.Context, c *Client, opcode byte, payload []byte) (bool, error) {
	switch opcode {
	case constants.OpCharacterCreate:
		req, err := gatewaywire.DecodeCharacterCreate(payload)
		if err != nil {
			return false, err
		}
		result := constants.CharacterOpSuccess
		if _, err := h.characters.CreateCharacter(ctx, c.accountID, req.Name, req.Class, req.Race); err != nil {
			result = constants.CharacterOpFailExists
		}
		buf := make([]byte, 1)
		n := gatewaywire.EncodeCharacterOpAck(buf, gatewaywire.CharacterOpAck{Result: result})
		if err := c.conn.Send(constants.OpCharacterCreateAck, buf[:n]); err != nil {
			return false, err
		}
		h.enterCharacterList(c)
		return true, nil

	case constants.OpCharacterDelete:
		req, err := gatewaywire.DecodeCharacterDelete(payload)
		if err != nil {
			return false, err
		}
		result := constants.CharacterOpSuccess
		if err := h.characters.DeleteCharacter(ctx, c.accountID, req.CharacterID); err != nil {
			result = constants.CharacterOpFailNotFound
		}
		buf := make([]byte, 1)
		n := gatewaywire.EncodeCharacterOpAck(buf, gatewaywire.CharacterOpAck{Result: result})
		if err := c.conn.Send(constants.OpCharacterDeleteAck, buf[:n]); err != nil {
			return false, err
		}
		h.enterCharacterList(c)
		return true, nil

	case constants.OpCharacterRename:
		req, err := gatewaywire.DecodeCharacterRename(payload)
		if err != nil {
			return false, err
		}
		result := constants.CharacterOpSuccess
		if err := h.characters.RenameCharacter(ctx, c.accountID, req.CharacterID, req.NewName); err != nil {
			result = constants.CharacterOpFailNotFound
		}
		buf := make([]byte, 1)
		n := gatewaywire.EncodeCharacterOpAck(buf, gatewaywire.CharacterOpAck{Result: result})
		if err := c.conn.Send(constants.OpCharacterRenameAck, buf[:n]); err != nil {
			return false, err
		}
		h.enterCharacterList(c)
		return true, nil

	case constants.OpWorldEnter:
		return h.handleWorldEnter(ctx, c, payload)

	default:
		return false, fmt.Errorf("gateway: opcode %#x not accepted in CHARACTER_LIST", opcode)
	}
}

func (h *Handler) handleWorldEnter(ctx context.Context, c *Client, payload []byte) (bool, error) {
	req, err := gatewaywire.DecodeWorldEnter(payload)
	if err != nil {
		return false, err
	}
	c.SetState(StateWorldEnter)

	char, err := h.characters.LoadCharacter(ctx, c.accountID, req.CharacterID)
	if err != nil {
		buf := make([]byte, 1)
		n := gatewaywire.EncodeWorldEnterAck(buf, gatewaywire.WorldEnterAck{Result: constants.CharacterOpFailNotFound})
		_ = c.conn.Send(constants.OpWorldEnterAck, buf[:n])
		return false, err
	}

	buf := make([]byte, 5)
	n := gatewaywire.EncodeWorldEnterAck(buf, gatewaywire.WorldEnterAck{Result: constants.CharacterOpSuccess, ZoneID: char.ZoneID})
	if err := c.conn.Send(constants.OpWorldEnterAck, buf[:n]); err != nil {
		return false, err
	}

	c.SetState(StateInWorld)
	return true, nil
}

// authTimeout and characterListTimeout expose the configured caps
// (§4.6) for the server's per-state timer rearm logic.
func (h *Handler) authTimeout() time.Duration        { return h.cfg.AuthTimeout }
func (h *Handler) characterListTimeout() time.Duration { return h.cfg.CharacterListTimeout }
