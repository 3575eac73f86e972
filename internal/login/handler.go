package login

import (
	"context"
	"crypto/md5" //nolint:gosec // transfer-integrity checksum, not used for confidentiality
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // protocol-mandated primitive, not used for confidentiality
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/udisondev/wowcore/internal/config"
	"github.com/udisondev/wowcore/internal/constants"
	"github.com/udisondev/wowcore/internal/crypto"
	"github.com/udisondev/wowcore/internal/db"
	"github.com/udisondev/wowcore/internal/login/loginwire"
	"github.com/udisondev/wowcore/internal/model"
	"github.com/udisondev/wowcore/internal/spark"
)

// Handler dispatches login-port packets against the connection state
// machine (§4.5). Like gateway's Handler, one call per inbound frame,
// touched only by the connection's own goroutine.
type Handler struct {
	cfg      config.LoginServer
	users    UserStore
	patches  PatchStore
	realms   RealmStore
	accounts spark.AccountService
	ipBans   *model.IPBanList // nil disables the check; no bans loaded

	integrity *crypto.IntegrityVerifier // nil disables the check (§4.3: "the engine is optional")
	graph     *model.PatchGraph
	allowed   map[int]bool
	mode      crypto.Mode
	group     crypto.Group
	survey    *SurveyAsset
}

// NewHandler wires a Handler against its dependencies. graph is built
// by the caller via model.NewPatchGraph over the same patch list
// patches itself sources from, so it can be shared with anything else
// that needs the same view. ipBans may be nil, disabling the check.
func NewHandler(cfg config.LoginServer, users UserStore, patches PatchStore, graph *model.PatchGraph, realms RealmStore, accounts spark.AccountService, ipBans *model.IPBanList, integrity *crypto.IntegrityVerifier, survey *SurveyAsset) *Handler {
	allowed := make(map[int]bool, len(cfg.AllowedBuilds))
	for _, b := range cfg.AllowedBuilds {
		allowed[b] = true
	}
	mode := crypto.ModeGame
	group := crypto.GameGroup256
	if cfg.SRP6Mode == "rfc5054" {
		mode = crypto.ModeRFC5054
		group = crypto.RFC5054Group1024
	}
	return &Handler{
		cfg:       cfg,
		users:     users,
		patches:   patches,
		realms:    realms,
		accounts:  accounts,
		ipBans:    ipBans,
		integrity: integrity,
		graph:     graph,
		allowed:   allowed,
		mode:      mode,
		group:     group,
		survey:    survey,
	}
}

// HandlePacket dispatches one inbound frame by (state, opcode). ok
// reports whether the connection should stay open; err is logged by the
// caller but never by itself decides connection lifetime (only ok does,
// mirroring gateway's contract).
func (h *Handler) HandlePacket(ctx context.Context, c *Client, opcode byte, payload []byte) (ok bool, err error) {
	switch c.state {
	case StateInitialChallenge:
		switch opcode {
		case constants.OpLoginChallenge:
			return h.handleLoginChallenge(ctx, c, payload)
		case constants.OpReconnectChallenge:
			return h.handleReconnectChallenge(ctx, c, payload)
		default:
			return false, fmt.Errorf("login: opcode %#x not accepted in INITIAL_CHALLENGE", opcode)
		}

	case StateLoginProof:
		if opcode != constants.OpLoginProof {
			return false, fmt.Errorf("login: opcode %#x not accepted in LOGIN_PROOF", opcode)
		}
		return h.handleLoginProof(ctx, c, payload)

	case StateReconnectProof:
		if opcode != constants.OpReconnectProof {
			return false, fmt.Errorf("login: opcode %#x not accepted in RECONNECT_PROOF", opcode)
		}
		return h.handleReconnectProof(c, payload)

	case StateSurveyInitiate:
		return h.handleTransferControl(c, opcode, payload, true)

	case StatePatchInitiate:
		return h.handleTransferControl(c, opcode, payload, false)

	case StateSurveyResult:
		if opcode != constants.OpSurveyResult {
			return false, fmt.Errorf("login: opcode %#x not accepted in SURVEY_RESULT", opcode)
		}
		return h.handleSurveyResult(c, payload)

	case StateRequestRealms:
		if opcode != constants.OpRealmList {
			return false, fmt.Errorf("login: opcode %#x not accepted in REQUEST_REALMS", opcode)
		}
		return h.handleRealmList(ctx, c)

	default:
		return false, fmt.Errorf("login: no packets accepted in %s", c.state)
	}
}

func (h *Handler) handleLoginChallenge(ctx context.Context, c *Client, payload []byte) (bool, error) {
	if h.ipBans != nil && h.ipBans.IsBanned(c.IP()) {
		return h.rejectLoginChallenge(c, constants.ResultFailBanned)
	}

	req, err := loginwire.DecodeLoginChallenge(payload)
	if err != nil {
		return false, err
	}
	c.username = strings.ToUpper(req.Username)
	c.build = int(req.Build)
	c.platform = req.Platform
	c.os = req.OS
	c.locale = req.Locale

	if gated, proceed := h.versionGate(c); !proceed {
		return gated, nil
	}

	user, err := h.users.ByUsername(ctx, c.username)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return h.rejectLoginChallenge(c, constants.ResultFailUnknownAccount)
		}
		slog.Error("login: looking up user", "account", c.username, "err", err)
		return h.rejectLoginChallenge(c, constants.ResultFailDBBusy)
	}
	// Banned/suspended/subscriber status is only revealed after a
	// successful SRP6 proof, in handleLoginProof — checking it here would
	// let anyone who merely knows a banned username (no password) learn
	// that status for free.
	c.user = user

	verifier := new(big.Int).SetBytes(user.Verifier)
	srp, err := crypto.NewServerSession(h.mode, h.group, c.username, user.Salt, verifier, nil)
	if err != nil {
		return false, fmt.Errorf("login: starting SRP6 session: %w", err)
	}
	c.srp = srp
	c.mode = h.mode
	c.group = h.group
	c.challengeSalt = user.Salt

	var integritySalt [16]byte
	if _, err := rand.Read(integritySalt[:]); err != nil {
		return false, fmt.Errorf("login: generating integrity salt: %w", err)
	}
	c.integritySalt = integritySalt[:]

	resp := loginwire.LoginChallengeResponse{
		Result:        constants.ResultSuccess,
		B:             h.mode.Encode(srp.B(), h.group.NLen),
		G:             byte(h.group.G.Int64()),
		N:             h.mode.Encode(h.group.N, h.group.NLen),
		IntegritySalt: integritySalt,
	}
	copy(resp.Salt[:], user.Salt)

	switch user.PINMethod {
	case model.PINMethodFixed:
		seed, err := randomUint32()
		if err != nil {
			return false, err
		}
		c.pinGridSeed = seed
		resp.SecondFactor = loginwire.SecondFactorFixedPIN
		resp.PINGridSeed = seed
	case model.PINMethodTOTP:
		resp.SecondFactor = loginwire.SecondFactorTOTP
	}

	buf := make([]byte, 1+256+1+256+32+16+1+4)
	n := loginwire.EncodeLoginChallengeResponse(buf, resp)
	if err := c.conn.Send(constants.OpLoginChallenge, buf[:n]); err != nil {
		return false, err
	}
	c.SetState(StateLoginProof)
	return true, nil
}

// versionGate implements §4.5's version gating. proceed is false once
// the gate itself has fully handled the connection (rejected it or
// started a patch transfer); the caller must return immediately with
// the accompanying ok value in that case.
func (h *Handler) versionGate(c *Client) (ok bool, proceed bool) {
	if h.allowed[c.build] {
		return false, true
	}

	newest := 0
	for b := range h.allowed {
		if b > newest {
			newest = b
		}
	}
	if c.build > newest {
		ok, _ := h.rejectLoginChallenge(c, constants.ResultFailVersionInvalid)
		return ok, false
	}

	patch, found := h.graph.NextPatch(c.build, h.allowed, c.locale, c.platform, c.os)
	if !found {
		ok, _ := h.rejectLoginChallenge(c, constants.ResultFailVersionInvalid)
		return ok, false
	}

	content, sum, err := h.loadPatchContent(patch)
	if err != nil {
		slog.Error("login: loading patch file", "path", patch.Path, "err", err)
		ok, _ := h.rejectLoginChallenge(c, constants.ResultFailVersionInvalid)
		return ok, false
	}
	c.transfer = &transferState{patch: patch, content: content}

	buf := make([]byte, 1)
	n := loginwire.EncodeLoginChallengeResponse(buf, loginwire.LoginChallengeResponse{Result: constants.ResultFailVersionUpdate})
	if err := c.conn.Send(constants.OpLoginChallenge, buf[:n]); err != nil {
		return false, false
	}

	initBuf := make([]byte, 1+len(patch.Path)+8+16)
	initN := loginwire.EncodeTransferInitiate(initBuf, loginwire.TransferInitiate{
		Filename: patch.Path,
		FileSize: int64(len(content)),
		MD5:      sum,
	})
	if err := c.conn.Send(constants.OpTransferInitiate, initBuf[:initN]); err != nil {
		return false, false
	}
	c.SetState(StatePatchInitiate)
	return true, false
}

// loadPatchContent reads a patch file's bytes, lazily computing and
// persisting its size/MD5 the first time it is read.
func (h *Handler) loadPatchContent(p model.Patch) ([]byte, [16]byte, error) {
	content, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, [16]byte{}, fmt.Errorf("login: reading patch file %s: %w", p.Path, err)
	}
	sum := md5.Sum(content)
	if p.Size == 0 || p.MD5 == ([16]byte{}) {
		p.Size = int64(len(content))
		p.MD5 = sum
		if err := h.patches.UpdateComputed(context.Background(), p); err != nil {
			slog.Warn("login: persisting computed patch fields", "path", p.Path, "err", err)
		}
	}
	return content, sum, nil
}

func (h *Handler) rejectLoginChallenge(c *Client, result byte) (bool, error) {
	buf := make([]byte, 1)
	n := loginwire.EncodeLoginChallengeResponse(buf, loginwire.LoginChallengeResponse{Result: result})
	if err := c.conn.Send(constants.OpLoginChallenge, buf[:n]); err != nil {
		return false, err
	}
	c.SetState(StateClosed)
	return false, nil
}

func (h *Handler) handleLoginProof(ctx context.Context, c *Client, payload []byte) (bool, error) {
	req, err := loginwire.DecodeLoginProof(payload)
	if err != nil {
		return false, err
	}

	A := c.mode.Decode(req.A)
	sessionKey, err := c.srp.ComputeSessionKey(A)
	if err != nil {
		return h.rejectLoginProof(c, constants.ResultFailIncorrectPass)
	}

	if h.integrity != nil {
		kind := crypto.BinaryKind{Build: c.build, Platform: c.platform, OS: c.os}
		okSum, err := h.integrity.Verify(kind, c.integritySalt, req.A, req.IntegrityChecksum[:])
		if err != nil {
			slog.Warn("login: unknown client binary", "build", c.build, "platform", c.platform, "os", c.os)
			return h.rejectLoginProof(c, constants.ResultFailVersionInvalid)
		}
		if !okSum {
			return h.rejectLoginProof(c, constants.ResultFailVersionInvalid)
		}
	}

	if ok, result := h.verifySecondFactor(c, req); !ok {
		return h.rejectLoginProof(c, result)
	}

	m2, err := c.srp.VerifyClientProof(req.M1[:])
	if err != nil {
		return h.rejectLoginProof(c, constants.ResultFailIncorrectPass)
	}

	// Only a matching proof reveals banned/suspended/subscriber status
	// (§7 groups these under the same Authentication outcome as the
	// proof mismatch itself).
	if c.user.Flags.Banned {
		return h.rejectLoginProof(c, constants.ResultFailBanned)
	}
	if c.user.Flags.Suspended {
		return h.rejectLoginProof(c, constants.ResultFailSuspended)
	}
	if !c.user.Flags.Subscriber {
		return h.rejectLoginProof(c, constants.ResultFailNoTime)
	}

	c.sessionKey = sessionKey
	c.SetState(StateWritingSession)
	if err := h.accounts.RegisterSession(ctx, c.user.ID, sessionKey); err != nil {
		if errors.Is(err, spark.ErrSessionAlreadyRegistered) {
			return h.rejectLoginProof(c, constants.ResultFailAlreadyOnline)
		}
		slog.Error("login: registering session", "account", c.username, "err", err)
		return h.rejectLoginProof(c, constants.ResultFailDBBusy)
	}

	buf := make([]byte, 21)
	n := loginwire.EncodeLoginProofResponse(buf, loginwire.LoginProofResponse{Result: constants.ResultSuccess, M2: [20]byte(m2)})
	if err := c.conn.Send(constants.OpLoginProof, buf[:n]); err != nil {
		return false, err
	}

	slog.Info("login: authenticated", "account", c.username, "ip", c.IP())
	c.SetState(StateFetchingCharacterData)
	if h.survey != nil && c.user.Flags.SurveyRequested {
		c.transfer = &transferState{survey: true, content: h.survey.Content}
		c.SetState(StateSurveyInitiate)
		initBuf := make([]byte, 1+len(h.survey.Filename)+8+16)
		initN := loginwire.EncodeTransferInitiate(initBuf, loginwire.TransferInitiate{
			Filename: h.survey.Filename,
			FileSize: int64(len(h.survey.Content)),
			MD5:      h.survey.MD5,
		})
		if err := c.conn.Send(constants.OpTransferInitiate, initBuf[:initN]); err != nil {
			return false, err
		}
		return true, nil
	}
	c.SetState(StateRequestRealms)
	return true, nil
}

func (h *Handler) verifySecondFactor(c *Client, req loginwire.LoginProof) (ok bool, failResult byte) {
	switch c.user.PINMethod {
	case model.PINMethodFixed:
		if req.SecondFactor != loginwire.SecondFactorFixedPIN {
			return false, constants.ResultFailNoAccess
		}
		grid := crypto.DeriveGrid(c.pinGridSeed)
		if !crypto.VerifyFixedPIN(grid, c.challengeSalt, req.PINClientSalt[:], c.user.PINValue, req.PINHash[:]) {
			return false, constants.ResultFailIncorrectPass
		}
	case model.PINMethodTOTP:
		if req.SecondFactor != loginwire.SecondFactorTOTP {
			return false, constants.ResultFailNoAccess
		}
		valid, err := crypto.VerifyTOTP(c.user.TOTPSeed, req.TOTPCode, time.Now())
		if err != nil || !valid {
			return false, constants.ResultFailIncorrectPass
		}
	}
	return true, 0
}

func (h *Handler) rejectLoginProof(c *Client, result byte) (bool, error) {
	buf := make([]byte, 1)
	n := loginwire.EncodeLoginProofResponse(buf, loginwire.LoginProofResponse{Result: result})
	if err := c.conn.Send(constants.OpLoginProof, buf[:n]); err != nil {
		return false, err
	}
	c.SetState(StateClosed)
	return false, nil
}

func (h *Handler) handleReconnectChallenge(ctx context.Context, c *Client, payload []byte) (bool, error) {
	req, err := loginwire.DecodeReconnectChallenge(payload)
	if err != nil {
		return false, err
	}
	c.username = strings.ToUpper(req.Username)
	c.build = int(req.Build)

	user, err := h.users.ByUsername(ctx, c.username)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return h.rejectReconnectChallenge(c, constants.ResultFailUnknownAccount)
		}
		return h.rejectReconnectChallenge(c, constants.ResultFailDBBusy)
	}
	c.user = user

	key, found, err := h.accounts.GetSession(ctx, user.ID)
	if err != nil {
		return h.rejectReconnectChallenge(c, constants.ResultFailDBBusy)
	}
	if !found {
		return h.rejectReconnectChallenge(c, constants.ResultFailNoAccess)
	}
	c.sessionKey = key

	if _, err := rand.Read(c.reconnectServerSeed[:]); err != nil {
		return false, fmt.Errorf("login: generating reconnect seed: %w", err)
	}

	buf := make([]byte, 17)
	n := loginwire.EncodeReconnectChallengeResponse(buf, loginwire.ReconnectChallengeResponse{
		Result:     constants.ResultSuccess,
		ServerSeed: c.reconnectServerSeed,
	})
	if err := c.conn.Send(constants.OpReconnectChallenge, buf[:n]); err != nil {
		return false, err
	}
	c.SetState(StateReconnectProof)
	return true, nil
}

func (h *Handler) rejectReconnectChallenge(c *Client, result byte) (bool, error) {
	buf := make([]byte, 1)
	n := loginwire.EncodeReconnectChallengeResponse(buf, loginwire.ReconnectChallengeResponse{Result: result})
	if err := c.conn.Send(constants.OpReconnectChallenge, buf[:n]); err != nil {
		return false, err
	}
	c.SetState(StateClosed)
	return false, nil
}

func (h *Handler) handleReconnectProof(c *Client, payload []byte) (bool, error) {
	req, err := loginwire.DecodeReconnectProof(payload)
	if err != nil {
		return false, err
	}

	expected := reconnectProof(c.username, req.ClientSeed, c.reconnectServerSeed, c.sessionKey)
	if subtle.ConstantTimeCompare(expected[:], req.Proof[:]) != 1 {
		buf := make([]byte, 1)
		n := loginwire.EncodeReconnectProofResponse(buf, loginwire.ReconnectProofResponse{Result: constants.ResultFailIncorrectPass})
		if err := c.conn.Send(constants.OpReconnectProof, buf[:n]); err != nil {
			return false, err
		}
		c.SetState(StateClosed)
		return false, nil
	}

	buf := make([]byte, 1)
	n := loginwire.EncodeReconnectProofResponse(buf, loginwire.ReconnectProofResponse{Result: constants.ResultSuccess})
	if err := c.conn.Send(constants.OpReconnectProof, buf[:n]); err != nil {
		return false, err
	}
	c.SetState(StateRequestRealms)
	return true, nil
}

// reconnectProof computes SHA1(upper(username) | clientSeed | serverSeed
// | sessionKey), the proof the reconnect path checks in place of a full
// SRP6 re-handshake.
func reconnectProof(username string, clientSeed, serverSeed [16]byte, sessionKey []byte) [20]byte {
	h := sha1.New()
	h.Write([]byte(strings.ToUpper(username)))
	h.Write(clientSeed[:])
	h.Write(serverSeed[:])
	h.Write(sessionKey)
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (h *Handler) handleTransferControl(c *Client, opcode byte, payload []byte, isSurvey bool) (bool, error) {
	var ctrl loginwire.TransferControl
	var err error
	switch opcode {
	case constants.OpTransferAccept:
		ctrl, err = loginwire.DecodeTransferAccept(payload)
	case constants.OpTransferResume:
		ctrl, err = loginwire.DecodeTransferResume(payload)
	case constants.OpTransferCancel:
		ctrl, err = loginwire.DecodeTransferCancel(payload)
	default:
		return false, fmt.Errorf("login: opcode %#x not accepted during transfer", opcode)
	}
	if err != nil {
		return false, err
	}

	if ctrl.Kind == loginwire.TransferCancel {
		if isSurvey {
			c.SetState(StateSurveyResult)
			return true, nil
		}
		c.SetState(StateClosed)
		return false, nil
	}

	offset := int64(0)
	if ctrl.Kind == loginwire.TransferResume {
		offset = ctrl.Offset
	}

	if isSurvey {
		c.SetState(StateSurveyTransfer)
	} else {
		c.SetState(StatePatchTransfer)
	}
	if err := h.streamTransfer(c, offset); err != nil {
		return false, err
	}

	if isSurvey {
		c.SetState(StateSurveyResult)
		return true, nil
	}
	// Patch transfer terminates the connection (§4.5: "patch
	// terminates") — the client reconnects with the updated build.
	c.SetState(StateClosed)
	return false, nil
}

// streamTransfer sends content from offset to the end in
// TransferChunkMax-sized pieces, on the connection's own strand — a
// suspension point (§5), not a second goroutine touching Client state.
func (h *Handler) streamTransfer(c *Client, offset int64) error {
	content := c.transfer.content
	for offset < int64(len(content)) {
		end := offset + constants.TransferChunkMax
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		chunk := content[offset:end]
		buf := make([]byte, 10+len(chunk))
		n := loginwire.EncodeTransferData(buf, loginwire.TransferData{Offset: offset, Chunk: chunk})
		if err := c.conn.Send(constants.OpTransferData, buf[:n]); err != nil {
			return err
		}
		offset = end
	}
	c.transfer.offset = offset
	return nil
}

func (h *Handler) handleSurveyResult(c *Client, payload []byte) (bool, error) {
	res, err := loginwire.DecodeSurveyResult(payload)
	if err != nil {
		return false, err
	}
	slog.Info("login: survey result received", "account", c.username, "bytes", len(res.Payload))
	c.transfer = nil
	c.SetState(StateRequestRealms)
	return true, nil
}

func (h *Handler) handleRealmList(ctx context.Context, c *Client) (bool, error) {
	realms, err := h.realms.All(ctx)
	if err != nil {
		return false, err
	}

	entries := make([]loginwire.RealmEntry, len(realms))
	size := 2
	for i, r := range realms {
		addr := r.Address
		if addr == "" {
			addr = fmt.Sprintf("%s:%d", r.IP, r.Port)
		}
		entries[i] = loginwire.RealmEntry{
			ID:         r.ID,
			Name:       r.Name,
			Address:    addr,
			Population: r.Population,
			Type:       byte(r.Type),
			Flags:      encodeRealmFlags(r.Flags),
			Category:   r.Category,
			Region:     r.Region,
		}
		size += 4 + 1 + len(r.Name) + 1 + len(addr) + 4 + 1 + 1 + 4 + 4
	}

	buf := make([]byte, size)
	n := loginwire.EncodeRealmList(buf, entries)
	if err := c.conn.Send(constants.OpRealmList, buf[:n]); err != nil {
		return false, err
	}
	return true, nil
}

func encodeRealmFlags(f model.RealmFlags) byte {
	var b byte
	if f.Offline {
		b |= 1 << 0
	}
	if f.Recommended {
		b |= 1 << 1
	}
	if f.NewPlayers {
		b |= 1 << 2
	}
	if f.Full {
		b |= 1 << 3
	}
	return b
}

func randomUint32() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("login: generating random seed: %w", err)
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}
