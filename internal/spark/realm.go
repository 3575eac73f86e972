package spark

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/udisondev/wowcore/internal/model"
)

// RealmService is the login-process side of realm-status publication
// (§2: "Realms publish status to the Login process via C8, which
// maintains a replicated realm list"). Like AccountService/
// CharacterService, the realm process's internal behavior is out of
// scope (§1 Non-goals) — this is the RPC contract a "realm-status"
// channel's Handler calls against, and FakeRealmService below is the
// in-memory stand-in that also serves as the replicated list itself.
type RealmService interface {
	PublishStatus(ctx context.Context, status model.Realm) error
	MarkOffline(ctx context.Context, realmID int32) error
	All(ctx context.Context) ([]model.Realm, error)
}

// FakeRealmService is an in-memory RealmService seeded from the static
// realm catalogue, one entry per realm ID, mutated only by
// PublishStatus/MarkOffline. Its All satisfies login.RealmStore
// directly, so it doubles as the replicated realm list served at
// REQUEST_REALMS.
type FakeRealmService struct {
	mu     sync.Mutex
	realms map[int32]model.Realm
}

// NewFakeRealmService seeds the registry from catalogue, each realm
// starting OFFLINE until its owning process publishes (§3).
func NewFakeRealmService(catalogue []model.Realm) *FakeRealmService {
	realms := make(map[int32]model.Realm, len(catalogue))
	for _, r := range catalogue {
		r.MarkOffline()
		realms[r.ID] = r
	}
	return &FakeRealmService{realms: realms}
}

func (f *FakeRealmService) PublishStatus(_ context.Context, status model.Realm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.realms[status.ID] = status
	return nil
}

func (f *FakeRealmService) MarkOffline(_ context.Context, realmID int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.realms[realmID]
	if !ok {
		return fmt.Errorf("spark: unknown realm %d", realmID)
	}
	r.MarkOffline()
	f.realms[realmID] = r
	return nil
}

func (f *FakeRealmService) All(context.Context) ([]model.Realm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Realm, 0, len(f.realms))
	for _, r := range f.realms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RealmChannelHandler is the Handler a login-side Endpoint installs for
// a realm process's "realm-status" channel: every untracked message on
// the channel is a full status snapshot, applied via PublishStatus;
// the channel closing (link loss) calls MarkOffline (§3).
type RealmChannelHandler struct {
	realmID int32
	service RealmService
}

// RealmChannelHandlerFactory adapts service into a HandlerFactory
// suitable for Endpoint.Register("realm-status", ...). serviceName is
// the realm ID, decimal-encoded, as proposed by the dialing realm
// process in its OpenChannel request.
func RealmChannelHandlerFactory(service RealmService) HandlerFactory {
	return func(_ *Channel, serviceName string) Handler {
		id, _ := strconv.Atoi(serviceName)
		return &RealmChannelHandler{realmID: int32(id), service: service}
	}
}

func (h *RealmChannelHandler) OnMessage(_ *Channel, payload []byte) {
	status, err := decodeRealmStatus(payload)
	if err != nil {
		return
	}
	_ = h.service.PublishStatus(context.Background(), status)
}

func (h *RealmChannelHandler) OnClose(*Channel) {
	_ = h.service.MarkOffline(context.Background(), h.realmID)
}

// encodeRealmStatus/decodeRealmStatus carry a full model.Realm snapshot
// as a realm-status channel's untracked payload.
func encodeRealmStatus(r model.Realm) []byte {
	size := 4 + 1 + len(r.Name) + 1 + len(r.IP) + 2 + 1 + len(r.Address) + 4 + 1 + 1 + 4 + 4
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(r.ID))
	off += 4
	off += putLenStr(buf[off:], r.Name)
	off += putLenStr(buf[off:], r.IP)
	binary.LittleEndian.PutUint16(buf[off:], r.Port)
	off += 2
	off += putLenStr(buf[off:], r.Address)
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(r.Population))
	off += 4
	buf[off] = byte(r.Type)
	off++
	buf[off] = realmFlagsToByte(r.Flags)
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(r.Category))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(r.Region))
	return buf
}

func decodeRealmStatus(data []byte) (model.Realm, error) {
	if len(data) < 4 {
		return model.Realm{}, fmt.Errorf("spark: RealmStatus too short")
	}
	var r model.Realm
	r.ID = int32(binary.LittleEndian.Uint32(data))
	rest := data[4:]

	var err error
	if r.Name, rest, err = getLenStr(rest); err != nil {
		return model.Realm{}, err
	}
	if r.IP, rest, err = getLenStr(rest); err != nil {
		return model.Realm{}, err
	}
	if len(rest) < 2 {
		return model.Realm{}, fmt.Errorf("spark: RealmStatus missing port")
	}
	r.Port = binary.LittleEndian.Uint16(rest)
	rest = rest[2:]
	if r.Address, rest, err = getLenStr(rest); err != nil {
		return model.Realm{}, err
	}
	if len(rest) < 14 {
		return model.Realm{}, fmt.Errorf("spark: RealmStatus truncated tail")
	}
	r.Population = math.Float32frombits(binary.LittleEndian.Uint32(rest))
	r.Type = model.RealmType(rest[4])
	r.Flags = byteToRealmFlags(rest[5])
	r.Category = int32(binary.LittleEndian.Uint32(rest[6:10]))
	r.Region = int32(binary.LittleEndian.Uint32(rest[10:14]))
	return r, nil
}

// PublishRealmStatus sends a full status snapshot on a realm's own
// "realm-status" channel (the gateway side of §2/§3 publication).
func PublishRealmStatus(ch *Channel, status model.Realm) error {
	return ch.Send(encodeRealmStatus(status))
}

func realmFlagsToByte(f model.RealmFlags) byte {
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

func byteToRealmFlags(b byte) model.RealmFlags {
	return model.RealmFlags{
		Offline:     b&(1<<0) != 0,
		Recommended: b&(1<<1) != 0,
		NewPlayers:  b&(1<<2) != 0,
		Full:        b&(1<<3) != 0,
	}
}
