package spark

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSessionAlreadyRegistered is returned by RegisterSession when the
// account already has an active session key (§3 Session Registry Entry:
// at most one live session per account).
var ErrSessionAlreadyRegistered = errors.New("spark: session already registered")

// AccountService is the client-side contract the login and gateway
// processes use to exchange session keys over the RPC fabric (§2: "C5
// ... publishes the derived key to the Account Service ... C6 retrieves
// that key via C8"). The character/account services are modeled only
// via their RPC contracts, never their internal behavior (§1 Non-goals)
// — this interface is that contract; FakeAccountService below is the
// in-process implementation that tests and both cmd/*/main.go use.
type AccountService interface {
	RegisterSession(ctx context.Context, accountID int64, sessionKey []byte) error
	GetSession(ctx context.Context, accountID int64) (sessionKey []byte, ok bool, err error)
	RemoveSession(ctx context.Context, accountID int64) error
}

// CharacterService is the client-side contract the gateway's
// CHARACTER_LIST state issues RPCs against (§4.6: "each RPC's completion
// is posted back as an event").
type CharacterService interface {
	EnumerateCharacters(ctx context.Context, accountID int64) ([]CharacterSummary, error)
	CreateCharacter(ctx context.Context, accountID int64, name string, class, race byte) (CharacterSummary, error)
	DeleteCharacter(ctx context.Context, accountID, characterID int64) error
	RenameCharacter(ctx context.Context, accountID, characterID int64, newName string) error
	LoadCharacter(ctx context.Context, accountID, characterID int64) (CharacterSummary, error)
}

// CharacterSummary is the character-list DTO the gateway renders to the
// client and the quirk toggle in §4.6 (mask zone ID for first login)
// operates on.
type CharacterSummary struct {
	ID         int64
	Name       string
	Class      byte
	Race       byte
	Level      byte
	ZoneID     int32
	FirstLogin bool
}

// FakeAccountService is an in-memory AccountService: one entry per
// account, at most once (§3 Session Registry Entry invariant).
type FakeAccountService struct {
	mu       sync.Mutex
	sessions map[int64][]byte
}

// NewFakeAccountService returns an empty fake registry.
func NewFakeAccountService() *FakeAccountService {
	return &FakeAccountService{sessions: make(map[int64][]byte)}
}

func (f *FakeAccountService) RegisterSession(_ context.Context, accountID int64, sessionKey []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.sessions[accountID]; exists {
		return ErrSessionAlreadyRegistered
	}
	cp := make([]byte, len(sessionKey))
	copy(cp, sessionKey)
	f.sessions[accountID] = cp
	return nil
}

func (f *FakeAccountService) GetSession(_ context.Context, accountID int64) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.sessions[accountID]
	return k, ok, nil
}

func (f *FakeAccountService) RemoveSession(_ context.Context, accountID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, accountID)
	return nil
}

// FakeCharacterService is an in-memory CharacterService, used by
// internal/gateway's tests and by cmd/gatewayserver in place of a real
// character-service connection.
type FakeCharacterService struct {
	mu     sync.Mutex
	byAcc  map[int64][]CharacterSummary
	nextID int64
}

// NewFakeCharacterService returns an empty fake character store.
func NewFakeCharacterService() *FakeCharacterService {
	return &FakeCharacterService{byAcc: make(map[int64][]CharacterSummary), nextID: 1}
}

func (f *FakeCharacterService) EnumerateCharacters(_ context.Context, accountID int64) ([]CharacterSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CharacterSummary, len(f.byAcc[accountID]))
	copy(out, f.byAcc[accountID])
	return out, nil
}

func (f *FakeCharacterService) CreateCharacter(_ context.Context, accountID int64, name string, class, race byte) (CharacterSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byAcc[accountID] {
		if c.Name == name {
			return CharacterSummary{}, fmt.Errorf("spark: character name %q already exists", name)
		}
	}
	c := CharacterSummary{ID: f.nextID, Name: name, Class: class, Race: race, Level: 1, FirstLogin: true}
	f.nextID++
	f.byAcc[accountID] = append(f.byAcc[accountID], c)
	return c, nil
}

func (f *FakeCharacterService) DeleteCharacter(_ context.Context, accountID, characterID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.byAcc[accountID]
	for i, c := range list {
		if c.ID == characterID {
			f.byAcc[accountID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("spark: character %d not found", characterID)
}

func (f *FakeCharacterService) RenameCharacter(_ context.Context, accountID, characterID int64, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.byAcc[accountID] {
		if c.ID == characterID {
			f.byAcc[accountID][i].Name = newName
			return nil
		}
	}
	return fmt.Errorf("spark: character %d not found", characterID)
}

func (f *FakeCharacterService) LoadCharacter(_ context.Context, accountID, characterID int64) (CharacterSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.byAcc[accountID] {
		if c.ID == characterID {
			f.byAcc[accountID][i].FirstLogin = false
			c.FirstLogin = false
			return c, nil
		}
	}
	return CharacterSummary{}, fmt.Errorf("spark: character %d not found", characterID)
}
