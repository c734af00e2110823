// Package registry implements the Room Registry (spec §4.4): the single
// process-wide, cross-room shared structure, guarded by a
// readers-writers discipline so concurrent lookups never block each other
// while a create/join/GC mutates the map (spec §5 "Shared resources").
//
// Grounded on the retrieval pack's transport.Hub: a token-keyed room map
// protected by a mutex, with getOrCreateRoom/removeRoom matching this
// package's Create/remove, and the Hub's onEmpty-style room cleanup wired
// through as a callback rather than a polling sweep.
package registry

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"sync"
	"time"

	"github.com/Congyuwang/wuziqi/internal/gamesession"
	"github.com/Congyuwang/wuziqi/internal/protocol"
	"github.com/Congyuwang/wuziqi/internal/room"
)

// ErrTokenNotFound is returned by Join when no live room matches the token.
type ErrTokenNotFound struct{ Token string }

func (e ErrTokenNotFound) Error() string { return fmt.Sprintf("no room with token %q", e.Token) }

// Defaults are the server-wide SessionConfig fallbacks (spec §3), applied
// wherever a CreateRoom message omits a field.
type Defaults struct {
	MoveTimeout        time.Duration
	UndoRequestTimeout time.Duration
	UndoDial           *int

	// CleanupGrace delays deleting an emptied room's token from the map by
	// this long, giving a JoinRoom already in flight over the wire a last
	// chance to resolve to a clean TokenNotFound/RoomFull rather than a
	// race against the map mutation. Zero means delete immediately.
	// Grounded on transport.Hub's pendingRoomCleanups, which debounces room
	// teardown with time.AfterFunc for the same reason.
	CleanupGrace time.Duration
}

// Registry is the process-wide room map.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room.Room
	defaults Defaults
}

// New creates an empty Registry.
func New(defaults Defaults) *Registry {
	return &Registry{
		rooms:    make(map[string]*room.Room),
		defaults: defaults,
	}
}

// RoomCount implements health.RegistrySizer.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Create allocates a fresh RoomToken (uniformly random, base32,
// collision-retried, spec §4.4), registers a new Room with creator already
// seated, and returns the token and Room.
func (reg *Registry) Create(sessionCfg *protocol.SessionConfig, creatorName string, creatorConn room.ConnSender) (string, *room.Room) {
	cfg := reg.resolveConfig(sessionCfg)

	reg.mu.Lock()
	token := reg.freshTokenLocked()
	r := room.New(token, cfg, creatorName, creatorConn, reg.remove)
	reg.rooms[token] = r
	reg.mu.Unlock()

	return token, r
}

// Join looks up token and, if it exists, its creator is still seated and
// its joiner seat is open, installs the joiner. Returns ErrTokenNotFound or
// the Room's own ErrRoomFull otherwise.
func (reg *Registry) Join(token string, joinerName string, joinerConn room.ConnSender) (*room.Room, protocol.RoomState, error) {
	reg.mu.RLock()
	r, ok := reg.rooms[token]
	reg.mu.RUnlock()

	if !ok {
		return nil, protocol.RoomState{}, ErrTokenNotFound{Token: token}
	}

	state, err := r.Join(joinerName, joinerConn)
	if err != nil {
		return nil, protocol.RoomState{}, err
	}
	return r, state, nil
}

// remove deletes token from the map, after CleanupGrace if configured; it
// is wired as every Room's onEmpty callback so a room is GC'd once both its
// seats vacate (spec §4.4: "if the Room becomes Empty, the Registry removes
// the entry").
func (reg *Registry) remove(token string) {
	if reg.defaults.CleanupGrace <= 0 {
		reg.deleteNow(token)
		return
	}
	time.AfterFunc(reg.defaults.CleanupGrace, func() { reg.deleteNow(token) })
}

func (reg *Registry) deleteNow(token string) {
	reg.mu.Lock()
	delete(reg.rooms, token)
	reg.mu.Unlock()
}

// freshTokenLocked must be called with reg.mu held for writing.
func (reg *Registry) freshTokenLocked() string {
	for {
		token := generateToken()
		if _, exists := reg.rooms[token]; !exists {
			return token
		}
	}
}

// tokenEntropyBytes controls the opaque token's length: 10 random bytes
// base32-encode to 16 characters with no padding.
const tokenEntropyBytes = 10

func generateToken() string {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken,
		// which is unrecoverable for a server that hands out tokens.
		panic(fmt.Sprintf("registry: failed to read random token bytes: %v", err))
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
}

func (reg *Registry) resolveConfig(override *protocol.SessionConfig) gamesession.Config {
	cfg := gamesession.Config{
		MoveTimeout:        reg.defaults.MoveTimeout,
		UndoRequestTimeout: reg.defaults.UndoRequestTimeout,
		UndoDial:           reg.defaults.UndoDial,
	}
	if override == nil {
		return cfg
	}
	if override.MoveTimeoutMs > 0 {
		cfg.MoveTimeout = time.Duration(override.MoveTimeoutMs) * time.Millisecond
	}
	if override.UndoRequestTimeoutMs > 0 {
		cfg.UndoRequestTimeout = time.Duration(override.UndoRequestTimeoutMs) * time.Millisecond
	}
	if override.UndoDial != nil {
		cfg.UndoDial = override.UndoDial
	}
	return cfg
}
