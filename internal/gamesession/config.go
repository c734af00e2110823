package gamesession

import "time"

// Config is a resolved SessionConfig (spec §3): client-supplied overrides
// merged with server defaults before a Session is created.
type Config struct {
	MoveTimeout        time.Duration
	UndoRequestTimeout time.Duration
	// UndoDial is the maximum undos per player per session. Nil means unbounded.
	UndoDial *int
}
