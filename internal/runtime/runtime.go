// Package runtime defines the narrow RPC surface consumed from the agent
// runtime. Connection management, auth, and reconnect live behind this
// interface; the engine only sees these four operations.
package runtime

import (
	"context"
	"errors"
)

// ErrSessionNotFound indicates the runtime has no session for the key.
var ErrSessionNotFound = errors.New("session not found")

// Message is one entry of a session's conversation history.
type Message struct {
	// Role is the author of the message ("user", "assistant", "system").
	Role string `json:"role"`
	// Content is the message body.
	Content string `json:"content"`
}

// Client is the minimal RPC surface into the agent runtime. All calls
// take a context; callers supply timeouts, and a timeout surfaces as a
// rejected operation handled like any other transient failure.
type Client interface {
	// Send delivers an instruction message to a worker or manager session.
	Send(ctx context.Context, sessionKey, message string) error
	// History returns up to limit recent messages for a session,
	// oldest first.
	History(ctx context.Context, sessionKey string, limit int) ([]Message, error)
	// Delete tears down a session. Best effort during goal close.
	Delete(ctx context.Context, sessionKey string) error
	// Abort interrupts a session's in-flight work. Best effort.
	Abort(ctx context.Context, sessionKey string) error
}

// Spawner allocates new sessions for workers and managers.
type Spawner interface {
	// Spawn creates a session for the given worker identity and returns
	// its session key.
	Spawn(ctx context.Context, worker, model string) (sessionKey string, err error)
}
