// Package session provides the ephemeral per-phone conversation state used
// for two-message flows: a pending attachment upload and a pending
// project-close confirmation. Core services never require this store to be
// present; losing a session only means the user restates the command.
package session

import (
	"context"
	"errors"
	"time"
)

// Pending flow kinds.
const (
	KindPendingAttach       = "pending_attach"
	KindPendingCloseConfirm = "pending_close_confirm"
)

// DefaultTTL bounds how long a pending flow stays alive.
const DefaultTTL = 10 * time.Minute

// State is the conversation state held between two inbound messages.
type State struct {
	Kind       string    `json:"kind"`
	RecordCode string    `json:"record_code"`
	CreatedAt  time.Time `json:"created_at"`
}

// ErrNotFound is returned when no live session exists for a phone.
var ErrNotFound = errors.New("session not found")

// Store is the pluggable session backend: in-memory for a single instance,
// redis for horizontal scale.
type Store interface {
	// Get returns the live session for a canonical phone, or ErrNotFound.
	Get(ctx context.Context, phone string) (*State, error)
	// Put stores the session with the given TTL, replacing any prior one.
	Put(ctx context.Context, phone string, state *State, ttl time.Duration) error
	// Delete removes the session; deleting a missing session is not an error.
	Delete(ctx context.Context, phone string) error
}
