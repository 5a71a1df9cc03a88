// Package storage defines the durable stores behind interview sessions:
// state checkpoints keyed by session id and invite codes.
package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no checkpoint exists for a session.
	ErrNotFound = errors.New("storage: checkpoint not found")
	// ErrInviteNotFound is returned for unknown invite codes.
	ErrInviteNotFound = errors.New("storage: invite not found")
	// ErrInviteTaken is returned when an invite is already linked to
	// another session.
	ErrInviteTaken = errors.New("storage: invite already linked")
)

const (
	// CodeLength is the length of generated invite codes.
	CodeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// createAttempts bounds retries on code collisions.
	createAttempts = 5
)

// Checkpoint is the persisted snapshot of one session.
type Checkpoint struct {
	SessionID  string
	InviteCode string
	Version    int64
	// Data is the encoded conversation state.
	Data       []byte
	IsComplete bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SessionInfo is the listing view of a checkpoint.
type SessionInfo struct {
	ID         string    `json:"id" db:"session_id"`
	InviteCode string    `json:"inviteCode,omitempty" db:"invite_code"`
	IsComplete bool      `json:"isComplete" db:"is_complete"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// Invite is an access code that starts or resumes one session.
type Invite struct {
	Code      string     `json:"code" db:"code"`
	CodeType  string     `json:"codeType,omitempty" db:"code_type"`
	SessionID string     `json:"sessionId,omitempty" db:"session_id"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UsedAt    *time.Time `json:"usedAt,omitempty" db:"used_at"`
}

// Linked reports whether the invite already belongs to a session.
func (i *Invite) Linked() bool {
	return i.SessionID != ""
}

// CheckpointStore persists session snapshots.
type CheckpointStore interface {
	// Load returns ErrNotFound when the session has no checkpoint.
	Load(ctx context.Context, sessionID string) (*Checkpoint, error)
	// Save inserts or replaces the checkpoint. CreatedAt is kept from the
	// first save.
	Save(ctx context.Context, cp *Checkpoint) error
	// ListSessions returns every session, most recently updated first.
	ListSessions(ctx context.Context) ([]SessionInfo, error)
	Close() error
}

// InviteStore manages invite codes.
type InviteStore interface {
	CreateInvite(ctx context.Context, codeType string) (*Invite, error)
	// GetInvite looks a code up case-insensitively.
	GetInvite(ctx context.Context, code string) (*Invite, error)
	// LinkInvite binds an unlinked code to sessionID. Linking a code to the
	// session it already belongs to is a no-op.
	LinkInvite(ctx context.Context, code, sessionID string) (*Invite, error)
	ListInvites(ctx context.Context) ([]Invite, error)
}

// Store is a backend providing both stores.
type Store interface {
	CheckpointStore
	InviteStore
}

// NormalizeCode canonicalizes a user-entered invite code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewCode returns a random invite code.
func NewCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for range CodeLength {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// CreateWithRetry generates codes until insert accepts one. insert reports
// false when the code already exists.
func CreateWithRetry(insert func(code string) (bool, error)) (string, error) {
	for range createAttempts {
		code, err := NewCode()
		if err != nil {
			return "", err
		}
		ok, err := insert(code)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("storage: no free invite code after %d attempts", createAttempts)
}
