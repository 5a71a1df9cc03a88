// Package sqldb stores checkpoints and invites in SQLite or PostgreSQL.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/deep-interviewer/internal/storage"
	"github.com/tjfontaine/deep-interviewer/internal/storage/dialect"
)

// Store is a SQL implementation of storage.Store that supports multiple
// database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
	now     func() time.Time
}

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d, now: time.Now}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store at dbPath.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	ts := s.dialect.TimestampType()
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS interview_checkpoints (
session_id TEXT PRIMARY KEY,
invite_code TEXT NOT NULL,
version BIGINT NOT NULL,
state %s NOT NULL,
is_complete %s NOT NULL,
created_at %s NOT NULL,
updated_at %s NOT NULL
)`, s.dialect.BlobType(), s.dialect.BooleanType(), ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS invites (
code TEXT PRIMARY KEY,
code_type TEXT NOT NULL,
session_id TEXT NOT NULL,
created_at %s NOT NULL,
used_at %s
)`, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON interview_checkpoints(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_invites_session ON invites(session_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

type checkpointRow struct {
	SessionID  string    `db:"session_id"`
	InviteCode string    `db:"invite_code"`
	Version    int64     `db:"version"`
	State      []byte    `db:"state"`
	IsComplete bool      `db:"is_complete"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (s *Store) Load(ctx context.Context, sessionID string) (*storage.Checkpoint, error) {
	query := s.dialect.Rebind(`SELECT session_id, invite_code, version, state, is_complete, created_at, updated_at
	          FROM interview_checkpoints WHERE session_id = ?`)

	var row checkpointRow
	err := s.db.GetContext(ctx, &row, query, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return &storage.Checkpoint{
		SessionID:  row.SessionID,
		InviteCode: row.InviteCode,
		Version:    row.Version,
		Data:       row.State,
		IsComplete: row.IsComplete,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

func (s *Store) Save(ctx context.Context, cp *storage.Checkpoint) error {
	createdAt, updatedAt := cp.CreatedAt, cp.UpdatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	query := s.dialect.Rebind(`INSERT INTO interview_checkpoints
	          (session_id, invite_code, version, state, is_complete, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause("session_id", []string{"version", "state", "is_complete", "updated_at"}))

	_, err := s.db.ExecContext(ctx, query,
		cp.SessionID, cp.InviteCode, cp.Version, cp.Data, cp.IsComplete, createdAt.UTC(), updatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context) ([]storage.SessionInfo, error) {
	query := `SELECT session_id, invite_code, is_complete, created_at, updated_at
	          FROM interview_checkpoints ORDER BY updated_at DESC`

	sessions := []storage.SessionInfo{}
	if err := s.db.SelectContext(ctx, &sessions, query); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) CreateInvite(ctx context.Context, codeType string) (*storage.Invite, error) {
	query := s.dialect.Rebind(`INSERT INTO invites (code, code_type, session_id, created_at)
	          VALUES (?, ?, '', ?) ` + s.dialect.UpsertClause("code", nil))

	now := s.now().UTC()
	code, err := storage.CreateWithRetry(func(code string) (bool, error) {
		res, err := s.db.ExecContext(ctx, query, code, codeType, now)
		if err != nil {
			return false, fmt.Errorf("failed to create invite: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to create invite: %w", err)
		}
		return n == 1, nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetInvite(ctx, code)
}

func (s *Store) GetInvite(ctx context.Context, code string) (*storage.Invite, error) {
	query := s.dialect.Rebind(`SELECT code, code_type, session_id, created_at, used_at
	          FROM invites WHERE code = ?`)

	var inv storage.Invite
	err := s.db.GetContext(ctx, &inv, query, storage.NormalizeCode(code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invite: %w", err)
	}
	return &inv, nil
}

func (s *Store) LinkInvite(ctx context.Context, code, sessionID string) (*storage.Invite, error) {
	code = storage.NormalizeCode(code)
	query := s.dialect.Rebind(`UPDATE invites SET session_id = ?, used_at = ?
	          WHERE code = ? AND session_id = ''`)

	if _, err := s.db.ExecContext(ctx, query, sessionID, s.now().UTC(), code); err != nil {
		return nil, fmt.Errorf("failed to link invite: %w", err)
	}

	// The update is conditional, so read back who owns the code now.
	inv, err := s.GetInvite(ctx, code)
	if err != nil {
		return nil, err
	}
	if inv.SessionID != sessionID {
		return inv, storage.ErrInviteTaken
	}
	return inv, nil
}

func (s *Store) ListInvites(ctx context.Context) ([]storage.Invite, error) {
	query := `SELECT code, code_type, session_id, created_at, used_at
	          FROM invites ORDER BY created_at, code`

	invites := []storage.Invite{}
	if err := s.db.SelectContext(ctx, &invites, query); err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	return invites, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
