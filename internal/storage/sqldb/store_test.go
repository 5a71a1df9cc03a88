package sqldb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tjfontaine/deep-interviewer/internal/storage"
	"github.com/tjfontaine/deep-interviewer/internal/storage/storagetest"
)

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		store, err := NewSQLite(filepath.Join(t.TempDir(), "interviews.db"))
		if err != nil {
			t.Fatalf("NewSQLite() error = %v", err)
		}
		return store
	})
}

// TestPostgresStore runs against a real server when INTERVIEW_TEST_POSTGRES_DSN is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("INTERVIEW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INTERVIEW_TEST_POSTGRES_DSN not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		store, err := New(Config{Driver: "postgres", DSN: dsn})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		for _, table := range []string{"interview_checkpoints", "invites"} {
			if _, err := store.db.Exec("DELETE FROM " + table); err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
		return store
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interviews.db")
	ctx := context.Background()

	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	if err := store.Save(ctx, &storage.Checkpoint{SessionID: "s1", Data: []byte(`{"a":1}`)}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	store.Close()

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() reopen error = %v", err)
	}
	defer reopened.Close()

	cp, err := reopened.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(cp.Data) != `{"a":1}` {
		t.Errorf("Data = %s", cp.Data)
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	if _, err := New(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Error("New() with unknown driver succeeded")
	}
}
