// Package storagetest holds the behavior every storage.Store backend must
// share.
package storagetest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/deep-interviewer/internal/storage"
)

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("LoadMissing", func(t *testing.T) { testLoadMissing(t, newStore(t)) })
	t.Run("SaveLoad", func(t *testing.T) { testSaveLoad(t, newStore(t)) })
	t.Run("SaveKeepsCreatedAt", func(t *testing.T) { testSaveKeepsCreatedAt(t, newStore(t)) })
	t.Run("ListSessions", func(t *testing.T) { testListSessions(t, newStore(t)) })
	t.Run("InviteLifecycle", func(t *testing.T) { testInviteLifecycle(t, newStore(t)) })
	t.Run("ListInvites", func(t *testing.T) { testListInvites(t, newStore(t)) })
}

var base = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func testLoadMissing(t *testing.T, s storage.Store) {
	defer s.Close()
	if _, err := s.Load(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func testSaveLoad(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	cp := &storage.Checkpoint{
		SessionID:  "s1",
		InviteCode: "ABC123",
		Version:    3,
		Data:       []byte(`{"sessionId":"s1"}`),
		IsComplete: true,
		CreatedAt:  base,
		UpdatedAt:  base.Add(time.Minute),
	}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(got.Data) != string(cp.Data) || got.Version != 3 || !got.IsComplete || got.InviteCode != "ABC123" {
		t.Errorf("Load() = %+v", got)
	}
	if !got.UpdatedAt.Equal(cp.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, cp.UpdatedAt)
	}
}

func testSaveKeepsCreatedAt(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	first := &storage.Checkpoint{SessionID: "s1", Data: []byte(`{}`), CreatedAt: base, UpdatedAt: base}
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	second := &storage.Checkpoint{
		SessionID: "s1", Version: 2, Data: []byte(`{"v":2}`),
		CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour),
	}
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
	if got.Version != 2 || string(got.Data) != `{"v":2}` {
		t.Errorf("Load() = %+v, want second save", got)
	}
}

func testListSessions(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	for i, id := range []string{"old", "new"} {
		at := base.Add(time.Duration(i) * time.Hour)
		if err := s.Save(ctx, &storage.Checkpoint{SessionID: id, Data: []byte(`{}`), CreatedAt: at, UpdatedAt: at}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	list, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		t.Errorf("ListSessions() = %+v, want new then old", list)
	}
}

func testInviteLifecycle(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	inv, err := s.CreateInvite(ctx, "workshop")
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}
	if len(inv.Code) != storage.CodeLength || inv.Code != strings.ToUpper(inv.Code) {
		t.Errorf("code = %q", inv.Code)
	}
	if inv.Linked() {
		t.Error("new invite is already linked")
	}

	got, err := s.GetInvite(ctx, " "+strings.ToLower(inv.Code)+" ")
	if err != nil {
		t.Fatalf("GetInvite() lower-case error = %v", err)
	}
	if got.CodeType != "workshop" {
		t.Errorf("CodeType = %q", got.CodeType)
	}

	linked, err := s.LinkInvite(ctx, inv.Code, "session-a")
	if err != nil {
		t.Fatalf("LinkInvite() error = %v", err)
	}
	if linked.SessionID != "session-a" || linked.UsedAt == nil {
		t.Errorf("LinkInvite() = %+v", linked)
	}

	if _, err := s.LinkInvite(ctx, inv.Code, "session-a"); err != nil {
		t.Errorf("relinking to the same session error = %v", err)
	}
	taken, err := s.LinkInvite(ctx, inv.Code, "session-b")
	if !errors.Is(err, storage.ErrInviteTaken) {
		t.Errorf("LinkInvite() other session error = %v, want ErrInviteTaken", err)
	}
	if taken == nil || taken.SessionID != "session-a" {
		t.Errorf("LinkInvite() taken = %+v, want the existing link", taken)
	}

	if _, err := s.GetInvite(ctx, "ZZZZZZ"); !errors.Is(err, storage.ErrInviteNotFound) {
		t.Errorf("GetInvite() unknown error = %v", err)
	}
	if _, err := s.LinkInvite(ctx, "ZZZZZZ", "x"); !errors.Is(err, storage.ErrInviteNotFound) {
		t.Errorf("LinkInvite() unknown error = %v", err)
	}
}

func testListInvites(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	for range 3 {
		if _, err := s.CreateInvite(ctx, ""); err != nil {
			t.Fatalf("CreateInvite() error = %v", err)
		}
	}
	list, err := s.ListInvites(ctx)
	if err != nil {
		t.Fatalf("ListInvites() error = %v", err)
	}
	if len(list) != 3 {
		t.Errorf("ListInvites() = %d invites, want 3", len(list))
	}
}
