package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/darasa/core/chat"
)

func TestMemSnapshotStore(t *testing.T) {
	store := NewMemSnapshotStore()
	ctx := context.Background()

	if _, err := store.Get(ctx); err != chat.ErrNoSnapshot {
		t.Fatalf("Get() on empty store error = %v, want ErrNoSnapshot", err)
	}

	written := time.Date(2021, 5, 10, 12, 0, 0, 0, time.UTC)
	snap := chat.Snapshot{
		Scopes: map[chat.Scope][]chat.Message{
			chat.ScopeGeneral: {
				{ID: "m1", Scope: chat.ScopeGeneral, SenderID: "u1", SenderName: "U1", Content: "hi", CreatedAt: written},
			},
		},
		WrittenAt: written,
	}
	if err := store.Set(ctx, snap); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.WrittenAt.Equal(written) {
		t.Errorf("WrittenAt = %v, want %v", got.WrittenAt, written)
	}
	msgs := got.Scopes[chat.ScopeGeneral]
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("Scopes[general] = %v, want the stored message", msgs)
	}

	// whole-snapshot last-write-wins
	if err = store.Set(ctx, chat.Snapshot{WrittenAt: written.Add(time.Hour)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err = store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Scopes) != 0 {
		t.Errorf("Scopes = %v, want empty after overwrite", got.Scopes)
	}
}

func TestSnapshotKey(t *testing.T) {
	if got := SnapshotKey("u1"); got != "darasa:chat:snapshot:u1" {
		t.Errorf("SnapshotKey() = %q", got)
	}
}
