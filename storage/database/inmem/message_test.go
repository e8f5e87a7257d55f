package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/darasa/core/chat"
)

func TestChatRepositoryPagination(t *testing.T) {
	db, err := Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	repo := NewChatRepository(db)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if _, err := repo.CreateMessage(ctx, chat.Message{
			Scope:      chat.ScopeGeneral,
			SenderID:   "u1",
			SenderName: "U1",
			Content:    "hi",
		}); err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}
	}

	latest, err := repo.ListLatest(ctx, chat.ScopeGeneral, 15)
	if err != nil {
		t.Fatalf("ListLatest() error = %v", err)
	}
	if len(latest) != 15 {
		t.Fatalf("len(latest) = %d, want 15", len(latest))
	}
	for i := 1; i < len(latest); i++ {
		if !latest[i].CreatedAt.After(latest[i-1].CreatedAt) {
			t.Fatal("timestamps are not strictly increasing")
		}
	}

	oldest := latest[0]
	page, err := repo.ListBefore(ctx, chat.ScopeGeneral, oldest.ID, oldest.CreatedAt, 15)
	if err != nil {
		t.Fatalf("ListBefore() error = %v", err)
	}
	if len(page) != 15 {
		t.Fatalf("len(page) = %d, want 15", len(page))
	}
	if !page[len(page)-1].CreatedAt.Before(oldest.CreatedAt) {
		t.Error("page overlaps the cursor")
	}

	oldest = page[0]
	empty, err := repo.ListBefore(ctx, chat.ScopeGeneral, oldest.ID, oldest.CreatedAt, 15)
	if err != nil {
		t.Fatalf("ListBefore() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("len(empty) = %d, want 0", len(empty))
	}
}

func TestChatRepositorySubscribe(t *testing.T) {
	db, err := Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	repo := NewChatRepository(db)
	ctx := context.Background()

	ch, cancel, err := repo.Subscribe(ctx, chat.ScopeGeneral, 15)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	// initial delivery, empty scope
	win := nextWindow(t, ch)
	if len(win) != 0 {
		t.Fatalf("initial window has %d messages, want 0", len(win))
	}

	msg, err := repo.CreateMessage(ctx, chat.Message{Scope: chat.ScopeGeneral, SenderID: "u1", SenderName: "U1", Content: "hi"})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	win = nextWindow(t, ch)
	if len(win) != 1 || win[0].ID != msg.ID {
		t.Fatalf("window = %v, want [%s]", win, msg.ID)
	}

	// a message in another scope does not disturb this subscription
	if _, err = repo.CreateMessage(ctx, chat.Message{Scope: chat.RoomScope("r1"), SenderID: "u1", SenderName: "U1", Content: "elsewhere"}); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	if err = repo.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	win = lastWindow(t, ch)
	if len(win) != 0 {
		t.Fatalf("window after delete = %v, want empty", win)
	}

	cancel()
	if _, ok := <-ch; ok {
		// drain until closed
		for range ch {
		}
	}
}

func TestChatRepositoryDeleteNotFound(t *testing.T) {
	db, err := Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	repo := NewChatRepository(db)
	if err := repo.DeleteMessage(context.Background(), "nope"); err != chat.ErrNotFound {
		t.Errorf("DeleteMessage() error = %v, want ErrNotFound", err)
	}
}

func nextWindow(t *testing.T, ch <-chan []chat.Message) []chat.Message {
	t.Helper()
	select {
	case win, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return win
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for window")
	}
	return nil
}

// lastWindow drains coalesced deliveries and returns the most recent one.
func lastWindow(t *testing.T, ch <-chan []chat.Message) []chat.Message {
	t.Helper()
	win := nextWindow(t, ch)
	for {
		select {
		case next, ok := <-ch:
			if !ok {
				return win
			}
			win = next
		case <-time.After(100 * time.Millisecond):
			return win
		}
	}
}
