package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

type fakeRepo struct {
	mu      sync.Mutex
	notes   []Notification
	failFor string // UserID whose create fails
}

var _ Repository = (*fakeRepo)(nil)

func (r *fakeRepo) CreateNotification(_ context.Context, note Notification) (Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if note.UserID == r.failFor {
		return Notification{}, errors.New("boom")
	}
	note.ID = "n" + note.UserID
	r.notes = append(r.notes, note)
	return note, nil
}

func (r *fakeRepo) QueryUserNotifications(_ context.Context, userID string) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var notes []Notification
	for _, n := range r.notes {
		if n.UserID == userID {
			notes = append(notes, n)
		}
	}
	return notes, nil
}

func (r *fakeRepo) MarkNotificationRead(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.notes {
		if n.ID == id && n.UserID == userID {
			r.notes[i].IsRead = true
			return nil
		}
	}
	return ErrNotFound
}

type fakeMailSvc struct {
	mu   sync.Mutex
	sent []core.EmailMessage
}

func (svc *fakeMailSvc) SendMessages(messages ...*core.EmailMessage) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, msg := range messages {
		svc.sent = append(svc.sent, *msg)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func TestServiceFanout(t *testing.T) {
	repo := new(fakeRepo)
	mailSvc := new(fakeMailSvc)
	svc := NewService(repo, mailSvc, nopLogger{})

	recipients := []user.User{
		{ID: "u1", Name: "One", Email: "one@test.test"},
		{ID: "u2", Name: "Two", Email: "two@test.test"},
		{ID: "u3", Name: "Three"}, // no email: record only
	}

	err := svc.Fanout(context.Background(), KindMention, "One mentioned you in general", "hey @two", recipients)
	if err != nil {
		t.Fatalf("Fanout() error = %v", err)
	}

	if len(repo.notes) != 3 {
		t.Errorf("created %d notifications, want 3", len(repo.notes))
	}
	for _, note := range repo.notes {
		if note.Kind != KindMention {
			t.Errorf("Kind = %q, want %q", note.Kind, KindMention)
		}
		if note.CreatedAt.IsZero() {
			t.Error("CreatedAt is zero")
		}
	}
	if len(mailSvc.sent) != 2 {
		t.Errorf("sent %d emails, want 2", len(mailSvc.sent))
	}
}

func TestServiceFanoutPartialFailure(t *testing.T) {
	repo := &fakeRepo{failFor: "u2"}
	mailSvc := new(fakeMailSvc)
	svc := NewService(repo, mailSvc, nopLogger{})

	recipients := []user.User{
		{ID: "u1", Name: "One", Email: "one@test.test"},
		{ID: "u2", Name: "Two", Email: "two@test.test"},
		{ID: "u3", Name: "Three", Email: "three@test.test"},
	}

	if err := svc.Fanout(context.Background(), KindSystem, "maintenance", "", recipients); err == nil {
		t.Fatal("Fanout() succeeded, want error")
	}

	// the failing recipient does not take the others down
	for _, id := range []string{"u1", "u3"} {
		notes, err := svc.QueryForUser(context.Background(), id)
		if err != nil {
			t.Fatalf("QueryForUser(%s) error = %v", id, err)
		}
		if len(notes) != 1 {
			t.Errorf("QueryForUser(%s) = %d notes, want 1", id, len(notes))
		}
	}
}

func TestServiceMarkRead(t *testing.T) {
	repo := new(fakeRepo)
	svc := NewService(repo, new(fakeMailSvc), nopLogger{})
	ctx := context.Background()

	note, err := repo.CreateNotification(ctx, Notification{UserID: "u1", Kind: KindSystem, Title: "t"})
	if err != nil {
		t.Fatal(err)
	}

	// only the owner can mark it read
	if err = svc.MarkRead(ctx, note.ID, "u2"); err != ErrNotFound {
		t.Errorf("MarkRead() as non-owner error = %v, want ErrNotFound", err)
	}
	if err = svc.MarkRead(ctx, note.ID, "u1"); err != nil {
		t.Errorf("MarkRead() error = %v", err)
	}

	notes, err := svc.QueryForUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || !notes[0].IsRead {
		t.Errorf("notes = %+v, want one read note", notes)
	}
}
