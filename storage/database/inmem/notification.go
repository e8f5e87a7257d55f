package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core/notification"
)

type notificationRepository struct {
	db *DB
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) *notificationRepository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotification(_ context.Context, note notification.Notification) (notification.Notification, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	note.ID = uuid.New().String()
	repo.db.notifications[note.ID] = &note
	return note, nil
}

func (repo *notificationRepository) QueryUserNotifications(_ context.Context, userID string) ([]notification.Notification, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	notes := make([]notification.Notification, 0)
	for _, n := range repo.db.notifications {
		if n.UserID == userID {
			notes = append(notes, *n)
		}
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	return notes, nil
}

func (repo *notificationRepository) MarkNotificationRead(_ context.Context, id, userID string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	note, ok := repo.db.notifications[id]
	if !ok || note.UserID != userID {
		return notification.ErrNotFound
	}
	note.IsRead = true
	return nil
}
