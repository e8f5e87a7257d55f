package sqlxrepos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/notification"
)

const notificationCols = "id, user_id, kind, title, body, is_read, created_at"

type notificationRepository struct {
	db *sqlx.DB
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *sqlx.DB) *notificationRepository {
	return &notificationRepository{db: db}
}

func (repo notificationRepository) CreateNotification(ctx context.Context, note notification.Notification) (notification.Notification, error) {
	note.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO notification (id, user_id, kind, title, body, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		note.ID, note.UserID, note.Kind, note.Title, note.Body, note.IsRead, note.CreatedAt.UTC())
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return note, nil
}

func (repo notificationRepository) QueryUserNotifications(ctx context.Context, userID string) ([]notification.Notification, error) {
	notes := make([]notification.Notification, 0)
	err := repo.db.SelectContext(ctx, &notes,
		`SELECT `+notificationCols+` FROM notification WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	return notes, nil
}

func (repo notificationRepository) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE notification SET is_read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notification.ErrNotFound
	}
	return nil
}
