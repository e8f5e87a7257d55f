package sqlxrepos

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/chat"
)

const (
	chatNotifyChannel = "chat_messages"

	listenerMinReconnect = 50 * time.Millisecond
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second

	messageCols = "id, scope, sender_id, sender_name, avatar, content, created_at"
)

type chatRepository struct {
	db     *sqlx.DB
	dsn    string // listener connections cannot share the pool
	logger core.Logger
}

var _ chat.Store = (*chatRepository)(nil) // interface compliance check

func NewChatRepository(db *sqlx.DB, dsn string, logger core.Logger) *chatRepository {
	return &chatRepository{db: db, dsn: dsn, logger: logger}
}

func (repo chatRepository) ListLatest(ctx context.Context, scope chat.Scope, n int) ([]chat.Message, error) {
	msgs := make([]chat.Message, 0, n)
	err := repo.db.SelectContext(ctx, &msgs,
		`SELECT `+messageCols+` FROM message
		 WHERE scope = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, scope, n)
	if err != nil {
		return nil, errors.Wrap(err, "querying latest messages")
	}
	return msgs, nil
}

func (repo chatRepository) ListBefore(ctx context.Context, scope chat.Scope, beforeID string, before time.Time, n int) ([]chat.Message, error) {
	msgs := make([]chat.Message, 0, n)
	err := repo.db.SelectContext(ctx, &msgs,
		`SELECT `+messageCols+` FROM message
		 WHERE scope = $1 AND (created_at < $2 OR (created_at = $2 AND id < $3))
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`, scope, before.UTC(), beforeID, n)
	if err != nil {
		return nil, errors.Wrap(err, "querying older messages")
	}
	return msgs, nil
}

func (repo chatRepository) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return chat.Message{}, chat.ErrNotFound
	}
	var msg chat.Message
	err := repo.db.GetContext(ctx, &msg,
		`SELECT `+messageCols+` FROM message WHERE id = $1`, id)
	if err != nil {
		return chat.Message{}, trapNoRowsErr(err, chat.ErrNotFound, "querying message")
	}
	return msg, nil
}

func (repo chatRepository) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	msg.ID = uuid.New().String()
	// created_at is server-assigned
	err := repo.db.GetContext(ctx, &msg.CreatedAt,
		`INSERT INTO message (id, scope, sender_id, sender_name, avatar, content)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		msg.ID, msg.Scope, msg.SenderID, msg.SenderName, msg.Avatar, msg.Content)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "inserting message")
	}
	return msg, nil
}

func (repo chatRepository) DeleteMessage(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return chat.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM message WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting message")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return chat.ErrNotFound
	}
	return nil
}

// Subscribe listens on the message table's NOTIFY channel and redelivers the
// scope's full newest window on every relevant insert/delete, starting with
// an initial delivery.
func (repo chatRepository) Subscribe(ctx context.Context, scope chat.Scope, n int) (<-chan []chat.Message, func(), error) {
	listener := pq.NewListener(repo.dsn, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			repo.logger.Warn("chat: listener event", err)
		}
	})
	if err := listener.Listen(chatNotifyChannel); err != nil {
		_ = listener.Close()
		return nil, nil, errors.Wrap(err, "listening on notify channel")
	}

	ch := make(chan []chat.Message, 4)
	done := make(chan struct{})
	cancel := onceFunc(func() { close(done) })

	go func() {
		defer close(ch)
		defer func() { _ = listener.Close() }()

		deliver := func() bool {
			qctx, qcancel := context.WithTimeout(context.Background(), 10*time.Second)
			msgs, err := repo.ListLatest(qctx, scope, n)
			qcancel()
			if err != nil {
				// transient; the next notification retries
				repo.logger.Warn("chat: window query failed", err)
				return true
			}
			select {
			case ch <- msgs:
				return true
			case <-done:
			case <-ctx.Done():
			}
			return false
		}

		if !deliver() {
			return
		}

		ping := time.NewTicker(listenerPingInterval)
		defer ping.Stop()

		for {
			select {
			case notif := <-listener.Notify:
				// a nil notification signals a listener reconnect: redeliver
				// unconditionally since updates may have been missed
				if notif != nil && notif.Extra != string(scope) {
					continue
				}
				if !deliver() {
					return
				}
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					repo.logger.Warn("chat: listener ping failed", err)
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, cancel, nil
}

// onceFunc returns a func that runs fn only once; concurrent teardown paths
// may share the same cancel.
func onceFunc(fn func()) func() {
	var once sync.Once
	return func() { once.Do(fn) }
}

// trapNoRowsErr maps psql "no rows" to the given sentinel.
func trapNoRowsErr(err, sentinel error, msg string) error {
	if err == sql.ErrNoRows {
		return sentinel
	}
	return errors.Wrap(err, msg)
}
