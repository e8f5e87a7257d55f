package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core/chat"
)

type subscription struct {
	scope  chat.Scope
	n      int
	ch     chan []chat.Message
	notify chan struct{} // cap 1; coalesces bursts
	done   chan struct{}
}

type chatRepository struct {
	db *DB
}

var _ chat.Store = (*chatRepository)(nil) // interface compliance check

func NewChatRepository(db *DB) *chatRepository {
	return &chatRepository{db: db}
}

// latest returns the newest n messages in scope, ascending. Callers must hold the lock.
func (repo *chatRepository) latest(scope chat.Scope, n int) []chat.Message {
	var msgs []chat.Message
	for _, m := range repo.db.messages {
		if m.Scope == scope {
			msgs = append(msgs, *m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs
}

func (repo *chatRepository) ListLatest(_ context.Context, scope chat.Scope, n int) ([]chat.Message, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return repo.latest(scope, n), nil
}

func (repo *chatRepository) ListBefore(_ context.Context, scope chat.Scope, beforeID string, before time.Time, n int) ([]chat.Message, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var msgs []chat.Message
	for _, m := range repo.db.messages {
		if m.Scope != scope {
			continue
		}
		if m.CreatedAt.Before(before) || (m.CreatedAt.Equal(before) && m.ID < beforeID) {
			msgs = append(msgs, *m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func (repo *chatRepository) GetMessage(_ context.Context, id string) (chat.Message, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	for _, m := range repo.db.messages {
		if m.ID == id {
			return *m, nil
		}
	}
	return chat.Message{}, chat.ErrNotFound
}

func (repo *chatRepository) CreateMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	repo.db.mu.Lock()
	msg.ID = uuid.New().String()
	msg.CreatedAt = repo.db.stamp()
	repo.db.messages = append(repo.db.messages, &msg)
	repo.db.mu.Unlock()

	repo.broadcast(msg.Scope)
	return msg, nil
}

func (repo *chatRepository) DeleteMessage(_ context.Context, id string) error {
	repo.db.mu.Lock()
	var scope chat.Scope
	var found bool
	for i, m := range repo.db.messages {
		if m.ID == id {
			scope = m.Scope
			found = true
			repo.db.messages = append(repo.db.messages[:i], repo.db.messages[i+1:]...)
			break
		}
	}
	repo.db.mu.Unlock()

	if !found {
		return chat.ErrNotFound
	}
	repo.broadcast(scope)
	return nil
}

func (repo *chatRepository) Subscribe(ctx context.Context, scope chat.Scope, n int) (<-chan []chat.Message, func(), error) {
	sub := &subscription{
		scope:  scope,
		n:      n,
		ch:     make(chan []chat.Message, 4),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	repo.db.mu.Lock()
	repo.db.subs[scope] = append(repo.db.subs[scope], sub)
	repo.db.mu.Unlock()

	var cancelOnce bool
	cancel := func() {
		repo.db.mu.Lock()
		if !cancelOnce {
			cancelOnce = true
			close(sub.done)
			subs := repo.db.subs[scope]
			for i, s := range subs {
				if s == sub {
					repo.db.subs[scope] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		repo.db.mu.Unlock()
	}

	go repo.pump(ctx, sub)
	return sub.ch, cancel, nil
}

// pump serializes window deliveries for one subscription: an initial delivery,
// then one per broadcast, coalescing bursts.
func (repo *chatRepository) pump(ctx context.Context, sub *subscription) {
	defer close(sub.ch)

	deliver := func() bool {
		repo.db.mu.RLock()
		win := repo.latest(sub.scope, sub.n)
		repo.db.mu.RUnlock()
		select {
		case sub.ch <- win:
			return true
		case <-sub.done:
		case <-ctx.Done():
		}
		return false
	}

	if !deliver() {
		return
	}
	for {
		select {
		case <-sub.notify:
			if !deliver() {
				return
			}
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (repo *chatRepository) broadcast(scope chat.Scope) {
	repo.db.mu.RLock()
	subs := make([]*subscription, len(repo.db.subs[scope]))
	copy(subs, repo.db.subs[scope])
	repo.db.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.notify <- struct{}{}:
		default: // a delivery is already queued
		}
	}
}
