package inmemdb

import (
	"sync"
	"time"

	"github.com/trezcool/darasa/core/chat"
	"github.com/trezcool/darasa/core/notification"
	"github.com/trezcool/darasa/core/subject"
	"github.com/trezcool/darasa/core/user"
)

var nowFunc = time.Now // mockable

// DB is an in-process store backing every repository; used in tests and dev mode.
type DB struct {
	mu sync.RWMutex

	users         map[string]*user.User
	subjects      map[string]*subject.Subject
	notifications map[string]*notification.Notification
	messages      []*chat.Message // append order; queries sort as needed

	subs   map[chat.Scope][]*subscription
	lastTS time.Time
}

func Open() (*DB, error) {
	return &DB{
		users:         make(map[string]*user.User),
		subjects:      make(map[string]*subject.Subject),
		notifications: make(map[string]*notification.Notification),
		subs:          make(map[chat.Scope][]*subscription),
	}, nil
}

// stamp returns a server-assigned creation timestamp, monotonic per write.
func (db *DB) stamp() time.Time {
	ts := nowFunc().UTC()
	if !ts.After(db.lastTS) {
		ts = db.lastTS.Add(time.Microsecond)
	}
	db.lastTS = ts
	return ts
}
