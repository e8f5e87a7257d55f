package chat

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/trezcool/darasa/core"
)

var (
	ErrInvalidScope     = errors.New("invalid conversation scope")
	ErrNotFound         = errors.New("message not found")
	ErrNotAuthenticated = errors.New("not authenticated")

	mentionRegex = regexp.MustCompile(`(^|\s)@(\w+)`)
)

// Scope is a named conversation partition that messages and subscriptions are filtered by.
// One of `general`, `subject:<id>` or `room:<id>`.
type Scope string

const (
	ScopeGeneral Scope = "general"

	subjectPrefix = "subject:"
	roomPrefix    = "room:"
)

func SubjectScope(id string) Scope { return Scope(subjectPrefix + id) }
func RoomScope(id string) Scope    { return Scope(roomPrefix + id) }

// ParseScope validates the shape of a raw scope string.
func ParseScope(s string) (Scope, error) {
	s = core.CleanString(s, true /* lower */)
	switch {
	case s == string(ScopeGeneral):
		return ScopeGeneral, nil
	case strings.HasPrefix(s, subjectPrefix) && len(s) > len(subjectPrefix):
		return Scope(s), nil
	case strings.HasPrefix(s, roomPrefix) && len(s) > len(roomPrefix):
		return Scope(s), nil
	}
	return "", ErrInvalidScope
}

// Message is a single chat entry. Immutable once created except for deletion.
// ID and CreatedAt are store-assigned.
type Message struct {
	ID         string    `json:"id" db:"id"`
	Scope      Scope     `json:"scope" db:"scope"`
	SenderID   string    `json:"sender_id" db:"sender_id"`
	SenderName string    `json:"sender_name" db:"sender_name"`
	Avatar     string    `json:"avatar,omitempty" db:"avatar"`
	Content    string    `json:"content" db:"content"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"` // UTC
}

// NewMessage contains information needed to post a Message.
type NewMessage struct {
	Content string `json:"content" validate:"required,maxwords=100"`
}

func (nm *NewMessage) Validate() error {
	nm.Content = core.CleanString(nm.Content)
	return core.Validate.Struct(nm)
}

// Mentions extracts `@username` mentions from message content, lowered, deduplicated.
func Mentions(content string) []string {
	matches := mentionRegex.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	unames := make([]string, 0, len(matches))
	for _, m := range matches {
		uname := strings.ToLower(m[2])
		if !seen[uname] {
			seen[uname] = true
			unames = append(unames, uname)
		}
	}
	return unames
}
