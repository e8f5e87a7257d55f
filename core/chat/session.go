package chat

import "sync"

// Identity is the read-only view of the signed-in user that the feed needs.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Session exposes the current identity and auth-state changes.
// The feed only ever reads identity, it never mutates it.
type Session interface {
	// Current returns the signed-in identity, or ok=false when signed out.
	Current() (Identity, bool)
	// OnChange registers a callback fired on sign-in/sign-out. The returned
	// func cancels the registration.
	OnChange(fn func(Identity, bool)) (cancel func())
}

// StaticSession is a Session fixed to one identity for its whole lifetime,
// eg. an API connection authenticated once via JWT.
type StaticSession struct {
	ident Identity
}

func NewStaticSession(ident Identity) *StaticSession {
	return &StaticSession{ident: ident}
}

func (s *StaticSession) Current() (Identity, bool) {
	return s.ident, s.ident.ID != ""
}

func (s *StaticSession) OnChange(func(Identity, bool)) (cancel func()) {
	return func() {}
}

// MutableSession is a Session whose identity can change, firing registered
// callbacks; the signed-out state is represented by a zero Identity.
type MutableSession struct {
	mu    sync.Mutex
	ident Identity
	subs  map[int]func(Identity, bool)
	next  int
}

func NewMutableSession(ident Identity) *MutableSession {
	return &MutableSession{ident: ident, subs: make(map[int]func(Identity, bool))}
}

func (s *MutableSession) Current() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ident, s.ident.ID != ""
}

func (s *MutableSession) Set(ident Identity) {
	s.mu.Lock()
	s.ident = ident
	fns := make([]func(Identity, bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ident, ident.ID != "")
	}
}

func (s *MutableSession) SignOut() { s.Set(Identity{}) }

func (s *MutableSession) OnChange(fn func(Identity, bool)) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
