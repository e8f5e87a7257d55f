package chat

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

// FeedState is the per-scope feed lifecycle.
type FeedState int

const (
	StateIdle FeedState = iota
	StateSubscribing
	StateLive
	StateExhausted // no more history; pagination is a no-op until reset
	StateError
)

func (s FeedState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateExhausted:
		return "exhausted"
	case StateError:
		return "error"
	}
	return "unknown"
}

type EventKind string

const (
	// EventReset replaces the whole visible list.
	EventReset EventKind = "reset"
	// EventAppend appends new messages at the tail of the visible list.
	EventAppend EventKind = "append"
)

// PageEvent is delivered on the feed's event channel.
type PageEvent struct {
	Scope    Scope     `json:"scope"`
	Kind     EventKind `json:"kind"`
	Messages []Message `json:"messages"`
	Loading  bool      `json:"loading,omitempty"`
}

// PageResult is the outcome of LoadOlderPage. Prepended is the number of
// messages inserted at the head; the UI adjusts its scroll offset by the
// height of exactly that many entries so the reading position does not jump.
type PageResult struct {
	Messages  []Message `json:"messages"`
	Prepended int       `json:"prepended"`
	Exhausted bool      `json:"exhausted"`
}

type Options struct {
	PageSize         int
	SnapshotMaxAge   time.Duration
	SnapshotDebounce time.Duration
}

func (o *Options) setDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = 15
	}
	if o.SnapshotMaxAge <= 0 {
		o.SnapshotMaxAge = time.Hour
	}
	if o.SnapshotDebounce <= 0 {
		o.SnapshotDebounce = time.Second
	}
}

// scopeFeed tracks one scope's live window, paginated history and lifecycle.
type scopeFeed struct {
	state      FeedState
	older      []Message // paginated history, strictly older than window
	window     []Message // live window region
	cursor     *Message  // oldest visible message; pagination anchor
	paginating bool      // single-flight guard
	exhausted  bool      // sticky until ResetScope
	fromCache  bool      // window was restored from a fresh snapshot
	stopping   bool      // teardown in progress; suppress the error path
	cancelSub  func()
}

// Feed maintains a bounded, ordered, deduplicated view of messages per
// conversation scope: live delivery of the newest page, backward pagination
// on demand, snapshot persistence for instant reload, per-message delete.
type Feed struct {
	store   Store
	snaps   SnapshotStore
	session Session
	logger  core.Logger
	alerter core.Alerter
	opts    Options

	mu         sync.Mutex
	scopes     map[Scope]*scopeFeed
	events     chan PageEvent
	writer     *debouncedWriter
	restored   bool
	closed     bool
	cancelSess func()
	wg         sync.WaitGroup
}

func NewFeed(store Store, snaps SnapshotStore, session Session, logger core.Logger, alerter core.Alerter, opts Options) *Feed {
	opts.setDefaults()
	f := &Feed{
		store:   store,
		snaps:   snaps,
		session: session,
		logger:  logger,
		alerter: alerter,
		opts:    opts,
		scopes:  make(map[Scope]*scopeFeed),
		events:  make(chan PageEvent, 64),
	}
	f.writer = newDebouncedWriter(opts.SnapshotDebounce, f.persistSnapshot)
	f.cancelSess = session.OnChange(func(_ Identity, ok bool) {
		if !ok {
			f.DeactivateAll()
		}
	})
	return f
}

// Events returns the feed's event stream. Closed by Close.
func (f *Feed) Events() <-chan PageEvent { return f.events }

func (f *Feed) scope(scope Scope) *scopeFeed {
	sf, ok := f.scopes[scope]
	if !ok {
		sf = &scopeFeed{state: StateIdle}
		f.scopes[scope] = sf
	}
	return sf
}

func visible(sf *scopeFeed) []Message {
	return mergeMessages(sf.older, sf.window)
}

// Activate opens the live subscription for scope. Re-activating an already
// active scope is a no-op. A fresh snapshot renders immediately while the
// subscription reconciles in the background; otherwise a loading state is
// emitted until the first window arrives.
func (f *Feed) Activate(ctx context.Context, scope Scope) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("feed is closed")
	}
	f.restoreSnapshot(ctx)

	sf := f.scope(scope)
	if sf.state == StateSubscribing || sf.state == StateLive || sf.state == StateExhausted {
		f.mu.Unlock()
		return nil
	}

	if msgs := visible(sf); len(msgs) > 0 {
		// instant render from cache (or a previous activation); the
		// subscription reconciles silently in the background
		f.emit(PageEvent{Scope: scope, Kind: EventReset, Messages: msgs})
	} else {
		f.emit(PageEvent{Scope: scope, Kind: EventReset, Loading: true})
	}
	sf.state = StateSubscribing
	f.mu.Unlock()

	ch, cancel, err := f.store.Subscribe(ctx, scope, f.opts.PageSize)
	if err != nil {
		f.mu.Lock()
		sf.state = StateError
		f.mu.Unlock()
		f.alerter.Alert("chat is unavailable right now")
		f.logger.Error("chat: subscribe failed", err)
		return errors.Wrap(err, "subscribing to scope")
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cancel()
		return errors.New("feed is closed")
	}
	sf.cancelSub = cancel
	f.wg.Add(1)
	f.mu.Unlock()

	go f.consume(scope, ch)
	return nil
}

func (f *Feed) consume(scope Scope, ch <-chan []Message) {
	defer f.wg.Done()
	for win := range ch {
		f.handleWindow(scope, win)
	}

	f.mu.Lock()
	sf := f.scope(scope)
	stopping := sf.stopping || f.closed
	sf.stopping = false
	sf.cancelSub = nil
	if stopping {
		f.mu.Unlock()
		return
	}
	// unexpected close: fail open, prior messages stay visible
	sf.state = StateError
	f.mu.Unlock()
	f.alerter.Alert("live chat connection lost")
	f.logger.Warn("chat: subscription closed unexpectedly", map[string]interface{}{"scope": scope})
}

// handleWindow folds a delivered window into the scope's view. The window
// always represents the newest page: messages currently held that are older
// than the window's floor migrate into the paginated head, everything at or
// above the floor is replaced by the window (which is how deletions within
// the window take effect).
func (f *Feed) handleWindow(scope Scope, win []Message) {
	win, dropped := validateRecords(win)
	if dropped > 0 {
		f.logger.Warn("chat: quarantined malformed records", map[string]interface{}{"scope": scope, "count": dropped})
	}
	win = mergeMessages(nil, win) // re-sort + dedupe; delivery order is not trusted

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	sf := f.scope(scope)
	prev := visible(sf)
	first := sf.state == StateSubscribing
	cached := sf.fromCache

	if len(win) > 0 {
		floor := win[0].CreatedAt
		var displaced []Message
		for _, m := range sf.window {
			if m.CreatedAt.Before(floor) {
				displaced = append(displaced, m)
			}
		}
		sf.older = mergeMessages(sf.older, displaced)
	}
	sf.window = win
	sf.fromCache = false
	if first {
		sf.state = StateLive
	}

	now := visible(sf)
	if len(now) > 0 {
		cur := now[0]
		sf.cursor = &cur
	} else {
		sf.cursor = nil
	}
	f.scheduleSnapshot()

	// a cache-hit scope already rendered; it reconciles through the diff
	// path below instead of replacing the cached view wholesale
	if first && !cached {
		f.emit(PageEvent{Scope: scope, Kind: EventReset, Messages: now})
		return
	}
	fresh := diffNew(prev, now)
	if len(now)-len(fresh) < len(prev) {
		// something was removed; replace the whole view
		f.emit(PageEvent{Scope: scope, Kind: EventReset, Messages: now})
	} else if len(fresh) > 0 {
		f.emit(PageEvent{Scope: scope, Kind: EventAppend, Messages: fresh})
	}
}

// LoadOlderPage fetches the next page strictly older than the cursor and
// prepends it. No cursor, a page already in flight, or an exhausted scope
// all make this an immediate no-op with no store call.
func (f *Feed) LoadOlderPage(ctx context.Context, scope Scope) (PageResult, error) {
	f.mu.Lock()
	sf := f.scope(scope)
	if sf.cursor == nil || sf.paginating || sf.exhausted {
		res := PageResult{Messages: visible(sf), Exhausted: sf.exhausted}
		f.mu.Unlock()
		return res, nil
	}
	sf.paginating = true
	cur := *sf.cursor
	f.mu.Unlock()

	page, err := f.store.ListBefore(ctx, scope, cur.ID, cur.CreatedAt, f.opts.PageSize)

	f.mu.Lock()
	defer f.mu.Unlock()
	sf.paginating = false
	if err != nil {
		// cursor and exhausted flags untouched; the user can retry by scrolling again
		return PageResult{}, errors.Wrap(err, "loading older page")
	}

	page, dropped := validateRecords(page)
	if dropped > 0 {
		f.logger.Warn("chat: quarantined malformed records", map[string]interface{}{"scope": scope, "count": dropped})
	}
	if len(page) == 0 {
		sf.exhausted = true
		sf.state = StateExhausted
		return PageResult{Messages: visible(sf), Exhausted: true}, nil
	}

	before := len(visible(sf))
	sf.older = mergeMessages(page, sf.older) // prepend at the head, never interleaved
	now := visible(sf)
	cur = now[0]
	sf.cursor = &cur
	f.scheduleSnapshot()

	return PageResult{Messages: now, Prepended: len(now) - before}, nil
}

// ResetScope clears the exhausted flag so pagination may resume.
func (f *Feed) ResetScope(scope Scope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sf := f.scope(scope)
	sf.exhausted = false
	if sf.state == StateExhausted {
		if sf.cancelSub != nil {
			sf.state = StateLive
		} else {
			sf.state = StateIdle
		}
	}
}

// Send validates and persists one message. The message is NOT injected into
// local state: the live subscription's own delivery reflects it, so the
// visible append is eventually consistent with the subscription round-trip.
func (f *Feed) Send(ctx context.Context, scope Scope, nm NewMessage) (Message, error) {
	if err := nm.Validate(); err != nil {
		return Message{}, err
	}
	ident, ok := f.session.Current()
	if !ok {
		return Message{}, ErrNotAuthenticated
	}
	msg := Message{
		Scope:      scope,
		SenderID:   ident.ID,
		SenderName: ident.Name,
		Avatar:     ident.Avatar,
		Content:    nm.Content,
	}
	created, err := f.store.CreateMessage(ctx, msg)
	if err != nil {
		return Message{}, errors.Wrap(err, "sending message")
	}
	return created, nil
}

// Delete permanently removes a message. No confirmation, no undo; ownership
// rules are enforced by the store / API layer, not here. The removal shows up
// once the subscription redelivers its window.
func (f *Feed) Delete(ctx context.Context, id string) error {
	if _, ok := f.session.Current(); !ok {
		return ErrNotAuthenticated
	}
	if err := f.store.DeleteMessage(ctx, id); err != nil {
		return errors.Wrap(err, "deleting message")
	}
	return nil
}

// State reports the scope's current feed state.
func (f *Feed) State(scope Scope) FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scope(scope).state
}

// Deactivate tears down the scope's live subscription, keeping its messages
// for snapshotting.
func (f *Feed) Deactivate(scope Scope) {
	f.mu.Lock()
	sf := f.scope(scope)
	cancel := sf.cancelSub
	if cancel != nil {
		sf.stopping = true
	}
	sf.state = StateIdle
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// DeactivateAll tears down every live subscription (scope switch to nothing,
// sign-out) and flushes any pending snapshot write.
func (f *Feed) DeactivateAll() {
	f.mu.Lock()
	cancels := make([]func(), 0, len(f.scopes))
	for _, sf := range f.scopes {
		if sf.cancelSub != nil {
			sf.stopping = true
			cancels = append(cancels, sf.cancelSub)
		}
		sf.state = StateIdle
	}
	f.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	f.writer.Flush()
}

// Close tears the feed down: all subscriptions cancelled, pending snapshot
// flushed, event channel closed.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	cancels := make([]func(), 0, len(f.scopes))
	for _, sf := range f.scopes {
		if sf.cancelSub != nil {
			sf.stopping = true
			cancels = append(cancels, sf.cancelSub)
		}
		sf.state = StateIdle
	}
	f.mu.Unlock()

	f.cancelSess()
	for _, cancel := range cancels {
		cancel()
	}
	f.wg.Wait()
	f.writer.Flush()
	f.writer.Stop()
	close(f.events)
}

// emit drops the event if the consumer is not keeping up; the feed must never
// block on its own event channel.
func (f *Feed) emit(ev PageEvent) {
	if f.closed {
		return
	}
	select {
	case f.events <- ev:
	default:
		f.logger.Warn("chat: dropping feed event", map[string]interface{}{"scope": ev.Scope, "kind": ev.Kind})
	}
}

// restoreSnapshot loads the persisted snapshot once per feed lifetime.
// A stale snapshot (older than the freshness window) is discarded outright so
// it can never skip the foreground loading state.
func (f *Feed) restoreSnapshot(ctx context.Context) {
	if f.restored {
		return
	}
	f.restored = true

	snap, err := f.snaps.Get(ctx)
	if err != nil {
		if err != ErrNoSnapshot {
			f.logger.Warn("chat: snapshot restore failed", err)
		}
		return
	}
	if !snap.Fresh(f.opts.SnapshotMaxAge) {
		return
	}
	for scope, msgs := range snap.Scopes {
		msgs, _ = validateRecords(msgs)
		sf := f.scope(scope)
		sf.window = mergeMessages(nil, msgs)
		sf.fromCache = true
	}
}

func (f *Feed) scheduleSnapshot() {
	f.writer.Trigger()
}

func (f *Feed) persistSnapshot() {
	f.mu.Lock()
	snap := Snapshot{
		Scopes:    make(map[Scope][]Message, len(f.scopes)),
		WrittenAt: nowFunc().UTC(),
	}
	for scope, sf := range f.scopes {
		if msgs := visible(sf); len(msgs) > 0 {
			snap.Scopes[scope] = msgs
		}
	}
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.snaps.Set(ctx, snap); err != nil {
		f.logger.Warn("chat: snapshot write failed", err)
	}
}
