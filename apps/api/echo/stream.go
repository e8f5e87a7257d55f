package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/chat"
	"github.com/trezcool/darasa/core/user"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxCommandSize = 8 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// auth happens via JWT before the upgrade; cross-origin websocket
	// requests carry no ambient credentials we rely on
	CheckOrigin: func(*http.Request) bool { return true },
}

type (
	// streamCommand is one client request on the stream.
	streamCommand struct {
		Action  string `json:"action"` // activate|deactivate|load_older|reset|send|delete
		Scope   string `json:"scope,omitempty"`
		Content string `json:"content,omitempty"`
		ID      string `json:"id,omitempty"`
	}

	// streamFrame is one server push on the stream.
	streamFrame struct {
		Type    string           `json:"type"` // page|page_result|alert|error
		Scope   chat.Scope       `json:"scope,omitempty"`
		Event   *chat.PageEvent  `json:"event,omitempty"`
		Result  *chat.PageResult `json:"result,omitempty"`
		Message string           `json:"message,omitempty"`
	}

	// streamConn is one authenticated websocket connection running its own feed.
	streamConn struct {
		api  *chatApi
		conn *websocket.Conn
		feed *chat.Feed
		usr  user.User
		out  chan streamFrame
	}
)

// streamAlerter surfaces feed alerts as frames; the UI renders them as toasts.
type streamAlerter struct {
	out chan<- streamFrame
}

func (a streamAlerter) Alert(msg string) {
	select {
	case a.out <- streamFrame{Type: "alert", Message: msg}:
	default: // never block the feed on a slow consumer
	}
}

// stream upgrades to a websocket and runs a feed for the connection: page
// events flow out, commands (activate, paginate, send, delete) flow in.
// All frames are serialized through one writer goroutine.
func (api *chatApi) stream(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	usr, err := getContextUser(ctx, api.userSvc, claims)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "upgrading connection")
	}

	sc := &streamConn{
		api:  api,
		conn: conn,
		usr:  usr,
		out:  make(chan streamFrame, 32),
	}
	session := chat.NewStaticSession(chat.Identity{ID: usr.ID, Name: usr.Name, Avatar: usr.Avatar})
	sc.feed = chat.NewFeed(
		api.store,
		api.snapFor(usr.ID),
		session,
		api.logger,
		streamAlerter{out: sc.out},
		api.opts,
	)

	connCtx, cancel := context.WithCancel(context.Background())

	// event forwarder; closing the feed ends it, which ends the writer
	go func() {
		for ev := range sc.feed.Events() {
			ev := ev
			sc.out <- streamFrame{Type: "page", Scope: ev.Scope, Event: &ev}
		}
		close(sc.out)
	}()
	go sc.writePump()

	sc.readPump(connCtx)

	cancel()
	sc.feed.Close()
	_ = conn.Close()
	return nil
}

func (sc *streamConn) readPump(ctx context.Context) {
	sc.conn.SetReadLimit(maxCommandSize)
	_ = sc.conn.SetReadDeadline(time.Now().Add(pongWait))
	sc.conn.SetPongHandler(func(string) error {
		return sc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd streamCommand
		if err := sc.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sc.api.logger.Debug("chat stream: read failed", err)
			}
			return
		}
		sc.handleCommand(ctx, cmd)
	}
}

// handleCommand runs on the read loop; the feed closes only after it returns,
// so sc.out is still open here.
func (sc *streamConn) handleCommand(ctx context.Context, cmd streamCommand) {
	fail := func(err error) {
		sc.out <- streamFrame{Type: "error", Scope: chat.Scope(cmd.Scope), Message: commandErrMessage(err)}
	}

	var scope chat.Scope
	switch cmd.Action {
	case "activate", "deactivate", "load_older", "reset", "send":
		var err error
		if scope, err = chat.ParseScope(cmd.Scope); err != nil {
			fail(err)
			return
		}
	}

	switch cmd.Action {
	case "activate":
		if err := sc.feed.Activate(ctx, scope); err != nil {
			fail(err)
		}
	case "deactivate":
		sc.feed.Deactivate(scope)
	case "load_older":
		res, err := sc.feed.LoadOlderPage(ctx, scope)
		if err != nil {
			fail(err)
			return
		}
		sc.out <- streamFrame{Type: "page_result", Scope: scope, Result: &res}
	case "reset":
		sc.feed.ResetScope(scope)
	case "send":
		msg, err := sc.feed.Send(ctx, scope, chat.NewMessage{Content: cmd.Content})
		if err != nil {
			fail(err)
			return
		}
		go sc.api.fanoutMentions(msg, sc.usr)
	case "delete":
		if err := sc.delete(ctx, cmd.ID); err != nil {
			fail(err)
		}
	default:
		fail(errors.New("unknown action"))
	}
}

// delete enforces sender-or-admin before the permanent delete.
func (sc *streamConn) delete(ctx context.Context, id string) error {
	msg, err := sc.api.store.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg.SenderID != sc.usr.ID && !sc.usr.IsAdmin() {
		return errors.New("permission denied")
	}
	return sc.feed.Delete(ctx, id)
}

func (sc *streamConn) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var failed bool // keep draining after a write error so senders never block
	for {
		select {
		case fr, ok := <-sc.out:
			if !ok {
				_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = sc.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if failed {
				continue
			}
			_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sc.conn.WriteJSON(fr); err != nil {
				failed = true
			}
		case <-ping.C:
			if failed {
				continue
			}
			_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				failed = true
			}
		}
	}
}

// commandErrMessage renders a command failure for the client; field-level
// validation failures are translated, everything else passes through.
func commandErrMessage(err error) string {
	switch origErr := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		for _, vErr := range origErr {
			return vErr.Translate(core.Translator)
		}
	case *core.ValidationError:
		return origErr.Error()
	}
	return err.Error()
}
