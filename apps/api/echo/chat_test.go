package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trezcool/darasa/core/chat"
	"github.com/trezcool/darasa/core/user"
)

func TestChatListMessages(t *testing.T) {
	app := setup(t)
	usr := app.createUser(t, "User One", "one", "one@test.test", "Secret123", nil)
	token := getToken(t, usr)

	for i := 0; i < 20; i++ {
		app.createMessage(t, chat.ScopeGeneral, usr, fmt.Sprintf("message %d", i))
	}

	// latest window
	req, rec := newAuthRequest(http.MethodGet, "/v1/chat/general/messages", token)
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var page PageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(page.Messages) != 15 || page.Exhausted {
		t.Fatalf("latest page = %d messages, exhausted %v; want 15, false", len(page.Messages), page.Exhausted)
	}
	for i := 1; i < len(page.Messages); i++ {
		if !page.Messages[i].CreatedAt.After(page.Messages[i-1].CreatedAt) {
			t.Fatal("timestamps are not strictly increasing")
		}
	}

	// older page before the window
	oldest := page.Messages[0]
	path := fmt.Sprintf("/v1/chat/general/messages?before_id=%s&before=%s",
		oldest.ID, url.QueryEscape(oldest.CreatedAt.Format(time.RFC3339Nano)))
	req, rec = newAuthRequest(http.MethodGet, path, token)
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(page.Messages) != 5 || page.Exhausted {
		t.Fatalf("older page = %d messages, exhausted %v; want 5, false", len(page.Messages), page.Exhausted)
	}

	// before the very first message: history exhausted
	oldest = page.Messages[0]
	path = fmt.Sprintf("/v1/chat/general/messages?before_id=%s&before=%s",
		oldest.ID, url.QueryEscape(oldest.CreatedAt.Format(time.RFC3339Nano)))
	req, rec = newAuthRequest(http.MethodGet, path, token)
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(page.Messages) != 0 || !page.Exhausted {
		t.Errorf("exhausted page = %d messages, exhausted %v; want 0, true", len(page.Messages), page.Exhausted)
	}

	// invalid scope
	req, rec = newAuthRequest(http.MethodGet, "/v1/chat/nope/messages", token)
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid scope code = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestChatSend(t *testing.T) {
	app := setup(t)
	usr := app.createUser(t, "User One", "one", "one@test.test", "Secret123", nil)
	token := getToken(t, usr)

	body := marshallObj(t, chat.NewMessage{Content: "hello room"})
	req, rec := newAuthRequest(http.MethodPost, "/v1/chat/room:r1/messages", token, body)
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want %d; body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var msg chat.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if msg.ID == "" || msg.SenderID != usr.ID || msg.SenderName != usr.Name || msg.Content != "hello room" {
		t.Errorf("message = %+v, want it stamped with the sender", msg)
	}

	// over the word limit: rejected before any store write
	body = marshallObj(t, chat.NewMessage{Content: strings.TrimSpace(strings.Repeat("word ", 101))})
	req, rec = newAuthRequest(http.MethodPost, "/v1/chat/room:r1/messages", token, body)
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want %d; body %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
	msgs, err := app.store.ListLatest(reqCtx(), chat.RoomScope("r1"), 15)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("store has %d messages, want 1", len(msgs))
	}
}

func TestChatDestroy(t *testing.T) {
	app := setup(t)
	sender := app.createUser(t, "Sender", "sender", "sender@test.test", "Secret123", nil)
	other := app.createUser(t, "Other", "other", "other@test.test", "Secret123", nil)
	admin := app.createUser(t, "Admin", "admin", "admin@test.test", "Secret123", user.AllRoles)

	msg1 := app.createMessage(t, chat.ScopeGeneral, sender, "first")
	msg2 := app.createMessage(t, chat.ScopeGeneral, sender, "second")

	// another student may not delete it
	req, rec := newAuthRequest(http.MethodDelete, "/v1/chat/messages/"+msg1.ID, getToken(t, other))
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-sender code = %d, want %d", rec.Code, http.StatusForbidden)
	}

	// the sender may
	req, rec = newAuthRequest(http.MethodDelete, "/v1/chat/messages/"+msg1.ID, getToken(t, sender))
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("sender code = %d, want %d; body %s", rec.Code, http.StatusNoContent, rec.Body.String())
	}

	// so may an admin
	req, rec = newAuthRequest(http.MethodDelete, "/v1/chat/messages/"+msg2.ID, getToken(t, admin))
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("admin code = %d, want %d; body %s", rec.Code, http.StatusNoContent, rec.Body.String())
	}

	// deletion is permanent
	req, rec = newAuthRequest(http.MethodDelete, "/v1/chat/messages/"+msg1.ID, getToken(t, sender))
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("deleted message code = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestChatStream(t *testing.T) {
	app := setup(t)
	usr := app.createUser(t, "User One", "one", "one@test.test", "Secret123", nil)
	for i := 0; i < 3; i++ {
		app.createMessage(t, chat.ScopeGeneral, usr, fmt.Sprintf("old %d", i))
	}

	srv := httptest.NewServer(app.server)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat/stream"
	header := http.Header{"Authorization": {"Bearer " + getToken(t, usr)}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dialing stream: %v", err)
	}
	defer conn.Close()

	send := func(cmd streamCommand) {
		t.Helper()
		if err := conn.WriteJSON(cmd); err != nil {
			t.Fatalf("writing %+v: %v", cmd, err)
		}
	}
	read := func() streamFrame {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var fr streamFrame
		if err := conn.ReadJSON(&fr); err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		return fr
	}

	// no snapshot: a loading reset, then the live window
	send(streamCommand{Action: "activate", Scope: "general"})
	fr := read()
	if fr.Type != "page" || fr.Event == nil || fr.Event.Kind != chat.EventReset || !fr.Event.Loading {
		t.Fatalf("frame = %+v, want loading reset", fr)
	}
	fr = read()
	if fr.Type != "page" || fr.Event == nil || fr.Event.Kind != chat.EventReset || fr.Event.Loading {
		t.Fatalf("frame = %+v, want live reset", fr)
	}
	if len(fr.Event.Messages) != 3 {
		t.Fatalf("live reset has %d messages, want 3", len(fr.Event.Messages))
	}

	// a sent message comes back as an append
	send(streamCommand{Action: "send", Scope: "general", Content: "hello"})
	fr = read()
	if fr.Type != "page" || fr.Event == nil || fr.Event.Kind != chat.EventAppend {
		t.Fatalf("frame = %+v, want append", fr)
	}
	if len(fr.Event.Messages) != 1 || fr.Event.Messages[0].Content != "hello" || fr.Event.Messages[0].SenderID != usr.ID {
		t.Fatalf("append = %+v, want the sent message", fr.Event.Messages)
	}

	// the whole history is already visible
	send(streamCommand{Action: "load_older", Scope: "general"})
	fr = read()
	if fr.Type != "page_result" || fr.Result == nil {
		t.Fatalf("frame = %+v, want page_result", fr)
	}
	if !fr.Result.Exhausted || fr.Result.Prepended != 0 {
		t.Errorf("result = %+v, want exhausted with nothing prepended", fr.Result)
	}

	// bad commands surface as error frames
	send(streamCommand{Action: "activate", Scope: "nope"})
	if fr = read(); fr.Type != "error" {
		t.Errorf("frame = %+v, want error", fr)
	}
	send(streamCommand{Action: "warp"})
	if fr = read(); fr.Type != "error" {
		t.Errorf("frame = %+v, want error", fr)
	}
}

func TestChatStreamRequiresAuth(t *testing.T) {
	app := setup(t)
	srv := httptest.NewServer(app.server)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat/stream"
	if _, res, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("Dial() succeeded without a token")
	} else if res != nil && res.StatusCode != http.StatusUnauthorized {
		t.Errorf("code = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}
