package echoapi

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/darasa/core/notification"
)

func (app *testApp) createNotification(t *testing.T, userID, title string) notification.Notification {
	t.Helper()

	note, err := app.notifRepo.CreateNotification(reqCtx(), notification.Notification{
		UserID:    userID,
		Kind:      notification.KindSystem,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("createNotification() failed: %v", err)
	}
	return note
}

func TestNotificationQuery(t *testing.T) {
	app := setup(t)
	usr := app.createUser(t, "User One", "one", "one@test.test", "Secret123", nil)
	other := app.createUser(t, "Other", "other", "other@test.test", "Secret123", nil)

	app.createNotification(t, usr.ID, "first")
	app.createNotification(t, usr.ID, "second")
	app.createNotification(t, other.ID, "not yours")

	req, rec := newAuthRequest(http.MethodGet, "/v1/notifications", getToken(t, usr))
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var notes []notification.Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &notes); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	titles := make([]string, len(notes))
	for i, note := range notes {
		titles[i] = note.Title
	}
	assert.ElementsMatch(t, []string{"first", "second"}, titles)
}

func TestNotificationMarkRead(t *testing.T) {
	app := setup(t)
	usr := app.createUser(t, "User One", "one", "one@test.test", "Secret123", nil)
	other := app.createUser(t, "Other", "other", "other@test.test", "Secret123", nil)
	note := app.createNotification(t, usr.ID, "unread")

	// another user's notification reads as missing
	req, rec := newAuthRequest(http.MethodPost, "/v1/notifications/"+note.ID+"/read", getToken(t, other))
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("non-owner code = %d, want %d", rec.Code, http.StatusNotFound)
	}

	req, rec = newAuthRequest(http.MethodPost, "/v1/notifications/"+note.ID+"/read", getToken(t, usr))
	app.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("owner code = %d, want %d; body %s", rec.Code, http.StatusNoContent, rec.Body.String())
	}

	notes, err := app.notifRepo.QueryUserNotifications(reqCtx(), usr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || !notes[0].IsRead {
		t.Errorf("notes = %+v, want one read note", notes)
	}
}
