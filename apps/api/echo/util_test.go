package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/trezcool/darasa/core/chat"
	"github.com/trezcool/darasa/core/notification"
	"github.com/trezcool/darasa/core/subject"
	"github.com/trezcool/darasa/core/user"
	emailsvc "github.com/trezcool/darasa/services/email"
	logsvc "github.com/trezcool/darasa/services/logger"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
	"github.com/trezcool/darasa/storage/kvstore"
)

type testApp struct {
	server    Server
	db        *inmemdb.DB
	usrRepo   user.Repository
	store     chat.Store
	usrSvc    *user.Service
	subjSvc   *subject.Service
	notifRepo notification.Repository
}

func setup(t *testing.T) *testApp {
	t.Helper()

	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	usrRepo := inmemdb.NewUserRepository(db)
	store := inmemdb.NewChatRepository(db)
	logger := logsvc.NewStdLogger(log.New(os.Stdout, "TEST : ", log.LstdFlags))

	usrSvc := user.NewService(usrRepo, logger)
	subjSvc := subject.NewService(inmemdb.NewSubjectRepository(db))
	notifRepo := inmemdb.NewNotificationRepository(db)
	notifSvc := notification.NewService(notifRepo, emailsvc.NewConsoleServiceMock(), logger)

	server := NewServer(&Options{
		Addr:           ":0",
		DisableReqLogs: true,
		Logger:         logger,
		UserSvc:        usrSvc,
		SubjectSvc:     subjSvc,
		NotifSvc:       notifSvc,
		ChatStore:      store,
		ChatOpts:       chat.Options{PageSize: 15},
		SnapshotStoreFor: func(string) chat.SnapshotStore {
			return kvstore.NewMemSnapshotStore()
		},
	})

	return &testApp{
		server:    server,
		db:        db,
		usrRepo:   usrRepo,
		store:     store,
		usrSvc:    usrSvc,
		subjSvc:   subjSvc,
		notifRepo: notifRepo,
	}
}

func (app *testApp) createUser(t *testing.T, name, uname, email, pwd string, roles []string) user.User {
	t.Helper()

	now := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		IsActive:  true,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := app.usrRepo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func (app *testApp) createMessage(t *testing.T, scope chat.Scope, sender user.User, content string) chat.Message {
	t.Helper()

	msg, err := app.store.CreateMessage(context.Background(), chat.Message{
		Scope:      scope,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Avatar:     sender.Avatar,
		Content:    content,
	})
	if err != nil {
		t.Fatalf("createMessage() failed: %v", err)
	}
	return msg
}

func getToken(t *testing.T, usr user.User) string {
	t.Helper()

	token, err := GenerateToken(GetUserClaims(usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(echoHeaderContentType, echoMIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

const (
	echoHeaderContentType   = "Content-Type"
	echoMIMEApplicationJSON = "application/json"
)

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func reqCtx() context.Context { return context.Background() }

func marshallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()

	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}
