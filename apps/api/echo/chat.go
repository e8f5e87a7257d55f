package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/chat"
	"github.com/trezcool/darasa/core/notification"
	"github.com/trezcool/darasa/core/user"
)

type chatDeps struct {
	store    chat.Store
	opts     chat.Options
	userSvc  *user.Service
	notifSvc *notification.Service
	snapFor  func(userID string) chat.SnapshotStore
	logger   core.Logger
}

type chatApi struct {
	chatDeps
}

func registerChatAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps chatDeps) {
	api := chatApi{chatDeps: deps}

	cg := g.Group("/chat", jwt)
	cg.GET("/:scope/messages", api.listMessages)
	cg.POST("/:scope/messages", api.send)
	cg.DELETE("/messages/:id", api.destroy)
	cg.GET("/stream", api.stream)
}

// Handlers

func (api *chatApi) listMessages(ctx echo.Context) error {
	scope, err := chat.ParseScope(ctx.Param("scope"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var query PageRequest
	if err = ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to PageRequest")
	}

	rctx := ctx.Request().Context()
	n := api.opts.PageSize

	var msgs []chat.Message
	if query.BeforeID != "" && !query.Before.IsZero() {
		msgs, err = api.store.ListBefore(rctx, scope, query.BeforeID, query.Before, n)
	} else {
		msgs, err = api.store.ListLatest(rctx, scope, n)
	}
	if err != nil {
		return errors.Wrap(err, "querying messages")
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return ctx.JSON(http.StatusOK, PageResponse{Messages: msgs, Exhausted: len(msgs) == 0})
}

func (api *chatApi) send(ctx echo.Context) error {
	scope, err := chat.ParseScope(ctx.Param("scope"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var data chat.NewMessage
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMessage")
	}
	// validate before any store call
	if err = data.Validate(); err != nil {
		return err
	}

	sender, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	msg, err := api.store.CreateMessage(ctx.Request().Context(), chat.Message{
		Scope:      scope,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Avatar:     sender.Avatar,
		Content:    data.Content,
	})
	if err != nil {
		return errors.Wrap(err, "creating message")
	}

	go api.fanoutMentions(msg, sender)
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *chatApi) destroy(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	rctx := ctx.Request().Context()
	msg, err := api.store.GetMessage(rctx, ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == chat.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding message by ID")
	}

	// only the sender or an admin may delete; deletion is permanent
	if msg.SenderID != claims.Subject && !claims.IsAdmin {
		return errHttpForbidden
	}

	if err = api.store.DeleteMessage(rctx, msg.ID); err != nil {
		return errors.Wrap(err, "deleting message")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// fanoutMentions notifies every @mentioned user of msg. Best effort: unknown
// usernames are skipped, failures are logged by the notification service.
func (api *chatApi) fanoutMentions(msg chat.Message, sender user.User) {
	unames := chat.Mentions(msg.Content)
	if len(unames) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recipients := make([]user.User, 0, len(unames))
	for _, uname := range unames {
		usr, err := api.userSvc.GetByUsernameOrEmail(ctx, uname)
		if err != nil || usr.ID == sender.ID {
			continue
		}
		recipients = append(recipients, usr)
	}
	if len(recipients) == 0 {
		return
	}

	title := fmt.Sprintf("%s mentioned you in %s", sender.Name, msg.Scope)
	if err := api.notifSvc.Fanout(ctx, notification.KindMention, title, msg.Content, recipients); err != nil {
		api.logger.Error(fmt.Sprintf("mention fan-out: %v", err), err)
	}
}

type (
	PageRequest struct {
		BeforeID string    `query:"before_id"`
		Before   time.Time `query:"before"`
	}

	PageResponse struct {
		Messages  []chat.Message `json:"messages"`
		Exhausted bool           `json:"exhausted"`
	}
)
