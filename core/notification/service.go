package notification

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var ErrNotFound = errors.New("notification not found")

// fanoutConcurrency bounds concurrent per-recipient writes during a fan-out.
const fanoutConcurrency = 8

type (
	Repository interface {
		CreateNotification(ctx context.Context, note Notification) (Notification, error)
		QueryUserNotifications(ctx context.Context, userID string) ([]Notification, error)
		MarkNotificationRead(ctx context.Context, id, userID string) error
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
		logger  core.Logger
	}
)

func NewService(repo Repository, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{repo: repo, mailSvc: mailSvc, logger: logger}
}

// Fanout creates one notification per recipient and mirrors it by email.
// Recipient writes are independent: one failing does not stop the others.
func (svc *Service) Fanout(ctx context.Context, kind, title, body string, recipients []user.User) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fanoutConcurrency)

	for _, recipient := range recipients {
		recipient := recipient
		g.Go(func() error {
			note := Notification{
				UserID:    recipient.ID,
				Kind:      kind,
				Title:     title,
				Body:      body,
				CreatedAt: time.Now().UTC(),
			}
			if _, err := svc.repo.CreateNotification(ctx, note); err != nil {
				svc.logger.Error(fmt.Sprintf("notification fan-out: %v", err), err, recipient)
				return err
			}
			if recipient.Email != "" {
				svc.mailSvc.SendMessages(&core.EmailMessage{
					To:      []mail.Address{{Name: recipient.Name, Address: recipient.Email}},
					Subject: title,
					BodyStr: body,
				})
			}
			return nil
		})
	}
	return g.Wait()
}

func (svc *Service) QueryForUser(ctx context.Context, userID string) ([]Notification, error) {
	return svc.repo.QueryUserNotifications(ctx, userID)
}

func (svc *Service) MarkRead(ctx context.Context, id, userID string) error {
	return svc.repo.MarkNotificationRead(ctx, id, userID)
}
