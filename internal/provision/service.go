package provision

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"iptvshop/internal/models"
	"iptvshop/internal/pkg/utils"
)

// Panel is the slice of the panel API the provisioner needs.
type Panel interface {
	CreateSubscriber(ctx context.Context, req *CreateSubscriberRequest) (*Subscriber, error)
}

type orderStore interface {
	Save(o *models.Order) error
}

// Mailer sends the credentials email to the customer.
type Mailer interface {
	SendCredentials(to string, o *models.Order, creds []models.Credential) error
}

// Service turns a paid order into live IPTV accounts. ProvisionOrder is
// idempotent: accounts already created are kept across retries, and the
// credentials email goes out once.
type Service struct {
	panel  Panel
	orders orderStore
	mailer Mailer
	log    *zap.Logger
}

func NewService(panel Panel, orders orderStore, mailer Mailer, log *zap.Logger) *Service {
	return &Service{panel: panel, orders: orders, mailer: mailer, log: log}
}

func (s *Service) ProvisionOrder(ctx context.Context, o *models.Order) error {
	items := o.Items()
	wanted := 0
	for _, item := range items {
		wanted += item.Quantity
	}
	if wanted == 0 {
		return fmt.Errorf("order %s has no line items to provision", o.OrderNo)
	}

	creds := o.Credentials()
	if len(creds) < wanted {
		created, err := s.createMissing(ctx, o, items, creds)
		// Persist whatever got created even on a mid-way failure, so a
		// retry only creates the remainder.
		if len(created) > len(creds) {
			o.SetCredentials(created)
			if saveErr := s.orders.Save(o); saveErr != nil {
				return saveErr
			}
		}
		if err != nil {
			return err
		}
		creds = created
	}

	if !o.CredentialsEmailSent && len(creds) > 0 {
		if err := s.mailer.SendCredentials(o.Email, o, creds); err != nil {
			return fmt.Errorf("credentials email for order %s: %w", o.OrderNo, err)
		}
		o.CredentialsEmailSent = true
		if err := s.orders.Save(o); err != nil {
			return err
		}
		s.log.Info("credentials email sent",
			zap.String("order_no", o.OrderNo),
			zap.String("email", o.Email),
			zap.Int("accounts", len(creds)),
		)
	}
	return nil
}

func (s *Service) createMissing(ctx context.Context, o *models.Order, items []models.LineItem, creds []models.Credential) ([]models.Credential, error) {
	have := len(creds)
	seen := 0
	for _, item := range items {
		for i := 0; i < item.Quantity; i++ {
			seen++
			if seen <= have {
				continue
			}
			sub, err := s.panel.CreateSubscriber(ctx, &CreateSubscriberRequest{
				Username:     "iptv_" + strings.ToLower(utils.RandomHex(5)),
				Password:     utils.RandomCode(12),
				DurationDays: item.DurationDays,
				Connections:  item.Connections,
				Note:         "order " + o.OrderNo,
			})
			if err != nil {
				return creds, err
			}
			creds = append(creds, models.Credential{
				Username:  sub.Username,
				Password:  sub.Password,
				M3UURL:    sub.M3UURL,
				PortalURL: sub.PortalURL,
				ExpiresAt: sub.ExpiresAt,
			})
			s.log.Info("subscriber provisioned",
				zap.String("order_no", o.OrderNo),
				zap.String("username", sub.Username),
				zap.String("plan", item.PlanCode),
			)
		}
	}
	return creds, nil
}
