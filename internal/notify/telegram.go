package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"iptvshop/internal/config"
	"iptvshop/internal/models"
	"iptvshop/internal/pkg/httpclient"
	"iptvshop/internal/pkg/utils"
)

// Telegram posts operational reports to the staff channel through the
// Bot API. Sends are fire-and-forget: a report that cannot be delivered
// is logged and dropped.
type Telegram struct {
	cfg  config.TelegramConfig
	http *httpclient.Client
	log  *zap.Logger
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return &Telegram{
		cfg:  cfg,
		http: httpclient.New().WithTimeout(10 * time.Second),
		log:  log,
	}
}

func (t *Telegram) report(text string) {
	if t.cfg.BotToken == "" || t.cfg.ReportChannel == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	url := "https://api.telegram.org/bot" + t.cfg.BotToken + "/sendMessage"
	_, err := t.http.Post(ctx, url, map[string]interface{}{
		"chat_id":    t.cfg.ReportChannel,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		t.log.Warn("telegram report failed", zap.Error(err))
	}
}

func (t *Telegram) PaymentCompleted(o *models.Order) {
	go t.report(fmt.Sprintf(
		"✅ <b>Payment completed</b>\nOrder: <code>%s</code>\nAmount: %s %s\nGateway: %s\nEmail: %s",
		o.OrderNo, utils.FormatCents(o.TotalCents), o.Currency, o.PaymentMethod, o.Email,
	))
}

func (t *Telegram) PaymentRefunded(o *models.Order) {
	go t.report(fmt.Sprintf(
		"↩️ <b>Payment refunded</b>\nOrder: <code>%s</code>\nAmount: %s %s\nGateway: %s",
		o.OrderNo, utils.FormatCents(o.TotalCents), o.Currency, o.PaymentMethod,
	))
}

func (t *Telegram) ProvisionFailed(o *models.Order, err error) {
	go t.report(fmt.Sprintf(
		"🚨 <b>Provisioning failed</b>\nOrder: <code>%s</code>\nEmail: %s\nError: %s",
		o.OrderNo, o.Email, err.Error(),
	))
}

func (t *Telegram) NewTicket(ticket *models.Ticket, email string) {
	go t.report(fmt.Sprintf(
		"📩 <b>New ticket #%d</b>\nFrom: %s\nSubject: %s",
		ticket.ID, email, ticket.Subject,
	))
}
