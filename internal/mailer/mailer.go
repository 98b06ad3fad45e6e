package mailer

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"iptvshop/internal/config"
	"iptvshop/internal/models"
	"iptvshop/internal/pkg/utils"
)

// Mailer sends transactional HTML email over SMTP.
type Mailer struct {
	cfg config.SMTPConfig
	log *zap.Logger
}

func New(cfg config.SMTPConfig, log *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log}
}

func (m *Mailer) send(to, subject, htmlBody string) error {
	if m.cfg.Host == "" {
		return fmt.Errorf("smtp is not configured")
	}

	var msg strings.Builder
	msg.WriteString("From: " + m.cfg.From + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	addr := m.cfg.Host + ":" + m.cfg.Port
	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	m.log.Info("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// SendCredentials mails the provisioned IPTV accounts for a paid order.
func (m *Mailer) SendCredentials(to string, o *models.Order, creds []models.Credential) error {
	var rows strings.Builder
	for _, c := range creds {
		expires := "never"
		if c.ExpiresAt > 0 {
			expires = time.Unix(c.ExpiresAt, 0).UTC().Format("2006-01-02")
		}
		rows.WriteString(fmt.Sprintf(`
      <tr>
        <td style="padding:8px;border:1px solid #ddd;"><code>%s</code></td>
        <td style="padding:8px;border:1px solid #ddd;"><code>%s</code></td>
        <td style="padding:8px;border:1px solid #ddd;"><a href="%s">M3U playlist</a></td>
        <td style="padding:8px;border:1px solid #ddd;">%s</td>
      </tr>`, c.Username, c.Password, c.M3UURL, expires))
	}

	body := fmt.Sprintf(`
  <div style="font-family:Arial,sans-serif;max-width:640px;margin:0 auto;">
    <h2>Your subscription is ready</h2>
    <p>Thank you for your purchase. Order <strong>%s</strong> (%s USD) is paid and your accounts are active.</p>
    <table style="border-collapse:collapse;width:100%%;">
      <tr>
        <th style="padding:8px;border:1px solid #ddd;text-align:left;">Username</th>
        <th style="padding:8px;border:1px solid #ddd;text-align:left;">Password</th>
        <th style="padding:8px;border:1px solid #ddd;text-align:left;">Playlist</th>
        <th style="padding:8px;border:1px solid #ddd;text-align:left;">Expires</th>
      </tr>%s
    </table>
    <p style="color:#888;font-size:12px;">Keep this email safe. You can also find your credentials on the order page.</p>
  </div>`, o.OrderNo, utils.FormatCents(o.TotalCents), rows.String())

	return m.send(to, "Your IPTV credentials for order "+o.OrderNo, body)
}

// SendOTP mails a one-time login code.
func (m *Mailer) SendOTP(to, code string, ttl time.Duration) error {
	body := fmt.Sprintf(`
  <div style="font-family:Arial,sans-serif;max-width:480px;margin:0 auto;">
    <h2>Your login code</h2>
    <p style="font-size:32px;letter-spacing:8px;font-weight:bold;">%s</p>
    <p>This code expires in %d minutes. If you did not request it, ignore this email.</p>
  </div>`, code, int(ttl.Minutes()))

	return m.send(to, "Your login code", body)
}

// SendOrderReceived confirms a placed order while payment is pending.
func (m *Mailer) SendOrderReceived(to string, o *models.Order, payURL string) error {
	body := fmt.Sprintf(`
  <div style="font-family:Arial,sans-serif;max-width:480px;margin:0 auto;">
    <h2>Order received</h2>
    <p>Order <strong>%s</strong> for %s USD is waiting for payment.</p>
    <p><a href="%s" style="display:inline-block;padding:12px 24px;background:#2563eb;color:#fff;text-decoration:none;border-radius:6px;">Complete payment</a></p>
  </div>`, o.OrderNo, utils.FormatCents(o.TotalCents), payURL)

	return m.send(to, "Order "+o.OrderNo+" received", body)
}
