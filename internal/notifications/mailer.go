package notifications

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/0xPuncker/export-mailer/internal/config"
	"github.com/0xPuncker/export-mailer/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

var ErrDeliveryFailed = errors.New("notifications: email delivery failed")

// Sender delivers composed messages.
type Sender interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// SMTPSender opens one authenticated STARTTLS session per send and closes it
// before returning.
type SMTPSender struct {
	cfg config.SMTPConfig
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.cfg.Timeout))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail via %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	return nil
}

// Email is one outgoing report mail. Attachments are paths to transient
// files that are removed once Send returns.
type Email struct {
	Subject     string
	Body        string
	To          []string
	Cc          []string
	Attachments []string
}

type Mailer struct {
	sender Sender
	from   string
	logger *logrus.Logger
}

func NewMailer(sender Sender, from string, logger *logrus.Logger) *Mailer {
	return &Mailer{
		sender: sender,
		from:   from,
		logger: logger,
	}
}

// Send composes and delivers e. Attachments that cannot be read are logged
// and left out. Every attachment path that exists is deleted before Send
// returns, whatever happened before. The returned error only reports
// composition or delivery failures and wraps ErrDeliveryFailed.
func (m *Mailer) Send(ctx context.Context, e Email) (err error) {
	defer m.cleanup(e.Attachments)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrDeliveryFailed, r)
		}
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"subject":    e.Subject,
				"recipients": len(e.To) + len(e.Cc),
			}).WithError(err).Error("Failed to send email")
		}
	}()

	msg, err := m.compose(e)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	start := time.Now()
	if err := m.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	m.logger.WithFields(logrus.Fields{
		"subject":     e.Subject,
		"to":          e.To,
		"cc":          e.Cc,
		"attachments": len(msg.GetAttachments()),
		"duration":    utils.FormatDuration(time.Since(start)),
	}).Info("Email sent")

	return nil
}

func (m *Mailer) compose(e Email) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(e.To...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	if len(e.Cc) > 0 {
		if err := msg.Cc(e.Cc...); err != nil {
			return nil, fmt.Errorf("invalid cc recipients: %w", err)
		}
	}
	msg.Subject(e.Subject)
	msg.SetBodyString(mail.TypeTextPlain, e.Body)

	for _, path := range e.Attachments {
		if err := attachFile(msg, path); err != nil {
			m.logger.WithField("path", path).WithError(err).Warn("Skipping attachment")
		}
	}

	return msg, nil
}

func attachFile(msg *mail.Msg, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return msg.AttachReader(filepath.Base(path), f, mail.WithFileContentType(mail.TypeAppOctetStream))
}

func (m *Mailer) cleanup(paths []string) {
	for _, path := range paths {
		err := os.Remove(path)
		switch {
		case err == nil:
			m.logger.WithField("path", path).Debug("Deleted attachment")
		case errors.Is(err, os.ErrNotExist):
			m.logger.WithField("path", path).Warn("Attachment already gone")
		default:
			m.logger.WithField("path", path).WithError(err).Error("Failed to delete attachment")
		}
	}
}
