// Package services отправляет письма через SMTP-транспорт.
package services

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/smtp"
	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
)

// Mail одно письмо.
type Mail struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// SenderService отправляет письма, не заставляя вызывающего ждать результата.
type SenderService struct {
	transport smtp.TransportInterface
	log       *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(transport smtp.TransportInterface, log *slog.Logger) *SenderService {
	return &SenderService{
		transport: transport,
		log:       log,
	}
}

// Dispatch отправляет письмо в отдельной горутине. Результат всегда логируется;
// возвращаемый канал буферизован, читать его не обязательно.
func (s *SenderService) Dispatch(m Mail) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := s.Send(m)
		if err != nil {
			metrics.MailsDispatched.WithLabelValues("failed").Inc()
			s.log.Error("failed to send email", slog.String("to", m.To), slog.String("subject", m.Subject), sl.Err(err))
		} else {
			metrics.MailsDispatched.WithLabelValues("sent").Inc()
			s.log.Info("email sent successfully", slog.String("to", m.To), slog.String("subject", m.Subject))
		}
		done <- err
	}()
	return done
}

// Send синхронно отправляет письмо. Пустой From заменяется пользователем SMTP.
func (s *SenderService) Send(m Mail) error {
	const op = "sender.Send"
	if m.From == "" {
		m.From = s.transport.GetSMTPUser()
	}

	client, err := s.transport.Connect()
	if err != nil {
		return fmt.Errorf("%s: connect: %w", op, err)
	}
	defer client.Close()

	if err := client.Mail(m.From); err != nil {
		return fmt.Errorf("%s: MAIL FROM: %w", op, err)
	}
	if err := client.Rcpt(m.To); err != nil {
		return fmt.Errorf("%s: RCPT TO: %w", op, err)
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("%s: DATA: %w", op, err)
	}
	if _, err := wc.Write(BuildMessage(m)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("%s: write body: %w", op, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("%s: close body: %w", op, err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("%s: QUIT: %w", op, err)
	}
	return nil
}

// BuildMessage собирает MIME-сообщение text/html. Тема кодируется по RFC 2047,
// тело передается в base64 строками по 76 символов.
func BuildMessage(m Mail) []byte {
	encoded := base64.StdEncoding.EncodeToString([]byte(m.HTML))
	var body strings.Builder
	for len(encoded) > 76 {
		body.WriteString(encoded[:76])
		body.WriteString("\r\n")
		encoded = encoded[76:]
	}
	body.WriteString(encoded)

	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + m.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", m.Subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=\"UTF-8\"",
		"Content-Transfer-Encoding: base64",
		"",
		body.String(),
	}, "\r\n")
	return []byte(msg)
}
