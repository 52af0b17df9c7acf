// Package mailer sends the email channel of notifications over SMTP.
package mailer

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func LoadSMTPConfigFromEnv() (SMTPConfig, error) {
	cfg := SMTPConfig{
		Host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		Username: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     strings.TrimSpace(os.Getenv("SMTP_FROM")),
	}
	port := strings.TrimSpace(os.Getenv("SMTP_PORT"))
	if port == "" {
		cfg.Port = 587
	} else {
		p, err := strconv.Atoi(port)
		if err != nil {
			return SMTPConfig{}, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		cfg.Port = p
	}
	if cfg.Host == "" || cfg.From == "" {
		return SMTPConfig{}, errors.New("missing required SMTP env: SMTP_HOST, SMTP_FROM")
	}
	return cfg, nil
}

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// Send delivers one plain-text notification email.
func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return m.dialer.DialAndSend(msg)
}
