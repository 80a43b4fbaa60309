// Package mail renders and delivers transactional email. Delivery runs in
// the worker; request handlers only enqueue a Message.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/nikhilbhutani/tenantkit/internal/config"
)

//go:embed templates/email.html
var templateFS embed.FS

var emailTemplate = template.Must(template.ParseFS(templateFS, "templates/email.html"))

type Message struct {
	To                 string `json:"to"`
	Subject            string `json:"subject"`
	Title              string `json:"title"`
	GeneralMessage     string `json:"general_message,omitempty"`
	CallToAction       string `json:"call_to_action,omitempty"`
	ConfirmationURL    string `json:"confirmation_url,omitempty"`
	ButtonText         string `json:"button_text,omitempty"`
	InformationMessage string `json:"information_message,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type templateData struct {
	Message
	IgnoreMessage string
	Brand         string
	Year          int
}

// Render returns the HTML body of msg.
func Render(msg Message, brand string, now time.Time) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, templateData{
		Message:       msg,
		IgnoreMessage: "If you don't have an account, you can safely ignore this email.",
		Brand:         brand,
		Year:          now.Year(),
	})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

// SMTPSender delivers over SMTP with PLAIN auth when credentials are set.
type SMTPSender struct {
	cfg      config.MailConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := Render(msg, s.cfg.BrandName, time.Now())
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	}

	addr := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	if err := s.sendMail(addr, auth, s.cfg.From, []string{msg.To}, buildMIME(s.cfg.From, msg, body)); err != nil {
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}

	slog.InfoContext(ctx, "email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

func buildMIME(from string, msg Message, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
