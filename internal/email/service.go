// Package email sends transactional mail over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"

	"brokerflow/api/internal/config"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// ConfigFrom picks the SMTP settings out of the application config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain-text alternative.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	msg := buildMessage(s.fromHeader(), to, subject, textBody, htmlBody)
	if err := smtp.SendMail(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *Service) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
}

const boundary = "boundary-brokerflow"

func buildMessage(from string, to []string, subject, textBody, htmlBody string) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

// ReminderData holds data for the task reminder template
type ReminderData struct {
	To                string
	RecipientName     string
	TaskTitle         string
	DueDate           string
	AssignmentAddress string
	AssignmentURL     string
}

// ReminderSubject is also recorded in the email log.
func ReminderSubject(taskTitle, dueDate string) string {
	return fmt.Sprintf("Påminnelse: %s — deadline %s", taskTitle, dueDate)
}

// SendTaskReminder mails one deadline reminder and returns the subject used.
func (s *Service) SendTaskReminder(data ReminderData) (string, error) {
	subject := ReminderSubject(data.TaskTitle, data.DueDate)
	html, err := renderTemplate(taskReminderTemplate, data)
	if err != nil {
		return "", fmt.Errorf("render reminder template: %w", err)
	}
	text := fmt.Sprintf("Hej %s,\n\nDu har en uppgift med deadline som närmar sig:\n%s\nUppdrag: %s\nDeadline: %s\n\n%s",
		data.RecipientName, data.TaskTitle, data.AssignmentAddress, data.DueDate, data.AssignmentURL)
	if err := s.SendHTMLEmail([]string{data.To}, subject, text, html); err != nil {
		return "", err
	}
	return subject, nil
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const taskReminderTemplate = `<!DOCTYPE html>
<html lang="sv">
<head>
    <meta charset="UTF-8">
    <title>Påminnelse: {{.TaskTitle}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #1a1a1a; max-width: 600px; margin: 0 auto; padding: 20px; }
        .task { background: #f5f5f5; border-radius: 8px; padding: 16px; margin: 16px 0; }
        .title { margin: 0 0 8px 0; font-weight: 600; }
        .due { margin: 0; color: #e74c3c; font-weight: 500; }
        .button { display: inline-block; background: #2563eb; color: white; padding: 10px 20px; border-radius: 6px; text-decoration: none; }
        .footer { color: #999; font-size: 12px; margin-top: 24px; }
    </style>
</head>
<body>
    <h2>Påminnelse: Uppgift med deadline</h2>
    <p>Hej {{.RecipientName}},</p>
    <p>Du har en uppgift med deadline som närmar sig:</p>
    <div class="task">
        <p class="title">{{.TaskTitle}}</p>
        <p>Uppdrag: {{.AssignmentAddress}}</p>
        <p class="due">Deadline: {{.DueDate}}</p>
    </div>
    <a href="{{.AssignmentURL}}" class="button">Visa uppdraget</a>
    <p class="footer">Detta är ett automatiskt meddelande från BrokerFlow.</p>
</body>
</html>`
