package client

import (
	"fmt"
	"net/smtp"
	"strings"
)

// EmailConfig holds SMTP transport settings.
type EmailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// EmailClient sends plain-text email over SMTP. It is the escalation channel
// for urgent workflow events; chat remains the primary surface.
type EmailClient struct {
	config EmailConfig
	server string
	auth   smtp.Auth
}

// NewEmailClient creates an email client.
func NewEmailClient(config EmailConfig) *EmailClient {
	return &EmailClient{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
	}
}

// IsConfigured reports whether the transport has enough settings to send.
func (c *EmailClient) IsConfigured() bool {
	return c.config.Host != "" && c.config.Port != "" && c.config.From != ""
}

// SendEmail sends a plain text email to the given recipients.
func (c *EmailClient) SendEmail(to []string, subject, body string) error {
	if !c.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := c.config.From
	if c.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", c.config.FromName, c.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(c.server, c.auth, c.config.From, to, msg)
}
