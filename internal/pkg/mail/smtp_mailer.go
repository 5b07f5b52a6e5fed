package mail

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/licensefox/licensefox/internal/pkg/env"
)

// SendMail delivers one HTML mail through the configured SMTP relay. Auth is
// optional; without credentials the relay is used unauthenticated.
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "localhost")
	port := env.GetEnv("SMTP_PORT", "25")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")

	sender := env.GetEnv("SMTP_SENDER", "")
	if sender == "" {
		sender = "no-reply@" + senderDomain()
		log.Printf("[Mail] SMTP_SENDER not set, falling back to %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	msg := buildMessage(sender, to, subject, body)
	addr := fmt.Sprintf("%s:%s", host, port)
	if err := smtp.SendMail(addr, auth, sender, []string{to}, msg); err != nil {
		log.Printf("[Mail] send to %s failed: %v", to, err)
		return err
	}
	log.Printf("[Mail] sent %q to %s", subject, to)
	return nil
}

func senderDomain() string {
	domain := env.GetEnv("PUBLIC_DOMAIN", "localhost")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	if host, _, ok := strings.Cut(domain, ":"); ok {
		domain = host
	}
	return domain
}

func buildMessage(sender, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", sender)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
