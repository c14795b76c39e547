package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/mohsenbt/marzsell/internal/pkg/env"
)

// SendOpsAlert mails the operations address configured in OPS_ALERT_EMAIL.
// Without SMTP_HOST and OPS_ALERT_EMAIL the alert is dropped silently, so
// deployments without mail stay quiet instead of logging send failures.
func SendOpsAlert(subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	to := env.GetEnv("OPS_ALERT_EMAIL", "")
	if host == "" || to == "" {
		return nil
	}
	return send(host, to, subject, body)
}

func send(host, to, subject, body string) error {
	port := env.GetEnv("SMTP_PORT", "587")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")
	if sender == "" {
		sender = "no-reply@localhost"
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	if err := smtp.SendMail(addr, auth, sender, []string{to}, msg); err != nil {
		log.Printf("SMTP send error: %v", err)
		return err
	}
	log.Printf("ops alert sent to %s via %s", to, addr)
	return nil
}
