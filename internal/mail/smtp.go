package mail

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"meshreg/internal/logs"
)

// SMTPTransport — доставка через обычный SMTP без аутентификации
// (релей в локальной сети). Контекст здесь не прерывает отправку:
// net/smtp не умеет отмену, таймаут держит соединение.
type SMTPTransport struct {
	addr string
}

func NewSMTPTransport(host string, port int) *SMTPTransport {
	return &SMTPTransport{addr: net.JoinHostPort(host, strconv.Itoa(port))}
}

func (t *SMTPTransport) Send(_ context.Context, from, to, subject, htmlBody string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return smtp.SendMail(t.addr, nil, from, []string{to}, []byte(b.String()))
}

// LogTransport — dev-режим без SMTP-хоста: письмо уходит только в лог.
type LogTransport struct{}

func (LogTransport) Send(_ context.Context, from, to, subject, _ string) error {
	logs.Logger.Infof("mail (log only): from=%s to=%s subject=%q", from, to, subject)
	return nil
}
