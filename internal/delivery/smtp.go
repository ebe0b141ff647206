// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/brokerdesk/intake/internal/config"
)

// DefaultSMTPTimeout bounds one relay session when the context has no deadline.
const DefaultSMTPTimeout = 30 * time.Second

// SMTP relays shadow envelopes through a submission server.
type SMTP struct {
	addr     string
	username string
	password string
	from     string
	timeout  time.Duration
}

// NewSMTP creates an SMTP transport.
func NewSMTP(cfg config.SMTPConfig) *SMTP {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSMTPTimeout
	}
	return &SMTP{addr: cfg.Addr, username: cfg.Username, password: cfg.Password, from: cfg.From, timeout: timeout}
}

// Send relays env. STARTTLS is used when the server offers it. The whole
// session is bounded by the earlier of the context deadline and the
// configured timeout, and cancelling ctx aborts it.
func (s *SMTP) Send(ctx context.Context, env Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", s.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := s.relay(c, env); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send to %s: %w", env.To, ctxErr)
		}
		return fmt.Errorf("smtp send to %s: %w", env.To, err)
	}
	slog.Info("shadow reply relayed",
		"to", env.To,
		"intended_recipient", env.IntendedRecipient,
		"message_id", env.MessageID,
	)
	return nil
}

func (s *SMTP) relay(c *smtp.Client, env Envelope) error {
	if ok, _ := c.Extension("STARTTLS"); ok {
		host, _, _ := net.SplitHostPort(s.addr)
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.SendMail(s.from, []string{env.To}, bytes.NewReader(s.compose(env))); err != nil {
		return err
	}
	return c.Quit()
}

func (s *SMTP) compose(env Envelope) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", env.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", env.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", env.CreatedAt.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@intake>\r\n", uuid.New().String())
	fmt.Fprintf(&b, "X-Intake-Intended-Recipient: %s\r\n", env.IntendedRecipient)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.Write(crlf([]byte(env.Body)))
	return b.Bytes()
}

// crlf normalizes line endings for the DATA command.
func crlf(body []byte) []byte {
	body = bytes.ReplaceAll(body, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(body, []byte("\n"), []byte("\r\n"))
}
