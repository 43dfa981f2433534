package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

const verificationSubject = "Continuity - Verify Your Email"

// VerificationMail is the content of a magic-link email.
type VerificationMail struct {
	To        string
	Token     string
	ExpiresIn time.Duration
}

// Mailer delivers verification emails.
type Mailer interface {
	SendVerification(ctx context.Context, mail VerificationMail) error
}

var htmlBody = template.Must(template.New("verify").Parse(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6;">
  <h2>Welcome to Continuity!</h2>
  <p>Paste the token below into the chat to verify your email and start creating videos:</p>
  <p style="background-color: #f4f4f4; padding: 10px; font-family: monospace; font-size: 16px;">{{.Token}}</p>
  <p style="color: #666; font-size: 14px;">This token expires in {{.Expiry}}.</p>
  <hr style="margin-top: 30px; border: none; border-top: 1px solid #ddd;">
  <p style="color: #999; font-size: 12px;">Continuity - AI Video Generation</p>
</body>
</html>`))

// TextBody renders the plain-text part of the email.
func (m VerificationMail) TextBody() string {
	return fmt.Sprintf("Welcome to Continuity!\n\nVerification Token: %s\n\nThis token expires in %s.\n\n---\nContinuity - AI Video Generation\n",
		m.Token, humanDuration(m.ExpiresIn))
}

// HTMLBody renders the HTML part of the email.
func (m VerificationMail) HTMLBody() (string, error) {
	var buf bytes.Buffer
	err := htmlBody.Execute(&buf, struct{ Token, Expiry string }{m.Token, humanDuration(m.ExpiresIn)})
	return buf.String(), err
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (m *SMTPMailer) SendVerification(ctx context.Context, mail VerificationMail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	html, err := mail.HTMLBody()
	if err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", mail.To)
	msg.SetHeader("Subject", verificationSubject)
	msg.SetBody("text/plain", mail.TextBody())
	msg.AddAlternative("text/html", html)

	if err := m.dialer.DialAndSend(msg); err != nil {
		log.Errorf("Failed to send verification email to %s: %v", mail.To, err)
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Infof("Verification email sent to %s", mail.To)
	return nil
}

// LogMailer writes the email to the log instead of sending it. It keeps the
// last mail per recipient so local runs and tests can read the token back.
type LogMailer struct {
	mu   sync.Mutex
	sent map[string]VerificationMail
}

func NewLogMailer() *LogMailer {
	return &LogMailer{sent: make(map[string]VerificationMail)}
}

func (m *LogMailer) SendVerification(_ context.Context, mail VerificationMail) error {
	m.mu.Lock()
	m.sent[mail.To] = mail
	m.mu.Unlock()

	log.WithFields(log.Fields{"to": mail.To, "subject": verificationSubject}).Info(mail.TextBody())
	return nil
}

// Last returns the most recent mail sent to addr.
func (m *LogMailer) Last(addr string) (VerificationMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mail, ok := m.sent[addr]
	return mail, ok
}
