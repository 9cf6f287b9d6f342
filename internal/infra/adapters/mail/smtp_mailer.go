package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"club-membership-gateway/internal/config"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/adapter"
	"club-membership-gateway/internal/infra/i18n"
	"club-membership-gateway/internal/infra/logging"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

var _ adapter.Mailer = (*SMTPMailer)(nil)

var credentialsHTML = template.Must(template.New("credentials").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222222;">
	<p>{{.Greeting}}</p>
	<p>{{.Activated}}</p>
	<table cellpadding="6" style="border-collapse: collapse; background-color: #f5f5f5;">
		<tr><td>{{.LoginLabel}}</td><td><strong>{{.Login}}</strong></td></tr>
		{{if .Password}}<tr><td>{{.PasswordLabel}}</td><td><strong>{{.Password}}</strong></td></tr>{{end}}
	</table>
	<p>{{.Footer}}</p>
</body>
</html>`))

// SMTPMailer delivers credential emails over SMTP.
type SMTPMailer struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
	tr       *i18n.Translator
	log      *zerolog.Logger
}

// NewSMTPMailer renders emails with tr; nil means the embedded default locale.
func NewSMTPMailer(cfg config.MailConfig, tr *i18n.Translator, logger *zerolog.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mail host is empty")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("mail from address is empty")
	}
	if tr == nil {
		tr = i18n.MustDefault()
	}
	l := logger.With().Str("component", "SMTPMailer").Str("host", cfg.Host).Logger()
	return &SMTPMailer{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.From,
		fromName: cfg.FromName,
		tr:       tr,
		log:      &l,
	}, nil
}

func (s *SMTPMailer) SendCredentials(ctx context.Context, msg model.CredentialMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := buildCredentialsMessage(s.from, s.fromName, s.tr, msg)
	if err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", logging.Redact(msg.To, false), err)
	}
	s.log.Info().Str("to", logging.Redact(msg.To, false)).Msg("credentials email sent")
	return nil
}

// buildCredentialsMessage leaves the password row out when Password is empty: the member
// already had credentials before this activation.
func buildCredentialsMessage(from, fromName string, tr *i18n.Translator, msg model.CredentialMessage) (*gomail.Message, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, fmt.Errorf("credentials email has no recipient")
	}
	name := msg.DisplayName
	if name == "" {
		name = msg.To
	}
	view := struct {
		Greeting, Activated, LoginLabel, Login, PasswordLabel, Password, Footer string
	}{
		Greeting:      tr.T("mail_greeting", name),
		Activated:     tr.T("mail_activated"),
		LoginLabel:    tr.T("mail_login"),
		Login:         msg.Login,
		PasswordLabel: tr.T("mail_password"),
		Password:      msg.Password,
		Footer:        tr.T("mail_change_password"),
	}
	if msg.Password == "" {
		view.Footer = tr.T("mail_password_kept")
	}

	var html bytes.Buffer
	if err := credentialsHTML.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("render credentials email: %w", err)
	}
	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n%s\n\n%s: %s\n", view.Greeting, view.Activated, view.LoginLabel, view.Login)
	if view.Password != "" {
		fmt.Fprintf(&text, "%s: %s\n", view.PasswordLabel, view.Password)
	}
	fmt.Fprintf(&text, "\n%s\n", view.Footer)

	m := gomail.NewMessage()
	if fromName != "" {
		m.SetHeader("From", m.FormatAddress(from, fromName))
	} else {
		m.SetHeader("From", from)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", tr.T("mail_subject"))
	m.SetBody("text/plain", text.String())
	m.AddAlternative("text/html", html.String())
	return m, nil
}
